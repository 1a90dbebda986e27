package wirex

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// Codec encodes and decodes entities registered in a sealed Registry.
type Codec struct {
	registry *Registry
}

// NewCodec seals registry and returns a codec bound to it.
func NewCodec(registry *Registry) *Codec {
	registry.Seal()
	return &Codec{registry: registry}
}

// Registry returns the registry the codec resolves types through.
func (c *Codec) Registry() *Registry {
	return c.registry
}

// Discriminator returns the concrete type named by an envelope without
// decoding the rest of it.
func (c *Codec) Discriminator(data []byte) (string, error) {
	_, d, err := envelope(data)
	return d, err
}

func envelope(data []byte) (gjson.Result, string, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, "", malformed("invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return gjson.Result{}, "", malformed("payload must be a JSON object")
	}
	d := root.Get(DiscriminatorField)
	if !d.Exists() {
		return gjson.Result{}, "", malformed("missing " + DiscriminatorField)
	}
	if d.Type != gjson.String || d.Str == "" {
		return gjson.Result{}, "", malformed(DiscriminatorField + " must be a non-empty string")
	}
	return root, d.Str, nil
}

// Decode decodes any registered entity.
func (c *Codec) Decode(data []byte) (Entity, error) {
	return c.decode(data)
}

// DecodeAs decodes an envelope and checks the resolved type is a T.
func DecodeAs[T Entity](c *Codec, data []byte) (T, error) {
	var zero T
	e, err := c.decode(data)
	if err != nil {
		return zero, err
	}
	v, ok := any(e).(T)
	if !ok {
		return zero, wireErrors.New(ErrTypeMismatch).
			WithDetail("concrete_type", e.ConcreteType()).
			WithDetail("expected", typeName[T]())
	}
	return v, nil
}

func (c *Codec) decode(data []byte) (Entity, error) {
	root, discriminator, err := envelope(data)
	if err != nil {
		return nil, err
	}
	factory, err := c.registry.Resolve(discriminator)
	if err != nil {
		return nil, err
	}

	e := factory()
	if err := checkKeys(root, reflect.TypeOf(e), discriminator); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fieldError(discriminator, err)
	}
	if err := c.resolveNested(reflect.ValueOf(e)); err != nil {
		return nil, err
	}
	return e, nil
}

// Encode writes e as an envelope: the discriminator first, then the entity's
// fields in declaration order. e and every entity nested in it must be
// registered, so whatever Encode writes Decode reads back.
func (c *Codec) Encode(e Entity) ([]byte, error) {
	if err := c.check(e); err != nil {
		return nil, err
	}
	return marshalEnvelope(e)
}

func (c *Codec) check(e Entity) error {
	if isNil(e) {
		return wireErrors.NewWithMessage(ErrInvalidEntity, "entity is nil")
	}
	d, ok := c.registry.lookup(e.ConcreteType())
	if !ok {
		return wireErrors.New(ErrUnknownType).WithDetail("concrete_type", e.ConcreteType())
	}
	if t := reflect.TypeOf(e); t != d.typ {
		return wireErrors.NewWithMessage(ErrInvalidEntity, "entity type differs from the registered type").
			WithDetail("concrete_type", e.ConcreteType()).
			WithDetail("type", t.String())
	}
	return c.checkNested(reflect.ValueOf(e))
}

func marshalEnvelope(e Entity) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, wireErrors.NewWithCause(ErrInvalidEntity, err).WithDetail("concrete_type", e.ConcreteType())
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, wireErrors.NewWithMessage(ErrInvalidEntity, "entity must encode as a JSON object").
			WithDetail("concrete_type", e.ConcreteType())
	}
	tag, err := json.Marshal(e.ConcreteType())
	if err != nil {
		return nil, wireErrors.NewWithCause(ErrInvalidEntity, err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(tag) + len(DiscriminatorField) + 4)
	buf.WriteString(`{"` + DiscriminatorField + `":`)
	buf.Write(tag)
	if rest := bytes.TrimSpace(body[1:]); len(rest) > 1 {
		buf.WriteByte(',')
		buf.Write(rest)
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

func fieldError(discriminator string, err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return malformed(fmt.Sprintf("field %q: expected %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)).
			WithDetail("concrete_type", discriminator).
			WithDetail("field", typeErr.Field)
	}
	if IsMalformed(err) {
		return err
	}
	return wireErrors.NewWithCause(ErrMalformedPayload, err).WithDetail("concrete_type", discriminator)
}

var resolverType = reflect.TypeOf((*nestedResolver)(nil)).Elem()

// resolveNested walks a freshly decoded value and resolves every Nested
// field it holds.
func (c *Codec) resolveNested(v reflect.Value) error {
	if !v.IsValid() || !mayHoldNested(v.Type()) {
		return nil
	}
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return c.resolveNested(v.Elem())
	case reflect.Struct:
		if v.CanAddr() && v.Addr().Type().Implements(resolverType) {
			return v.Addr().Interface().(nestedResolver).resolveWith(c)
		}
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := c.resolveNested(v.Field(i)); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := c.resolveNested(v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			elem := reflect.New(v.Type().Elem()).Elem()
			elem.Set(iter.Value())
			if err := c.resolveNested(elem); err != nil {
				return err
			}
			v.SetMapIndex(iter.Key(), elem)
		}
	}
	return nil
}

var checkerType = reflect.TypeOf((*nestedChecker)(nil)).Elem()

// checkNested walks a value about to be encoded and checks every Nested
// field it holds.
func (c *Codec) checkNested(v reflect.Value) error {
	if !v.IsValid() || !mayHoldNested(v.Type()) {
		return nil
	}
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return c.checkNested(v.Elem())
	case reflect.Struct:
		if v.Type().Implements(checkerType) {
			return v.Interface().(nestedChecker).checkWith(c)
		}
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := c.checkNested(v.Field(i)); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := c.checkNested(v.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := c.checkNested(iter.Value()); err != nil {
				return err
			}
		}
	}
	return nil
}

var unmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()

// checkKeys rejects object keys that name one of t's fields in a different
// case. encoding/json would accept them; the wire format does not. Keys that
// match no field at all are ignored.
func checkKeys(root gjson.Result, t reflect.Type, discriminator string) error {
	if t.Implements(unmarshalerType) {
		return nil
	}
	fields := fieldsOf(t)
	var err error
	root.ForEach(func(key, _ gjson.Result) bool {
		k := key.String()
		if k == DiscriminatorField || fields[k] {
			return true
		}
		for name := range fields {
			if strings.EqualFold(name, k) {
				err = malformed(fmt.Sprintf("field %q must be spelled %q", k, name)).
					WithDetail("concrete_type", discriminator).
					WithDetail("field", k)
				return false
			}
		}
		return true
	})
	return err
}

var fieldSets sync.Map // reflect.Type -> map[string]bool

// fieldsOf returns the JSON names encoding/json uses for t's fields,
// including those promoted from embedded structs.
func fieldsOf(t reflect.Type) map[string]bool {
	if v, ok := fieldSets.Load(t); ok {
		return v.(map[string]bool)
	}
	fields := make(map[string]bool)
	collectFields(t, fields, map[reflect.Type]bool{})
	fieldSets.Store(t, fields)
	return fields
}

func collectFields(t reflect.Type, fields map[string]bool, seen map[reflect.Type]bool) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || seen[t] {
		return
	}
	seen[t] = true
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" {
			collectFields(f.Type, fields, seen)
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		fields[name] = true
	}
}

var nestedTypes sync.Map // reflect.Type -> bool

// mayHoldNested reports whether values of t can contain a Nested field, so
// the walk skips plain data such as []int or time.Time.
func mayHoldNested(t reflect.Type) bool {
	if v, ok := nestedTypes.Load(t); ok {
		return v.(bool)
	}
	got := scanType(t, map[reflect.Type]bool{})
	nestedTypes.Store(t, got)
	return got
}

func scanType(t reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true

	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
		return scanType(t.Elem(), seen)
	case reflect.Struct:
		if reflect.PointerTo(t).Implements(resolverType) {
			return true
		}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.IsExported() && scanType(f.Type, seen) {
				return true
			}
		}
	}
	return false
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
