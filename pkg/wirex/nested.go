package wirex

import (
	"bytes"
	"encoding/json"
)

// Nested holds a polymorphic field: any registered entity assignable to T.
// T is usually an interface naming the family allowed at that position.
//
// Declare it with `json:"name,omitzero"` so unset fields are left out of the
// encoded payload.
type Nested[T Entity] struct {
	Value T

	raw json.RawMessage
}

// NewNested wraps v as a nested field value.
func NewNested[T Entity](v T) Nested[T] {
	return Nested[T]{Value: v}
}

// IsSet reports whether the field carries a value.
func (n Nested[T]) IsSet() bool {
	return n.raw != nil || !isNil(n.Value)
}

// IsZero lets the omitzero tag drop unset fields.
func (n Nested[T]) IsZero() bool {
	return !n.IsSet()
}

// MarshalJSON writes the wrapped value as an envelope.
func (n Nested[T]) MarshalJSON() ([]byte, error) {
	if isNil(n.Value) {
		if n.raw != nil {
			return n.raw, nil
		}
		return []byte("null"), nil
	}
	return marshalEnvelope(n.Value)
}

// UnmarshalJSON keeps the raw envelope; the Codec resolves it once the
// enclosing entity is populated.
func (n *Nested[T]) UnmarshalJSON(data []byte) error {
	var zero T
	n.Value = zero
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.raw = nil
		return nil
	}
	n.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (n *Nested[T]) resolveWith(c *Codec) error {
	if n.raw == nil {
		return nil
	}
	e, err := c.decode(n.raw)
	if err != nil {
		return err
	}
	v, ok := any(e).(T)
	if !ok {
		return wireErrors.New(ErrTypeMismatch).
			WithDetail("concrete_type", e.ConcreteType()).
			WithDetail("expected", typeName[T]())
	}
	n.Value = v
	n.raw = nil
	return nil
}

// checkWith verifies the wrapped value can be encoded and read back.
func (n Nested[T]) checkWith(c *Codec) error {
	if !isNil(n.Value) {
		return c.check(n.Value)
	}
	if n.raw == nil {
		return nil
	}
	cp := n
	return cp.resolveWith(c)
}

// nestedResolver is implemented by *Nested[T] for every T.
type nestedResolver interface {
	resolveWith(c *Codec) error
}

// nestedChecker is implemented by Nested[T] for every T.
type nestedChecker interface {
	checkWith(c *Codec) error
}
