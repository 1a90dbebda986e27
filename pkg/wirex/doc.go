// Package wirex carries an open family of typed payloads ("entities") over a
// single JSON body.
//
// Every payload on the wire is a JSON object whose "concreteType" field names
// the Go type it decodes into:
//
//	{"concreteType":"UploadJob","file":"a.csv"}
//
// Types are registered once at process start in a [Registry]; a [Codec] built
// from that registry seals it and then encodes and decodes entities without
// locking. Fields that are themselves polymorphic are declared as [Nested]
// values and are resolved through the same registry, recursively.
//
// Field names are matched exactly: a key that differs from a field's JSON name
// only in case is rejected as malformed. Keys naming no field are ignored.
//
//	reg := wirex.NewRegistry()
//	wirex.MustRegisterType[UploadJob](reg)
//	codec := wirex.NewCodec(reg)
//
//	job, err := wirex.DecodeAs[JobRequest](codec, body)
package wirex

const (
	// DiscriminatorField is the reserved JSON field carrying the type tag.
	DiscriminatorField = "concreteType"

	// MediaType is the only content type entities are exchanged in.
	MediaType = "application/json"
)

// Entity is any payload that can travel as an envelope. ConcreteType must
// return a constant, even on a zero value, and entities must not declare a
// field of their own named DiscriminatorField.
type Entity interface {
	ConcreteType() string
}
