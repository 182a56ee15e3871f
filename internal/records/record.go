// Package records protects patient records: it encrypts the sensitive
// fields under the master key and seals the whole record with an integrity
// digest that is checked before anything is shown to a user.
package records

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/medkeeper/internal/common"
)

// FieldKind says which form a sensitive field is in.
type FieldKind int

const (
	KindPlain FieldKind = iota
	KindCipher
)

// Field is a sensitive field value. It holds either plaintext or ciphertext,
// never both. An empty Cipher value marks a field that had no value when it
// was encrypted.
type Field struct {
	Kind  FieldKind
	Value string
}

func Plain(v string) Field  { return Field{Kind: KindPlain, Value: v} }
func Cipher(v string) Field { return Field{Kind: KindCipher, Value: v} }

// Record is a structured entity with non-sensitive Fields and Sensitive
// fields. IntegrityDigest covers everything else in the record.
type Record struct {
	ID              string
	Fields          map[string]string
	Sensitive       map[string]Field
	LastModified    time.Time
	IntegrityDigest string
}

const (
	keyID           = "id"
	keyLastModified = "lastModified"
	keyDigest       = "integrityDigest"
)

// New returns an empty record with the given id.
func New(id string) *Record {
	return &Record{ID: id, Fields: map[string]string{}, Sensitive: map[string]Field{}}
}

// Value returns a plain field or a sensitive field that is in plaintext form.
func (r *Record) Value(name string) (string, bool) {
	if f, ok := r.Sensitive[name]; ok {
		if f.Kind != KindPlain {
			return "", false
		}
		return f.Value, true
	}
	v, ok := r.Fields[name]
	return v, ok
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := &Record{
		ID:              r.ID,
		Fields:          make(map[string]string, len(r.Fields)),
		Sensitive:       make(map[string]Field, len(r.Sensitive)),
		LastModified:    r.LastModified,
		IntegrityDigest: r.IntegrityDigest,
	}
	for k, v := range r.Fields {
		c.Fields[k] = v
	}
	for k, v := range r.Sensitive {
		c.Sensitive[k] = v
	}
	return c
}

// flatten returns the record as one name->value map, the layout shared by
// the JSON form and the digest. Ciphertext fields carry the _encrypted
// suffix. The digest itself is included only when withDigest is set.
// Names and values must be valid UTF-8, which the JSON form cannot carry
// losslessly otherwise.
func (r *Record) flatten(withDigest bool) (map[string]string, error) {
	out := make(map[string]string, len(r.Fields)+len(r.Sensitive)+3)
	put := func(k, v string) error {
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return fmt.Errorf("%w: field %q is not valid UTF-8", common.ErrorValidation, k)
		}
		if _, dup := out[k]; dup {
			return fmt.Errorf("%w: field %q appears twice", common.ErrorValidation, k)
		}
		out[k] = v
		return nil
	}

	out[keyID] = r.ID
	out[keyLastModified] = r.LastModified.UTC().Format(time.RFC3339Nano)
	if withDigest {
		out[keyDigest] = r.IntegrityDigest
	}

	for k, v := range r.Fields {
		if k == keyDigest || strings.HasSuffix(k, common.EncryptedSuffix) {
			return nil, fmt.Errorf("%w: reserved field name %q", common.ErrorValidation, k)
		}
		if err := put(k, v); err != nil {
			return nil, err
		}
	}
	for k, f := range r.Sensitive {
		name := k
		if f.Kind == KindCipher {
			name = k + common.EncryptedSuffix
		}
		if err := put(name, f.Value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MarshalJSON writes the record as one flat object: plain fields by name,
// encrypted fields as <name>_encrypted.
func (r *Record) MarshalJSON() ([]byte, error) {
	flat, err := r.flatten(true)
	if err != nil {
		return nil, err
	}
	return json.Marshal(flat)
}

// UnmarshalJSON reads the flat form. Keys with the _encrypted suffix become
// ciphertext sensitive fields; every other key is a plain field. A sensitive
// field in plaintext form is therefore never restored from JSON.
func (r *Record) UnmarshalJSON(b []byte) error {
	var flat map[string]string
	if err := json.Unmarshal(b, &flat); err != nil {
		return fmt.Errorf("%w: %v", common.ErrRecordCorrupted, err)
	}

	rec := New(flat[keyID])
	if ts, ok := flat[keyLastModified]; ok && ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("%w: lastModified: %v", common.ErrRecordCorrupted, err)
		}
		rec.LastModified = t
	}
	rec.IntegrityDigest = flat[keyDigest]

	for k, v := range flat {
		switch k {
		case keyID, keyLastModified, keyDigest:
			continue
		}
		if name, ok := strings.CutSuffix(k, common.EncryptedSuffix); ok {
			rec.Sensitive[name] = Cipher(v)
			continue
		}
		rec.Fields[k] = v
	}

	*r = *rec
	return nil
}
