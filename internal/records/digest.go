package records

import (
	"bytes"
	"crypto/subtle"
	"encoding/binary"
	"sort"

	"github.com/dmitrijs2005/medkeeper/internal/cryptox"
)

const canonicalHeader = "medkeeper-record/v1\n"

// CanonicalForm serializes every field of r except the digest. Keys are
// sorted, times are RFC3339Nano in UTC, encrypted fields carry the
// _encrypted suffix. Each key and value is written as its raw bytes behind
// a big-endian uint64 length, so distinct records never share a form.
func CanonicalForm(r *Record) ([]byte, error) {
	flat, err := r.flatten(false)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(flat))
	for k := range flat {
		names = append(names, k)
	}
	sort.Strings(names)

	buf := bytes.NewBufferString(canonicalHeader)
	var n [8]byte
	writeString := func(s string) {
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		buf.Write(n[:])
		buf.WriteString(s)
	}
	binary.BigEndian.PutUint64(n[:], uint64(len(names)))
	buf.Write(n[:])
	for _, k := range names {
		writeString(k)
		writeString(flat[k])
	}
	return buf.Bytes(), nil
}

// Digest is the hex SHA-256 of the canonical form.
func Digest(r *Record) (string, error) {
	b, err := CanonicalForm(r)
	if err != nil {
		return "", err
	}
	return cryptox.Hash(string(b)), nil
}

// Seal recomputes and stores the digest.
func Seal(r *Record) error {
	d, err := Digest(r)
	if err != nil {
		return err
	}
	r.IntegrityDigest = d
	return nil
}

// VerifyIntegrity reports whether the stored digest matches the record.
func VerifyIntegrity(r *Record) bool {
	if r == nil || r.IntegrityDigest == "" {
		return false
	}
	d, err := Digest(r)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(d), []byte(r.IntegrityDigest)) == 1
}
