package keys

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/cryptox"
)

const sealedPrefix = "sealed.v1"

// SealedStore wraps another Store and encrypts the value at rest with a
// key derived from a passphrase (argon2id). The stored form is
// sealed.v1.<salt>.<ciphertext>.
type SealedStore struct {
	inner      Store
	passphrase []byte
}

func NewSealedStore(inner Store, passphrase string) *SealedStore {
	return &SealedStore{inner: inner, passphrase: []byte(passphrase)}
}

func (s *SealedStore) Save(ctx context.Context, value string) error {
	salt, err := cryptox.RandomBytes(16)
	if err != nil {
		return err
	}
	kek := cryptox.DeriveKeyEncryptionKey(s.passphrase, salt)
	ct, err := cryptox.Encrypt(value, kek)
	if err != nil {
		return fmt.Errorf("seal key: %w", err)
	}
	return s.inner.Save(ctx, strings.Join([]string{sealedPrefix, base64.RawURLEncoding.EncodeToString(salt), ct}, "."))
}

// Load unseals the slot. A value that is not in sealed form, or that does
// not open under the passphrase, is reported as common.ErrKeyFormat.
func (s *SealedStore) Load(ctx context.Context) (string, error) {
	raw, err := s.inner.Load(ctx)
	if err != nil {
		return "", err
	}

	rest, ok := strings.CutPrefix(raw, sealedPrefix+".")
	if !ok {
		return "", fmt.Errorf("%w: key slot is not sealed", common.ErrKeyFormat)
	}
	saltPart, ct, ok := strings.Cut(rest, ".")
	if !ok {
		return "", fmt.Errorf("%w: truncated sealed key", common.ErrKeyFormat)
	}
	salt, err := base64.RawURLEncoding.DecodeString(saltPart)
	if err != nil {
		return "", fmt.Errorf("%w: bad salt", common.ErrKeyFormat)
	}

	value, err := cryptox.Decrypt(ct, cryptox.DeriveKeyEncryptionKey(s.passphrase, salt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrKeyFormat, err)
	}
	return value, nil
}
