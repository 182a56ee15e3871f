package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PasswordIterations is the PBKDF2-HMAC-SHA256 round count.
	PasswordIterations = 100_000
	// PasswordSaltSize is the length of generated password salts in bytes.
	PasswordSaltSize = 16

	passwordHashSize = 32
)

// Hash returns the hex SHA-256 digest of data.
func Hash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// PasswordHash is a derived password hash and the salt it was derived with,
// both base64 encoded.
type PasswordHash struct {
	Hash string
	Salt string
}

// HashPassword derives a hash from password with PBKDF2. When salt is empty
// a new random salt is generated.
func HashPassword(password, salt string) (PasswordHash, error) {
	if salt == "" {
		s, err := GenerateSalt(PasswordSaltSize)
		if err != nil {
			return PasswordHash{}, err
		}
		salt = s
	}

	dk := pbkdf2.Key([]byte(password), []byte(salt), PasswordIterations, passwordHashSize, sha256.New)
	return PasswordHash{Hash: base64.StdEncoding.EncodeToString(dk), Salt: salt}, nil
}

// VerifyPassword recomputes the hash for password and salt and compares it
// with hash in constant time.
func VerifyPassword(password, hash, salt string) bool {
	if salt == "" || hash == "" {
		return false
	}
	candidate, err := HashPassword(password, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate.Hash), []byte(hash)) == 1
}

// DeriveKeyEncryptionKey stretches a passphrase into an AES-256 key with
// argon2id. It is used to seal the exported master key at rest.
func DeriveKeyEncryptionKey(passphrase, salt []byte) Key {
	return Key{b: argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)}
}
