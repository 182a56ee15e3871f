package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/common"
)

// randReader is a test seam for the CSPRNG.
var randReader io.Reader = rand.Reader

// now is a test seam for the clock used in secure identifiers.
var now = time.Now

// RandomBytes returns size bytes from the CSPRNG. A failing generator is
// reported as common.ErrCryptoUnavailable; there is no weaker fallback.
func RandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCryptoUnavailable, err)
	}
	return b, nil
}

// GenerateSalt returns size random bytes encoded as standard base64.
func GenerateSalt(size int) (string, error) {
	b, err := RandomBytes(size)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// GenerateSecureID returns an identifier of the form
// <prefix>_<unixMillis>_<randomHex>. The timestamp gives approximate
// ordering; the 16 random bytes carry the uniqueness.
func GenerateSecureID(prefix string) (string, error) {
	b, err := RandomBytes(16)
	if err != nil {
		return "", err
	}
	ts := strconv.FormatInt(now().UnixMilli(), 10)
	return prefix + "_" + ts + "_" + hex.EncodeToString(b), nil
}

// WipeBytes overwrites b with zeros. Nil is allowed.
func WipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
