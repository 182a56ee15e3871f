package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/audit"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/cryptox"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/obs"
)

// KeySource hands out the master key. *keys.Custodian implements it.
type KeySource interface {
	MasterKey(ctx context.Context) (cryptox.Key, error)
}

type Auditor interface {
	LogAccess(ctx context.Context, action, subjectID, actorRole string, metadata map[string]any) (audit.Event, error)
}

// Guard encrypts, decrypts and verifies records. It does not synchronize
// access to a single *Record; callers serialize writes to one record.
type Guard struct {
	keys    KeySource
	auditor Auditor
	log     logging.Logger
	now     func() time.Time
}

func NewGuard(keys KeySource, auditor Auditor, log logging.Logger) *Guard {
	if log == nil {
		log = logging.Discard()
	}
	return &Guard{keys: keys, auditor: auditor, log: log.With("component", "record_guard"), now: time.Now}
}

// Opened is a record that passed through Open. IntegrityWarning is set when
// the stored digest did not match; the data is readable but untrusted.
type Opened struct {
	Record           *Record
	IntegrityWarning bool
}

// EncryptSensitiveFields returns a copy of rec in which every field named in
// names is in ciphertext form. A value is taken from rec.Sensitive (plaintext
// form) or from rec.Fields. Missing or empty values become the empty
// ciphertext marker. Fields already in ciphertext form are kept as they are.
// The copy is stamped and sealed.
func (g *Guard) EncryptSensitiveFields(ctx context.Context, rec *Record, names []string) (*Record, error) {
	key, err := g.keys.MasterKey(ctx)
	if err != nil {
		return nil, err
	}

	out := rec.Clone()
	for _, name := range names {
		if f, ok := out.Sensitive[name]; ok && f.Kind == KindCipher {
			continue
		}

		v, _ := out.Value(name)
		delete(out.Fields, name)

		if v == "" {
			out.Sensitive[name] = Cipher("")
			continue
		}
		ct, err := cryptox.Encrypt(v, key)
		if err != nil {
			return nil, fmt.Errorf("encrypt field %q: %w", name, err)
		}
		out.Sensitive[name] = Cipher(ct)
	}

	if err := g.Touch(out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecryptSensitiveFields returns a copy of rec with every ciphertext field
// turned back into plaintext. Any authentication failure is reported as
// common.ErrRecordCorrupted.
func (g *Guard) DecryptSensitiveFields(ctx context.Context, rec *Record) (*Record, error) {
	out := rec.Clone()

	var key cryptox.Key
	for name, f := range out.Sensitive {
		if f.Kind != KindCipher {
			continue
		}
		if f.Value == "" {
			out.Sensitive[name] = Plain("")
			continue
		}
		if key.IsZero() {
			k, err := g.keys.MasterKey(ctx)
			if err != nil {
				return nil, err
			}
			key = k
		}

		pt, err := cryptox.Decrypt(f.Value, key)
		if err != nil {
			obs.DecryptFailures.Inc()
			return nil, fmt.Errorf("record %s field %q: %w", rec.ID, name, errors.Join(common.ErrRecordCorrupted, err))
		}
		out.Sensitive[name] = Plain(pt)
	}
	return out, nil
}

// VerifyIntegrity reports whether rec still matches its digest.
func (g *Guard) VerifyIntegrity(rec *Record) bool {
	return VerifyIntegrity(rec)
}

// Open verifies then decrypts. A digest mismatch does not stop decryption:
// it sets IntegrityWarning and is audited as critical. A decryption failure
// does stop it.
func (g *Guard) Open(ctx context.Context, rec *Record) (*Opened, error) {
	warning := !g.VerifyIntegrity(rec)
	if warning {
		obs.IntegrityViolations.Inc()
		g.log.Error(ctx, "record integrity check failed", "record_id", rec.ID)
		if g.auditor != nil {
			if _, err := g.auditor.LogAccess(ctx, "integrity_breach_detected", rec.ID, "system", map[string]any{
				"stored_digest": rec.IntegrityDigest,
				"last_modified": rec.LastModified.UTC().Format(time.RFC3339Nano),
			}); err != nil {
				g.log.Warn(ctx, "audit write failed", "error", err)
			}
		}
	}

	plain, err := g.DecryptSensitiveFields(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &Opened{Record: plain, IntegrityWarning: warning}, nil
}

// Touch refreshes LastModified and recomputes the digest after an in-place
// change.
func (g *Guard) Touch(rec *Record) error {
	rec.LastModified = g.now().UTC()
	return Seal(rec)
}
