// Package keys owns the lifecycle of the master key used for field
// encryption: load-or-generate once, persist, rotate, export and import.
package keys

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/medkeeper/internal/audit"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/cryptox"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/obs"
	"golang.org/x/sync/singleflight"
)

// State of the custodian.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Auditor receives key custody events.
type Auditor interface {
	LogSecurityEvent(ctx context.Context, action string, severity audit.Severity, metadata map[string]any) (audit.Event, error)
}

// Custodian hands out the process-wide master key. The first MasterKey call
// loads or generates it; concurrent first callers share that single
// initialization.
type Custodian struct {
	store   Store
	auditor Auditor
	log     logging.Logger

	group singleflight.Group

	mu        sync.RWMutex
	state     State
	key       cryptox.Key
	ephemeral bool
	failure   error

	generate func() (cryptox.Key, error)
}

func NewCustodian(store Store, auditor Auditor, log logging.Logger) *Custodian {
	if log == nil {
		log = logging.Discard()
	}
	return &Custodian{
		store:    store,
		auditor:  auditor,
		log:      log.With("component", "key_custodian"),
		generate: cryptox.GenerateKey,
	}
}

// Status reports the current state and whether the live key is in-memory only.
func (c *Custodian) Status() (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.ephemeral
}

// MasterKey returns the live master key, initializing it on first use.
func (c *Custodian) MasterKey(ctx context.Context) (cryptox.Key, error) {
	c.mu.RLock()
	switch c.state {
	case StateReady:
		k := c.key
		c.mu.RUnlock()
		return k, nil
	case StateFailed:
		err := c.failure
		c.mu.RUnlock()
		return cryptox.Key{}, err
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("master", func() (any, error) {
		return c.initialize(ctx)
	})
	if err != nil {
		return cryptox.Key{}, err
	}
	return v.(cryptox.Key), nil
}

func (c *Custodian) initialize(ctx context.Context) (cryptox.Key, error) {
	c.mu.Lock()
	if c.state == StateReady {
		k := c.key
		c.mu.Unlock()
		return k, nil
	}
	if c.state == StateFailed {
		err := c.failure
		c.mu.Unlock()
		return cryptox.Key{}, err
	}
	c.state = StateLoading
	c.mu.Unlock()

	exported, err := c.store.Load(ctx)
	switch {
	case err == nil:
		k, err := cryptox.ImportKey(exported)
		if err != nil {
			c.fail(ctx, err)
			return cryptox.Key{}, err
		}
		c.ready(k, false)
		obs.KeyOperations.WithLabelValues("load", "ok").Inc()
		c.log.Info(ctx, "master key loaded")
		return k, nil

	case errors.Is(err, common.ErrorNotFound):
		return c.generateAndPersist(ctx)

	case errors.Is(err, common.ErrKeyFormat):
		c.fail(ctx, err)
		return cryptox.Key{}, err

	default:
		// The slot may hold a key we could not read; generating now would
		// orphan everything encrypted under it, so allow a retry instead.
		c.mu.Lock()
		c.state = StateUninitialized
		c.mu.Unlock()
		obs.KeyOperations.WithLabelValues("load", "error").Inc()
		c.log.Error(ctx, "master key load failed", "error", err)
		return cryptox.Key{}, fmt.Errorf("load master key: %w", err)
	}
}

func (c *Custodian) generateAndPersist(ctx context.Context) (cryptox.Key, error) {
	k, err := c.generate()
	if err != nil {
		c.fail(ctx, err)
		return cryptox.Key{}, err
	}

	if err := c.store.Save(ctx, cryptox.ExportKey(k)); err != nil {
		c.ready(k, true)
		obs.KeyOperations.WithLabelValues("generate", "ephemeral").Inc()
		c.log.Error(ctx, "master key persistence failed, using in-memory key", "error", err)
		c.audit(ctx, "master_key_persistence_degraded", audit.SeverityHigh, map[string]any{
			"error":       err.Error(),
			"recoverable": false,
		})
		return k, nil
	}

	c.ready(k, false)
	obs.KeyOperations.WithLabelValues("generate", "ok").Inc()
	c.log.Info(ctx, "master key generated and persisted")
	return k, nil
}

func (c *Custodian) ready(k cryptox.Key, ephemeral bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key, c.ephemeral, c.state, c.failure = k, ephemeral, StateReady, nil
}

func (c *Custodian) fail(ctx context.Context, err error) {
	c.mu.Lock()
	c.state, c.failure = StateFailed, err
	c.mu.Unlock()

	obs.KeyOperations.WithLabelValues("init", "failed").Inc()
	c.log.Error(ctx, "master key initialization failed", "error", err)
	c.audit(ctx, "master_key_initialization_failed", audit.SeverityCritical, map[string]any{"error": err.Error()})
}

func (c *Custodian) audit(ctx context.Context, action string, severity audit.Severity, md map[string]any) {
	if c.auditor == nil {
		return
	}
	if _, err := c.auditor.LogSecurityEvent(ctx, action, severity, md); err != nil {
		c.log.Warn(ctx, "audit write failed", "action", action, "error", err)
	}
}

// ResetKey replaces the master key with a freshly generated, persisted one.
// Everything encrypted under the previous key becomes unreadable. On any
// failure the previous key, if one was live, stays in use.
func (c *Custodian) ResetKey(ctx context.Context) error {
	// settle any first-use initialization so it cannot overwrite the new key
	_, _ = c.MasterKey(ctx)

	k, err := c.generate()
	if err != nil {
		obs.KeyOperations.WithLabelValues("reset", "error").Inc()
		c.audit(ctx, "master_key_reset_failed", audit.SeverityCritical, map[string]any{"error": err.Error()})
		return fmt.Errorf("reset master key: %w", err)
	}

	if err := c.store.Save(ctx, cryptox.ExportKey(k)); err != nil {
		obs.KeyOperations.WithLabelValues("reset", "error").Inc()
		c.log.Error(ctx, "master key reset not persisted", "error", err)
		c.audit(ctx, "master_key_reset_failed", audit.SeverityCritical, map[string]any{"error": err.Error()})
		return fmt.Errorf("persist reset master key: %w", err)
	}

	c.ready(k, false)
	obs.KeyOperations.WithLabelValues("reset", "ok").Inc()
	c.log.Warn(ctx, "master key reset, previously encrypted data is unrecoverable")
	c.audit(ctx, "master_key_reset", audit.SeverityCritical, map[string]any{"destructive": true})
	return nil
}

// Export returns the live master key in its serialized form for backup.
func (c *Custodian) Export(ctx context.Context) (string, error) {
	k, err := c.MasterKey(ctx)
	if err != nil {
		return "", err
	}
	c.audit(ctx, "master_key_exported", audit.SeverityHigh, nil)
	return cryptox.ExportKey(k), nil
}

// Import replaces the live key with a serialized one, persisting it first.
func (c *Custodian) Import(ctx context.Context, exported string) error {
	k, err := cryptox.ImportKey(exported)
	if err != nil {
		return err
	}
	if err := c.store.Save(ctx, exported); err != nil {
		return fmt.Errorf("persist imported master key: %w", err)
	}

	// wait out a concurrent first-use initialization before swapping
	_, _, _ = c.group.Do("master", func() (any, error) { return k, nil })

	c.ready(k, false)
	obs.KeyOperations.WithLabelValues("import", "ok").Inc()
	c.audit(ctx, "master_key_imported", audit.SeverityCritical, nil)
	return nil
}
