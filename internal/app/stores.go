package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/medkeeper/internal/audit"
	"github.com/dmitrijs2005/medkeeper/internal/auth"
	"github.com/dmitrijs2005/medkeeper/internal/blobstore"
	"github.com/dmitrijs2005/medkeeper/internal/config"
	"github.com/dmitrijs2005/medkeeper/internal/keys"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/keyslots"
	"github.com/redis/go-redis/v9"
)

// newRedis connects to cfg.RedisAddr, or returns nil when it is empty.
func newRedis(ctx context.Context, cfg *config.Config) (redis.UniversalClient, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// newKeyStore opens the key slot store named by cfg.KeyStore and seals it
// when a passphrase is configured. db is only used by the postgres kind.
func newKeyStore(ctx context.Context, cfg *config.Config, db *sql.DB) (keys.Store, func() error, error) {
	var (
		store  keys.Store
		closer = func() error { return nil }
	)

	switch cfg.KeyStore {
	case config.KeyStoreMemory:
		store = keys.NewMemoryStore()
	case config.KeyStoreFile:
		store = keys.NewFileStore(cfg.KeyPath)
	case config.KeyStoreSQLite:
		s, err := keys.OpenSQLiteStore(ctx, cfg.KeyPath, keys.DefaultSlot)
		if err != nil {
			return nil, nil, err
		}
		store, closer = s, s.Close
	case config.KeyStorePostgres:
		if db == nil {
			return nil, nil, fmt.Errorf("postgres key store needs a database")
		}
		store = keyslots.NewPostgresStore(db, keys.DefaultSlot)
	default:
		return nil, nil, fmt.Errorf("unknown key store %q", cfg.KeyStore)
	}

	if cfg.KeyPassphrase != "" {
		store = keys.NewSealedStore(store, cfg.KeyPassphrase)
	}
	return store, closer, nil
}

func newAuditStore(cfg *config.Config, rdb redis.UniversalClient) audit.Store {
	if rdb != nil {
		return audit.NewRedisStore(rdb, cfg.AuditEventCap, cfg.AuditCriticalCap)
	}
	return audit.NewMemoryStore(cfg.AuditEventCap, cfg.AuditCriticalCap)
}

// sessionTTL keeps tokens no longer than the access token lives and the
// profile for the refresh lifetime.
func sessionTTL(cfg *config.Config) auth.SessionTTL {
	return auth.SessionTTL{Tokens: cfg.AccessTokenTTL, Profile: cfg.RefreshTokenTTL}
}

func newSessionStore(cfg *config.Config, rdb redis.UniversalClient) auth.SessionStore {
	ttl := sessionTTL(cfg)
	if rdb != nil {
		return auth.NewRedisSessionStore(rdb, ttl)
	}
	return auth.NewMemorySessionStore(ttl)
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.S3Bucket == "" {
		return blobstore.NewMemoryStore(), nil
	}
	s3, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
		Region:       cfg.S3Region,
		BaseEndpoint: cfg.S3BaseEndpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		Bucket:       cfg.S3Bucket,
		UsePathStyle: cfg.S3UsePathStyle,
	})
	if err != nil {
		return nil, err
	}
	return s3, nil
}
