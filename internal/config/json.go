package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/flagx"
	"github.com/dmitrijs2005/medkeeper/internal/timex"
)

// jsonConfig is the file layout. Pointer fields tell "absent" from "zero"
// so a file only overrides what it names.
type jsonConfig struct {
	Env         *string `json:"env"`
	HTTPAddr    *string `json:"http_addr"`
	DatabaseDSN *string `json:"database_dsn"`
	RedisAddr   *string `json:"redis_addr"`

	SecretKey       *string         `json:"secret_key"`
	AccessTokenTTL  *timex.Duration `json:"access_token_ttl"`
	RefreshTokenTTL *timex.Duration `json:"refresh_token_ttl"`

	KeyStore      *string `json:"key_store"`
	KeyPath       *string `json:"key_path"`
	KeyPassphrase *string `json:"key_passphrase"`

	S3Bucket       *string `json:"s3_bucket"`
	S3Region       *string `json:"s3_region"`
	S3BaseEndpoint *string `json:"s3_base_endpoint"`
	S3AccessKey    *string `json:"s3_access_key"`
	S3SecretKey    *string `json:"s3_secret_key"`
	S3UsePathStyle *bool   `json:"s3_use_path_style"`

	AuditEventCap    *int `json:"audit_event_cap"`
	AuditCriticalCap *int `json:"audit_critical_cap"`

	SensitiveFields []string `json:"sensitive_fields"`

	LogFormat *string `json:"log_format"`
	LogLevel  *string `json:"log_level"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}

// parseJSON overlays the file named by -c/-config, if any.
func parseJSON(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var c jsonConfig
	if err := json.Unmarshal(b, &c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	set(&cfg.Env, c.Env)
	set(&cfg.HTTPAddr, c.HTTPAddr)
	set(&cfg.DatabaseDSN, c.DatabaseDSN)
	set(&cfg.RedisAddr, c.RedisAddr)
	set(&cfg.SecretKey, c.SecretKey)
	setDuration(&cfg.AccessTokenTTL, c.AccessTokenTTL)
	setDuration(&cfg.RefreshTokenTTL, c.RefreshTokenTTL)
	set(&cfg.KeyStore, c.KeyStore)
	set(&cfg.KeyPath, c.KeyPath)
	set(&cfg.KeyPassphrase, c.KeyPassphrase)
	set(&cfg.S3Bucket, c.S3Bucket)
	set(&cfg.S3Region, c.S3Region)
	set(&cfg.S3BaseEndpoint, c.S3BaseEndpoint)
	set(&cfg.S3AccessKey, c.S3AccessKey)
	set(&cfg.S3SecretKey, c.S3SecretKey)
	set(&cfg.S3UsePathStyle, c.S3UsePathStyle)
	set(&cfg.AuditEventCap, c.AuditEventCap)
	set(&cfg.AuditCriticalCap, c.AuditCriticalCap)
	if c.SensitiveFields != nil {
		cfg.SensitiveFields = c.SensitiveFields
	}
	set(&cfg.LogFormat, c.LogFormat)
	set(&cfg.LogLevel, c.LogLevel)
	return nil
}
