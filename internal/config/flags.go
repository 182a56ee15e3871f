package config

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/medkeeper/internal/flagx"
)

// parseFlags overlays the flags this package owns:
//
//	-a      HTTP listen address
//	-d      PostgreSQL DSN
//	-r      Redis address (empty: in-memory sessions and audit log)
//	-s      JWT signing secret
//	-t      access token lifetime (Go duration)
//	-rt     refresh token lifetime (Go duration)
//	-k      key store kind: file, sqlite, postgres, memory
//	-kp     key file path or SQLite DSN
//	-b      S3 bucket (empty: in-memory documents)
//	-g      S3 region
//	-e      S3 base endpoint
//	-env    environment name
//	-fields comma-separated sensitive field names
//
// Other arguments are ignored so subcommands can define their own flags.
func parseFlags(cfg *Config, args []string) error {
	owned := []string{"-a", "-d", "-r", "-s", "-t", "-rt", "-k", "-kp", "-b", "-g", "-e", "-env", "-fields"}
	filtered := flagx.FilterArgs(args, owned)

	fs := flag.NewFlagSet("medkeeper", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.HTTPAddr, "a", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "PostgreSQL DSN")
	fs.StringVar(&cfg.RedisAddr, "r", cfg.RedisAddr, "Redis address")
	fs.StringVar(&cfg.SecretKey, "s", cfg.SecretKey, "JWT signing secret")
	fs.DurationVar(&cfg.AccessTokenTTL, "t", cfg.AccessTokenTTL, "access token lifetime")
	fs.DurationVar(&cfg.RefreshTokenTTL, "rt", cfg.RefreshTokenTTL, "refresh token lifetime")
	fs.StringVar(&cfg.KeyStore, "k", cfg.KeyStore, "key store kind")
	fs.StringVar(&cfg.KeyPath, "kp", cfg.KeyPath, "key file path or SQLite DSN")
	fs.StringVar(&cfg.S3Bucket, "b", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3Region, "g", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3BaseEndpoint, "e", cfg.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&cfg.Env, "env", cfg.Env, "environment name")
	fields := fs.String("fields", strings.Join(cfg.SensitiveFields, ","), "sensitive field names")

	if err := fs.Parse(filtered); err != nil {
		return fmt.Errorf("config: flags: %w", err)
	}

	if *fields != strings.Join(cfg.SensitiveFields, ",") {
		cfg.SensitiveFields = splitList(*fields)
	}
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
