package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// Compatibility variables from the hosted Postgres deployment.
const (
	EnvSupabaseURL        = "SUPABASE_URL"
	EnvSupabaseDBURL      = "SUPABASE_DB_URL"
	EnvSupabaseDBPassword = "SUPABASE_DB_PASSWORD"
)

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}

// expandSecrets expands environment variables in connection strings and credentials.
func expandSecrets(cfg *Config) {
	cfg.Sink.DSN = expandEnvVars(cfg.Sink.DSN)
	cfg.Archive.Endpoint = expandEnvVars(cfg.Archive.Endpoint)
	cfg.Archive.AccessKey = expandEnvVars(cfg.Archive.AccessKey)
	cfg.Archive.SecretKey = expandEnvVars(cfg.Archive.SecretKey)
	cfg.Notify.AMQPURL = expandEnvVars(cfg.Notify.AMQPURL)
}

// applyCompatEnv fills an unset Postgres DSN from the SUPABASE_* variables.
// SUPABASE_SERVICE_KEY is an API token and is never used as the role password.
func applyCompatEnv(cfg *Config) {
	if cfg.Sink.Type != "postgres" {
		return
	}
	if cfg.Sink.DSN == "" {
		if dbURL := os.Getenv(EnvSupabaseDBURL); dbURL != "" {
			cfg.Sink.DSN = dbURL
		} else if projectURL := os.Getenv(EnvSupabaseURL); projectURL != "" {
			cfg.Sink.DSN = dsnFromProjectURL(projectURL)
		}
	}
	if pw := os.Getenv(EnvSupabaseDBPassword); pw != "" && cfg.Sink.DSN != "" {
		cfg.Sink.DSN = withPassword(cfg.Sink.DSN, pw)
	}
}

// dsnFromProjectURL derives the database DSN from a project URL such as
// https://abc.supabase.co, whose database host is db.abc.supabase.co.
func dsnFromProjectURL(projectURL string) string {
	u, err := url.Parse(projectURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := u.Hostname()
	if !strings.HasPrefix(host, "db.") {
		host = "db." + host
	}
	return fmt.Sprintf("postgres://postgres@%s:5432/postgres?sslmode=require", host)
}

// withPassword sets the password of a URL-style DSN that has none.
func withPassword(dsn, password string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.User == nil {
		return dsn
	}
	if _, set := u.User.Password(); set {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), password)
	return u.String()
}
