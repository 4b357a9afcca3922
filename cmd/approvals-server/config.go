package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// serverConfig holds the process-level settings. Component settings (SLA,
// audit, notifications, HA) are read by each package from APPROVALS_*
// variables.
type serverConfig struct {
	Listen          string
	DBType          string
	DBDSN           string
	DBMaxOpenConns  int
	DBLogLevel      string
	DirectoryPath   string
	WatchDirectory  bool
	RolePolicyPath  string
	AuthzMode       string
	AuthzCacheTTL   time.Duration
	IdentityMode    string
	JWTPublicKey    string
	JWTIssuer       string
	JWTAudience     string
	JWTUserClaim    string
	JWTRolesClaim   string
	JWTTrustHeaders bool
	CORSOrigins     []string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("approvals-server", pflag.ContinueOnError)
	fs.String("config", "", "Optional YAML config file")
	fs.String("listen", ":8080", "Address to listen on")
	fs.String("db-type", "postgres", "Database type (postgres, mysql or sqlite)")
	fs.String("db-dsn", "", "Database connection string")
	fs.Int("db-max-open-conns", 20, "Maximum open database connections")
	fs.String("db-log-level", "silent", "SQL log level (silent, error, warn, info)")
	fs.String("directory", "/config/directory.yaml", "Path to the user directory file")
	fs.Bool("watch-directory", true, "Reload the directory file when it changes")
	fs.String("role-policy", "", "Optional YAML file overriding the default role policy")
	fs.String("authz-mode", "roles", "Authorization backend (none, roles or sar)")
	fs.Duration("authz-cache-ttl", 30*time.Second, "Cache TTL for authorization decisions (0 disables)")
	fs.String("identity", "header", "Identity source (header or jwt)")
	fs.String("jwt-public-key", "", "PEM RSA public key for RS256 verification; empty trusts the proxy")
	fs.String("jwt-issuer", "", "Required token issuer")
	fs.String("jwt-audience", "", "Required token audience")
	fs.String("jwt-user-claim", "sub", "Claim holding the user id")
	fs.String("jwt-roles-claim", "roles", "Claim path holding the user's roles")
	fs.Bool("jwt-trust-headers", false, "Accept X-Remote-User headers on requests without a bearer token")
	fs.StringSlice("cors-origins", nil, "Allowed CORS origins")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "text", "Log format (text or json)")
	fs.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	return fs
}

// loadConfig merges flags, APPROVALS_* environment variables and the
// optional config file, in that order of precedence.
func loadConfig(args []string) (*serverConfig, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("APPROVALS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	// DATABASE_DSN is honoured for compatibility with existing deployments.
	if err := v.BindEnv("db-dsn", "APPROVALS_DB_DSN", "DATABASE_DSN"); err != nil {
		return nil, err
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &serverConfig{
		Listen:          v.GetString("listen"),
		DBType:          v.GetString("db-type"),
		DBDSN:           v.GetString("db-dsn"),
		DBMaxOpenConns:  v.GetInt("db-max-open-conns"),
		DBLogLevel:      v.GetString("db-log-level"),
		DirectoryPath:   v.GetString("directory"),
		WatchDirectory:  v.GetBool("watch-directory"),
		RolePolicyPath:  v.GetString("role-policy"),
		AuthzMode:       v.GetString("authz-mode"),
		AuthzCacheTTL:   v.GetDuration("authz-cache-ttl"),
		IdentityMode:    strings.ToLower(v.GetString("identity")),
		JWTPublicKey:    v.GetString("jwt-public-key"),
		JWTIssuer:       v.GetString("jwt-issuer"),
		JWTAudience:     v.GetString("jwt-audience"),
		JWTUserClaim:    v.GetString("jwt-user-claim"),
		JWTRolesClaim:   v.GetString("jwt-roles-claim"),
		JWTTrustHeaders: v.GetBool("jwt-trust-headers"),
		CORSOrigins:     v.GetStringSlice("cors-origins"),
		LogLevel:        v.GetString("log-level"),
		LogFormat:       v.GetString("log-format"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("database DSN is required (use --db-dsn, APPROVALS_DB_DSN or DATABASE_DSN)")
	}
	switch cfg.IdentityMode {
	case "header", "jwt":
	default:
		return nil, fmt.Errorf("unknown identity mode %q (expected header or jwt)", cfg.IdentityMode)
	}
	return cfg, nil
}

func newLogger(cfg *serverConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
