package authz

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures bearer-token identity extraction.
type JWTConfig struct {
	// UserClaim names the claim holding the user id. Default: "sub".
	UserClaim string

	// RolesClaim is the claim path holding the caller's roles. Supports
	// dot-notation for nested claims (e.g. "realm_access.roles").
	// Default: "roles".
	RolesClaim string

	// PublicKeyPath is the path to a PEM-encoded RSA public key for RS256
	// verification. If empty, tokens are parsed but NOT verified (trusted proxy mode).
	PublicKeyPath string

	Issuer   string
	Audience string

	// TrustHeaders lets requests without a bearer token fall back to the
	// X-Remote-User / X-Remote-Group headers. Only enable it when a proxy
	// in front of the server strips and sets those headers.
	TrustHeaders bool

	Logger *slog.Logger
}

// JWTIdentityMiddleware returns middleware that builds the request Identity
// from an "Authorization: Bearer" token. Requests without a token are
// anonymous unless TrustHeaders is set; an invalid token is always anonymous.
func JWTIdentityMiddleware(cfg JWTConfig) (func(http.Handler) http.Handler, error) {
	if cfg.UserClaim == "" {
		cfg.UserClaim = "sub"
	}
	if cfg.RolesClaim == "" {
		cfg.RolesClaim = "roles"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var publicKey *rsa.PublicKey
	if cfg.PublicKeyPath != "" {
		key, err := loadRSAPublicKey(cfg.PublicKeyPath)
		if err != nil {
			return nil, err
		}
		publicKey = key
		cfg.Logger.Info("JWT identity: using RS256 verification", "keyPath", cfg.PublicKeyPath)
	} else {
		cfg.Logger.Warn("JWT identity: no public key configured, tokens parsed without verification (trusted proxy mode)")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := Identity{User: AnonymousUser}
			if cfg.TrustHeaders {
				id = identityFromHeaders(r)
			}
			if token := extractBearerToken(r); token != "" {
				claims, err := parseJWTClaims(token, publicKey, cfg)
				if err != nil {
					cfg.Logger.Debug("JWT parse failed, treating caller as anonymous", "error", err)
					id = Identity{User: AnonymousUser}
				} else {
					id = identityFromClaims(claims, cfg)
				}
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}, nil
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT public key from %s: %w", path, err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block from %s", path)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA (got %T)", parsed)
	}
	return rsaKey, nil
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseJWTClaims(tokenString string, publicKey *rsa.PublicKey, cfg JWTConfig) (jwt.MapClaims, error) {
	var opts []jwt.ParserOption
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var (
		token *jwt.Token
		err   error
	)
	if publicKey != nil {
		token, err = jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return publicKey, nil
		}, opts...)
	} else {
		token, _, err = jwt.NewParser(opts...).ParseUnverified(tokenString, jwt.MapClaims{})
	}
	if err != nil {
		return nil, fmt.Errorf("JWT parse error: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}

func identityFromClaims(claims jwt.MapClaims, cfg JWTConfig) Identity {
	user, _ := lookupClaim(claims, cfg.UserClaim).(string)
	user = strings.TrimSpace(user)
	if user == "" {
		return Identity{User: AnonymousUser}
	}

	var roles []string
	switch v := lookupClaim(claims, cfg.RolesClaim).(type) {
	case string:
		roles = splitGroups(v)
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				roles = append(roles, strings.TrimSpace(s))
			}
		}
	}
	return Identity{User: user, Groups: roles}
}

// lookupClaim resolves a dot-separated claim path.
func lookupClaim(claims jwt.MapClaims, path string) interface{} {
	var current interface{} = map[string]interface{}(claims)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		if current, ok = m[part]; !ok {
			return nil
		}
	}
	return current
}
