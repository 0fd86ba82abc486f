package authx

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tapistry/shared/config"
	"tapistry/shared/projectx"
)

const (
	keyIssuer   = "tapistry"
	keyAudience = "ingest"
	ingestScope = "ingest"
	// jwtPrefix marks signed keys so static keys never reach the parser.
	jwtPrefix = "pk_jwt_"
)

var (
	ErrMissingKey   = errors.New("project key is required")
	ErrUnknownKey   = errors.New("unknown project key")
	ErrInvalidToken = errors.New("invalid project key token")
	ErrNoSecret     = errors.New("project key secret is not configured")
)

// Claims carried by a signed project key.
type Claims struct {
	Scope string `json:"scp,omitempty"`
	jwt.RegisteredClaims
}

// Resolver maps a presented project key to a project.
type Resolver struct {
	static       map[string]string
	secret       []byte
	allowKeyless bool
	parser       *jwt.Parser
}

func NewResolver(cfg config.Config) (*Resolver, error) {
	static, err := ParseStaticKeys(cfg.ProjectKeys)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		static:       static,
		secret:       []byte(strings.TrimSpace(cfg.ProjectKeySecret)),
		allowKeyless: cfg.AllowKeyless,
		parser:       newParser(),
	}, nil
}

func newParser() *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(keyIssuer),
		jwt.WithAudience(keyAudience),
		jwt.WithLeeway(30*time.Second),
	)
}

// ParseStaticKeys reads "key:project" entries.
func ParseStaticKeys(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		key, project, ok := strings.Cut(strings.TrimSpace(e), ":")
		key, project = strings.TrimSpace(key), strings.TrimSpace(project)
		if !ok || key == "" || project == "" {
			return nil, fmt.Errorf("PROJECT_KEYS entry %q: want key:project", e)
		}
		out[key] = project
	}
	return out, nil
}

// Resolve accepts a static key, a signed key, or no key when keyless
// requests are allowed.
func (r *Resolver) Resolve(key string) (projectx.Project, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		if r.allowKeyless {
			return projectx.Project{ID: projectx.Anonymous, Source: "keyless"}, nil
		}
		return projectx.Project{}, ErrMissingKey
	}
	if id, ok := r.static[key]; ok {
		return projectx.Project{ID: id, Key: key, Source: "static"}, nil
	}
	if !strings.HasPrefix(key, jwtPrefix) {
		return projectx.Project{}, ErrUnknownKey
	}
	if len(r.secret) == 0 {
		return projectx.Project{}, ErrNoSecret
	}
	id, err := verify(r.parser, r.secret, key)
	if err != nil {
		return projectx.Project{}, err
	}
	return projectx.Project{ID: id, Key: key, Source: "jwt"}, nil
}

// MintProjectKey signs a key for projectID. A zero ttl mints a key that
// never expires.
func MintProjectKey(secret []byte, projectID string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return "", errors.New("project id is required")
	}
	claims := Claims{
		Scope: ingestScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    keyIssuer,
			Subject:   projectID,
			Audience:  jwt.ClaimStrings{keyAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", err
	}
	return jwtPrefix + signed, nil
}

// VerifyProjectKey returns the project a signed key was minted for.
func VerifyProjectKey(secret []byte, key string) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	return verify(newParser(), secret, strings.TrimSpace(key))
}

func verify(parser *jwt.Parser, secret []byte, key string) (string, error) {
	raw, ok := strings.CutPrefix(key, jwtPrefix)
	if !ok || raw == "" {
		return "", ErrInvalidToken
	}
	var claims Claims
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !hasScope(claims.Scope, ingestScope) {
		return "", fmt.Errorf("%w: missing %s scope", ErrInvalidToken, ingestScope)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return sub, nil
}

func hasScope(scp string, want string) bool {
	for _, s := range strings.Fields(scp) {
		if s == want {
			return true
		}
	}
	return false
}
