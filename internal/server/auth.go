package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"submitline/internal/domain"
	"submitline/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// Issuer, when set, must match the iss claim.
	Issuer         string
	DevActorHeader bool
	Logger         *slog.Logger
}

// Principal is the authenticated caller.
type Principal struct {
	Agent  domain.Agent
	Source string
}

type principalKey struct{}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func agentFromContext(ctx context.Context) (domain.Agent, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && !p.Agent.IsZero() {
		return p.Agent, nil
	}
	return domain.Agent{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// Claims are the token fields mapped onto an agent.
type Claims struct {
	jwt.RegisteredClaims
	AgentType    string   `json:"agent_type,omitempty"`
	Email        string   `json:"email,omitempty"`
	Name         string   `json:"name,omitempty"`
	Endorsements []string `json:"endorsements,omitempty"`
}

// Agent maps the claims onto an agent. A missing agent_type means user.
func (c Claims) Agent() (domain.Agent, error) {
	if c.Subject == "" {
		return domain.Agent{}, errors.New("subject claim required")
	}
	var a domain.Agent
	switch domain.AgentType(c.AgentType) {
	case "", domain.AgentUser:
		a = domain.User(c.Subject, c.Email, c.Endorsements...)
	case domain.AgentClient:
		a = domain.Client(c.Subject)
	case domain.AgentSystem:
		a = domain.System(c.Subject)
	default:
		return domain.Agent{}, &domain.UnknownAgentTypeError{Type: c.AgentType}
	}
	if name := strings.TrimSpace(c.Name); name != "" {
		if i := strings.LastIndex(name, " "); i > 0 {
			a.Forename, a.Surname = name[:i], name[i+1:]
		} else {
			a.Surname = name
		}
	}
	return a, nil
}

func authenticateJWT(token string, cfg AuthConfig) (Principal, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	agent, err := claims.Agent()
	if err != nil {
		return Principal{}, err
	}
	return Principal{Agent: agent, Source: "jwt"}, nil
}

// SignToken issues an HS256 token for agent. Used by the CLI and tests.
func SignToken(agent domain.Agent, secret, issuer string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: agent.NativeID, Issuer: issuer},
		AgentType:        string(agent.Type),
		Email:            agent.Email,
		Name:             strings.TrimSpace(agent.Forename + " " + agent.Surname),
		Endorsements:     agent.Endorsements,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	if apiKey.Agent.IsZero() {
		return Principal{}, errors.New("api key missing agent")
	}
	return Principal{Agent: apiKey.Agent, Source: "api_key"}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// devAgent builds an agent from the X-Actor-* headers.
func devAgent(req *http.Request) domain.Agent {
	id := strings.TrimSpace(req.Header.Get("X-Actor-Id"))
	switch domain.AgentType(strings.TrimSpace(req.Header.Get("X-Actor-Type"))) {
	case domain.AgentClient:
		return domain.Client(id)
	case domain.AgentSystem:
		return domain.System(id)
	}
	var endorsements []string
	for _, e := range strings.Split(req.Header.Get("X-Actor-Endorsements"), ",") {
		if e = strings.TrimSpace(e); e != "" {
			endorsements = append(endorsements, e)
		}
	}
	return domain.User(id, strings.TrimSpace(req.Header.Get("X-Actor-Email")), endorsements...)
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	public := map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "openapi.json"): true,
		path.Join(basePath, "event-types"):  true,
	}
	invalid := newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if public[req.URL.Path] || (basePath != "" && !strings.HasPrefix(req.URL.Path, basePath)) {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			devActor := strings.TrimSpace(req.Header.Get("X-Actor-Id"))

			var principal Principal
			var err error
			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, invalid)
					return
				}
				principal, err = authenticateJWT(token, cfg)
			case apiKeyHeader != "":
				principal, err = authenticateAPIKey(req.Context(), r, apiKeyHeader)
			case devActor != "" && cfg.DevActorHeader:
				cfg.logger().Warn("unauthenticated X-Actor-Id header accepted", "actor_id", devActor)
				principal = Principal{Agent: devAgent(req), Source: "dev_header"}
			default:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			if err != nil {
				cfg.logger().Debug("authentication failed", "err", err)
				respondStatusError(w, invalid)
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
