package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// JWT AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrMissingToken is returned when no bearer token is present.
	ErrMissingToken = errors.New("authorization header is missing")

	// ErrInvalidToken is returned when the token cannot be verified.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrMissingSubject is returned when the token carries no learner id.
	ErrMissingSubject = errors.New("token has no sub or user_id claim")
)

type learnerKey struct{}

// JWTAuth verifies HMAC-signed bearer tokens and extracts the learner id
// from the "sub" claim, falling back to "user_id".
type JWTAuth struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewJWTAuth creates a verifier. An empty issuer disables the issuer check.
func NewJWTAuth(secret, issuer string) *JWTAuth {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTAuth{
		secret: []byte(secret),
		issuer: issuer,
		parser: jwt.NewParser(opts...),
	}
}

// LearnerID verifies the token and returns the learner it identifies.
func (a *JWTAuth) LearnerID(tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := a.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	if sub, _ := claims.GetSubject(); sub != "" {
		return sub, nil
	}
	if uid, ok := claims["user_id"].(string); ok && uid != "" {
		return uid, nil
	}
	return "", ErrMissingSubject
}

// Issue signs a token for the learner. Used by tests and local tooling.
func (a *JWTAuth) Issue(learnerID string, claims jwt.MapClaims) (string, error) {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims["sub"] = learnerID
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware rejects requests without a valid token.
func (a *JWTAuth) Middleware(next http.Handler) http.Handler {
	return a.middleware(next, true)
}

// OptionalMiddleware authenticates when a token is present and lets
// anonymous requests through. A present but invalid token is still rejected.
func (a *JWTAuth) OptionalMiddleware(next http.Handler) http.Handler {
	return a.middleware(next, false)
}

func (a *JWTAuth) middleware(next http.Handler, required bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" && !required {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, err := bearerToken(header)
		if err != nil {
			unauthorized(w, err)
			return
		}
		learnerID, err := a.LearnerID(tokenString)
		if err != nil {
			unauthorized(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithLearnerID(r.Context(), learnerID)))
	})
}

// WithLearnerID stores the authenticated learner id in ctx.
func WithLearnerID(ctx context.Context, learnerID string) context.Context {
	return context.WithValue(ctx, learnerKey{}, learnerID)
}

// LearnerIDFromContext returns the authenticated learner id, if any.
func LearnerIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(learnerKey{}).(string)
	return id, ok && id != ""
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(token), nil
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="progress"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"error":{"code":"unauthorized","message":"` + err.Error() + `"}}`))
}
