package authmw

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/devmesh/meshnode"
)

// defaultTokenTTL is used by GenerateToken when the caller passes ttl <= 0.
const defaultTokenTTL = 15 * time.Minute

type contextKey string

const ctxKeyClaims contextKey = "authmw_claims"

// New returns middleware that validates a bearer token against secret before
// letting the request through. An empty secret disables the check
// entirely (returns a pass-through middleware), matching the JWTConfig's
// Enabled flag living in the caller rather than here.
func New(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authenticate(r, secret)
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// Middleware returns a meshnode.HandlerFunc that enforces the same bearer-
// token requirement at the Dispatcher layer (§4.4), so that application
// requests forwarded over a peer link are authenticated exactly like ones
// that arrive over the REST adapter. It does not parse a token itself: a
// request reaches the Dispatcher already carrying validated Claims, placed
// on its context either by New's HTTP middleware (REST) or by a link
// Session that authenticated its peer at handshake time (link.Session.
// SetClaims). A secret of "" disables the check, matching JWTConfig.Enabled
// living in the caller.
func Middleware(secret string) meshnode.HandlerFunc {
	return func(ctx context.Context, req *meshnode.Request, next func(context.Context) (any, error)) (any, error) {
		if secret == "" {
			return next(ctx)
		}
		if ClaimsFromContext(ctx) == nil {
			return nil, ErrMissingAuthHeader
		}
		return next(ctx)
	}
}

// ContextWithClaims returns a copy of ctx carrying claims, retrievable with
// ClaimsFromContext.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, claims)
}

// Authenticate validates the bearer token carried on r's Authorization
// header against secret, the same check New's HTTP middleware performs.
// Exposed for callers that authenticate a request outside of an
// http.Handler chain, such as a link Session's handshake.
func Authenticate(r *http.Request, secret string) (*Claims, error) {
	return authenticate(r, secret)
}

func authenticate(r *http.Request, secret string) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrMissingAuthHeader
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, ErrMalformedAuthHeader
	}

	return parseToken(parts[1], secret)
}

// ClaimsFromContext extracts the validated Claims from a request context
// that has passed through New's middleware. Returns nil otherwise.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ctxKeyClaims).(*Claims)
	return claims
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "unauthorised",
		"message": message,
	})
}
