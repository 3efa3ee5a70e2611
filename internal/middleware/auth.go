package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// SubjectKey carries the authenticated subject in the request context
const SubjectKey ctxKey = "subject"

// TokenVerifier checks a bearer token and returns its subject
type TokenVerifier func(token string) (subject string, err error)

// BearerAuth rejects requests without a valid Authorization bearer token
func BearerAuth(verify TokenVerifier, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, r, "missing bearer token")
				return
			}
			subject, err := verify(token)
			if err != nil {
				logger.WarnContext(r.Context(), "token rejected", slog.String("error", err.Error()))
				unauthorized(w, r, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), SubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Subject returns the authenticated subject, if any
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(SubjectKey).(string)
	return s
}

// AdminToken guards operator endpoints with a shared X-Admin-Token secret.
// An empty expected token disables the endpoint entirely.
func AdminToken(expected string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Token")
			if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				writeProblem(w, r, Problem{
					Type:   "/errors/forbidden",
					Title:  "Forbidden",
					Status: http.StatusForbidden,
					Detail: "admin token required",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="volai"`)
	writeProblem(w, r, Problem{
		Type:   "/errors/unauthorized",
		Title:  "Unauthorized",
		Status: http.StatusUnauthorized,
		Detail: detail,
	})
}
