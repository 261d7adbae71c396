package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const adminClaimsKey contextKey = "adminClaims"

// StaffClaims are the claims carried by a staff viewer token.
type StaffClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var staffRoles = map[string]struct{}{"staff": {}, "admin": {}}

// AdminJWT guards the staff session viewer with an HS256 token whose role is
// "staff" or "admin" and whose subject is set.
func AdminJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "admin auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			var claims StaffClaims
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(token *jwt.Token) (any, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if _, ok := staffRoles[claims.Role]; !ok || claims.Subject == "" {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), adminClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminClaimsFromContext returns staff claims if present.
func AdminClaimsFromContext(ctx context.Context) (StaffClaims, bool) {
	claims, ok := ctx.Value(adminClaimsKey).(StaffClaims)
	return claims, ok
}
