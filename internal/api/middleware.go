/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are used
 * to process requests before they reach the final handler, perfect for tasks like
 * authentication, logging, or adding context to a request.
 *
 * Operator endpoints accept either the shared internal API key (for
 * service-to-service calls) or an HS256 JWT whose role claim grants operator
 * access (for the back-office).
 *
 * @dependencies
 * - context, crypto/subtle, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorContextKey is a custom type for the context key to avoid collisions.
type OperatorContextKey string

const operatorSubjectKey OperatorContextKey = "operatorSubject"

// Subject recorded for callers authenticated with the internal API key.
const internalCallerSubject = "internal"

// Roles allowed on operator endpoints.
var operatorRoles = map[string]bool{
	"operator": true,
	"admin":    true,
}

// OperatorAuthMiddleware creates a middleware that guards operator endpoints.
// A request passes with either a matching X-Internal-Api-Key header or a
// Bearer token signed with the operator JWT secret and carrying an allowed
// role claim.
func OperatorAuthMiddleware(jwtSecret, internalAPIKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get("X-Internal-Api-Key"); key != "" && internalAPIKey != "" {
				if subtle.ConstantTimeCompare([]byte(key), []byte(internalAPIKey)) == 1 {
					ctx := context.WithValue(r.Context(), operatorSubjectKey, internalCallerSubject)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				http.Error(w, "Invalid internal API key", http.StatusUnauthorized)
				return
			}

			// Bearer auth is only available when a JWT secret is configured.
			// HMAC verification against an empty key would accept tokens
			// anyone can mint.
			if jwtSecret == "" {
				http.Error(w, "Operator token auth is not configured", http.StatusUnauthorized)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			})
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			if !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			role, _ := claims["role"].(string)
			if !operatorRoles[role] {
				http.Error(w, "Insufficient role", http.StatusForbidden)
				return
			}

			subject, _ := claims["sub"].(string)
			ctx := context.WithValue(r.Context(), operatorSubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOperatorSubject retrieves the authenticated operator subject from the
// request context.
func GetOperatorSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(operatorSubjectKey).(string)
	return subject, ok
}
