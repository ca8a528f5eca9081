package server

import (
	"context"
	"net/http"
	"strings"
)

// credentialKey carries the caller's API key through the request context.
type credentialKey struct{}

// ParseCredential normalizes an Authorization header value. A bearer-style
// prefix is stripped case-insensitively; anything else is taken verbatim as
// the key.
func ParseCredential(header string) string {
	value := strings.TrimSpace(header)
	if len(value) >= 7 && strings.EqualFold(value[:7], "bearer ") {
		return strings.TrimSpace(value[7:])
	}
	return value
}

// WithCredential wraps an HTTP handler and stores the normalized API key
// from the Authorization header in the request context. Requests without
// the header pass through keyless, which only the disabled permission mode
// accepts.
func WithCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := ParseCredential(r.Header.Get("Authorization")); key != "" {
			r = r.WithContext(context.WithValue(r.Context(), credentialKey{}, key))
		}
		next.ServeHTTP(w, r)
	})
}

// CredentialFromContext returns the API key stored by WithCredential, empty
// when the transport carried none. Stdio sessions never carry one.
func CredentialFromContext(ctx context.Context) string {
	key, _ := ctx.Value(credentialKey{}).(string)
	return key
}
