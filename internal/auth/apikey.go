// Package auth provides authentication primitives for the logging backend.
// Two authentication methods are supported: JWTs (issued on web login, stateless
// verification, carried in the session_token cookie) and per-app API keys
// (long-lived tokens presented by log producers in the X-API-Key header).
// See internal/middleware/auth.go for the request-time authentication logic
// that uses these primitives.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32

	// APIKeyHeader is the request header that carries an ingestion key
	APIKeyHeader = "X-API-Key"
)

// GenerateAPIKey creates a new random ingestion key with the given prefix,
// e.g. jlo_dGhpcyBpcyBub3QgYSByZWFsIGtleQ.
//
// The key is stored verbatim: ingestion runs at thousands of requests per
// second, and a per-request bcrypt comparison would dominate request latency.
// Keys grant write-only access to a single app's log stream, which bounds the
// blast radius of a leaked key, and they can be revoked instantly by flipping
// is_active.
func GenerateAPIKey(prefix string) (string, error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	randomPart := base64.RawURLEncoding.EncodeToString(randomBytes)
	if prefix == "" {
		return randomPart, nil
	}
	if strings.HasSuffix(prefix, "_") {
		return prefix + randomPart, nil
	}
	return fmt.Sprintf("%s_%s", prefix, randomPart), nil
}

// MaskAPIKey returns a redacted form of a key safe for list views and logs:
// the first 8 characters, an ellipsis, and the last 4.
func MaskAPIKey(key string) string {
	if len(key) <= 12 {
		return key
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// ExtractAPIKey pulls the ingestion key from a request, preferring the
// X-API-Key header and falling back to "Authorization: Bearer <key>".
func ExtractAPIKey(apiKeyHeader, authHeader string) (string, error) {
	if key := strings.TrimSpace(apiKeyHeader); key != "" {
		return key, nil
	}

	if authHeader == "" {
		return "", errors.New("missing API key")
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	key := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if key == "" {
		return "", errors.New("API key is empty after Bearer prefix")
	}

	return key, nil
}
