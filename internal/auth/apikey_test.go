package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	t.Run("key starts with prefix_", func(t *testing.T) {
		key, err := GenerateAPIKey("jlo")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if !strings.HasPrefix(key, "jlo_") {
			t.Errorf("GenerateAPIKey() key = %q, want prefix %q", key, "jlo_")
		}
	})

	t.Run("prefix with trailing underscore is not doubled", func(t *testing.T) {
		key, err := GenerateAPIKey("jlo_")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if strings.HasPrefix(key, "jlo__") {
			t.Errorf("GenerateAPIKey() key = %q, separator was doubled", key)
		}
		if !strings.HasPrefix(key, "jlo_") {
			t.Errorf("GenerateAPIKey() key = %q, want prefix %q", key, "jlo_")
		}
	})

	t.Run("two calls produce different keys", func(t *testing.T) {
		key1, _ := GenerateAPIKey("jlo")
		key2, _ := GenerateAPIKey("jlo")
		if key1 == key2 {
			t.Error("GenerateAPIKey() produced identical keys on consecutive calls")
		}
	})

	t.Run("random part is long enough", func(t *testing.T) {
		key, err := GenerateAPIKey("jlo")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		// 32 random bytes base64url-encoded is 43 characters
		randomPart := strings.TrimPrefix(key, "jlo_")
		if len(randomPart) < 43 {
			t.Errorf("random part length = %d, want >= 43", len(randomPart))
		}
	})

	t.Run("empty prefix produces bare random key", func(t *testing.T) {
		key, err := GenerateAPIKey("")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if strings.HasPrefix(key, "_") {
			t.Errorf("GenerateAPIKey() key = %q, want no leading underscore", key)
		}
		if key == "" {
			t.Error("GenerateAPIKey() returned empty key")
		}
	})
}

func TestMaskAPIKey(t *testing.T) {
	t.Run("long key is redacted", func(t *testing.T) {
		key, err := GenerateAPIKey("jlo")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		masked := MaskAPIKey(key)
		if masked == key {
			t.Error("MaskAPIKey() returned the full key")
		}
		if !strings.HasPrefix(masked, key[:8]) {
			t.Errorf("masked key %q does not start with key prefix", masked)
		}
		if !strings.HasSuffix(masked, key[len(key)-4:]) {
			t.Errorf("masked key %q does not end with key suffix", masked)
		}
		if !strings.Contains(masked, "...") {
			t.Errorf("masked key %q missing ellipsis", masked)
		}
	})

	t.Run("short key is returned as-is", func(t *testing.T) {
		if got := MaskAPIKey("short"); got != "short" {
			t.Errorf("MaskAPIKey(short) = %q, want unchanged", got)
		}
	})
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		authHeader string
		want       string
		wantErr    bool
	}{
		{"x-api-key header", "jlo_abc123", "", "jlo_abc123", false},
		{"x-api-key wins over bearer", "jlo_abc123", "Bearer jlo_other", "jlo_abc123", false},
		{"x-api-key with whitespace", "  jlo_abc123  ", "", "jlo_abc123", false},
		{"bearer fallback", "", "Bearer jlo_abc123", "jlo_abc123", false},
		{"bearer with extra whitespace", "", "Bearer   jlo_abc123  ", "jlo_abc123", false},
		{"both empty", "", "", "", true},
		{"authorization without bearer", "", "Basic dXNlcjpwYXNz", "", true},
		{"bearer with empty key", "", "Bearer ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractAPIKey(tt.apiKey, tt.authHeader)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ExtractAPIKey() expected error, got key %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractAPIKey() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractAPIKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
