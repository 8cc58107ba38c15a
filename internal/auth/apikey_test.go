// ABOUTME: Unit tests for machine API key candidate extraction
// ABOUTME: Covers both headers and the mandatory orag_ prefix

package auth

import (
	"net/http"
	"testing"
)

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		wantKey string
		wantOK  bool
	}{
		{
			name:    "dedicated header",
			headers: map[string]string{APIKeyHeader: "orag_abc123"},
			wantKey: "orag_abc123",
			wantOK:  true,
		},
		{
			name:    "bearer authorization",
			headers: map[string]string{"Authorization": "Bearer orag_abc123"},
			wantKey: "orag_abc123",
			wantOK:  true,
		},
		{
			name: "dedicated header wins over authorization",
			headers: map[string]string{
				APIKeyHeader:    "orag_from_header",
				"Authorization": "Bearer orag_from_bearer",
			},
			wantKey: "orag_from_header",
			wantOK:  true,
		},
		{
			name:    "no headers",
			headers: map[string]string{},
			wantOK:  false,
		},
		{
			name:    "missing prefix on dedicated header",
			headers: map[string]string{APIKeyHeader: "sk-abc123"},
			wantOK:  false,
		},
		{
			name:    "missing prefix on bearer",
			headers: map[string]string{"Authorization": "Bearer sk-abc123"},
			wantOK:  false,
		},
		{
			name:    "bearer JWT is not a key candidate",
			headers: map[string]string{"Authorization": "Bearer eyJhbGciOi..."},
			wantOK:  false,
		},
		{
			name:    "non-bearer authorization scheme",
			headers: map[string]string{"Authorization": "Basic b3JhZ19hYmM="},
			wantOK:  false,
		},
		{
			name: "unprefixed dedicated header falls through to bearer",
			headers: map[string]string{
				APIKeyHeader:    "sk-abc123",
				"Authorization": "Bearer orag_fallback",
			},
			wantKey: "orag_fallback",
			wantOK:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}

			key, ok := ExtractAPIKey(h)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && key != tt.wantKey {
				t.Errorf("key = %q, want %q", key, tt.wantKey)
			}
		})
	}
}
