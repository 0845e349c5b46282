package hashing

import (
	"encoding/hex"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		expected    Algorithm
		expectError bool
	}{
		{"sha256", SHA256, false},
		{"sha512", SHA512, false},
		{"blake3", BLAKE3, false},
		{"xxh64", XXH64, false},
		{"", SHA256, false},
		{"md5", "", true},
		{"SHA256", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			algo, err := Parse(tt.name)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for %q, got nil", tt.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if algo != tt.expected {
				t.Errorf("Parse(%q) = %v, want %v", tt.name, algo, tt.expected)
			}
		})
	}
}

func TestDigestLengthAndDeterminism(t *testing.T) {
	payload := []byte("the same bytes every time")

	for _, algo := range []Algorithm{SHA256, SHA512, BLAKE3, XXH64} {
		t.Run(string(algo), func(t *testing.T) {
			h1, err := New(algo)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			h1.Write(payload)
			d1 := hex.EncodeToString(h1.Sum(nil))

			h2, err := New(algo)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			h2.Write(payload)
			d2 := hex.EncodeToString(h2.Sum(nil))

			if d1 != d2 {
				t.Errorf("digest not deterministic: %s vs %s", d1, d2)
			}
			if len(d1) != HexLen(algo) {
				t.Errorf("digest length = %d, want %d", len(d1), HexLen(algo))
			}
		})
	}
}

func TestDistinctContentDistinctDigest(t *testing.T) {
	h1, _ := New(SHA256)
	h1.Write([]byte("a"))
	h2, _ := New(SHA256)
	h2.Write([]byte("b"))
	if hex.EncodeToString(h1.Sum(nil)) == hex.EncodeToString(h2.Sum(nil)) {
		t.Error("distinct content produced equal digests")
	}
}
