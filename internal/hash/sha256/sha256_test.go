package sha256

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestContentPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		digest string
		ext    string
		want   string
	}{
		{"with prefix", "screenshots/", "b94d27b9", ".png", "screenshots/b9/b94d27b9.png"},
		{"no prefix", "", "abcd", "png", "ab/abcd.png"},
		{"no extension", "shots", "abcd", "", "shots/ab/abcd"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ContentPath(tt.prefix, tt.digest, tt.ext)
			if err != nil {
				t.Fatalf("ContentPath() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}

	if _, err := ContentPath("x", "a", "png"); err == nil {
		t.Fatal("expected error for short digest")
	}
}
