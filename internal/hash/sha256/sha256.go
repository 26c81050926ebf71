// Package sha256 provides content digests and content-addressed paths.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Hasher implements discovery.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ContentPath shards a digest into "<prefix>/<d[0:2]>/<digest>.<ext>".
func ContentPath(prefix, digest, ext string) (string, error) {
	if len(digest) < 2 {
		return "", fmt.Errorf("digest %q too short", digest)
	}
	name := digest
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + ext
	}
	parts := []string{digest[:2], name}
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "/"), nil
}
