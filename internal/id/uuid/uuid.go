// Package uuid provides run and worker identifiers.
package uuid

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Generator creates UUID v7 based identifiers.
type Generator struct {
	hostname func() (string, error)
	pid      func() int
}

// New creates a Generator reading the local hostname and process id.
func New() *Generator {
	return &Generator{hostname: os.Hostname, pid: os.Getpid}
}

// NewID returns a UUID7 string.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// WorkerID returns "<hostname>-<pid>-<suffix>" where suffix is the random
// tail of a UUID7, so ids minted in the same millisecond still differ.
func (g *Generator) WorkerID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate worker id: %w", err)
	}
	host, err := g.hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	host = strings.ReplaceAll(strings.ToLower(host), ".", "-")
	s := strings.ReplaceAll(id.String(), "-", "")
	return fmt.Sprintf("%s-%d-%s", host, g.pid(), s[len(s)-8:]), nil
}
