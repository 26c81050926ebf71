package frontier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

// SeedResult reports what Seed did with each domain.
type SeedResult struct {
	Inserted []string
	Existing []string
	Invalid  []string
}

// Seed queues each domain at depth 0 with the given priority. Domains may be
// given bare or as URLs; re-seeding an existing domain changes nothing.
func Seed(
	ctx context.Context,
	queue discovery.QueueStore,
	domains []string,
	priority int,
	at time.Time,
) (SeedResult, error) {
	var res SeedResult
	for _, raw := range domains {
		domain := seedDomain(raw)
		if !IsValidDomain(domain) {
			res.Invalid = append(res.Invalid, raw)
			continue
		}
		outcome, err := queue.Enqueue(ctx, discovery.EnqueueRequest{
			URL:        SeedURL(domain),
			DomainName: domain,
			Depth:      0,
			Priority:   priority,
			At:         at,
		})
		if err != nil {
			return res, fmt.Errorf("seed %s: %w", domain, err)
		}
		if outcome == discovery.Inserted {
			res.Inserted = append(res.Inserted, domain)
		} else {
			res.Existing = append(res.Existing, domain)
		}
	}
	return res, nil
}

func seedDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		if d, err := DomainOf(raw); err == nil {
			return d
		}
	}
	if i := strings.IndexAny(raw, "/?#"); i >= 0 {
		raw = raw[:i]
	}
	return NormalizeDomain(raw)
}
