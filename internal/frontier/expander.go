package frontier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

// Config bounds expansion.
type Config struct {
	// MaxDepth is the deepest level a new item may be queued at.
	MaxDepth int
	// MaxURLsPerDomain caps new items created from the pages of one source
	// domain within a batch; 0 disables the cap.
	MaxURLsPerDomain int
	// Priority is assigned to discovered items.
	Priority int
}

// Source identifies the collected page being expanded.
type Source struct {
	Item     discovery.QueueItem
	DomainID int64
}

// Result counts what one expansion did.
type Result struct {
	URLsDiscovered       int
	RelationshipsFound   int
	RelationshipsCreated int
	DroppedDepth         int
	DroppedInvalid       int
	CappedDomain         int
	CappedBudget         int
	Relationships        map[discovery.RelationshipType]int
}

// Expander enqueues newly discovered URLs and records relationship edges.
type Expander struct {
	queue   discovery.QueueStore
	domains discovery.DomainStore
	graph   discovery.RelationshipStore
	clock   discovery.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs an Expander.
func New(
	queue discovery.QueueStore,
	domains discovery.DomainStore,
	graph discovery.RelationshipStore,
	clock discovery.Clock,
	cfg Config,
	logger *zap.Logger,
) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{
		queue:   queue,
		domains: domains,
		graph:   graph,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

type candidate struct {
	url    string
	domain string
	text   string
	hint   discovery.RelationshipType
}

// Expand processes the links found on source's page. budget is shared by
// every expansion in the current batch and carries both the batch total and
// the per-source-domain tally; nil scopes both to this call. Relationships
// are recorded only for links that survive the caps.
func (e *Expander) Expand(ctx context.Context, source Source, links []discovery.Link, budget *Budget) (Result, error) {
	res := Result{Relationships: map[discovery.RelationshipType]int{}}
	childDepth := source.Item.Depth + 1
	if childDepth > e.cfg.MaxDepth {
		res.DroppedDepth = len(links)
		e.logger.Debug("frontier depth limit reached",
			zap.String("url", source.Item.URL),
			zap.Int("depth", source.Item.Depth),
			zap.Int("max_depth", e.cfg.MaxDepth),
		)
		return res, nil
	}
	if budget == nil {
		budget = NewBudget(0)
	}

	candidates, invalid := e.candidates(links)
	res.DroppedInvalid = invalid

	now := e.clock.Now()
	sourceDomain := source.Item.DomainName
	perDomain := e.cfg.MaxURLsPerDomain
	seenEdges := make(map[string]struct{})
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("expand frontier: %w", err)
		}
		if !budget.TakeFor(sourceDomain, perDomain) {
			res.CappedDomain++
			continue
		}
		if !budget.Take() {
			budget.RefundFor(sourceDomain, perDomain)
			res.CappedBudget++
			continue
		}
		refund := func() {
			budget.Refund()
			budget.RefundFor(sourceDomain, perDomain)
		}

		if c.domain != sourceDomain {
			if err := e.recordEdge(ctx, source, c, seenEdges, &res); err != nil {
				refund()
				return res, err
			}
		}
		sourceID := source.DomainID
		outcome, err := e.queue.Enqueue(ctx, discovery.EnqueueRequest{
			URL:            c.url,
			DomainName:     c.domain,
			SourceDomainID: &sourceID,
			Depth:          childDepth,
			Priority:       e.cfg.Priority,
			At:             now,
		})
		if err != nil {
			refund()
			return res, fmt.Errorf("enqueue %s: %w", c.url, err)
		}
		if outcome != discovery.Inserted {
			refund()
			continue
		}
		res.URLsDiscovered++
	}
	if res.CappedDomain > 0 {
		e.logger.Debug("source domain enqueue cap reached",
			zap.String("domain", sourceDomain),
			zap.Int("max_urls_per_domain", perDomain),
			zap.Int("capped", res.CappedDomain),
		)
	}
	return res, nil
}

func (e *Expander) recordEdge(
	ctx context.Context,
	source Source,
	c candidate,
	seen map[string]struct{},
	res *Result,
) error {
	relType := Classify(source.Item.DomainName, c.domain, c.hint)
	key := c.domain + "|" + string(relType)
	if _, ok := seen[key]; ok {
		return nil
	}
	seen[key] = struct{}{}

	targetID, err := e.domains.EnsureDomain(ctx, c.domain, e.clock.Now())
	if err != nil {
		return fmt.Errorf("ensure domain %s: %w", c.domain, err)
	}
	created, err := e.graph.UpsertRelationship(ctx, discovery.Relationship{
		SourceDomainID: source.DomainID,
		TargetDomainID: targetID,
		Type:           relType,
		LinkText:       c.text,
		LinkURL:        c.url,
		DiscoveredAt:   e.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("record relationship %s -> %s: %w", source.Item.DomainName, c.domain, err)
	}
	res.RelationshipsFound++
	res.Relationships[relType]++
	if created {
		res.RelationshipsCreated++
	}
	return nil
}

// candidates normalises links, drops invalid ones and keeps the first
// occurrence of each URL, upgrading its hint when a later duplicate carries a
// stronger one.
func (e *Expander) candidates(links []discovery.Link) ([]candidate, int) {
	out := make([]candidate, 0, len(links))
	index := make(map[string]int, len(links))
	invalid := 0
	for _, link := range links {
		normalized, err := Normalize(link.URL)
		if err != nil {
			invalid++
			continue
		}
		domain, err := DomainOf(normalized)
		if err != nil || !IsValidDomain(domain) {
			invalid++
			continue
		}
		if i, ok := index[normalized]; ok {
			if link.Type.Rank() > out[i].hint.Rank() {
				out[i].hint = link.Type
			}
			continue
		}
		index[normalized] = len(out)
		out = append(out, candidate{
			url:    normalized,
			domain: domain,
			text:   link.Text,
			hint:   link.Type,
		})
	}
	return out, invalid
}
