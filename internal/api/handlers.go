package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
	"github.com/JakeFAU/domain-mapper/internal/frontier"
	"github.com/JakeFAU/domain-mapper/internal/metrics"
)

// maxSeedBodyBytes bounds a POST /v1/seeds body.
const maxSeedBodyBytes = 1 << 20

type seedRequest struct {
	Domains  []string `json:"domains"`
	Priority *int     `json:"priority"`
}

type seedResponse struct {
	Inserted []string `json:"inserted"`
	Existing []string `json:"existing"`
	Invalid  []string `json:"invalid"`
}

func (s *Server) seed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSeedBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Domains) == 0 {
		s.writeError(w, http.StatusBadRequest, "domains required")
		return
	}
	priority := s.opts.SeedPriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	res, err := frontier.Seed(r.Context(), s.store, req.Domains, priority, s.clock.Now())
	if err != nil {
		s.logger.Error("seed failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "seed failed")
		return
	}
	s.logger.Info("seeded domains",
		zap.Int("inserted", len(res.Inserted)),
		zap.Int("existing", len(res.Existing)),
		zap.Int("invalid", len(res.Invalid)),
	)
	status := http.StatusOK
	if len(res.Inserted) > 0 {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, seedResponse{
		Inserted: nonNil(res.Inserted),
		Existing: nonNil(res.Existing),
		Invalid:  nonNil(res.Invalid),
	})
}

type statsResponse struct {
	Counts          map[discovery.QueueStatus]int64 `json:"counts"`
	Total           int64                           `json:"total"`
	OldestClaimedAt *time.Time                      `json:"oldest_claimed_at,omitempty"`
	NewestClaimedAt *time.Time                      `json:"newest_claimed_at,omitempty"`
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("queue stats failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "queue stats failed")
		return
	}
	counts := make(map[discovery.QueueStatus]int64, len(discovery.AllStatuses))
	for _, status := range discovery.AllStatuses {
		counts[status] = stats.Counts[status]
		metrics.SetQueueDepth(string(status), stats.Counts[status])
	}
	s.writeJSON(w, http.StatusOK, statsResponse{
		Counts:          counts,
		Total:           stats.Total(),
		OldestClaimedAt: stats.OldestClaimedAt,
		NewestClaimedAt: stats.NewestClaimedAt,
	})
}

type queueItemResponse struct {
	ID         int64      `json:"id"`
	URL        string     `json:"url"`
	DomainName string     `json:"domain_name"`
	Depth      int        `json:"depth"`
	ClaimedBy  *string    `json:"claimed_by,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
}

type reclaimResponse struct {
	DryRun    bool                `json:"dry_run"`
	Reclaimed int64               `json:"reclaimed"`
	Stale     []queueItemResponse `json:"stale,omitempty"`
}

func (s *Server) reclaim(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	if dryRun {
		limit := queryInt(r, "limit", 100)
		items, err := s.reclaimer.Preview(r.Context(), limit)
		if err != nil {
			s.logger.Error("stale preview failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "stale preview failed")
			return
		}
		out := make([]queueItemResponse, 0, len(items))
		for _, item := range items {
			out = append(out, queueItemResponse{
				ID:         item.ID,
				URL:        item.URL,
				DomainName: item.DomainName,
				Depth:      item.Depth,
				ClaimedBy:  item.ClaimedBy,
				ClaimedAt:  item.ClaimedAt,
			})
		}
		s.writeJSON(w, http.StatusOK, reclaimResponse{DryRun: true, Stale: out})
		return
	}
	n, err := s.reclaimer.ReclaimStale(r.Context())
	if err != nil {
		s.logger.Error("reclaim failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "reclaim failed")
		return
	}
	s.writeJSON(w, http.StatusOK, reclaimResponse{Reclaimed: n})
}

type retryRequest struct {
	Limit       int  `json:"limit"`
	MaxAttempts *int `json:"max_attempts"`
}

func (s *Server) retry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.Limit < 0 {
		s.writeError(w, http.StatusBadRequest, "limit must be >= 0")
		return
	}
	maxAttempts := s.opts.MaxRetryAttempts
	if req.MaxAttempts != nil {
		maxAttempts = *req.MaxAttempts
	}
	n, err := s.store.RetryFailed(r.Context(), req.Limit, maxAttempts, s.clock.Now())
	if err != nil {
		s.logger.Error("retry failed items", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"requeued": n})
}

type relationshipResponse struct {
	TargetDomainID int64     `json:"target_domain_id"`
	Type           string    `json:"type"`
	LinkURL        string    `json:"link_url,omitempty"`
	LinkText       string    `json:"link_text,omitempty"`
	DiscoveredAt   time.Time `json:"discovered_at"`
}

type domainResponse struct {
	ID             int64                  `json:"id"`
	DomainName     string                 `json:"domain_name"`
	Title          *string                `json:"title,omitempty"`
	Description    *string                `json:"description,omitempty"`
	Category       *string                `json:"category,omitempty"`
	Tags           *string                `json:"tags,omitempty"`
	IPAddress      *string                `json:"ip_address,omitempty"`
	Nameservers    *string                `json:"nameservers,omitempty"`
	ASN            *string                `json:"asn,omitempty"`
	ASNDescription *string                `json:"asn_description,omitempty"`
	Country        *string                `json:"country,omitempty"`
	SSLValid       *bool                  `json:"ssl_valid,omitempty"`
	SSLExpiry      *time.Time             `json:"ssl_expiry,omitempty"`
	ScreenshotPath *string                `json:"screenshot_path,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
	Relationships  []relationshipResponse `json:"relationships"`
}

func (s *Server) domain(w http.ResponseWriter, r *http.Request) {
	name := frontier.NormalizeDomain(chi.URLParam(r, "name"))
	d, err := s.store.GetDomain(r.Context(), name)
	if errors.Is(err, discovery.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "domain not found")
		return
	}
	if err != nil {
		s.logger.Error("get domain failed", zap.String("domain", name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "get domain failed")
		return
	}
	rels, err := s.store.ListRelationships(r.Context(), d.ID)
	if err != nil {
		s.logger.Error("list relationships failed", zap.String("domain", name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "list relationships failed")
		return
	}
	out := domainResponse{
		ID:             d.ID,
		DomainName:     d.DomainName,
		Title:          d.Title,
		Description:    d.Description,
		Category:       d.Category,
		Tags:           d.Tags,
		IPAddress:      d.IPAddress,
		Nameservers:    d.Nameservers,
		ASN:            d.ASN,
		ASNDescription: d.ASNDescription,
		Country:        d.Country,
		SSLValid:       d.SSLValid,
		SSLExpiry:      d.SSLExpiry,
		ScreenshotPath: d.ScreenshotPath,
		UpdatedAt:      d.UpdatedAt,
		Relationships:  make([]relationshipResponse, 0, len(rels)),
	}
	for _, rel := range rels {
		out.Relationships = append(out.Relationships, relationshipResponse{
			TargetDomainID: rel.TargetDomainID,
			Type:           string(rel.Type),
			LinkURL:        rel.LinkURL,
			LinkText:       rel.LinkText,
			DiscoveredAt:   rel.DiscoveredAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
