package worker

import (
	"strconv"
	"time"
)

// Event is published once per finished queue item.
type Event struct {
	WorkerID           string    `json:"worker_id"`
	ItemID             int64     `json:"item_id"`
	URL                string    `json:"url"`
	Domain             string    `json:"domain"`
	Depth              int       `json:"depth"`
	Status             string    `json:"status"`
	Error              string    `json:"error,omitempty"`
	DurationMs         int64     `json:"duration_ms"`
	URLsDiscovered     int       `json:"urls_discovered"`
	RelationshipsFound int       `json:"relationships_found"`
	CollectedAt        time.Time `json:"collected_at"`
}

// Attributes lets subscribers filter without decoding the body.
func (e Event) Attributes() map[string]string {
	return map[string]string{
		"domain": e.Domain,
		"status": e.Status,
		"depth":  strconv.Itoa(e.Depth),
	}
}
