package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/domain-mapper/internal/discovery"
)

var metadataColumns = []string{
	"title", "description", "favicon_url",
	"created_date", "expiry_date", "registrar", "nameservers",
	"ip_address", "asn", "asn_description",
	"ssl_valid", "ssl_expiry",
	"country", "latitude", "longitude",
	"screenshot_path", "category", "tags",
}

func metadataArgs(m discovery.DomainMetadata) []any {
	return []any{
		m.Title, m.Description, m.FaviconURL,
		m.CreatedDate, m.ExpiryDate, m.Registrar, m.Nameservers,
		m.IPAddress, m.ASN, m.ASNDescription,
		m.SSLValid, m.SSLExpiry,
		m.Country, m.Latitude, m.Longitude,
		m.ScreenshotPath, m.Category, m.Tags,
	}
}

func metadataDest(m *discovery.DomainMetadata) []any {
	return []any{
		&m.Title, &m.Description, &m.FaviconURL,
		&m.CreatedDate, &m.ExpiryDate, &m.Registrar, &m.Nameservers,
		&m.IPAddress, &m.ASN, &m.ASNDescription,
		&m.SSLValid, &m.SSLExpiry,
		&m.Country, &m.Latitude, &m.Longitude,
		&m.ScreenshotPath, &m.Category, &m.Tags,
	}
}

// upsertDomainSQL overwrites a column only when the new value is non-null.
var upsertDomainSQL = buildUpsertDomainSQL()

func buildUpsertDomainSQL() string {
	n := len(metadataColumns)
	placeholders := make([]string, 0, n)
	sets := make([]string, 0, n+1)
	for i, col := range metadataColumns {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		sets = append(sets, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, domains.%s)", col, col, col))
	}
	sets = append(sets, "updated_at = EXCLUDED.updated_at")
	atArg := fmt.Sprintf("$%d", n+2)
	return fmt.Sprintf(`
INSERT INTO domains (domain_name, %s, created_at, updated_at)
VALUES ($1, %s, %s, %s)
ON CONFLICT (domain_name) DO UPDATE SET
	%s
RETURNING id`,
		strings.Join(metadataColumns, ", "),
		strings.Join(placeholders, ", "),
		atArg, atArg,
		strings.Join(sets, ",\n\t"),
	)
}

const ensureDomainSQL = `
WITH ins AS (
	INSERT INTO domains (domain_name, created_at, updated_at)
	VALUES ($1, $2, $2)
	ON CONFLICT (domain_name) DO NOTHING
	RETURNING id
)
SELECT id FROM ins
UNION ALL
SELECT id FROM domains WHERE domain_name = $1
LIMIT 1`

const insertRelationshipSQL = `
INSERT INTO relationships (source_domain_id, target_domain_id, relationship_type, link_text, link_url, discovered_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (source_domain_id, target_domain_id, relationship_type) DO NOTHING
RETURNING id`

// UpsertDomain inserts or merges a domain row and returns its id.
func (s *Store) UpsertDomain(ctx context.Context, meta discovery.DomainMetadata, at time.Time) (int64, error) {
	if meta.DomainName == "" {
		return 0, fmt.Errorf("domain name is required")
	}
	args := append([]any{meta.DomainName}, metadataArgs(meta)...)
	args = append(args, at)
	var id int64
	if err := s.pool.QueryRow(ctx, upsertDomainSQL, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert domain %s: %w", meta.DomainName, err)
	}
	return id, nil
}

// EnsureDomain returns the id for name, inserting a bare row when missing.
func (s *Store) EnsureDomain(ctx context.Context, name string, at time.Time) (int64, error) {
	var id int64
	// A concurrent insert committed after this statement's snapshot shows up
	// as no rows; the second attempt sees it.
	for attempt := 0; attempt < 2; attempt++ {
		err := s.pool.QueryRow(ctx, ensureDomainSQL, name, at).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("ensure domain %s: %w", name, err)
		}
	}
	return 0, fmt.Errorf("ensure domain %s: %w", name, discovery.ErrNotFound)
}

// GetDomain fetches a domain row by name.
func (s *Store) GetDomain(ctx context.Context, name string) (discovery.Domain, error) {
	var d discovery.Domain
	dest := append([]any{&d.ID, &d.DomainName}, metadataDest(&d.DomainMetadata)...)
	dest = append(dest, &d.CreatedAt, &d.UpdatedAt)
	query := fmt.Sprintf(`SELECT id, domain_name, %s, created_at, updated_at FROM domains WHERE domain_name = $1`,
		strings.Join(metadataColumns, ", "))
	err := s.pool.QueryRow(ctx, query, name).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return discovery.Domain{}, discovery.ErrNotFound
	}
	if err != nil {
		return discovery.Domain{}, fmt.Errorf("get domain %s: %w", name, err)
	}
	return d, nil
}

// listIncompleteSQL selects domains with a null column a backfill can fill.
var listIncompleteSQL = buildListIncompleteSQL()

func buildListIncompleteSQL() string {
	conds := make([]string, 0, len(metadataColumns))
	for _, col := range metadataColumns {
		if col == "screenshot_path" {
			continue
		}
		conds = append(conds, col+" IS NULL")
	}
	return fmt.Sprintf(`SELECT domain_name FROM domains
WHERE %s
ORDER BY domain_name
LIMIT $1`, strings.Join(conds, " OR "))
}

// ListIncompleteDomains names domains with a null enrichable column.
func (s *Store) ListIncompleteDomains(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, listIncompleteSQL, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list incomplete domains: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list incomplete domains: %w", err)
	}
	return names, nil
}

// UpsertRelationship inserts an edge and reports whether it was new.
func (s *Store) UpsertRelationship(ctx context.Context, rel discovery.Relationship) (bool, error) {
	if !rel.Type.Valid() {
		return false, fmt.Errorf("invalid relationship type %q", rel.Type)
	}
	var id int64
	err := s.pool.QueryRow(ctx, insertRelationshipSQL,
		rel.SourceDomainID,
		rel.TargetDomainID,
		string(rel.Type),
		rel.LinkText,
		rel.LinkURL,
		rel.DiscoveredAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert relationship: %w", err)
	}
	return true, nil
}

// ListRelationships returns the edges leaving sourceDomainID.
func (s *Store) ListRelationships(ctx context.Context, sourceDomainID int64) ([]discovery.Relationship, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, source_domain_id, target_domain_id, relationship_type, link_text, link_url, discovered_at
FROM relationships
WHERE source_domain_id = $1
ORDER BY id`, sourceDomainID)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()
	var out []discovery.Relationship
	for rows.Next() {
		var (
			rel     discovery.Relationship
			relType string
		)
		if err := rows.Scan(
			&rel.ID,
			&rel.SourceDomainID,
			&rel.TargetDomainID,
			&relType,
			&rel.LinkText,
			&rel.LinkURL,
			&rel.DiscoveredAt,
		); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rel.Type = discovery.RelationshipType(relType)
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	return out, nil
}
