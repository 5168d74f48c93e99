package postgres

import (
	"context"
	"fmt"

	"github.com/jobmarket-tools/harvester/internal/identity"
)

// nameTables maps entity kinds onto their backing tables. Both tables carry
// a text primary key `name` and a pg_trgm GIN index for the similarity scan.
var nameTables = map[identity.Kind]string{
	identity.KindSkill:    "skills",
	identity.KindCategory: "offer_categories",
}

// EntityStore implements identity.EntityStore on Postgres. The coarse
// candidate queries lean on the pg_trgm extension's similarity().
type EntityStore struct {
	db DB
}

// NewEntityStore constructs an EntityStore on an existing pool.
func NewEntityStore(db DB) *EntityStore {
	return &EntityStore{db: db}
}

// SimilarCompanies returns up to limit companies with coarse similarity >=
// minSim, best first, optionally scoped to a country.
func (s *EntityStore) SimilarCompanies(
	ctx context.Context,
	query, countryCode string,
	minSim float64,
	limit int,
) ([]identity.CompanyCandidate, error) {
	sql := `
SELECT id, name
FROM companies
WHERE similarity(name, $1) >= $2
  AND ($3 = '' OR country_code = $3)
ORDER BY similarity(name, $1) DESC
LIMIT $4`
	rows, err := s.db.Query(ctx, sql, query, minSim, countryCode, limit)
	if err != nil {
		return nil, fmt.Errorf("query company candidates: %w", err)
	}
	defer rows.Close()

	var out []identity.CompanyCandidate
	for rows.Next() {
		var c identity.CompanyCandidate
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan company candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate company candidates: %w", err)
	}
	return out, nil
}

// CreateOrFetchCompany inserts a company by exact name, or returns the
// existing row's id. The no-op DO UPDATE makes RETURNING yield the id on
// conflict, so concurrent writers for the same name both get the winner.
func (s *EntityStore) CreateOrFetchCompany(ctx context.Context, name, countryCode string) (int64, error) {
	sql := `
INSERT INTO companies (name, country_code)
VALUES ($1, NULLIF($2, ''))
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`
	var id int64
	if err := s.db.QueryRow(ctx, sql, name, countryCode).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert company: %w", err)
	}
	return id, nil
}

// SimilarNames returns up to limit canonical names of the kind with coarse
// similarity >= minSim, best first.
func (s *EntityStore) SimilarNames(
	ctx context.Context,
	kind identity.Kind,
	query string,
	minSim float64,
	limit int,
) ([]string, error) {
	table, ok := nameTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	sql := fmt.Sprintf(`
SELECT name
FROM %s
WHERE similarity(name, $1) >= $2
ORDER BY similarity(name, $1) DESC
LIMIT $3`, table)
	rows, err := s.db.Query(ctx, sql, query, minSim, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s candidates: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan %s candidate: %w", table, err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s candidates: %w", table, err)
	}
	return out, nil
}

// CreateOrFetchName inserts a canonical name row of the kind if absent. The
// name itself is the key, so the canonical value is the input on both paths.
func (s *EntityStore) CreateOrFetchName(ctx context.Context, kind identity.Kind, name string) (string, error) {
	table, ok := nameTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
	sql := fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, table)
	if _, err := s.db.Exec(ctx, sql, name); err != nil {
		return "", fmt.Errorf("upsert %s: %w", table, err)
	}
	return name, nil
}
