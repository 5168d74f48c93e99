package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jobmarket-tools/harvester/internal/harvest"
)

// LookupStore implements ingest.LookupStore: create-or-fetch for every
// closed-vocabulary table, with each key canonicalized the same way on every
// code path so concurrent sources converge on one row per value.
type LookupStore struct {
	db DB
}

// NewLookupStore constructs a LookupStore on an existing pool.
func NewLookupStore(db DB) *LookupStore {
	return &LookupStore{db: db}
}

func (s *LookupStore) ensure(ctx context.Context, sql string, args ...any) error {
	if _, err := s.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("ensure lookup row: %w", err)
	}
	return nil
}

// EnsureCountry upserts a country by upper-cased ISO code. The name column
// defaults to the code until something richer fills it in.
func (s *LookupStore) EnsureCountry(ctx context.Context, code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", fmt.Errorf("country code is empty")
	}
	err := s.ensure(ctx,
		`INSERT INTO countries (code, name) VALUES ($1, $1) ON CONFLICT (code) DO NOTHING`, code)
	return code, err
}

// EnsureCurrency upserts a currency by upper-cased code.
func (s *LookupStore) EnsureCurrency(ctx context.Context, code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", fmt.Errorf("currency code is empty")
	}
	err := s.ensure(ctx,
		`INSERT INTO currencies (code, symbol, name) VALUES ($1, $1, $1) ON CONFLICT (code) DO NOTHING`, code)
	return code, err
}

// EnsureLanguage upserts a language by lower-cased code.
func (s *LookupStore) EnsureLanguage(ctx context.Context, code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return "", fmt.Errorf("language code is empty")
	}
	err := s.ensure(ctx,
		`INSERT INTO languages (code, name) VALUES ($1, $1) ON CONFLICT (code) DO NOTHING`, code)
	return code, err
}

// EnsureLanguageLevel upserts a language level by upper-cased value (CEFR
// codes like B2).
func (s *LookupStore) EnsureLanguageLevel(ctx context.Context, level string) (string, error) {
	level = strings.ToUpper(strings.TrimSpace(level))
	if level == "" {
		return "", fmt.Errorf("language level is empty")
	}
	err := s.ensure(ctx,
		`INSERT INTO language_levels (level) VALUES ($1) ON CONFLICT (level) DO NOTHING`, level)
	return level, err
}

// EnsureExperienceLevel upserts an experience level, capitalized.
func (s *LookupStore) EnsureExperienceLevel(ctx context.Context, level string) (string, error) {
	level = capitalize(strings.TrimSpace(level))
	if level == "" {
		return "", fmt.Errorf("experience level is empty")
	}
	err := s.ensure(ctx,
		`INSERT INTO experience_levels (level) VALUES ($1) ON CONFLICT (level) DO NOTHING`, level)
	return level, err
}

// EnsureWorkplaceType upserts a workplace type, lower-cased.
func (s *LookupStore) EnsureWorkplaceType(ctx context.Context, value string) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", fmt.Errorf("workplace type is empty")
	}
	err := s.ensure(ctx,
		`INSERT INTO workplace_types (type) VALUES ($1) ON CONFLICT (type) DO NOTHING`, value)
	return value, err
}

// EnsureWorkingTime upserts a working-time value, lower-cased.
func (s *LookupStore) EnsureWorkingTime(ctx context.Context, value string) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", fmt.Errorf("working time is empty")
	}
	err := s.ensure(ctx,
		`INSERT INTO working_times (type) VALUES ($1) ON CONFLICT (type) DO NOTHING`, value)
	return value, err
}

// EnsureEmploymentUnit upserts an employment unit, lower-cased.
func (s *LookupStore) EnsureEmploymentUnit(ctx context.Context, unit string) (string, error) {
	unit = strings.ToLower(strings.TrimSpace(unit))
	if unit == "" {
		return "", fmt.Errorf("employment unit is empty")
	}
	err := s.ensure(ctx,
		`INSERT INTO employment_units (unit) VALUES ($1) ON CONFLICT (unit) DO NOTHING`, unit)
	return unit, err
}

// EnsureEmploymentType upserts an employment type, lower-cased.
func (s *LookupStore) EnsureEmploymentType(ctx context.Context, value string) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", fmt.Errorf("employment type is empty")
	}
	err := s.ensure(ctx,
		`INSERT INTO employment_types (type) VALUES ($1) ON CONFLICT (type) DO NOTHING`, value)
	return value, err
}

// EnsureSkillLevel upserts a numeric skill level.
func (s *LookupStore) EnsureSkillLevel(ctx context.Context, level int) (int, error) {
	err := s.ensure(ctx,
		`INSERT INTO skill_levels (level) VALUES ($1) ON CONFLICT (level) DO NOTHING`, level)
	return level, err
}

// EnsureJobBoard upserts a job board by name with a derived website URL.
func (s *LookupStore) EnsureJobBoard(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("job board name is empty")
	}
	err := s.ensure(ctx,
		`INSERT INTO job_boards (name, website_url) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		name, "https://"+name)
	return name, err
}

// EnsureLocation fetches or inserts a location row keyed by the full tuple.
// Locations are exact-matched, never fuzzy.
func (s *LookupStore) EnsureLocation(ctx context.Context, loc harvest.Location) (int64, error) {
	selectSQL := `
SELECT id FROM locations
WHERE country_code IS NOT DISTINCT FROM NULLIF($1, '')
  AND city = $2
  AND street IS NOT DISTINCT FROM NULLIF($3, '')
  AND latitude = $4
  AND longitude = $5`
	var id int64
	err := s.db.QueryRow(ctx, selectSQL,
		loc.CountryCode, loc.City, loc.Street, loc.Latitude, loc.Longitude).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return 0, fmt.Errorf("select location: %w", err)
	}

	insertSQL := `
INSERT INTO locations (country_code, city, street, latitude, longitude)
VALUES (NULLIF($1, ''), $2, NULLIF($3, ''), $4, $5)
RETURNING id`
	err = s.db.QueryRow(ctx, insertSQL,
		loc.CountryCode, loc.City, loc.Street, loc.Latitude, loc.Longitude).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert location: %w", err)
	}
	return id, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
