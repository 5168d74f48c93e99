// Package memory provides in-memory store implementations for development
// and tests. The coarse similarity queries return every row and leave the
// precise re-score to the resolver, which is the behavior under test.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jobmarket-tools/harvester/internal/harvest"
	"github.com/jobmarket-tools/harvester/internal/identity"
	"github.com/jobmarket-tools/harvester/internal/ingest"
)

// Company is one in-memory company row.
type Company struct {
	ID          int64
	Name        string
	CountryCode string
}

// StoredOffer is one in-memory offer with its child sets.
type StoredOffer struct {
	ID int64
	ingest.ResolvedOffer
}

// Store implements identity.EntityStore, ingest.LookupStore,
// ingest.OfferStore and harvest.StateStore behind one mutex.
type Store struct {
	mu sync.RWMutex

	companies     []Company
	nextCompanyID int64

	names map[identity.Kind][]string

	lookups map[string]map[string]struct{}

	locations      []harvest.Location
	nextLocationID int64

	offers      map[string]*StoredOffer // keyed board + apply URL
	nextOfferID int64

	states map[string]harvest.CrawlState

	// ReplaceHook, when set, runs before every offer replace and can
	// reject it. Used to simulate ingestion failures.
	ReplaceHook func(offer ingest.ResolvedOffer) error
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		names:   make(map[identity.Kind][]string),
		lookups: make(map[string]map[string]struct{}),
		offers:  make(map[string]*StoredOffer),
		states:  make(map[string]harvest.CrawlState),
	}
}

// ---- identity.EntityStore ----

// SimilarCompanies returns every company (optionally country-scoped) up to
// limit; the resolver's re-score decides what actually matches.
func (s *Store) SimilarCompanies(_ context.Context, _, countryCode string, _ float64, limit int) ([]identity.CompanyCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []identity.CompanyCandidate
	for _, c := range s.companies {
		if countryCode != "" && c.CountryCode != "" && c.CountryCode != countryCode {
			continue
		}
		out = append(out, identity.CompanyCandidate{ID: c.ID, Name: c.Name})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// CreateOrFetchCompany inserts a company by exact name if absent.
func (s *Store) CreateOrFetchCompany(_ context.Context, name, countryCode string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.companies {
		if c.Name == name {
			return c.ID, nil
		}
	}
	s.nextCompanyID++
	s.companies = append(s.companies, Company{
		ID:          s.nextCompanyID,
		Name:        name,
		CountryCode: countryCode,
	})
	return s.nextCompanyID, nil
}

// SimilarNames returns every canonical name of the kind up to limit.
func (s *Store) SimilarNames(_ context.Context, kind identity.Kind, _ string, _ float64, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := s.names[kind]
	if len(names) > limit {
		names = names[:limit]
	}
	out := make([]string, len(names))
	copy(out, names)
	return out, nil
}

// CreateOrFetchName inserts a canonical name of the kind if absent.
func (s *Store) CreateOrFetchName(_ context.Context, kind identity.Kind, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.names[kind] {
		if existing == name {
			return name, nil
		}
	}
	s.names[kind] = append(s.names[kind], name)
	return name, nil
}

// Companies returns a snapshot of the company table.
func (s *Store) Companies() []Company {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Company, len(s.companies))
	copy(out, s.companies)
	return out
}

// Names returns a snapshot of the canonical names of a kind.
func (s *Store) Names(kind identity.Kind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.names[kind]))
	copy(out, s.names[kind])
	return out
}

// ---- ingest.LookupStore ----

func (s *Store) ensure(table, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookups[table] == nil {
		s.lookups[table] = make(map[string]struct{})
	}
	s.lookups[table][key] = struct{}{}
}

// EnsureCountry mirrors the Postgres canonicalization: upper-cased code.
func (s *Store) EnsureCountry(_ context.Context, code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", fmt.Errorf("country code is empty")
	}
	s.ensure("countries", code)
	return code, nil
}

// EnsureCurrency upserts an upper-cased currency code.
func (s *Store) EnsureCurrency(_ context.Context, code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", fmt.Errorf("currency code is empty")
	}
	s.ensure("currencies", code)
	return code, nil
}

// EnsureLanguage upserts a lower-cased language code.
func (s *Store) EnsureLanguage(_ context.Context, code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return "", fmt.Errorf("language code is empty")
	}
	s.ensure("languages", code)
	return code, nil
}

// EnsureLanguageLevel upserts an upper-cased language level.
func (s *Store) EnsureLanguageLevel(_ context.Context, level string) (string, error) {
	level = strings.ToUpper(strings.TrimSpace(level))
	if level == "" {
		return "", fmt.Errorf("language level is empty")
	}
	s.ensure("language_levels", level)
	return level, nil
}

// EnsureExperienceLevel upserts a capitalized experience level.
func (s *Store) EnsureExperienceLevel(_ context.Context, level string) (string, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		return "", fmt.Errorf("experience level is empty")
	}
	level = strings.ToUpper(level[:1]) + strings.ToLower(level[1:])
	s.ensure("experience_levels", level)
	return level, nil
}

// EnsureWorkplaceType upserts a lower-cased workplace type.
func (s *Store) EnsureWorkplaceType(_ context.Context, value string) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", fmt.Errorf("workplace type is empty")
	}
	s.ensure("workplace_types", value)
	return value, nil
}

// EnsureWorkingTime upserts a lower-cased working-time value.
func (s *Store) EnsureWorkingTime(_ context.Context, value string) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", fmt.Errorf("working time is empty")
	}
	s.ensure("working_times", value)
	return value, nil
}

// EnsureEmploymentUnit upserts a lower-cased employment unit.
func (s *Store) EnsureEmploymentUnit(_ context.Context, unit string) (string, error) {
	unit = strings.ToLower(strings.TrimSpace(unit))
	if unit == "" {
		return "", fmt.Errorf("employment unit is empty")
	}
	s.ensure("employment_units", unit)
	return unit, nil
}

// EnsureEmploymentType upserts a lower-cased employment type.
func (s *Store) EnsureEmploymentType(_ context.Context, value string) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", fmt.Errorf("employment type is empty")
	}
	s.ensure("employment_types", value)
	return value, nil
}

// EnsureSkillLevel upserts a numeric skill level.
func (s *Store) EnsureSkillLevel(_ context.Context, level int) (int, error) {
	s.ensure("skill_levels", fmt.Sprint(level))
	return level, nil
}

// EnsureJobBoard upserts a job board by name.
func (s *Store) EnsureJobBoard(_ context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("job board name is empty")
	}
	s.ensure("job_boards", name)
	return name, nil
}

// EnsureLocation fetches or inserts a location by the full tuple.
func (s *Store) EnsureLocation(_ context.Context, loc harvest.Location) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.locations {
		if existing == loc {
			return int64(i + 1), nil
		}
	}
	s.locations = append(s.locations, loc)
	s.nextLocationID = int64(len(s.locations))
	return s.nextLocationID, nil
}

// ---- ingest.OfferStore / harvest.OfferIndex ----

// OfferExists reports whether an offer with the source uid exists for the
// board.
func (s *Store) OfferExists(_ context.Context, board, uid string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, offer := range s.offers {
		if offer.Board == board && offer.SourceUID == uid {
			return true, nil
		}
	}
	return false, nil
}

// Replace upserts the offer by (board, apply URL), replacing all child sets.
func (s *Store) Replace(_ context.Context, offer ingest.ResolvedOffer) (harvest.Offer, error) {
	if s.ReplaceHook != nil {
		if err := s.ReplaceHook(offer); err != nil {
			return harvest.Offer{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := offer.Board + "|" + offer.ApplyURL
	stored, ok := s.offers[key]
	if !ok {
		s.nextOfferID++
		stored = &StoredOffer{ID: s.nextOfferID}
		s.offers[key] = stored
	}
	stored.ResolvedOffer = offer
	return harvest.Offer{
		ID:        stored.ID,
		Board:     offer.Board,
		SourceUID: offer.SourceUID,
		ApplyURL:  offer.ApplyURL,
		CompanyID: offer.CompanyID,
		Title:     offer.Title,
		Published: offer.PublishedAt,
	}, nil
}

// Offers returns a snapshot of every stored offer.
func (s *Store) Offers() []StoredOffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StoredOffer, 0, len(s.offers))
	for _, offer := range s.offers {
		out = append(out, *offer)
	}
	return out
}

// Offer returns the stored offer for a board and apply URL.
func (s *Store) Offer(board, applyURL string) (StoredOffer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offer, ok := s.offers[board+"|"+applyURL]
	if !ok {
		return StoredOffer{}, false
	}
	return *offer, true
}

// ---- harvest.StateStore ----

// Load returns the saved state or a fresh backfill state on first run.
func (s *Store) Load(_ context.Context, source string) (harvest.CrawlState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.states[source]; ok {
		return state, nil
	}
	return harvest.CrawlState{Source: source, Mode: harvest.ModeBackfill}, nil
}

// Save stores the state.
func (s *Store) Save(_ context.Context, state harvest.CrawlState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Source] = state
	return nil
}

// State returns the saved state for a source, if any.
func (s *Store) State(source string) (harvest.CrawlState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[source]
	return state, ok
}
