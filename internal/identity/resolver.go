package identity

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Coarse candidate query parameters: trigram similarity floor and the number
// of rows worth re-scoring.
const (
	candidateLimit = 20
	similarityMin  = 0.3
)

// Kind selects a canonical name table.
type Kind string

// Canonical entity kinds resolved by name.
const (
	KindSkill    Kind = "skill"
	KindCategory Kind = "category"
)

// CompanyCandidate is one coarse match from the company table.
type CompanyCandidate struct {
	ID   int64
	Name string
}

// EntityStore is the persistence surface the resolver needs: coarse
// similarity candidates plus race-safe create-or-fetch.
type EntityStore interface {
	// SimilarCompanies returns up to limit companies whose names have
	// coarse similarity >= minSim with the query, optionally scoped to a
	// country code, best first.
	SimilarCompanies(ctx context.Context, query, countryCode string, minSim float64, limit int) ([]CompanyCandidate, error)
	// CreateOrFetchCompany idempotently inserts a company by exact name
	// and returns its id.
	CreateOrFetchCompany(ctx context.Context, name, countryCode string) (int64, error)
	// SimilarNames returns up to limit canonical names of the given kind
	// with coarse similarity >= minSim, best first.
	SimilarNames(ctx context.Context, kind Kind, query string, minSim float64, limit int) ([]string, error)
	// CreateOrFetchName idempotently inserts a canonical name row of the
	// given kind and returns the canonical name.
	CreateOrFetchName(ctx context.Context, kind Kind, name string) (string, error)
}

// Resolver maps raw names to canonical rows: normalize, pull coarse
// candidates, re-score with a token-set ratio, accept above the threshold or
// create a new row keyed by the original trimmed name. It never fails on a
// well-formed (non-blank) name and always returns an entity.
type Resolver struct {
	store  EntityStore
	logger *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(store EntityStore, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, logger: logger}
}

// Company resolves a raw company name, optionally scoped by country, and
// returns the canonical company id.
func (r *Resolver) Company(ctx context.Context, rawName, countryCode string) (int64, error) {
	cleaned := NormalizeCompany(rawName)
	if cleaned == "" {
		return 0, fmt.Errorf("company name %q is empty after normalization", rawName)
	}

	candidates, err := r.store.SimilarCompanies(ctx, cleaned, countryCode, similarityMin, candidateLimit)
	if err != nil {
		return 0, fmt.Errorf("company candidates: %w", err)
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = NormalizeCompany(c.Name)
	}
	if idx, score := BestMatch(cleaned, names); idx >= 0 && score >= CompanyThreshold {
		r.logger.Debug("company matched",
			zap.String("raw", rawName),
			zap.String("matched", candidates[idx].Name),
			zap.Int("score", score))
		return candidates[idx].ID, nil
	}

	id, err := r.store.CreateOrFetchCompany(ctx, strings.TrimSpace(rawName), countryCode)
	if err != nil {
		return 0, fmt.Errorf("create company %q: %w", rawName, err)
	}
	return id, nil
}

// Skill resolves a raw skill name to its canonical name.
func (r *Resolver) Skill(ctx context.Context, rawName string) (string, error) {
	return r.name(ctx, KindSkill, rawName)
}

// Category resolves a raw category name to its canonical name.
func (r *Resolver) Category(ctx context.Context, rawName string) (string, error) {
	return r.name(ctx, KindCategory, rawName)
}

func (r *Resolver) name(ctx context.Context, kind Kind, rawName string) (string, error) {
	cleaned := Normalize(rawName)
	if cleaned == "" {
		return "", fmt.Errorf("%s name %q is empty after normalization", kind, rawName)
	}

	candidates, err := r.store.SimilarNames(ctx, kind, cleaned, similarityMin, candidateLimit)
	if err != nil {
		return "", fmt.Errorf("%s candidates: %w", kind, err)
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = Normalize(c)
	}
	if idx, score := BestMatch(cleaned, names); idx >= 0 && score >= NameThreshold {
		return candidates[idx], nil
	}

	name, err := r.store.CreateOrFetchName(ctx, kind, strings.TrimSpace(rawName))
	if err != nil {
		return "", fmt.Errorf("create %s %q: %w", kind, rawName, err)
	}
	return name, nil
}
