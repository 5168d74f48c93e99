// Package ingest turns canonical offer payloads into referentially
// consistent rows: every fuzzy or coded reference is resolved first, then
// the offer and its child sets are replaced atomically.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jobmarket-tools/harvester/internal/harvest"
	"github.com/jobmarket-tools/harvester/internal/identity"
)

// lowestSkillLevel is assigned to optional skills whose level the source
// left unspecified.
const lowestSkillLevel = 1

// ResolvedSkill is a skill reference after canonical-name resolution.
type ResolvedSkill struct {
	Name  string
	Level *int
}

// ResolvedLanguage is a language reference with canonicalized codes.
type ResolvedLanguage struct {
	Code  string
	Level string
}

// ResolvedSalary mirrors harvest.Salary with lookup keys canonicalized.
type ResolvedSalary struct {
	Currency string
	Min      int64
	Max      *int64
	IsGross  bool
	Unit     string
	Type     string
}

// ResolvedOffer is the fully resolved form handed to the offer store. All
// referenced entities and lookup rows are guaranteed to exist by the time it
// is built.
type ResolvedOffer struct {
	Board           string
	SourceUID       string
	ApplyURL        string
	CompanyID       int64
	Title           string
	Description     string
	ExperienceLevel string
	WorkplaceType   string
	WorkingTime     string
	PublishedAt     time.Time
	ExpiresAt       time.Time
	Raw             json.RawMessage
	Categories      []string
	RequiredSkills  []ResolvedSkill
	OptionalSkills  []ResolvedSkill
	Languages       []ResolvedLanguage
	LocationIDs     []int64
	Salaries        []ResolvedSalary
}

// LookupStore guarantees closed-vocabulary rows exist, returning the
// canonical key. All operations are idempotent and race-safe.
type LookupStore interface {
	EnsureCountry(ctx context.Context, code string) (string, error)
	EnsureCurrency(ctx context.Context, code string) (string, error)
	EnsureLanguage(ctx context.Context, code string) (string, error)
	EnsureLanguageLevel(ctx context.Context, level string) (string, error)
	EnsureExperienceLevel(ctx context.Context, level string) (string, error)
	EnsureWorkplaceType(ctx context.Context, value string) (string, error)
	EnsureWorkingTime(ctx context.Context, value string) (string, error)
	EnsureEmploymentUnit(ctx context.Context, unit string) (string, error)
	EnsureEmploymentType(ctx context.Context, value string) (string, error)
	EnsureSkillLevel(ctx context.Context, level int) (int, error)
	EnsureJobBoard(ctx context.Context, name string) (string, error)
	EnsureLocation(ctx context.Context, loc harvest.Location) (int64, error)
}

// OfferStore persists resolved offers. Replace is transactional: the offer
// upsert and the delete-then-insert of every child set commit or roll back
// together.
type OfferStore interface {
	OfferExists(ctx context.Context, board, uid string) (bool, error)
	Replace(ctx context.Context, offer ResolvedOffer) (harvest.Offer, error)
}

// Pipeline implements harvest.Ingestor.
type Pipeline struct {
	resolver *identity.Resolver
	lookups  LookupStore
	offers   OfferStore
	logger   *zap.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(resolver *identity.Resolver, lookups LookupStore, offers OfferStore, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{resolver: resolver, lookups: lookups, offers: offers, logger: logger}
}

// Ingest resolves every reference in the payload and upserts the offer with
// all child sets replaced. On failure the payload is logged in full so the
// offending listing can be diagnosed; no partial offer state is left behind.
func (p *Pipeline) Ingest(ctx context.Context, payload harvest.OfferPayload) (harvest.Offer, error) {
	offer, err := p.ingest(ctx, payload)
	if err != nil {
		p.logger.Error("offer ingestion failed",
			zap.String("source", payload.Source),
			zap.String("apply_url", payload.ApplyURL),
			zap.Any("payload", payload),
			zap.Error(err))
		return harvest.Offer{}, err
	}
	return offer, nil
}

func (p *Pipeline) ingest(ctx context.Context, payload harvest.OfferPayload) (harvest.Offer, error) {
	companyID, err := p.resolveCompany(ctx, payload)
	if err != nil {
		return harvest.Offer{}, err
	}
	board, err := p.lookups.EnsureJobBoard(ctx, payload.Source)
	if err != nil {
		return harvest.Offer{}, fmt.Errorf("job board: %w", err)
	}

	resolved := ResolvedOffer{
		Board:       board,
		SourceUID:   payload.SourceUID,
		ApplyURL:    payload.ApplyURL,
		CompanyID:   companyID,
		Title:       payload.Title,
		Description: payload.Description,
		PublishedAt: payload.PublishedAt,
		ExpiresAt:   payload.ExpiresAt,
		Raw:         payload.Raw,
	}

	if resolved.ExperienceLevel, err = p.lookups.EnsureExperienceLevel(ctx, payload.ExperienceLevel); err != nil {
		return harvest.Offer{}, fmt.Errorf("experience level: %w", err)
	}
	if resolved.WorkplaceType, err = p.lookups.EnsureWorkplaceType(ctx, payload.WorkplaceType); err != nil {
		return harvest.Offer{}, fmt.Errorf("workplace type: %w", err)
	}
	if resolved.WorkingTime, err = p.lookups.EnsureWorkingTime(ctx, payload.WorkingTime); err != nil {
		return harvest.Offer{}, fmt.Errorf("working time: %w", err)
	}

	if resolved.Categories, err = p.resolveCategories(ctx, payload.Categories); err != nil {
		return harvest.Offer{}, err
	}
	if resolved.RequiredSkills, err = p.resolveSkills(ctx, payload.RequiredSkills, nil); err != nil {
		return harvest.Offer{}, fmt.Errorf("required skills: %w", err)
	}
	defaultLevel := lowestSkillLevel
	if resolved.OptionalSkills, err = p.resolveSkills(ctx, payload.OptionalSkills, &defaultLevel); err != nil {
		return harvest.Offer{}, fmt.Errorf("optional skills: %w", err)
	}
	if resolved.Languages, err = p.resolveLanguages(ctx, payload.Languages); err != nil {
		return harvest.Offer{}, err
	}
	if resolved.LocationIDs, err = p.resolveLocations(ctx, payload.Locations); err != nil {
		return harvest.Offer{}, err
	}
	if resolved.Salaries, err = p.resolveSalaries(ctx, payload.Salaries); err != nil {
		return harvest.Offer{}, err
	}

	offer, err := p.offers.Replace(ctx, resolved)
	if err != nil {
		return harvest.Offer{}, fmt.Errorf("replace offer: %w", err)
	}
	return offer, nil
}

func (p *Pipeline) resolveCompany(ctx context.Context, payload harvest.OfferPayload) (int64, error) {
	countryCode := payload.CompanyCountryCode
	if countryCode != "" {
		code, err := p.lookups.EnsureCountry(ctx, countryCode)
		if err != nil {
			return 0, fmt.Errorf("company country: %w", err)
		}
		countryCode = code
	}
	id, err := p.resolver.Company(ctx, payload.CompanyName, countryCode)
	if err != nil {
		return 0, fmt.Errorf("resolve company: %w", err)
	}
	return id, nil
}

// resolveCategories deduplicates post-resolution: two raw spellings mapping
// to the same canonical row keep only the first occurrence.
func (p *Pipeline) resolveCategories(ctx context.Context, raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, name := range raw {
		canonical, err := p.resolver.Category(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", name, err)
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	return out, nil
}

func (p *Pipeline) resolveSkills(ctx context.Context, raw []harvest.SkillRequirement, defaultLevel *int) ([]ResolvedSkill, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]ResolvedSkill, 0, len(raw))
	for _, req := range raw {
		canonical, err := p.resolver.Skill(ctx, req.Name)
		if err != nil {
			return nil, fmt.Errorf("skill %q: %w", req.Name, err)
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}

		level := req.Level
		if level == nil && defaultLevel != nil {
			level = defaultLevel
		}
		if level != nil {
			ensured, err := p.lookups.EnsureSkillLevel(ctx, *level)
			if err != nil {
				return nil, fmt.Errorf("skill level %d: %w", *level, err)
			}
			level = &ensured
		}
		out = append(out, ResolvedSkill{Name: canonical, Level: level})
	}
	return out, nil
}

func (p *Pipeline) resolveLanguages(ctx context.Context, raw []harvest.LanguageRequirement) ([]ResolvedLanguage, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]ResolvedLanguage, 0, len(raw))
	for _, req := range raw {
		code, err := p.lookups.EnsureLanguage(ctx, strings.ToLower(req.Code))
		if err != nil {
			return nil, fmt.Errorf("language %q: %w", req.Code, err)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		level := ""
		if req.Level != "" {
			if level, err = p.lookups.EnsureLanguageLevel(ctx, req.Level); err != nil {
				return nil, fmt.Errorf("language level %q: %w", req.Level, err)
			}
		}
		out = append(out, ResolvedLanguage{Code: code, Level: level})
	}
	return out, nil
}

func (p *Pipeline) resolveLocations(ctx context.Context, raw []harvest.Location) ([]int64, error) {
	seen := make(map[int64]struct{}, len(raw))
	out := make([]int64, 0, len(raw))
	for _, loc := range raw {
		if loc.CountryCode != "" {
			code, err := p.lookups.EnsureCountry(ctx, loc.CountryCode)
			if err != nil {
				return nil, fmt.Errorf("location country %q: %w", loc.CountryCode, err)
			}
			loc.CountryCode = code
		}
		id, err := p.lookups.EnsureLocation(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("location %s: %w", loc.City, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// resolveSalaries does not deduplicate: two identically shaped salary rows
// are legitimate.
func (p *Pipeline) resolveSalaries(ctx context.Context, raw []harvest.Salary) ([]ResolvedSalary, error) {
	out := make([]ResolvedSalary, 0, len(raw))
	for _, sal := range raw {
		currency, err := p.lookups.EnsureCurrency(ctx, sal.Currency)
		if err != nil {
			return nil, fmt.Errorf("currency %q: %w", sal.Currency, err)
		}
		unit, err := p.lookups.EnsureEmploymentUnit(ctx, sal.Unit)
		if err != nil {
			return nil, fmt.Errorf("employment unit %q: %w", sal.Unit, err)
		}
		etype, err := p.lookups.EnsureEmploymentType(ctx, sal.Type)
		if err != nil {
			return nil, fmt.Errorf("employment type %q: %w", sal.Type, err)
		}
		out = append(out, ResolvedSalary{
			Currency: currency,
			Min:      sal.Min,
			Max:      sal.Max,
			IsGross:  sal.IsGross,
			Unit:     unit,
			Type:     etype,
		})
	}
	return out, nil
}
