// Package harvest defines core types shared across the crawl subsystems.
package harvest

import (
	"encoding/json"
	"time"
)

// Mode represents the lifecycle phase of a source's crawl.
type Mode string

// Crawl modes persisted in the state store.
const (
	ModeBackfill Mode = "backfill"
	ModeMonitor  Mode = "monitor"
)

// CrawlState is the persisted per-source crawl position. LastSeenUID and
// LastSeenAt form the watermark: the newest listing known to be ingested.
type CrawlState struct {
	Source      string    `json:"source"`
	Mode        Mode      `json:"mode"`
	LastSeenUID string    `json:"last_seen_uid"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Listing is a raw, source-shaped record returned by an adapter. The engine
// never inspects it directly; adapters expose uid and publish time accessors.
type Listing any

// SkillRequirement names a skill and an optional 1-5 proficiency level.
type SkillRequirement struct {
	Name  string `json:"name"`
	Level *int   `json:"level,omitempty"`
}

// LanguageRequirement names a language code plus an optional CEFR-style level.
type LanguageRequirement struct {
	Code  string `json:"code"`
	Level string `json:"level,omitempty"`
}

// Location is a physical workplace location.
type Location struct {
	CountryCode string  `json:"country_code,omitempty"`
	City        string  `json:"city"`
	Street      string  `json:"street,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// Salary is one advertised salary range. Min of -1 means the source did not
// report a lower bound.
type Salary struct {
	Currency string `json:"currency"`
	Min      int64  `json:"min"`
	Max      *int64 `json:"max,omitempty"`
	IsGross  bool   `json:"is_gross"`
	Unit     string `json:"unit"`
	Type     string `json:"type"`
}

// OfferPayload is the canonical, source-agnostic shape an adapter maps a
// detail record into. It is the sole input of the ingestion pipeline.
type OfferPayload struct {
	Source             string                `json:"source"`
	SourceUID          string                `json:"source_uid"`
	CompanyName        string                `json:"company_name"`
	CompanyCountryCode string                `json:"company_country_code,omitempty"`
	Title              string                `json:"title"`
	Description        string                `json:"description"`
	ApplyURL           string                `json:"apply_url"`
	ExperienceLevel    string                `json:"experience_level"`
	WorkplaceType      string                `json:"workplace_type"`
	WorkingTime        string                `json:"working_time"`
	PublishedAt        time.Time             `json:"published_at"`
	ExpiresAt          time.Time             `json:"expires_at"`
	Categories         []string              `json:"categories"`
	RequiredSkills     []SkillRequirement    `json:"skills_required"`
	OptionalSkills     []SkillRequirement    `json:"skills_optional"`
	Languages          []LanguageRequirement `json:"languages"`
	Locations          []Location            `json:"locations"`
	Salaries           []Salary              `json:"salaries"`
	Raw                json.RawMessage       `json:"raw_json,omitempty"`
}

// Offer is the persisted offer row returned by the pipeline.
type Offer struct {
	ID        int64     `json:"id"`
	Board     string    `json:"board"`
	SourceUID string    `json:"source_uid"`
	ApplyURL  string    `json:"apply_url"`
	CompanyID int64     `json:"company_id"`
	Title     string    `json:"title"`
	Published time.Time `json:"published_at"`
}
