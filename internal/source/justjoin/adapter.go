// Package justjoin implements the source adapter for the justjoin.it API.
package justjoin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jobmarket-tools/harvester/internal/harvest"
)

const (
	// SourceName identifies this board in state and offer rows.
	SourceName = "justjoin"

	defaultBaseURL = "https://api.justjoin.it"
	defaultTimeout = 30 * time.Second

	offersPath = "/v2/user-panel/offers"
	detailPath = "/v1/offers/{slug}"
)

// Config controls the adapter's HTTP behavior.
type Config struct {
	// Name keys this source everywhere: registration, state rows, offer
	// rows. Defaults to SourceName; set it when running several instances
	// of this adapter (e.g. per-country scoping via Params).
	Name    string
	BaseURL string
	Timeout time.Duration
	PerPage int
	// Params are extra query parameters merged into every page request,
	// e.g. salaryCurrencies=PLN.
	Params map[string]string
}

// Adapter implements harvest.Adapter against the justjoin.it JSON API.
type Adapter struct {
	name    string
	client  *resty.Client
	perPage int
	params  map[string]string
}

// listing is one row of the paginated offers endpoint. Only the fields the
// engine's accessors need are parsed; the rest stays opaque.
type listing struct {
	Slug        string `json:"slug"`
	PublishedAt string `json:"publishedAt"`
}

// detail is the full offer record of the detail endpoint.
type detail struct {
	Slug             string        `json:"slug"`
	Title            string        `json:"title"`
	Body             string        `json:"body"`
	ApplyURL         string        `json:"applyUrl"`
	CompanyName      string        `json:"companyName"`
	CountryCode      string        `json:"countryCode"`
	City             string        `json:"city"`
	Street           string        `json:"street"`
	Latitude         coordinate    `json:"latitude"`
	Longitude        coordinate    `json:"longitude"`
	ExperienceLevel  labeled       `json:"experienceLevel"`
	WorkplaceType    labeled       `json:"workplaceType"`
	WorkingTime      labeled       `json:"workingTime"`
	PublishedAt      string        `json:"publishedAt"`
	ExpiredAt        string        `json:"expiredAt"`
	Category         named         `json:"category"`
	RequiredSkills   []skillEntry  `json:"requiredSkills"`
	NiceToHaveSkills []skillEntry  `json:"niceToHaveSkills"`
	Languages        []langEntry   `json:"languages"`
	EmploymentTypes  []salaryEntry `json:"employmentTypes"`

	raw json.RawMessage
}

type labeled struct {
	Label string `json:"label"`
}

type named struct {
	Name string `json:"name"`
}

type skillEntry struct {
	Name  string `json:"name"`
	Level *int   `json:"level"`
}

type langEntry struct {
	Code  string `json:"code"`
	Level string `json:"level"`
}

type salaryEntry struct {
	Currency string `json:"currency"`
	From     *int64 `json:"from"`
	To       *int64 `json:"to"`
	Gross    bool   `json:"gross"`
	Unit     string `json:"unit"`
	Type     string `json:"type"`
}

// coordinate tolerates both string and numeric latitude/longitude, which the
// API has served at different times.
type coordinate float64

func (c *coordinate) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*c = 0
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*c = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parse coordinate %q: %w", s, err)
		}
		*c = coordinate(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse coordinate %s: %w", data, err)
	}
	*c = coordinate(f)
	return nil
}

type pageResponse struct {
	Data []json.RawMessage `json:"data"`
	Meta struct {
		TotalPages int `json:"totalPages"`
	} `json:"meta"`
}

// New constructs an Adapter.
func New(cfg Config) *Adapter {
	name := cfg.Name
	if name == "" {
		name = SourceName
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = 100
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("version", "2")
	return &Adapter{
		name:    name,
		client:  client,
		perPage: perPage,
		params:  cfg.Params,
	}
}

// Name returns the board identifier.
func (a *Adapter) Name() string {
	return a.name
}

// TotalPages asks the listing endpoint for its current page count.
func (a *Adapter) TotalPages(ctx context.Context) (int, error) {
	page, err := a.fetchPage(ctx, 1)
	if err != nil {
		return 0, err
	}
	return page.Meta.TotalPages, nil
}

// FetchPage returns one page of listings, newest first.
func (a *Adapter) FetchPage(ctx context.Context, pageNum int) ([]harvest.Listing, error) {
	page, err := a.fetchPage(ctx, pageNum)
	if err != nil {
		return nil, err
	}
	listings := make([]harvest.Listing, 0, len(page.Data))
	for _, raw := range page.Data {
		var l listing
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("decode listing on page %d: %w", pageNum, err)
		}
		listings = append(listings, &l)
	}
	return listings, nil
}

func (a *Adapter) fetchPage(ctx context.Context, pageNum int) (*pageResponse, error) {
	var page pageResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"page":    strconv.Itoa(pageNum),
			"sortBy":  "published",
			"orderBy": "DESC",
			"perPage": strconv.Itoa(a.perPage),
		}).
		SetQueryParams(a.params).
		SetResult(&page).
		Get(offersPath)
	if err != nil {
		return nil, fmt.Errorf("fetch offers page %d: %w", pageNum, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch offers page %d: status %d", pageNum, resp.StatusCode())
	}
	return &page, nil
}

// FetchDetails retrieves the full record for every uid, in order.
func (a *Adapter) FetchDetails(ctx context.Context, uids []string) ([]harvest.Listing, error) {
	out := make([]harvest.Listing, 0, len(uids))
	for _, uid := range uids {
		resp, err := a.client.R().
			SetContext(ctx).
			SetPathParam("slug", uid).
			Get(detailPath)
		if err != nil {
			return nil, fmt.Errorf("fetch offer %q: %w", uid, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("fetch offer %q: status %d", uid, resp.StatusCode())
		}
		var d detail
		if err := json.Unmarshal(resp.Body(), &d); err != nil {
			return nil, fmt.Errorf("decode offer %q: %w", uid, err)
		}
		d.raw = append(json.RawMessage(nil), resp.Body()...)
		out = append(out, &d)
	}
	return out, nil
}

// ListingUID returns the offer slug.
func (a *Adapter) ListingUID(l harvest.Listing) (string, error) {
	switch v := l.(type) {
	case *listing:
		return v.Slug, nil
	case *detail:
		return v.Slug, nil
	default:
		return "", fmt.Errorf("unexpected listing type %T", l)
	}
}

// ListingPublishedAt parses the listing's publish timestamp.
func (a *Adapter) ListingPublishedAt(l harvest.Listing) (time.Time, error) {
	var raw string
	switch v := l.(type) {
	case *listing:
		raw = v.PublishedAt
	case *detail:
		raw = v.PublishedAt
	default:
		return time.Time{}, fmt.Errorf("unexpected listing type %T", l)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse publishedAt %q: %w", raw, err)
	}
	return t, nil
}

// NeedsDetails is always true: the listing rows lack skills, languages and
// salary breakdowns.
func (a *Adapter) NeedsDetails(harvest.Listing) bool {
	return true
}

// ToOfferPayload maps a detail record into the canonical payload shape.
func (a *Adapter) ToOfferPayload(l harvest.Listing) (harvest.OfferPayload, error) {
	d, ok := l.(*detail)
	if !ok {
		return harvest.OfferPayload{}, fmt.Errorf("unexpected detail type %T", l)
	}

	publishedAt, err := time.Parse(time.RFC3339, d.PublishedAt)
	if err != nil {
		return harvest.OfferPayload{}, fmt.Errorf("parse publishedAt %q: %w", d.PublishedAt, err)
	}
	expiredAt, err := time.Parse(time.RFC3339, d.ExpiredAt)
	if err != nil {
		return harvest.OfferPayload{}, fmt.Errorf("parse expiredAt %q: %w", d.ExpiredAt, err)
	}

	applyURL := d.ApplyURL
	if applyURL == "" {
		applyURL = "https://justjoin.it/job-offer/" + d.Slug
	}

	payload := harvest.OfferPayload{
		Source:             a.name,
		SourceUID:          d.Slug,
		CompanyName:        d.CompanyName,
		CompanyCountryCode: d.CountryCode,
		Title:              d.Title,
		Description:        d.Body,
		ApplyURL:           applyURL,
		ExperienceLevel:    d.ExperienceLevel.Label,
		WorkplaceType:      d.WorkplaceType.Label,
		WorkingTime:        d.WorkingTime.Label,
		PublishedAt:        publishedAt,
		ExpiresAt:          expiredAt,
		Categories:         []string{d.Category.Name},
		Locations: []harvest.Location{{
			CountryCode: d.CountryCode,
			City:        d.City,
			Street:      d.Street,
			Latitude:    float64(d.Latitude),
			Longitude:   float64(d.Longitude),
		}},
		Raw: d.raw,
	}

	for _, s := range d.RequiredSkills {
		payload.RequiredSkills = append(payload.RequiredSkills,
			harvest.SkillRequirement{Name: s.Name, Level: s.Level})
	}
	for _, s := range d.NiceToHaveSkills {
		payload.OptionalSkills = append(payload.OptionalSkills,
			harvest.SkillRequirement{Name: s.Name, Level: s.Level})
	}
	for _, lang := range d.Languages {
		payload.Languages = append(payload.Languages,
			harvest.LanguageRequirement{Code: lang.Code, Level: lang.Level})
	}
	for _, sal := range d.EmploymentTypes {
		minSalary := int64(-1)
		if sal.From != nil {
			minSalary = *sal.From
		}
		payload.Salaries = append(payload.Salaries, harvest.Salary{
			Currency: sal.Currency,
			Min:      minSalary,
			Max:      sal.To,
			IsGross:  sal.Gross,
			Unit:     sal.Unit,
			Type:     sal.Type,
		})
	}
	return payload, nil
}
