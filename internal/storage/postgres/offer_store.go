package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jobmarket-tools/harvester/internal/harvest"
	"github.com/jobmarket-tools/harvester/internal/ingest"
)

// OfferStore implements ingest.OfferStore. Replace runs in one transaction:
// the offer upsert plus the full delete-then-insert of every child set
// commit together or not at all.
type OfferStore struct {
	db DB
}

// NewOfferStore constructs an OfferStore on an existing pool.
func NewOfferStore(db DB) *OfferStore {
	return &OfferStore{db: db}
}

// OfferExists reports whether an offer with the source uid is already
// ingested for the board.
func (s *OfferStore) OfferExists(ctx context.Context, board, uid string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM offers WHERE job_board_name = $1 AND source_uid = $2)`,
		board, uid).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("offer existence check: %w", err)
	}
	return exists, nil
}

// Replace upserts the offer keyed by (board, apply URL), overwriting scalar
// fields, and rebuilds every child set from the resolved payload.
func (s *OfferStore) Replace(ctx context.Context, offer ingest.ResolvedOffer) (harvest.Offer, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return harvest.Offer{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		// Rollback after commit is a harmless no-op.
		_ = tx.Rollback(ctx)
	}()

	offerID, err := upsertOffer(ctx, tx, offer)
	if err != nil {
		return harvest.Offer{}, err
	}
	if err := replaceChildren(ctx, tx, offerID, offer); err != nil {
		return harvest.Offer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return harvest.Offer{}, fmt.Errorf("commit offer: %w", err)
	}
	return harvest.Offer{
		ID:        offerID,
		Board:     offer.Board,
		SourceUID: offer.SourceUID,
		ApplyURL:  offer.ApplyURL,
		CompanyID: offer.CompanyID,
		Title:     offer.Title,
		Published: offer.PublishedAt,
	}, nil
}

func upsertOffer(ctx context.Context, tx pgx.Tx, offer ingest.ResolvedOffer) (int64, error) {
	sql := `
INSERT INTO offers (
	job_board_name, source_uid, apply_url, company_id, title, description,
	experience_level, workplace_type, working_time,
	publish_date, expire_date, raw_json
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (job_board_name, apply_url) DO UPDATE SET
	source_uid = EXCLUDED.source_uid,
	company_id = EXCLUDED.company_id,
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	experience_level = EXCLUDED.experience_level,
	workplace_type = EXCLUDED.workplace_type,
	working_time = EXCLUDED.working_time,
	publish_date = EXCLUDED.publish_date,
	expire_date = EXCLUDED.expire_date,
	raw_json = EXCLUDED.raw_json
RETURNING id`
	var id int64
	err := tx.QueryRow(ctx, sql,
		offer.Board,
		offer.SourceUID,
		offer.ApplyURL,
		offer.CompanyID,
		offer.Title,
		offer.Description,
		offer.ExperienceLevel,
		offer.WorkplaceType,
		offer.WorkingTime,
		offer.PublishedAt,
		offer.ExpiresAt,
		offer.Raw,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert offer: %w", err)
	}
	return id, nil
}

func replaceChildren(ctx context.Context, tx pgx.Tx, offerID int64, offer ingest.ResolvedOffer) error {
	childTables := []string{
		"offers_categories",
		"offers_skills",
		"offers_optional_skills",
		"offers_languages",
		"offers_locations",
		"offer_salaries",
	}
	for _, table := range childTables {
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE offer_id = $1`, table), offerID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, name := range offer.Categories {
		if _, err := tx.Exec(ctx,
			`INSERT INTO offers_categories (offer_id, category_name) VALUES ($1, $2)`,
			offerID, name); err != nil {
			return fmt.Errorf("insert category %q: %w", name, err)
		}
	}
	for _, skill := range offer.RequiredSkills {
		if _, err := tx.Exec(ctx,
			`INSERT INTO offers_skills (offer_id, skill_name, skill_level) VALUES ($1, $2, $3)`,
			offerID, skill.Name, skill.Level); err != nil {
			return fmt.Errorf("insert skill %q: %w", skill.Name, err)
		}
	}
	for _, skill := range offer.OptionalSkills {
		if _, err := tx.Exec(ctx,
			`INSERT INTO offers_optional_skills (offer_id, skill_name, skill_level) VALUES ($1, $2, $3)`,
			offerID, skill.Name, skill.Level); err != nil {
			return fmt.Errorf("insert optional skill %q: %w", skill.Name, err)
		}
	}
	for _, lang := range offer.Languages {
		if _, err := tx.Exec(ctx,
			`INSERT INTO offers_languages (offer_id, language_code, language_level) VALUES ($1, $2, NULLIF($3, ''))`,
			offerID, lang.Code, lang.Level); err != nil {
			return fmt.Errorf("insert language %q: %w", lang.Code, err)
		}
	}
	for _, locationID := range offer.LocationIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO offers_locations (offer_id, location_id) VALUES ($1, $2)`,
			offerID, locationID); err != nil {
			return fmt.Errorf("insert location %d: %w", locationID, err)
		}
	}
	for _, sal := range offer.Salaries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO offer_salaries (offer_id, currency, salary_min, salary_max, is_gross, unit, type)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			offerID, sal.Currency, sal.Min, sal.Max, sal.IsGross, sal.Unit, sal.Type); err != nil {
			return fmt.Errorf("insert salary: %w", err)
		}
	}
	return nil
}
