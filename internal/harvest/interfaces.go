package harvest

import (
	"context"
	"time"
)

// Adapter is the per-source boundary. Implementations know a board's URL
// shapes, pagination parameters and payload layout; the engine only drives
// the calls below. Pages are newest-first: page 1 holds the most recently
// published listings.
type Adapter interface {
	// Name returns the source identifier used for state and offer rows.
	Name() string
	// TotalPages reports how many listing pages the source currently serves.
	TotalPages(ctx context.Context) (int, error)
	// FetchPage returns one page of raw listings, newest first.
	FetchPage(ctx context.Context, page int) ([]Listing, error)
	// FetchDetails returns the full detail records for the given uids,
	// in the same order.
	FetchDetails(ctx context.Context, uids []string) ([]Listing, error)
	// ListingUID extracts the stable unique identifier from a listing.
	ListingUID(listing Listing) (string, error)
	// ListingPublishedAt extracts the publish timestamp from a listing.
	ListingPublishedAt(listing Listing) (time.Time, error)
	// NeedsDetails reports whether a detail fetch is required before the
	// listing can be mapped. Adapters whose listing rows are already
	// complete return false and skip a network round-trip.
	NeedsDetails(listing Listing) bool
	// ToOfferPayload maps a detail record into the canonical payload shape.
	ToOfferPayload(detail Listing) (OfferPayload, error)
}

// Ingestor accepts canonical payloads and persists them atomically.
type Ingestor interface {
	Ingest(ctx context.Context, payload OfferPayload) (Offer, error)
}

// OfferIndex answers "has this listing already been ingested". Duplicate
// detection is always by existence check, never by watermark comparison.
type OfferIndex interface {
	OfferExists(ctx context.Context, board, uid string) (bool, error)
}

// StateStore persists per-source crawl state. Load returns a fresh
// backfill-mode state on first run or when the stored row is unusable.
type StateStore interface {
	Load(ctx context.Context, source string) (CrawlState, error)
	Save(ctx context.Context, state CrawlState) error
}

// Clock returns the current time (swappable for testing).
type Clock interface {
	Now() time.Time
}
