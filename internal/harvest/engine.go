package harvest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine owns the crawl position for a single source. On first run it
// backfills by binary-searching the paginated listings for the boundary
// between seen and unseen history; afterwards it monitors page 1 only,
// advancing a (uid, published-at) watermark.
//
// Run executes exactly one cycle and is safe to call repeatedly on a timer.
// Cycles for the same source must not overlap; the lifecycle manager
// serializes them.
type Engine struct {
	adapter  Adapter
	offers   OfferIndex
	states   StateStore
	ingestor Ingestor
	clock    Clock
	logger   *zap.Logger

	state  *CrawlState
	loaded bool
}

// NewEngine constructs an Engine for one source.
func NewEngine(
	adapter Adapter,
	offers OfferIndex,
	states StateStore,
	ingestor Ingestor,
	clock Clock,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		adapter:  adapter,
		offers:   offers,
		states:   states,
		ingestor: ingestor,
		clock:    clock,
		logger:   logger.With(zap.String("source", adapter.Name())),
	}
}

// Run executes one polling cycle. Errors never escape: they are logged and
// the cycle ends early, leaving state as it was last durably saved. The
// polling interval governs the retry cadence.
func (e *Engine) Run(ctx context.Context) {
	cycleID := uuid.NewString()
	logger := e.logger.With(zap.String("cycle_id", cycleID))

	defer func() {
		if r := recover(); r != nil {
			CycleFailures.WithLabelValues(e.adapter.Name()).Inc()
			logger.Error("cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	mode, err := e.cycle(ctx, logger)
	if err != nil {
		CycleFailures.WithLabelValues(e.adapter.Name()).Inc()
		logger.Error("cycle failed", zap.Error(err))
		return
	}
	CyclesTotal.WithLabelValues(e.adapter.Name(), string(mode)).Inc()
}

// cycle reports the mode it ran in. A backfill cycle flips e.state.Mode to
// monitor on success, so the label must be captured before dispatching.
func (e *Engine) cycle(ctx context.Context, logger *zap.Logger) (Mode, error) {
	if !e.loaded {
		state, err := e.states.Load(ctx, e.adapter.Name())
		if err != nil {
			return "", fmt.Errorf("load crawl state: %w", err)
		}
		e.state = &state
		e.loaded = true
	}

	mode := e.state.Mode
	if mode == ModeBackfill {
		return mode, e.runBackfill(ctx, logger)
	}
	return mode, e.runMonitor(ctx, logger)
}

// runBackfill locates the smallest page index whose contents are already in
// the store, then ingests every strictly newer page, oldest first. Assumes
// page contents are stable while paging and that duplicates are contiguous
// from the boundary down; violations degrade to best effort.
func (e *Engine) runBackfill(ctx context.Context, logger *zap.Logger) error {
	logger.Info("backfill started, locating oldest unseen listings")
	total, err := e.adapter.TotalPages(ctx)
	if err != nil {
		return fmt.Errorf("total pages: %w", err)
	}
	logger.Info("source reports total pages", zap.Int("pages", total))

	lo, hi := 1, total
	firstDupPage := total + 1 // sentinel: no duplicate found anywhere

	for lo <= hi {
		mid := (lo + hi) / 2
		logger.Debug("binary search probe", zap.Int("page", mid))
		listings, err := e.fetchPage(ctx, mid)
		if err != nil {
			return fmt.Errorf("probe page %d: %w", mid, err)
		}
		dup, err := e.pageHasDuplicate(ctx, listings)
		if err != nil {
			return fmt.Errorf("probe page %d: %w", mid, err)
		}
		if dup {
			firstDupPage = mid
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}

	// Highest index first: the oldest of the unseen pages.
	for page := firstDupPage - 1; page >= 1; page-- {
		logger.Info("ingesting historical page", zap.Int("page", page))
		if err := e.ingestPage(ctx, page, logger); err != nil {
			return err
		}
	}

	e.state.Mode = ModeMonitor
	if err := e.saveState(ctx); err != nil {
		return fmt.Errorf("persist monitor mode: %w", err)
	}
	logger.Info("backfill complete, switching to monitor mode",
		zap.String("last_seen_uid", e.state.LastSeenUID),
		zap.Time("last_seen_at", e.state.LastSeenAt))
	return nil
}

// runMonitor refreshes page 1 and ingests newest-first until the first
// already-seen uid. The watermark is persisted even when nothing new was
// found so updated_at reflects the poll.
func (e *Engine) runMonitor(ctx context.Context, logger *zap.Logger) error {
	logger.Debug("monitor tick, refreshing page 1")
	listings, err := e.fetchPage(ctx, 1)
	if err != nil {
		return fmt.Errorf("fetch page 1: %w", err)
	}
	if len(listings) == 0 {
		logger.Warn("page 1 returned no listings")
		return e.saveState(ctx)
	}

	newestUID, err := e.adapter.ListingUID(listings[0])
	if err != nil {
		return fmt.Errorf("newest listing uid: %w", err)
	}
	newestAt, err := e.adapter.ListingPublishedAt(listings[0])
	if err != nil {
		return fmt.Errorf("newest listing publish time: %w", err)
	}
	logger.Debug("newest listing on page 1",
		zap.String("uid", newestUID), zap.Time("published_at", newestAt))

	for _, listing := range listings {
		uid, err := e.adapter.ListingUID(listing)
		if err != nil {
			return fmt.Errorf("listing uid: %w", err)
		}
		exists, err := e.offers.OfferExists(ctx, e.adapter.Name(), uid)
		if err != nil {
			return fmt.Errorf("existence check for %q: %w", uid, err)
		}
		if exists {
			// The rest of the page is assumed already ingested.
			logger.Debug("reached duplicate uid, page processed", zap.String("uid", uid))
			break
		}
		if err := e.ingestListing(ctx, listing, uid); err != nil {
			IngestFailures.WithLabelValues(e.adapter.Name()).Inc()
			logger.Error("listing dropped", zap.String("uid", uid), zap.Error(err))
		}
	}

	if newestAt.After(e.state.LastSeenAt) {
		e.state.LastSeenUID = newestUID
		e.state.LastSeenAt = newestAt
	}
	return e.saveState(ctx)
}

func (e *Engine) fetchPage(ctx context.Context, page int) ([]Listing, error) {
	listings, err := e.adapter.FetchPage(ctx, page)
	if err != nil {
		return nil, err
	}
	PagesFetched.WithLabelValues(e.adapter.Name()).Inc()
	return listings, nil
}

func (e *Engine) pageHasDuplicate(ctx context.Context, listings []Listing) (bool, error) {
	for _, listing := range listings {
		uid, err := e.adapter.ListingUID(listing)
		if err != nil {
			return false, fmt.Errorf("listing uid: %w", err)
		}
		exists, err := e.offers.OfferExists(ctx, e.adapter.Name(), uid)
		if err != nil {
			return false, fmt.Errorf("existence check for %q: %w", uid, err)
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) ingestPage(ctx context.Context, page int, logger *zap.Logger) error {
	listings, err := e.fetchPage(ctx, page)
	if err != nil {
		return fmt.Errorf("fetch page %d: %w", page, err)
	}
	for _, listing := range listings {
		uid, err := e.adapter.ListingUID(listing)
		if err != nil {
			return fmt.Errorf("listing uid on page %d: %w", page, err)
		}
		exists, err := e.offers.OfferExists(ctx, e.adapter.Name(), uid)
		if err != nil {
			return fmt.Errorf("existence check for %q: %w", uid, err)
		}
		if exists {
			logger.Debug("skip duplicate", zap.String("uid", uid), zap.Int("page", page))
			continue
		}
		if err := e.ingestListing(ctx, listing, uid); err != nil {
			IngestFailures.WithLabelValues(e.adapter.Name()).Inc()
			logger.Error("listing dropped",
				zap.String("uid", uid), zap.Int("page", page), zap.Error(err))
		}
	}
	return nil
}

// ingestListing fetches detail when required, maps and submits one listing,
// and advances the in-memory watermark when the listing is strictly newer.
// A returned error is scoped to this one listing.
func (e *Engine) ingestListing(ctx context.Context, listing Listing, uid string) error {
	publishedAt, err := e.adapter.ListingPublishedAt(listing)
	if err != nil {
		return fmt.Errorf("publish time: %w", err)
	}

	detail := listing
	if e.adapter.NeedsDetails(listing) {
		details, err := e.adapter.FetchDetails(ctx, []string{uid})
		if err != nil {
			return fmt.Errorf("fetch details: %w", err)
		}
		if len(details) == 0 {
			return fmt.Errorf("fetch details: empty response for %q", uid)
		}
		detail = details[0]
	}

	payload, err := e.adapter.ToOfferPayload(detail)
	if err != nil {
		return fmt.Errorf("map payload: %w", err)
	}
	if _, err := e.ingestor.Ingest(ctx, payload); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	ListingsIngested.WithLabelValues(e.adapter.Name()).Inc()
	e.logger.Info("listing ingested", zap.String("uid", uid), zap.Time("published_at", publishedAt))

	if publishedAt.After(e.state.LastSeenAt) {
		e.state.LastSeenUID = uid
		e.state.LastSeenAt = publishedAt
	}
	return nil
}

func (e *Engine) saveState(ctx context.Context) error {
	e.state.UpdatedAt = e.clock.Now()
	if err := e.states.Save(ctx, *e.state); err != nil {
		return fmt.Errorf("save crawl state: %w", err)
	}
	return nil
}
