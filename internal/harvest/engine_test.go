package harvest_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jobmarket-tools/harvester/internal/harvest"
)

type fakeListing struct {
	uid string
	at  time.Time
}

// fakeAdapter serves a fixed page layout: pages[0] is page 1, newest first
// within and across pages.
type fakeAdapter struct {
	name  string
	pages [][]fakeListing
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) TotalPages(context.Context) (int, error) {
	return len(a.pages), nil
}

func (a *fakeAdapter) FetchPage(_ context.Context, page int) ([]harvest.Listing, error) {
	if page < 1 || page > len(a.pages) {
		return nil, fmt.Errorf("page %d out of range", page)
	}
	out := make([]harvest.Listing, 0, len(a.pages[page-1]))
	for i := range a.pages[page-1] {
		out = append(out, &a.pages[page-1][i])
	}
	return out, nil
}

func (a *fakeAdapter) FetchDetails(_ context.Context, uids []string) ([]harvest.Listing, error) {
	return nil, fmt.Errorf("details not supported")
}

func (a *fakeAdapter) ListingUID(l harvest.Listing) (string, error) {
	return l.(*fakeListing).uid, nil
}

func (a *fakeAdapter) ListingPublishedAt(l harvest.Listing) (time.Time, error) {
	return l.(*fakeListing).at, nil
}

func (a *fakeAdapter) NeedsDetails(harvest.Listing) bool { return false }

func (a *fakeAdapter) ToOfferPayload(l harvest.Listing) (harvest.OfferPayload, error) {
	fl := l.(*fakeListing)
	return harvest.OfferPayload{
		Source:      a.name,
		SourceUID:   fl.uid,
		ApplyURL:    "https://example.com/apply/" + fl.uid,
		PublishedAt: fl.at,
	}, nil
}

// fakeSink plays both the ingestor and the offer index: every successful
// ingest makes the uid a duplicate from then on.
type fakeSink struct {
	mu       sync.Mutex
	seen     map[string]bool
	order    []string
	failUIDs map[string]error
}

func newFakeSink(seeded ...string) *fakeSink {
	s := &fakeSink{seen: make(map[string]bool), failUIDs: make(map[string]error)}
	for _, uid := range seeded {
		s.seen[uid] = true
	}
	return s
}

func (s *fakeSink) Ingest(_ context.Context, payload harvest.OfferPayload) (harvest.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failUIDs[payload.SourceUID]; err != nil {
		return harvest.Offer{}, err
	}
	s.seen[payload.SourceUID] = true
	s.order = append(s.order, payload.SourceUID)
	return harvest.Offer{Board: payload.Source, SourceUID: payload.SourceUID}, nil
}

func (s *fakeSink) OfferExists(_ context.Context, _, uid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[uid], nil
}

func (s *fakeSink) ingested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// fakeStates records every save so tests can assert persistence ordering.
type fakeStates struct {
	mu      sync.Mutex
	current map[string]harvest.CrawlState
	saves   []harvest.CrawlState
}

func newFakeStates() *fakeStates {
	return &fakeStates{current: make(map[string]harvest.CrawlState)}
}

func (s *fakeStates) Load(_ context.Context, source string) (harvest.CrawlState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.current[source]; ok {
		return state, nil
	}
	return harvest.CrawlState{Source: source, Mode: harvest.ModeBackfill}, nil
}

func (s *fakeStates) Save(_ context.Context, state harvest.CrawlState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[state.Source] = state
	s.saves = append(s.saves, state)
	return nil
}

func (s *fakeStates) last(t *testing.T, source string) harvest.CrawlState {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.current[source]
	require.True(t, ok, "no state saved for %s", source)
	return state
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func at(day, hour int) time.Time {
	return time.Date(2025, 5, day, hour, 0, 0, 0, time.UTC)
}

func newEngine(adapter *fakeAdapter, sink *fakeSink, states *fakeStates) *harvest.Engine {
	return harvest.NewEngine(adapter, sink, states, sink,
		fixedClock{now: at(20, 12)}, nil)
}

func TestEngine_Backfill_FreshBoardIngestsOldestFirst(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		name: "board",
		pages: [][]fakeListing{
			{{"f", at(6, 0)}, {"e", at(5, 0)}},
			{{"d", at(4, 0)}, {"c", at(3, 0)}},
			{{"b", at(2, 0)}, {"a", at(1, 0)}},
		},
	}
	sink := newFakeSink()
	states := newFakeStates()

	newEngine(adapter, sink, states).Run(context.Background())

	// Highest page first, page order within: oldest history lands first.
	require.Equal(t, []string{"b", "a", "d", "c", "f", "e"}, sink.ingested())

	state := states.last(t, "board")
	require.Equal(t, harvest.ModeMonitor, state.Mode)
	require.Equal(t, "f", state.LastSeenUID)
	require.Equal(t, at(6, 0), state.LastSeenAt)
	require.Equal(t, at(20, 12), state.UpdatedAt)
}

func TestEngine_Backfill_AllSeenIngestsNothing(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		name: "board",
		pages: [][]fakeListing{
			{{"d", at(4, 0)}, {"c", at(3, 0)}},
			{{"b", at(2, 0)}, {"a", at(1, 0)}},
		},
	}
	sink := newFakeSink("a", "b", "c", "d")
	states := newFakeStates()

	newEngine(adapter, sink, states).Run(context.Background())

	require.Empty(t, sink.ingested())
	require.Equal(t, harvest.ModeMonitor, states.last(t, "board").Mode)
}

func TestEngine_Backfill_ResumesFromBoundary(t *testing.T) {
	t.Parallel()

	// Pages 3 and 4 were ingested by an earlier, interrupted run.
	adapter := &fakeAdapter{
		name: "board",
		pages: [][]fakeListing{
			{{"h", at(8, 0)}, {"g", at(7, 0)}},
			{{"f", at(6, 0)}, {"e", at(5, 0)}},
			{{"d", at(4, 0)}, {"c", at(3, 0)}},
			{{"b", at(2, 0)}, {"a", at(1, 0)}},
		},
	}
	sink := newFakeSink("a", "b", "c", "d")
	states := newFakeStates()

	newEngine(adapter, sink, states).Run(context.Background())

	require.Equal(t, []string{"f", "e", "h", "g"}, sink.ingested())
	require.Equal(t, harvest.ModeMonitor, states.last(t, "board").Mode)
}

func TestEngine_Monitor_StopsAtFirstDuplicate(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		name: "board",
		pages: [][]fakeListing{
			{{"c", at(3, 0)}, {"b", at(2, 0)}, {"a", at(1, 0)}},
		},
	}
	sink := newFakeSink("a", "b")
	states := newFakeStates()
	require.NoError(t, states.Save(context.Background(), harvest.CrawlState{
		Source:      "board",
		Mode:        harvest.ModeMonitor,
		LastSeenUID: "b",
		LastSeenAt:  at(2, 0),
	}))

	newEngine(adapter, sink, states).Run(context.Background())

	require.Equal(t, []string{"c"}, sink.ingested())
	state := states.last(t, "board")
	require.Equal(t, "c", state.LastSeenUID)
	require.Equal(t, at(3, 0), state.LastSeenAt)
}

func TestEngine_Monitor_WatermarkNeverRegresses(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		name: "board",
		pages: [][]fakeListing{
			{{"old", at(1, 0)}},
		},
	}
	sink := newFakeSink()
	states := newFakeStates()
	require.NoError(t, states.Save(context.Background(), harvest.CrawlState{
		Source:      "board",
		Mode:        harvest.ModeMonitor,
		LastSeenUID: "newer",
		LastSeenAt:  at(10, 0),
	}))

	newEngine(adapter, sink, states).Run(context.Background())

	// The stale listing is still ingested; the watermark stays put.
	require.Equal(t, []string{"old"}, sink.ingested())
	state := states.last(t, "board")
	require.Equal(t, "newer", state.LastSeenUID)
	require.Equal(t, at(10, 0), state.LastSeenAt)
}

func TestEngine_Monitor_EmptyPageStillPersistsState(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{name: "board", pages: [][]fakeListing{{}}}
	sink := newFakeSink()
	states := newFakeStates()
	require.NoError(t, states.Save(context.Background(), harvest.CrawlState{
		Source:      "board",
		Mode:        harvest.ModeMonitor,
		LastSeenUID: "x",
		LastSeenAt:  at(5, 0),
	}))

	newEngine(adapter, sink, states).Run(context.Background())

	require.Empty(t, sink.ingested())
	state := states.last(t, "board")
	require.Equal(t, "x", state.LastSeenUID)
	require.Equal(t, at(20, 12), state.UpdatedAt)
}

func TestEngine_Monitor_SingleListingFailureDoesNotStopPage(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		name: "board",
		pages: [][]fakeListing{
			{{"e", at(5, 0)}, {"d", at(4, 0)}, {"c", at(3, 0)}, {"b", at(2, 0)}, {"a", at(1, 0)}},
		},
	}
	sink := newFakeSink()
	sink.failUIDs["d"] = fmt.Errorf("malformed listing")
	states := newFakeStates()
	require.NoError(t, states.Save(context.Background(), harvest.CrawlState{
		Source: "board",
		Mode:   harvest.ModeMonitor,
	}))

	newEngine(adapter, sink, states).Run(context.Background())

	require.Equal(t, []string{"e", "c", "b", "a"}, sink.ingested())
	state := states.last(t, "board")
	require.Equal(t, "e", state.LastSeenUID)
	require.Equal(t, at(5, 0), state.LastSeenAt)
}

func TestEngine_SinglePageLifecycle(t *testing.T) {
	t.Parallel()

	// One page with two listings: backfill ingests both newest-first and
	// records the newest as the watermark; a second cycle over the identical
	// page stops at the first uid and leaves the watermark alone.
	adapter := &fakeAdapter{
		name: "board",
		pages: [][]fakeListing{
			{{"a", at(2, 0)}, {"b", at(1, 0)}},
		},
	}
	sink := newFakeSink()
	states := newFakeStates()
	engine := newEngine(adapter, sink, states)

	engine.Run(context.Background())
	require.Equal(t, []string{"a", "b"}, sink.ingested())
	state := states.last(t, "board")
	require.Equal(t, harvest.ModeMonitor, state.Mode)
	require.Equal(t, "a", state.LastSeenUID)
	require.Equal(t, at(2, 0), state.LastSeenAt)

	engine.Run(context.Background())
	require.Equal(t, []string{"a", "b"}, sink.ingested())
	state = states.last(t, "board")
	require.Equal(t, "a", state.LastSeenUID)
	require.Equal(t, at(2, 0), state.LastSeenAt)
}

func TestEngine_CycleCountedUnderStartingMode(t *testing.T) {
	t.Parallel()

	// Counters are package globals; a dedicated source name keeps this
	// test's label set isolated.
	adapter := &fakeAdapter{
		name: "board-cycle-modes",
		pages: [][]fakeListing{
			{{"b", at(2, 0)}, {"a", at(1, 0)}},
		},
	}
	sink := newFakeSink()
	states := newFakeStates()
	engine := newEngine(adapter, sink, states)

	// The first cycle backfills and flips the mode to monitor; it still
	// counts as a backfill cycle.
	engine.Run(context.Background())
	require.Equal(t, 1.0, testutil.ToFloat64(
		harvest.CyclesTotal.WithLabelValues("board-cycle-modes", "backfill")))
	require.Zero(t, testutil.ToFloat64(
		harvest.CyclesTotal.WithLabelValues("board-cycle-modes", "monitor")))

	engine.Run(context.Background())
	require.Equal(t, 1.0, testutil.ToFloat64(
		harvest.CyclesTotal.WithLabelValues("board-cycle-modes", "monitor")))
}

func TestEngine_LogLinesTagSourceOnce(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	adapter := &fakeAdapter{
		name:  "board-log-fields",
		pages: [][]fakeListing{{{"a", at(1, 0)}}},
	}
	sink := newFakeSink()
	states := newFakeStates()
	engine := harvest.NewEngine(adapter, sink, states, sink,
		fixedClock{now: at(20, 12)}, zap.New(core))

	engine.Run(context.Background())

	require.NotEmpty(t, logs.All())
	for _, entry := range logs.All() {
		count := 0
		for _, field := range entry.Context {
			if field.Key == "source" {
				count++
			}
		}
		require.Equal(t, 1, count, "entry %q", entry.Message)
	}
}

func TestEngine_BackfillThenMonitorCycle(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{
		name: "board",
		pages: [][]fakeListing{
			{{"b", at(2, 0)}, {"a", at(1, 0)}},
		},
	}
	sink := newFakeSink()
	states := newFakeStates()
	engine := newEngine(adapter, sink, states)

	engine.Run(context.Background())
	require.Equal(t, []string{"b", "a"}, sink.ingested())
	require.Equal(t, harvest.ModeMonitor, states.last(t, "board").Mode)

	// A new listing appears on page 1; the next cycle picks up only it.
	adapter.pages = [][]fakeListing{
		{{"c", at(3, 0)}, {"b", at(2, 0)}, {"a", at(1, 0)}},
	}
	engine.Run(context.Background())

	require.Equal(t, []string{"b", "a", "c"}, sink.ingested())
	state := states.last(t, "board")
	require.Equal(t, "c", state.LastSeenUID)
	require.Equal(t, at(3, 0), state.LastSeenAt)
}
