package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ProposalTracker/internal/diff"
	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/ports"
)

const (
	minConcurrency    = 2
	maxConcurrencyCap = 8
)

// DefaultConcurrency bounds parallel protocol fetches by CPU count.
func DefaultConcurrency() int64 {
	return min(max(int64(runtime.NumCPU()), minConcurrency), maxConcurrencyCap)
}

// Outcome is the per-protocol result of FetchAll.
type Outcome struct {
	Listing domain.Listing
	Err     error
}

// Deps wires the coordinator to its source and stores.
type Deps struct {
	Source      ports.ProposalSource
	Listings    ports.ListingStore
	Snapshots   ports.SnapshotStore
	Concurrency int64
	Logger      *slog.Logger
}

// Coordinator owns all fetch state: the in-flight set, last-fetch times and
// the per-protocol snapshot locks.
type Coordinator struct {
	source      ports.ProposalSource
	listings    ports.ListingStore
	snapshots   ports.SnapshotStore
	concurrency int64
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	inFlight  map[domain.Protocol]bool
	lastFetch map[domain.Protocol]time.Time
	locks     map[domain.Protocol]*sync.Mutex
}

// NewCoordinator builds a coordinator; Concurrency <= 0 selects DefaultConcurrency.
func NewCoordinator(deps Deps) *Coordinator {
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		source:      deps.Source,
		listings:    deps.Listings,
		snapshots:   deps.Snapshots,
		concurrency: concurrency,
		logger:      logger.With("component", "fetcher"),
		now:         time.Now,
		inFlight:    make(map[domain.Protocol]bool),
		lastFetch:   make(map[domain.Protocol]time.Time),
		locks:       make(map[domain.Protocol]*sync.Mutex),
	}
}

// Fetch scrapes the full listing of one protocol and overwrites its listing file.
// Scrape failures are returned as *domain.FetchError and leave the prior file intact.
func (c *Coordinator) Fetch(ctx context.Context, protocol domain.Protocol) (domain.Listing, error) {
	if !protocol.Known() {
		return domain.Listing{}, &domain.UnknownProtocolError{Protocol: string(protocol)}
	}
	if !c.acquire(protocol) {
		return domain.Listing{}, &domain.AlreadyFetchingError{Protocol: protocol}
	}
	defer c.release(protocol)

	start := c.now()
	listing, err := c.source.FetchListing(ctx, protocol)
	if err != nil {
		var unknown *domain.UnknownProtocolError
		if errors.As(err, &unknown) {
			return domain.Listing{}, err
		}
		return domain.Listing{}, &domain.FetchError{Protocol: protocol, Err: err}
	}

	if err := c.listings.SaveListing(ctx, listing); err != nil {
		return domain.Listing{}, fmt.Errorf("store listing %s: %w", protocol, err)
	}

	c.mu.Lock()
	c.lastFetch[protocol] = c.now()
	c.mu.Unlock()

	c.logger.Info("listing fetched",
		"protocol", protocol,
		"count", listing.Count,
		"elapsed", c.now().Sub(start).Round(time.Millisecond))

	return listing, nil
}

// FetchAll fetches every distinct protocol with bounded parallelism. A
// failure is recorded in that protocol's Outcome and never cancels the others.
func (c *Coordinator) FetchAll(ctx context.Context, protocols []domain.Protocol) map[domain.Protocol]Outcome {
	protocols = Distinct(protocols)
	results := make(map[domain.Protocol]Outcome, len(protocols))
	var resultsMu sync.Mutex

	sem := semaphore.NewWeighted(c.concurrency)
	var group errgroup.Group

	for _, protocol := range protocols {
		protocol := protocol
		group.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				resultsMu.Lock()
				results[protocol] = Outcome{Err: &domain.FetchError{Protocol: protocol, Err: err}}
				resultsMu.Unlock()
				return nil
			}
			defer sem.Release(1)

			listing, err := c.Fetch(ctx, protocol)
			if err != nil {
				c.logger.Warn("fetch failed", "protocol", protocol, "error", err)
			}

			resultsMu.Lock()
			results[protocol] = Outcome{Listing: listing, Err: err}
			resultsMu.Unlock()
			return nil
		})
	}

	_ = group.Wait()
	return results
}

// Detect diffs a fresh listing against the cached snapshot. The snapshot is
// left untouched; Commit records the new number set once the caller has
// acted on the result.
func (c *Coordinator) Detect(ctx context.Context, listing domain.Listing) (diff.Result, error) {
	lock := c.lockFor(listing.Protocol)
	lock.Lock()
	defer lock.Unlock()

	previous, ok, err := c.snapshots.Numbers(ctx, listing.Protocol)
	if err != nil {
		return diff.Result{}, fmt.Errorf("load snapshot %s: %w", listing.Protocol, err)
	}
	return diff.Compute(listing.Items, previous, ok), nil
}

// Commit saves res.Current as protocol's snapshot.
func (c *Coordinator) Commit(ctx context.Context, protocol domain.Protocol, res diff.Result) error {
	lock := c.lockFor(protocol)
	lock.Lock()
	defer lock.Unlock()

	if err := c.snapshots.Save(ctx, protocol, res.Current); err != nil {
		return fmt.Errorf("save snapshot %s: %w", protocol, err)
	}
	if res.Baseline {
		c.logger.Info("baseline snapshot recorded", "protocol", protocol, "count", len(res.Current))
	}
	return nil
}

// Distinct drops repeated protocols, keeping first-seen order.
func Distinct(protocols []domain.Protocol) []domain.Protocol {
	seen := make(map[domain.Protocol]bool, len(protocols))
	out := make([]domain.Protocol, 0, len(protocols))
	for _, p := range protocols {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// LastFetched reports when protocol was last fetched successfully.
func (c *Coordinator) LastFetched(protocol domain.Protocol) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.lastFetch[protocol]
	return at, ok
}

// InFlight reports whether a fetch of protocol is running.
func (c *Coordinator) InFlight(protocol domain.Protocol) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight[protocol]
}

func (c *Coordinator) acquire(protocol domain.Protocol) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[protocol] {
		return false
	}
	c.inFlight[protocol] = true
	return true
}

func (c *Coordinator) release(protocol domain.Protocol) {
	c.mu.Lock()
	delete(c.inFlight, protocol)
	c.mu.Unlock()
}

func (c *Coordinator) lockFor(protocol domain.Protocol) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[protocol]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[protocol] = lock
	}
	return lock
}
