package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"ProposalTracker/internal/diff"
	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/fetcher"
	"ProposalTracker/internal/impact"
	"ProposalTracker/internal/metrics"
	"ProposalTracker/internal/ports"
)

// ManualScheduleName tags executions started outside the scheduler.
const ManualScheduleName = "Manual"

// PipelineDeps wires all driven adapters into the check pipeline.
type PipelineDeps struct {
	Fetcher    *fetcher.Coordinator
	Classifier ports.Classifier
	Dispatcher ports.Dispatcher
	History    ports.HistoryStore
	Archive    ports.ImpactArchive
	Metrics    *metrics.Metrics
	Protocols  []domain.Protocol
	Logger     *slog.Logger
}

// Trigger describes why and over what the pipeline runs.
type Trigger struct {
	ScheduleName string
	Manual       bool
	// Protocols restricts the run; empty means every configured protocol.
	Protocols []domain.Protocol
}

// Pipeline implements fetch, diff, classify, notify and record.
type Pipeline struct {
	fetcher    *fetcher.Coordinator
	classifier ports.Classifier
	dispatcher ports.Dispatcher
	history    ports.HistoryStore
	archive    ports.ImpactArchive
	metrics    *metrics.Metrics
	protocols  []domain.Protocol
	logger     *slog.Logger
	now        func() time.Time

	// detectMu keeps concurrent runs from diffing against the same snapshot.
	detectMu sync.Mutex
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	protocols := deps.Protocols
	if len(protocols) == 0 {
		protocols = domain.Protocols()
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = impact.NewRuleBased()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		fetcher:    deps.Fetcher,
		classifier: classifier,
		dispatcher: deps.Dispatcher,
		history:    deps.History,
		archive:    deps.Archive,
		metrics:    deps.Metrics,
		protocols:  protocols,
		logger:     logger.With("component", "pipeline"),
		now:        time.Now,
	}
}

// Protocols lists the protocols a run covers by default.
func (p *Pipeline) Protocols() []domain.Protocol {
	return append([]domain.Protocol(nil), p.protocols...)
}

// Run executes one check and appends its record to the history. The returned
// error only reports a failure to persist that record.
func (p *Pipeline) Run(ctx context.Context, trigger Trigger) (domain.ExecutionRecord, error) {
	start := p.now()
	record := domain.ExecutionRecord{
		Timestamp:    start,
		ScheduleName: trigger.ScheduleName,
		Manual:       trigger.Manual,
	}
	if record.ScheduleName == "" && trigger.Manual {
		record.ScheduleName = ManualScheduleName
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("pipeline panicked", "panic", r)
				record.Success = false
				record.Error = fmt.Sprintf("panic: %v", r)
			}
		}()
		p.execute(ctx, trigger, &record)
	}()

	elapsed := p.now().Sub(start)
	record.DurationSeconds = elapsed.Seconds()
	p.metrics.PipelineRun(trigger.Manual, record.Success, elapsed)

	p.logger.Info("pipeline finished",
		"schedule", record.ScheduleName,
		"manual", record.Manual,
		"success", record.Success,
		"new", record.NewProposalsCount,
		"failed_protocols", len(record.FailedProtocols),
		"elapsed", elapsed.Round(time.Millisecond))

	if p.history == nil {
		return record, nil
	}
	if err := p.history.AppendExecution(context.WithoutCancel(ctx), record); err != nil {
		p.logger.Error("history append failed", "error", err)
		return record, fmt.Errorf("append execution: %w", err)
	}
	return record, nil
}

func (p *Pipeline) execute(ctx context.Context, trigger Trigger, record *domain.ExecutionRecord) {
	protocols := trigger.Protocols
	if len(protocols) == 0 {
		protocols = p.protocols
	}
	protocols = fetcher.Distinct(protocols)

	outcomes := p.fetcher.FetchAll(ctx, protocols)

	var (
		fetched  []domain.Listing
		failures []string
	)
	for _, protocol := range protocols {
		outcome := outcomes[protocol]
		if outcome.Err != nil {
			if !contained(outcome.Err) {
				record.Error = outcome.Err.Error()
				return
			}
			p.metrics.FetchFailed(protocol)
			record.FailedProtocols = append(record.FailedProtocols, protocol)
			record.Warnings = append(record.Warnings, outcome.Err.Error())
			failures = append(failures, fetchFailure(protocol, outcome.Err))
			continue
		}
		fetched = append(fetched, outcome.Listing)
	}

	if len(failures) > 0 {
		if len(fetched) == 0 {
			record.Error = "all protocols failed to fetch: " + strings.Join(failures, ", ")
			return
		}
		record.Error = "fetch failed: " + strings.Join(failures, ", ")
	}

	fresh, err := p.detect(ctx, fetched, record)
	if err != nil {
		record.Error = joinError(record.Error, err.Error())
	}
	record.NewProposalsCount = len(fresh)
	record.Success = err == nil
	if len(fresh) == 0 {
		return
	}

	assessed := impact.ClassifyAll(ctx, p.classifier, fresh)
	batch := domain.NewBatch(assessed, p.now())

	if p.dispatcher != nil {
		record.Channels = p.dispatcher.Dispatch(ctx, batch)
	}

	if p.archive != nil {
		if err := p.archive.SaveAssessments(ctx, batch.Items); err != nil {
			p.logger.Warn("archive assessments failed", "error", err)
			record.Warnings = append(record.Warnings, fmt.Sprintf("archive: %v", err))
		}
	}
}

// detect diffs every fetched listing before any snapshot is saved, then
// commits them one by one. It returns the new proposals of the protocols whose
// snapshot was committed; the others are detected again on the next run.
func (p *Pipeline) detect(ctx context.Context, listings []domain.Listing, record *domain.ExecutionRecord) ([]domain.Proposal, error) {
	p.detectMu.Lock()
	defer p.detectMu.Unlock()

	results := make([]diff.Result, len(listings))
	for i, listing := range listings {
		res, err := p.fetcher.Detect(ctx, listing)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}

	var (
		fresh    []domain.Proposal
		failures []string
	)
	for i, listing := range listings {
		res := results[i]
		if err := p.fetcher.Commit(ctx, listing.Protocol, res); err != nil {
			p.logger.Error("snapshot commit failed", "protocol", listing.Protocol, "error", err)
			failures = append(failures, err.Error())
			continue
		}
		if len(res.Missing) > 0 {
			record.Warnings = append(record.Warnings, missingWarning(listing.Protocol, res.Missing))
		}
		p.metrics.NewProposals(listing.Protocol, len(res.New))
		fresh = append(fresh, res.New...)
	}
	if len(failures) > 0 {
		return fresh, errors.New(strings.Join(failures, "; "))
	}
	return fresh, nil
}

// fetchFailure renders one failed protocol as "name (cause)".
func fetchFailure(protocol domain.Protocol, err error) string {
	var fetchErr *domain.FetchError
	if errors.As(err, &fetchErr) && fetchErr.Err != nil {
		err = fetchErr.Err
	}
	return fmt.Sprintf("%s (%v)", protocol, err)
}

func joinError(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "; " + next
}

// contained reports fetch-side failures that only fail their own protocol.
func contained(err error) bool {
	var (
		fetchErr *domain.FetchError
		busy     *domain.AlreadyFetchingError
		unknown  *domain.UnknownProtocolError
	)
	return errors.As(err, &fetchErr) || errors.As(err, &busy) || errors.As(err, &unknown)
}

func missingWarning(protocol domain.Protocol, missing []int) string {
	sorted := append([]int(nil), missing...)
	sort.Ints(sorted)
	parts := make([]string, 0, len(sorted))
	for _, n := range sorted {
		parts = append(parts, fmt.Sprintf("%s-%d", protocol.Prefix(), n))
	}
	return fmt.Sprintf("%s: %d proposals missing from listing: %s", protocol, len(sorted), strings.Join(parts, ", "))
}
