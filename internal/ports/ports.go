package ports

import (
	"context"
	"time"

	"ProposalTracker/internal/config"
	"ProposalTracker/internal/domain"
)

// ProposalSource lists the full current set of proposals of one protocol.
type ProposalSource interface {
	FetchListing(ctx context.Context, protocol domain.Protocol) (domain.Listing, error)
}

// SnapshotStore keeps the last known proposal numbers per protocol.
type SnapshotStore interface {
	// Numbers returns the cached set; ok is false when the protocol has never been snapshotted.
	Numbers(ctx context.Context, protocol domain.Protocol) (numbers []int, ok bool, err error)
	Save(ctx context.Context, protocol domain.Protocol, numbers []int) error
}

// ListingStore persists the full current listing of each protocol.
type ListingStore interface {
	SaveListing(ctx context.Context, listing domain.Listing) error
	LoadListing(ctx context.Context, protocol domain.Protocol) (domain.Listing, error)
}

// ScheduleStore persists user-defined schedules.
type ScheduleStore interface {
	ListSchedules(ctx context.Context) ([]domain.Schedule, error)
	PutSchedule(ctx context.Context, schedule domain.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
}

// HistoryStore keeps the capped execution history.
type HistoryStore interface {
	AppendExecution(ctx context.Context, record domain.ExecutionRecord) error
	ListExecutions(ctx context.Context, limit int) ([]domain.ExecutionRecord, error)
}

// ImpactArchive records dispatched assessments for later review.
type ImpactArchive interface {
	SaveAssessments(ctx context.Context, items []domain.Assessed) error
}

// Classifier assigns an impact assessment; it never fails.
type Classifier interface {
	Classify(ctx context.Context, proposal domain.Proposal) domain.Assessment
}

// ChatClient sends one prompt to an LLM chat-completions API and returns the reply text.
type ChatClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// NotificationSettings yields the notification config current at dispatch time.
type NotificationSettings interface {
	Notifications() (config.NotificationConfig, error)
}

// Notifier delivers a batch over one channel.
type Notifier interface {
	Channel() domain.Channel
	Notify(ctx context.Context, settings config.NotificationConfig, batch domain.Batch) error
}

// Dispatcher fans a batch out to every channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch domain.Batch) domain.DispatchResult
}

// Scheduler is the timer driver behind recurring schedules.
type Scheduler interface {
	// Register adds or replaces a timer keyed by id; next computes the following fire time.
	Register(id string, next func(time.Time) (time.Time, error)) error
	Unregister(id string)
	Start(ctx context.Context, job func(id string, at time.Time)) error
	Stop(ctx context.Context) error
}
