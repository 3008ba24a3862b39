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

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/ports"
)

// SchedulerState is the lifecycle state of the schedule service.
type SchedulerState string

const (
	StateStopped SchedulerState = "stopped"
	StateRunning SchedulerState = "running"
)

// ErrInvalidSchedule wraps every schedule validation failure.
var ErrInvalidSchedule = errors.New("invalid schedule")

// ScheduleInput is the user-supplied part of a new schedule.
type ScheduleInput struct {
	Name      string   `json:"name" validate:"required,max=100"`
	Frequency string   `json:"frequency" validate:"required,oneof=Daily Weekdays Weekly Biweekly Custom"`
	Days      []string `json:"days" validate:"dive,weekday"`
	TimeOfDay string   `json:"time_of_day" validate:"required,clock"`
	Enabled   *bool    `json:"enabled"`
	Protocols []string `json:"protocols" validate:"dive,protocol"`
}

// UpcomingRun is one predicted firing.
type UpcomingRun struct {
	ScheduleID   string    `json:"schedule_id"`
	ScheduleName string    `json:"schedule_name"`
	At           time.Time `json:"at"`
}

// ScheduleDeps wires the schedule service.
type ScheduleDeps struct {
	Store       ports.ScheduleStore
	History     ports.HistoryStore
	Driver      ports.Scheduler
	Pipeline    *Pipeline
	Location    *time.Location
	StopTimeout time.Duration
	Logger      *slog.Logger
}

// ScheduleService owns the Stopped/Running state machine and keeps the
// timer driver in sync with the stored schedules.
type ScheduleService struct {
	store       ports.ScheduleStore
	history     ports.HistoryStore
	driver      ports.Scheduler
	pipeline    *Pipeline
	location    *time.Location
	stopTimeout time.Duration
	validate    *validator.Validate
	logger      *slog.Logger
	now         func() time.Time

	mu         sync.Mutex
	state      SchedulerState
	registered map[string]bool
	cancel     context.CancelFunc
}

// NewScheduleService returns a stopped service.
func NewScheduleService(deps ScheduleDeps) *ScheduleService {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	stopTimeout := deps.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 5 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleService{
		store:       deps.Store,
		history:     deps.History,
		driver:      deps.Driver,
		pipeline:    deps.Pipeline,
		location:    loc,
		stopTimeout: stopTimeout,
		validate:    newValidator(),
		logger:      logger.With("component", "schedules"),
		now:         time.Now,
		state:       StateStopped,
		registered:  make(map[string]bool),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	must := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
	must("weekday", func(fl validator.FieldLevel) bool {
		_, ok := domain.ParseWeekday(fl.Field().String())
		return ok
	})
	must("clock", func(fl validator.FieldLevel) bool {
		_, _, err := domain.Schedule{TimeOfDay: fl.Field().String()}.ClockTime()
		return err == nil
	})
	must("protocol", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseProtocol(fl.Field().String())
		return err == nil
	})
	return v
}

// State reports whether the scheduler is running.
func (s *ScheduleService) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start registers every enabled schedule and launches the driver loop.
// Starting a running service is a no-op.
func (s *ScheduleService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return nil
	}

	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	for _, sched := range schedules {
		if sched.Enabled {
			s.registerLocked(sched)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := s.driver.Start(runCtx, s.fire); err != nil {
		cancel()
		s.unregisterAllLocked()
		return fmt.Errorf("start driver: %w", err)
	}
	s.cancel = cancel
	s.state = StateRunning
	s.logger.Info("scheduler started", "registered", len(s.registered))
	return nil
}

// Stop deregisters all timers and waits up to the stop timeout for the loop.
// A pipeline run already in progress completes on its own.
func (s *ScheduleService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return nil
	}

	s.unregisterAllLocked()
	stopCtx, cancel := context.WithTimeout(ctx, s.stopTimeout)
	defer cancel()
	err := s.driver.Stop(stopCtx)

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = StateStopped
	if err != nil {
		s.logger.Warn("scheduler stop timed out", "error", err)
		return err
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// List returns every stored schedule.
func (s *ScheduleService) List(ctx context.Context) ([]domain.Schedule, error) {
	return s.store.ListSchedules(ctx)
}

// Create validates input and stores a new schedule.
func (s *ScheduleService) Create(ctx context.Context, in ScheduleInput) (domain.Schedule, error) {
	if err := s.validate.Struct(in); err != nil {
		return domain.Schedule{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	sched := domain.Schedule{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		Frequency: domain.Frequency(in.Frequency),
		Days:      in.Days,
		TimeOfDay: in.TimeOfDay,
		Enabled:   in.Enabled == nil || *in.Enabled,
		CreatedAt: s.now().In(s.location),
	}
	for _, raw := range in.Protocols {
		p, _ := domain.ParseProtocol(raw)
		sched.Protocols = append(sched.Protocols, p)
	}
	if _, err := sched.NextFire(s.now().In(s.location)); err != nil {
		return domain.Schedule{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	if err := s.store.PutSchedule(ctx, sched); err != nil {
		return domain.Schedule{}, fmt.Errorf("store schedule: %w", err)
	}
	s.reload(sched)
	return sched, nil
}

// Enable turns a schedule on.
func (s *ScheduleService) Enable(ctx context.Context, id string) (domain.Schedule, error) {
	return s.update(ctx, id, func(sched *domain.Schedule) { sched.Enabled = true })
}

// Disable turns a schedule off.
func (s *ScheduleService) Disable(ctx context.Context, id string) (domain.Schedule, error) {
	return s.update(ctx, id, func(sched *domain.Schedule) { sched.Enabled = false })
}

// Toggle flips a schedule's enabled flag.
func (s *ScheduleService) Toggle(ctx context.Context, id string) (domain.Schedule, error) {
	return s.update(ctx, id, func(sched *domain.Schedule) { sched.Enabled = !sched.Enabled })
}

// Delete removes a schedule and its timer.
func (s *ScheduleService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	if s.registered[id] {
		s.driver.Unregister(id)
		delete(s.registered, id)
	}
	s.mu.Unlock()
	return nil
}

// RunNow executes the pipeline immediately, tagged as manual.
func (s *ScheduleService) RunNow(ctx context.Context, protocols []domain.Protocol) (domain.ExecutionRecord, error) {
	return s.pipeline.Run(ctx, Trigger{ScheduleName: ManualScheduleName, Manual: true, Protocols: protocols})
}

// History returns up to limit execution records, newest first.
func (s *ScheduleService) History(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	return s.history.ListExecutions(ctx, limit)
}

// Upcoming predicts the next n firings across all enabled schedules.
func (s *ScheduleService) Upcoming(ctx context.Context, n int) ([]UpcomingRun, error) {
	if n <= 0 {
		return nil, nil
	}
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().In(s.location)
	var runs []UpcomingRun
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		at := now
		for i := 0; i < n; i++ {
			next, err := sched.NextFire(at)
			if err != nil {
				s.logger.Warn("schedule cannot fire", "id", sched.ID, "error", err)
				break
			}
			runs = append(runs, UpcomingRun{ScheduleID: sched.ID, ScheduleName: sched.Name, At: next})
			at = next
		}
	}

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].At.Before(runs[j].At) })
	if len(runs) > n {
		runs = runs[:n]
	}
	return runs, nil
}

func (s *ScheduleService) update(ctx context.Context, id string, mutate func(*domain.Schedule)) (domain.Schedule, error) {
	sched, err := s.find(ctx, id)
	if err != nil {
		return domain.Schedule{}, err
	}
	mutate(&sched)
	if err := s.store.PutSchedule(ctx, sched); err != nil {
		return domain.Schedule{}, fmt.Errorf("store schedule: %w", err)
	}
	s.reload(sched)
	return sched, nil
}

func (s *ScheduleService) find(ctx context.Context, id string) (domain.Schedule, error) {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return domain.Schedule{}, err
	}
	for _, sched := range schedules {
		if sched.ID == id {
			return sched, nil
		}
	}
	return domain.Schedule{}, fmt.Errorf("%w: %s", domain.ErrScheduleNotFound, id)
}

// reload brings the driver in line with sched while running.
func (s *ScheduleService) reload(sched domain.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	if sched.Enabled {
		s.registerLocked(sched)
		return
	}
	if s.registered[sched.ID] {
		s.driver.Unregister(sched.ID)
		delete(s.registered, sched.ID)
	}
}

func (s *ScheduleService) registerLocked(sched domain.Schedule) {
	loc := s.location
	err := s.driver.Register(sched.ID, func(after time.Time) (time.Time, error) {
		return sched.NextFire(after.In(loc))
	})
	if err != nil {
		s.logger.Warn("schedule not registered", "id", sched.ID, "name", sched.Name, "error", err)
		return
	}
	s.registered[sched.ID] = true
}

func (s *ScheduleService) unregisterAllLocked() {
	for id := range s.registered {
		s.driver.Unregister(id)
	}
	s.registered = make(map[string]bool)
}

// fire runs on the driver goroutine for each due schedule.
func (s *ScheduleService) fire(id string, at time.Time) {
	ctx := context.Background()
	sched, err := s.find(ctx, id)
	if err != nil {
		s.logger.Warn("fired schedule vanished", "id", id, "error", err)
		return
	}
	if !sched.Enabled {
		return
	}

	s.logger.Info("schedule fired", "id", id, "name", sched.Name, "at", at)
	if _, err := s.pipeline.Run(ctx, Trigger{ScheduleName: sched.Name, Protocols: sched.Protocols}); err != nil {
		s.logger.Error("scheduled run not recorded", "id", id, "error", err)
	}
}
