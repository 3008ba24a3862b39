package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/infrastructure/storage"
	"ProposalTracker/internal/logging"
)

type fakeDriver struct {
	mu       sync.Mutex
	timers   map[string]func(time.Time) (time.Time, error)
	job      func(string, time.Time)
	started  bool
	stopped  int
	stopWait time.Duration
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{timers: map[string]func(time.Time) (time.Time, error){}}
}

func (d *fakeDriver) Register(id string, next func(time.Time) (time.Time, error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timers[id] = next
	return nil
}

func (d *fakeDriver) Unregister(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.timers, id)
}

func (d *fakeDriver) Start(_ context.Context, job func(string, time.Time)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.job = job
	d.started = true
	return nil
}

func (d *fakeDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.started = false
	d.stopped++
	wait := d.stopWait
	d.mu.Unlock()
	if wait == 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *fakeDriver) registered() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.timers))
	for id := range d.timers {
		ids = append(ids, id)
	}
	return ids
}

func (d *fakeDriver) has(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[id]
	return ok
}

type serviceFixture struct {
	*fixture
	driver  *fakeDriver
	service *ScheduleService
}

var mondayMorning = time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := newFixture(t, nil, domain.ProtocolTron)
	driver := newFakeDriver()
	svc := NewScheduleService(ScheduleDeps{
		Store:       storage.NewScheduleStore(t.TempDir()),
		History:     f.history,
		Driver:      driver,
		Pipeline:    f.pipeline,
		Location:    time.UTC,
		StopTimeout: 50 * time.Millisecond,
		Logger:      logging.Discard(),
	})
	svc.now = func() time.Time { return mondayMorning }
	return &serviceFixture{fixture: f, driver: driver, service: svc}
}

func daily(name string) ScheduleInput {
	return ScheduleInput{Name: name, Frequency: "Daily", TimeOfDay: "09:00"}
}

func TestCreateValidatesInput(t *testing.T) {
	t.Parallel()

	sf := newServiceFixture(t)
	ctx := context.Background()

	bad := []ScheduleInput{
		{Frequency: "Daily", TimeOfDay: "09:00"},
		{Name: "x", Frequency: "Hourly", TimeOfDay: "09:00"},
		{Name: "x", Frequency: "Daily", TimeOfDay: "25:00"},
		{Name: "x", Frequency: "Weekly", TimeOfDay: "09:00", Days: []string{"Funday"}},
		{Name: "x", Frequency: "Weekly", TimeOfDay: "09:00"},
		{Name: "x", Frequency: "Daily", TimeOfDay: "09:00", Protocols: []string{"dogecoin"}},
	}
	for _, in := range bad {
		_, err := sf.service.Create(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidSchedule, "%+v", in)
	}

	sched, err := sf.service.Create(ctx, ScheduleInput{
		Name:      "Weekly digest",
		Frequency: "Weekly",
		Days:      []string{"Mon", "Thursday"},
		TimeOfDay: "07:30",
		Protocols: []string{"eth", "tron"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sched.ID)
	assert.True(t, sched.Enabled)
	assert.Equal(t, []domain.Protocol{domain.ProtocolEthereum, domain.ProtocolTron}, sched.Protocols)
	assert.Equal(t, mondayMorning, sched.CreatedAt)
}

func TestStartRegistersEnabledSchedulesOnly(t *testing.T) {
	t.Parallel()

	sf := newServiceFixture(t)
	ctx := context.Background()
	on, err := sf.service.Create(ctx, daily("on"))
	require.NoError(t, err)
	off, err := sf.service.Create(ctx, daily("off"))
	require.NoError(t, err)
	_, err = sf.service.Disable(ctx, off.ID)
	require.NoError(t, err)

	assert.Empty(t, sf.driver.registered())
	require.NoError(t, sf.service.Start(ctx))
	assert.Equal(t, StateRunning, sf.service.State())
	assert.Equal(t, []string{on.ID}, sf.driver.registered())

	next, err := sf.driver.timers[on.ID](mondayMorning)
	require.NoError(t, err)
	assert.Equal(t, mondayMorning.Add(time.Hour), next)

	require.NoError(t, sf.service.Start(ctx))
	require.NoError(t, sf.service.Stop(ctx))
	assert.Equal(t, StateStopped, sf.service.State())
	assert.Empty(t, sf.driver.registered())
	require.NoError(t, sf.service.Stop(ctx))
	assert.Equal(t, 1, sf.driver.stopped)
}

func TestMutationsReloadDriverWhileRunning(t *testing.T) {
	t.Parallel()

	sf := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, sf.service.Start(ctx))

	sched, err := sf.service.Create(ctx, daily("reload"))
	require.NoError(t, err)
	assert.True(t, sf.driver.has(sched.ID))

	toggled, err := sf.service.Toggle(ctx, sched.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Enabled)
	assert.False(t, sf.driver.has(sched.ID))

	_, err = sf.service.Enable(ctx, sched.ID)
	require.NoError(t, err)
	assert.True(t, sf.driver.has(sched.ID))

	require.NoError(t, sf.service.Delete(ctx, sched.ID))
	assert.False(t, sf.driver.has(sched.ID))

	_, err = sf.service.Toggle(ctx, sched.ID)
	assert.ErrorIs(t, err, domain.ErrScheduleNotFound)
	assert.ErrorIs(t, sf.service.Delete(ctx, sched.ID), domain.ErrScheduleNotFound)
}

func TestFireRunsPipelineWithScheduleName(t *testing.T) {
	t.Parallel()

	sf := newServiceFixture(t)
	ctx := context.Background()
	sf.source.set(domain.ProtocolTron, tip(1, "a"))
	sched, err := sf.service.Create(ctx, daily("Morning check"))
	require.NoError(t, err)
	require.NoError(t, sf.service.Start(ctx))

	sf.driver.job(sched.ID, mondayMorning.Add(time.Hour))

	history, err := sf.service.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Morning check", history[0].ScheduleName)
	assert.False(t, history[0].Manual)
	assert.True(t, history[0].Success)
}

func TestRunNowIsManual(t *testing.T) {
	t.Parallel()

	sf := newServiceFixture(t)
	sf.source.set(domain.ProtocolTron, tip(1, "a"))

	record, err := sf.service.RunNow(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, record.Manual)
	assert.Equal(t, ManualScheduleName, record.ScheduleName)
	assert.Equal(t, StateStopped, sf.service.State())
}

func TestStopTimesOutWithBoundedWait(t *testing.T) {
	t.Parallel()

	sf := newServiceFixture(t)
	sf.driver.stopWait = time.Second
	ctx := context.Background()
	require.NoError(t, sf.service.Start(ctx))

	begin := time.Now()
	err := sf.service.Stop(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), 500*time.Millisecond)
	assert.Equal(t, StateStopped, sf.service.State())
}

func TestUpcomingMergesSchedules(t *testing.T) {
	t.Parallel()

	sf := newServiceFixture(t)
	ctx := context.Background()
	_, err := sf.service.Create(ctx, daily("nine"))
	require.NoError(t, err)
	_, err = sf.service.Create(ctx, ScheduleInput{Name: "ten", Frequency: "Daily", TimeOfDay: "10:00"})
	require.NoError(t, err)
	disabled := false
	_, err = sf.service.Create(ctx, ScheduleInput{Name: "off", Frequency: "Daily", TimeOfDay: "08:30", Enabled: &disabled})
	require.NoError(t, err)

	runs, err := sf.service.Upcoming(ctx, 3)
	require.NoError(t, err)

	require.Len(t, runs, 3)
	assert.Equal(t, "nine", runs[0].ScheduleName)
	assert.Equal(t, mondayMorning.Add(time.Hour), runs[0].At)
	assert.Equal(t, "ten", runs[1].ScheduleName)
	assert.Equal(t, mondayMorning.Add(25*time.Hour), runs[2].At)
}
