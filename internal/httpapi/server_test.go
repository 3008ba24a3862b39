package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/logging"
	"ProposalTracker/internal/usecase"
)

type fakeService struct {
	state     usecase.SchedulerState
	schedules map[string]domain.Schedule
	ranWith   []domain.Protocol
	limit     int
}

var _ Service = (*fakeService)(nil)

func newFakeService() *fakeService {
	return &fakeService{
		state: usecase.StateStopped,
		schedules: map[string]domain.Schedule{
			"s1": {ID: "s1", Name: "Morning", Frequency: domain.FrequencyDaily, TimeOfDay: "09:00", Enabled: true},
		},
	}
}

func (f *fakeService) State() usecase.SchedulerState { return f.state }

func (f *fakeService) Start(context.Context) error {
	f.state = usecase.StateRunning
	return nil
}

func (f *fakeService) Stop(context.Context) error {
	f.state = usecase.StateStopped
	return nil
}

func (f *fakeService) List(context.Context) ([]domain.Schedule, error) {
	out := make([]domain.Schedule, 0, len(f.schedules))
	for _, s := range f.schedules {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeService) Create(_ context.Context, in usecase.ScheduleInput) (domain.Schedule, error) {
	if in.Name == "" {
		return domain.Schedule{}, fmt.Errorf("%w: name required", usecase.ErrInvalidSchedule)
	}
	s := domain.Schedule{ID: "s2", Name: in.Name, Frequency: domain.Frequency(in.Frequency), TimeOfDay: in.TimeOfDay, Enabled: true}
	f.schedules[s.ID] = s
	return s, nil
}

func (f *fakeService) set(id string, mutate func(*domain.Schedule)) (domain.Schedule, error) {
	s, ok := f.schedules[id]
	if !ok {
		return domain.Schedule{}, domain.ErrScheduleNotFound
	}
	mutate(&s)
	f.schedules[id] = s
	return s, nil
}

func (f *fakeService) Enable(_ context.Context, id string) (domain.Schedule, error) {
	return f.set(id, func(s *domain.Schedule) { s.Enabled = true })
}

func (f *fakeService) Disable(_ context.Context, id string) (domain.Schedule, error) {
	return f.set(id, func(s *domain.Schedule) { s.Enabled = false })
}

func (f *fakeService) Toggle(_ context.Context, id string) (domain.Schedule, error) {
	return f.set(id, func(s *domain.Schedule) { s.Enabled = !s.Enabled })
}

func (f *fakeService) Delete(_ context.Context, id string) error {
	if _, ok := f.schedules[id]; !ok {
		return domain.ErrScheduleNotFound
	}
	delete(f.schedules, id)
	return nil
}

func (f *fakeService) RunNow(_ context.Context, protocols []domain.Protocol) (domain.ExecutionRecord, error) {
	f.ranWith = protocols
	return domain.ExecutionRecord{ScheduleName: usecase.ManualScheduleName, Manual: true, Success: true}, nil
}

func (f *fakeService) History(_ context.Context, limit int) ([]domain.ExecutionRecord, error) {
	f.limit = limit
	return nil, nil
}

func (f *fakeService) Upcoming(_ context.Context, n int) ([]usecase.UpcomingRun, error) {
	return []usecase.UpcomingRun{{ScheduleID: "s1", ScheduleName: "Morning", At: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}}, nil
}

func serve(t *testing.T, svc *fakeService, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewHandler(svc, nil, logging.Discard())
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newFakeService(), http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","scheduler":"stopped"}`, rec.Body.String())
}

func TestScheduleLifecycle(t *testing.T) {
	t.Parallel()

	svc := newFakeService()

	rec := serve(t, svc, http.MethodPost, "/schedules", `{"name":"Evening","frequency":"Daily","time_of_day":"18:00"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(t, svc, http.MethodGet, "/schedules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []domain.Schedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 2)

	rec = serve(t, svc, http.MethodPost, "/schedules/s1/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, svc.schedules["s1"].Enabled)

	rec = serve(t, svc, http.MethodPost, "/schedules/s1/enable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.schedules["s1"].Enabled)

	rec = serve(t, svc, http.MethodDelete, "/schedules/s1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(t, svc, http.MethodPost, "/schedules/s1/disable", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateScheduleRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	svc := newFakeService()

	assert.Equal(t, http.StatusBadRequest, serve(t, svc, http.MethodPost, "/schedules", `{"frequency":"Daily"}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, svc, http.MethodPost, "/schedules", `not json`).Code)
}

func TestRunCheckParsesProtocols(t *testing.T) {
	t.Parallel()

	svc := newFakeService()

	rec := serve(t, svc, http.MethodPost, "/checks", `{"protocols":["eth","tron"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []domain.Protocol{domain.ProtocolEthereum, domain.ProtocolTron}, svc.ranWith)

	rec = serve(t, svc, http.MethodPost, "/checks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, svc.ranWith)

	rec = serve(t, svc, http.MethodPost, "/checks", `{"protocols":["dogecoin"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryLimit(t *testing.T) {
	t.Parallel()

	svc := newFakeService()

	rec := serve(t, svc, http.MethodGet, "/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
	assert.Equal(t, 5, svc.limit)

	assert.Equal(t, http.StatusBadRequest, serve(t, svc, http.MethodGet, "/history?limit=x", "").Code)
}

func TestSchedulerStartStop(t *testing.T) {
	t.Parallel()

	svc := newFakeService()

	rec := serve(t, svc, http.MethodPost, "/scheduler/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, usecase.StateRunning, svc.state)

	rec = serve(t, svc, http.MethodGet, "/scheduler", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view schedulerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, usecase.StateRunning, view.State)
	require.Len(t, view.Upcoming, 1)

	rec = serve(t, svc, http.MethodPost, "/scheduler/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, usecase.StateStopped, svc.state)
}
