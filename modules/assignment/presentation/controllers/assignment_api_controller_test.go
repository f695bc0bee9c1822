package controllers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workmesh/assign-sdk/modules/assignment/domain/aggregates/workitem"
	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/assignmentevent"
	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/candidate"
	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/queueentry"
	"github.com/workmesh/assign-sdk/modules/assignment/presentation/controllers"
	"github.com/workmesh/assign-sdk/modules/assignment/services"
	"github.com/workmesh/assign-sdk/pkg/application"
	"github.com/workmesh/assign-sdk/pkg/composables"
	"github.com/workmesh/assign-sdk/pkg/eventbus"
	"github.com/workmesh/assign-sdk/pkg/itf"
	"github.com/workmesh/assign-sdk/pkg/logging"
)

type fakeWorkItems struct {
	items map[uuid.UUID]workitem.WorkItem
}

func (r *fakeWorkItems) GetByID(_ context.Context, id uuid.UUID) (workitem.WorkItem, error) {
	item, ok := r.items[id]
	if !ok {
		return nil, workitem.ErrWorkItemNotFound
	}
	return item, nil
}

func (r *fakeWorkItems) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (workitem.WorkItem, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeWorkItems) Save(_ context.Context, item workitem.WorkItem) (workitem.WorkItem, error) {
	r.items[item.ID()] = item
	return item, nil
}

func (r *fakeWorkItems) AutoAssignStats(_ context.Context) (workitem.AutoAssignStats, error) {
	stats := workitem.AutoAssignStats{}
	for _, item := range r.items {
		stats.TotalItems++
		if item.AutoAssignEnabled() {
			stats.EnabledItems++
			stats.TotalQueueSize += int64(item.LastQueueSize())
			if item.AutoAssignSettings().Fairness.EnsureNewcomer {
				stats.NewcomerGuaranteeOn++
			}
		}
	}
	return stats, nil
}

type fakeEntries struct {
	entries []queueentry.QueueEntry
}

func (r *fakeEntries) GetByID(_ context.Context, id uuid.UUID) (queueentry.QueueEntry, error) {
	for _, e := range r.entries {
		if e.ID() == id {
			return e, nil
		}
	}
	return nil, queueentry.ErrQueueEntryNotFound
}

func (r *fakeEntries) CreateMany(_ context.Context, entries []queueentry.QueueEntry) ([]queueentry.QueueEntry, error) {
	r.entries = append(r.entries, entries...)
	return entries, nil
}

func (r *fakeEntries) Save(_ context.Context, entry queueentry.QueueEntry) (queueentry.QueueEntry, error) {
	for i, e := range r.entries {
		if e.ID() == entry.ID() {
			r.entries[i] = entry
			return entry, nil
		}
	}
	return nil, queueentry.ErrQueueEntryNotFound
}

func (r *fakeEntries) List(_ context.Context, params *queueentry.FindParams) ([]queueentry.QueueEntry, error) {
	out := make([]queueentry.QueueEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if params.TargetID != uuid.Nil && e.TargetID() != params.TargetID {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score() > out[j].Score() })
	return out, nil
}

func (r *fakeEntries) ExpireOpenByTarget(_ context.Context, targetID uuid.UUID, at time.Time) (int64, error) {
	var n int64
	for i, e := range r.entries {
		if e.TargetID() != targetID || !e.Status().Open() {
			continue
		}
		expired, err := e.Expire(at)
		if err != nil {
			return n, err
		}
		r.entries[i] = expired
		n++
	}
	return n, nil
}

func (r *fakeEntries) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for i, e := range r.entries {
		if !e.Status().Open() || e.ExpiresAt().After(now) {
			continue
		}
		expired, err := e.Expire(now)
		if err != nil {
			return n, err
		}
		r.entries[i] = expired
		n++
	}
	return n, nil
}

func (r *fakeEntries) CountByCandidate(_ context.Context, statuses []queueentry.Status, since *time.Time) (map[uuid.UUID]int64, error) {
	counts := map[uuid.UUID]int64{}
	for _, e := range r.entries {
		for _, s := range statuses {
			if e.Status() != s {
				continue
			}
			if since != nil && (e.NotifiedAt() == nil || e.NotifiedAt().Before(*since)) {
				continue
			}
			counts[e.CandidateID()]++
		}
	}
	return counts, nil
}

func (r *fakeEntries) CountByStatus(_ context.Context) (map[queueentry.Status]int64, error) {
	counts := map[queueentry.Status]int64{}
	for _, e := range r.entries {
		counts[e.Status()]++
	}
	return counts, nil
}

func (r *fakeEntries) RecentlyResolved(_ context.Context, limit int) ([]queueentry.QueueEntry, error) {
	out := make([]queueentry.QueueEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.NotifiedAt() == nil || e.ResolvedAt() == nil {
			continue
		}
		switch e.Status() {
		case queueentry.StatusAccepted, queueentry.StatusCompleted, queueentry.StatusDeclined:
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeEvents struct {
	events []assignmentevent.AssignmentEvent
}

func (r *fakeEvents) Create(_ context.Context, event assignmentevent.AssignmentEvent) (assignmentevent.AssignmentEvent, error) {
	r.events = append(r.events, event)
	return event, nil
}

func (r *fakeEvents) ListByTarget(_ context.Context, targetID uuid.UUID, limit int) ([]assignmentevent.AssignmentEvent, error) {
	out := make([]assignmentevent.AssignmentEvent, 0, len(r.events))
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].TargetID() != targetID {
			continue
		}
		out = append(out, r.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeEvents) LatestOfTypes(_ context.Context, targetID uuid.UUID, types []assignmentevent.EventType) (assignmentevent.AssignmentEvent, error) {
	for i := len(r.events) - 1; i >= 0; i-- {
		event := r.events[i]
		if event.TargetID() != targetID {
			continue
		}
		for _, t := range types {
			if event.Type() == t {
				return event, nil
			}
		}
	}
	return nil, assignmentevent.ErrEventNotFound
}

type fakePool struct {
	candidates []candidate.Candidate
	err        error
}

func (p *fakePool) EligibleCandidates(_ context.Context, _ uuid.UUID, _ decimal.Decimal) ([]candidate.Candidate, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.candidates, nil
}

type apiFixture struct {
	handler   http.Handler
	workItems *fakeWorkItems
	entries   *fakeEntries
	events    *fakeEvents
	pool      *fakePool
}

func newAPIFixture() *apiFixture {
	f := &apiFixture{
		workItems: &fakeWorkItems{items: map[uuid.UUID]workitem.WorkItem{}},
		entries:   &fakeEntries{},
		events:    &fakeEvents{},
		pool:      &fakePool{},
	}

	publisher := eventbus.NewEventPublisher(logging.JSONLogger(logrus.PanicLevel, io.Discard))
	eventsSvc := services.NewEventsService(f.events, publisher)
	commandCenter := services.NewCommandCenterService(f.workItems, f.entries, time.Minute)
	assignments := services.NewAssignmentService(f.workItems, f.entries, eventsSvc, f.pool,
		services.WithCacheInvalidator(commandCenter))

	app := application.New(&application.ApplicationOptions{EventBus: publisher})
	app.RegisterServices(assignments, eventsSvc, commandCenter)

	router := mux.NewRouter()
	executor := itf.NewMemTxExecutor()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(composables.WithTxExecutor(r.Context(), executor)))
		})
	})
	controllers.NewAssignmentAPIController(app).Register(router)
	f.handler = router
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAPI_CreateWorkItemWithAutoAssign(t *testing.T) {
	t.Parallel()
	f := newAPIFixture()
	f.pool.candidates = []candidate.Candidate{
		{ID: uuid.New(), Rating: 4.5, TypicalProjectValue: decimal.RequireFromString("2400"), DaysSinceActive: 3, Available: true},
		{ID: uuid.New(), Rating: 4.0, TypicalProjectValue: decimal.RequireFromString("2100"), DaysSinceActive: 10, Available: true},
		{ID: uuid.New(), Rating: 3.0, TypicalProjectValue: decimal.RequireFromString("800"), DaysSinceActive: 25, Available: true},
	}

	actor := uuid.New()
	rec := f.do(t, http.MethodPost, "/assignment/work-items", `{
		"title": "Kitchen refit",
		"budgetAmount": "2500.00",
		"location": "Austin",
		"autoAssign": {"enabled": true, "settings": {"limit": 2}}
	}`, map[string]string{"X-Actor-Id": actor.String()})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "queue_active", body["autoAssignStatus"])
	assert.Equal(t, "2500", body["budgetAmount"])
	assert.Len(t, body["queue"], 2)

	require.NotEmpty(t, f.events.events)
	require.NotNil(t, f.events.events[0].ActorID())
	assert.Equal(t, actor, *f.events.events[0].ActorID())
}

func TestAPI_CreateWorkItemValidation(t *testing.T) {
	t.Parallel()
	f := newAPIFixture()

	cases := []struct {
		name string
		body string
		code string
	}{
		{"missing title", `{"budgetAmount": "100"}`, "VALIDATION"},
		{"bad budget", `{"title": "x", "budgetAmount": "lots"}`, "VALIDATION"},
		{"unknown field", `{"title": "x", "budgetAmount": "100", "bogus": 1}`, "INVALID_BODY"},
		{"malformed json", `{`, "INVALID_BODY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/assignment/work-items", tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, decodeBody(t, rec)["code"])
		})
	}
}

func TestAPI_MaxAssignmentsForPriorityAlias(t *testing.T) {
	t.Parallel()
	f := newAPIFixture()

	rec := f.do(t, http.MethodPost, "/assignment/work-items", `{
		"title": "Roof patch",
		"budgetAmount": "900",
		"autoAssign": {"enabled": true, "settings": {"maxAssignmentsForPriority": 1}}
	}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var item workitem.WorkItem
	for _, it := range f.workItems.items {
		item = it
	}
	require.NotNil(t, item)
	assert.Equal(t, 1, item.AutoAssignSettings().Fairness.MaxAssignments)
}

func TestAPI_GetWorkItemErrors(t *testing.T) {
	t.Parallel()
	f := newAPIFixture()

	rec := f.do(t, http.MethodGet, "/assignment/work-items/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, rec)["code"])

	rec = f.do(t, http.MethodGet, "/assignment/work-items/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PATH", decodeBody(t, rec)["code"])
}

func TestAPI_RegenerateRequiresEnabled(t *testing.T) {
	t.Parallel()
	f := newAPIFixture()
	item := workitem.New("Painting", decimal.RequireFromString("600"))
	f.workItems.items[item.ID()] = item

	rec := f.do(t, http.MethodPost, "/assignment/work-items/"+item.ID().String()+"/auto-assign/regenerate", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "VALIDATION", decodeBody(t, rec)["code"])
}

func TestAPI_EnableSurfacesPoolFailure(t *testing.T) {
	t.Parallel()
	f := newAPIFixture()
	item := workitem.New("Fence repair", decimal.RequireFromString("1200"))
	f.workItems.items[item.ID()] = item
	f.pool.err = errors.New("pool timed out")

	rec := f.do(t, http.MethodPost, "/assignment/work-items/"+item.ID().String()+"/auto-assign/enable", "", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "COLLABORATOR_FAILED", decodeBody(t, rec)["code"])
}

func TestAPI_ResolveQueueEntry(t *testing.T) {
	t.Parallel()
	f := newAPIFixture()
	now := time.Now()
	entry := queueentry.NewNotified(uuid.New(), uuid.New(), 0.8, nil, now, now.Add(time.Hour))
	_, err := f.entries.CreateMany(context.Background(), []queueentry.QueueEntry{entry})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/assignment/queue-entries/"+entry.ID().String()+"/resolve", `{"outcome": "accepted"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "accepted", decodeBody(t, rec)["status"])

	// Terminal entries reject further transitions.
	rec = f.do(t, http.MethodPost, "/assignment/queue-entries/"+entry.ID().String()+"/resolve", `{"outcome": "declined"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/assignment/queue-entries/"+entry.ID().String()+"/resolve", `{"outcome": "snoozed"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ExpireDue(t *testing.T) {
	t.Parallel()
	f := newAPIFixture()
	now := time.Now()
	overdue := queueentry.NewNotified(uuid.New(), uuid.New(), 0.8, nil, now.Add(-2*time.Hour), now.Add(-time.Minute))
	_, err := f.entries.CreateMany(context.Background(), []queueentry.QueueEntry{overdue})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/assignment/queue-entries/expire-due", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"expired": 1}`, rec.Body.String())
}

func TestAPI_CommandCenterMetrics(t *testing.T) {
	t.Parallel()
	f := newAPIFixture()
	item := workitem.New("Kitchen refit", decimal.RequireFromString("2500"),
		workitem.WithAutoAssign(true, workitem.AutoAssignQueueActive, workitem.DefaultSettings()))
	f.workItems.items[item.ID()] = item

	rec := f.do(t, http.MethodGet, "/assignment/command-center/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["totalWorkItems"])
	assert.EqualValues(t, 1, body["autoAssignEnabled"])

	rec = f.do(t, http.MethodGet, "/assignment/command-center/metrics?forceRefresh=true", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_ListEvents(t *testing.T) {
	t.Parallel()
	f := newAPIFixture()
	targetID := uuid.New()
	_, err := f.events.Create(context.Background(), assignmentevent.New(targetID, nil, assignmentevent.TypeCreated, nil))
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/assignment/work-items/"+targetID.String()+"/events", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["events"], 1)

	rec = f.do(t, http.MethodGet, "/assignment/work-items/"+targetID.String()+"/events?limit=bad", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_RegenerationContext(t *testing.T) {
	t.Parallel()
	f := newAPIFixture()
	item := workitem.New("Deck build", decimal.RequireFromString("3000"))
	f.workItems.items[item.ID()] = item
	_, err := f.events.Create(context.Background(), assignmentevent.New(item.ID(), nil, assignmentevent.TypeQueueExhausted, map[string]any{"queueSize": 0}))
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/assignment/work-items/"+item.ID().String()+"/regeneration-context", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "exhausted", body["status"])
	assert.Equal(t, "auto_assign_queue_exhausted", body["eventType"])
}
