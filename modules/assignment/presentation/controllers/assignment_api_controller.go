package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/workmesh/assign-sdk/modules/assignment/domain/aggregates/workitem"
	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/assignmentevent"
	"github.com/workmesh/assign-sdk/modules/assignment/domain/entities/queueentry"
	"github.com/workmesh/assign-sdk/modules/assignment/services"
	"github.com/workmesh/assign-sdk/pkg/application"
	"github.com/workmesh/assign-sdk/pkg/composables"
	"github.com/workmesh/assign-sdk/pkg/constants"
	"github.com/workmesh/assign-sdk/pkg/serrors"
)

const actorHeader = "X-Actor-Id"

type AssignmentAPIController struct {
	app           application.Application
	assignments   *services.AssignmentService
	events        *services.EventsService
	commandCenter *services.CommandCenterService
	basePath      string
}

func NewAssignmentAPIController(app application.Application) application.Controller {
	return &AssignmentAPIController{
		app:           app,
		assignments:   app.Service(services.AssignmentService{}).(*services.AssignmentService),
		events:        app.Service(services.EventsService{}).(*services.EventsService),
		commandCenter: app.Service(services.CommandCenterService{}).(*services.CommandCenterService),
		basePath:      "/assignment",
	}
}

func (c *AssignmentAPIController) Key() string {
	return c.basePath
}

func (c *AssignmentAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.Use(provideActor)

	router.HandleFunc("/work-items", c.CreateWorkItem).Methods(http.MethodPost)
	router.HandleFunc("/work-items/{id}", c.GetWorkItem).Methods(http.MethodGet)
	router.HandleFunc("/work-items/{id}", c.UpdateWorkItem).Methods(http.MethodPatch)
	router.HandleFunc("/work-items/{id}/auto-assign/enable", c.EnableAutoAssign).Methods(http.MethodPost)
	router.HandleFunc("/work-items/{id}/auto-assign/disable", c.DisableAutoAssign).Methods(http.MethodPost)
	router.HandleFunc("/work-items/{id}/auto-assign/regenerate", c.RegenerateQueue).Methods(http.MethodPost)
	router.HandleFunc("/work-items/{id}/queue", c.GetQueue).Methods(http.MethodGet)
	router.HandleFunc("/work-items/{id}/events", c.ListEvents).Methods(http.MethodGet)
	router.HandleFunc("/work-items/{id}/regeneration-context", c.GetRegenerationContext).Methods(http.MethodGet)
	router.HandleFunc("/queue-entries/{id}/resolve", c.ResolveQueueEntry).Methods(http.MethodPost)
	router.HandleFunc("/queue-entries/expire-due", c.ExpireDueEntries).Methods(http.MethodPost)
	router.HandleFunc("/command-center/metrics", c.CommandCenterMetrics).Methods(http.MethodGet)
}

// provideActor reads the optional actor header so mutations can attribute
// audit events. Requests without it record a nil actor.
func provideActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(actorHeader))
		if raw != "" {
			if actorID, err := uuid.Parse(raw); err == nil {
				r = r.WithContext(composables.WithActorID(r.Context(), actorID))
			}
		}
		next.ServeHTTP(w, r)
	})
}

type fairnessRequest struct {
	EnsureNewcomer *bool    `json:"ensureNewcomer"`
	MaxAssignments *float64 `json:"maxAssignments"`
	WindowDays     *float64 `json:"windowDays"`
}

type settingsRequest struct {
	Limit                     *float64           `json:"limit"`
	ExpiresInMinutes          *float64           `json:"expiresInMinutes"`
	Fairness                  *fairnessRequest   `json:"fairness"`
	Weights                   map[string]float64 `json:"weights"`
	MaxAssignmentsForPriority *float64           `json:"maxAssignmentsForPriority"`
}

func (r *settingsRequest) toInput() *workitem.SettingsInput {
	if r == nil {
		return nil
	}
	input := &workitem.SettingsInput{
		Limit:            r.Limit,
		ExpiresInMinutes: r.ExpiresInMinutes,
		Weights:          r.Weights,
	}
	if r.Fairness != nil {
		input.Fairness = &workitem.FairnessInput{
			EnsureNewcomer: r.Fairness.EnsureNewcomer,
			MaxAssignments: r.Fairness.MaxAssignments,
			WindowDays:     r.Fairness.WindowDays,
		}
	}
	// Top-level maxAssignmentsForPriority is the legacy spelling of
	// fairness.maxAssignments. The nested form wins when both are sent.
	if r.MaxAssignmentsForPriority != nil {
		if input.Fairness == nil {
			input.Fairness = &workitem.FairnessInput{}
		}
		if input.Fairness.MaxAssignments == nil {
			input.Fairness.MaxAssignments = r.MaxAssignmentsForPriority
		}
	}
	return input
}

type autoAssignRequest struct {
	Enabled         bool             `json:"enabled"`
	RegenerateQueue bool             `json:"regenerateQueue"`
	Settings        *settingsRequest `json:"settings"`
}

type createWorkItemRequest struct {
	Title        string             `json:"title" validate:"required,max=255"`
	BudgetAmount string             `json:"budgetAmount" validate:"required"`
	Location     string             `json:"location"`
	AutoAssign   *autoAssignRequest `json:"autoAssign"`
}

type updateAutoAssignRequest struct {
	Enabled         *bool            `json:"enabled"`
	RegenerateQueue bool             `json:"regenerateQueue"`
	Settings        *settingsRequest `json:"settings"`
}

type updateWorkItemRequest struct {
	Title        *string                  `json:"title" validate:"omitempty,max=255"`
	BudgetAmount *string                  `json:"budgetAmount"`
	Location     *string                  `json:"location"`
	AutoAssign   *updateAutoAssignRequest `json:"autoAssign"`
}

type resolveQueueEntryRequest struct {
	Outcome string `json:"outcome" validate:"required"`
}

func (c *AssignmentAPIController) CreateWorkItem(w http.ResponseWriter, r *http.Request) {
	var req createWorkItemRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "INVALID_BODY", "invalid json body")
		return
	}
	if err := constants.Validate.Struct(req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}
	budget, err := decimal.NewFromString(req.BudgetAmount)
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "VALIDATION", "budgetAmount is not a valid decimal")
		return
	}

	input := services.CreateWorkItemInput{
		Title:        req.Title,
		BudgetAmount: budget,
		Location:     req.Location,
	}
	if req.AutoAssign != nil {
		input.AutoAssign = &services.AutoAssignInput{
			Enabled:         req.AutoAssign.Enabled,
			RegenerateQueue: req.AutoAssign.RegenerateQueue,
			Settings:        req.AutoAssign.Settings.toInput(),
		}
	}

	item, queue, err := c.assignments.CreateWorkItem(r.Context(), input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkItemWithQueueResponse(item, queue))
}

func (c *AssignmentAPIController) GetWorkItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := c.assignments.GetWorkItem(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkItemResponse(item))
}

func (c *AssignmentAPIController) UpdateWorkItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateWorkItemRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "INVALID_BODY", "invalid json body")
		return
	}
	if err := constants.Validate.Struct(req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}

	input := services.UpdateWorkItemInput{
		Title:    req.Title,
		Location: req.Location,
	}
	if req.BudgetAmount != nil {
		budget, err := decimal.NewFromString(*req.BudgetAmount)
		if err != nil {
			writeAPIError(w, r, http.StatusBadRequest, "VALIDATION", "budgetAmount is not a valid decimal")
			return
		}
		input.BudgetAmount = &budget
	}
	if req.AutoAssign != nil {
		input.AutoAssign = &services.UpdateAutoAssignInput{
			Enabled:         req.AutoAssign.Enabled,
			RegenerateQueue: req.AutoAssign.RegenerateQueue,
			Settings:        req.AutoAssign.Settings.toInput(),
		}
	}

	item, queue, err := c.assignments.UpdateWorkItem(r.Context(), id, input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkItemWithQueueResponse(item, queue))
}

func (c *AssignmentAPIController) EnableAutoAssign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var settings *settingsRequest
	if r.ContentLength > 0 {
		var req struct {
			Settings *settingsRequest `json:"settings"`
		}
		if err := decodeJSON(r.Body, &req); err != nil {
			writeAPIError(w, r, http.StatusBadRequest, "INVALID_BODY", "invalid json body")
			return
		}
		settings = req.Settings
	}

	item, queue, err := c.assignments.EnableAutoAssign(r.Context(), id, settings.toInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkItemWithQueueResponse(item, queue))
}

func (c *AssignmentAPIController) DisableAutoAssign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := c.assignments.DisableAutoAssign(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkItemResponse(item))
}

func (c *AssignmentAPIController) RegenerateQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var settings *settingsRequest
	if r.ContentLength > 0 {
		var req struct {
			Settings *settingsRequest `json:"settings"`
		}
		if err := decodeJSON(r.Body, &req); err != nil {
			writeAPIError(w, r, http.StatusBadRequest, "INVALID_BODY", "invalid json body")
			return
		}
		settings = req.Settings
	}

	item, queue, err := c.assignments.RegenerateQueue(r.Context(), id, settings.toInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkItemWithQueueResponse(item, queue))
}

func (c *AssignmentAPIController) GetQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entries, err := c.assignments.GetQueue(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueResponse(id, entries))
}

func (c *AssignmentAPIController) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeAPIError(w, r, http.StatusBadRequest, "INVALID_QUERY", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	events, err := c.events.ListEvents(r.Context(), id, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventsResponse(id, events))
}

func (c *AssignmentAPIController) GetRegenerationContext(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := c.assignments.GetWorkItem(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var fallbackActor *uuid.UUID
	if actorID, found := composables.UseActorID(r.Context()); found {
		fallbackActor = &actorID
	}
	regenCtx, err := c.events.GetRegenerationContext(r.Context(), item.ID(), fallbackActor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegenerationContextResponse(item.ID(), regenCtx))
}

func (c *AssignmentAPIController) ResolveQueueEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req resolveQueueEntryRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "INVALID_BODY", "invalid json body")
		return
	}
	if err := constants.Validate.Struct(req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "VALIDATION", err.Error())
		return
	}

	entry, err := c.assignments.ResolveQueueEntry(r.Context(), id, req.Outcome)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueEntryResponse(entry))
}

func (c *AssignmentAPIController) ExpireDueEntries(w http.ResponseWriter, r *http.Request) {
	expired, err := c.assignments.ExpireDueEntries(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"expired": expired})
}

func (c *AssignmentAPIController) CommandCenterMetrics(w http.ResponseWriter, r *http.Request) {
	forceRefresh := r.URL.Query().Get("forceRefresh") == "true"
	metrics, err := c.commandCenter.Get(r.Context(), forceRefresh)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "INVALID_PATH", "id is not a valid uuid")
		return uuid.Nil, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, workitem.ErrWorkItemNotFound),
		errors.Is(err, queueentry.ErrQueueEntryNotFound):
		writeAPIError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, services.ErrMissingTarget),
		errors.Is(err, queueentry.ErrInvalidOutcome):
		writeAPIError(w, r, http.StatusBadRequest, serrors.Code(err), err.Error())
	case errors.Is(err, services.ErrAutoAssignDisabled),
		errors.Is(err, queueentry.ErrInvalidTransition):
		writeAPIError(w, r, http.StatusConflict, serrors.Code(err), err.Error())
	case errors.Is(err, services.ErrCandidatePoolFailed):
		writeAPIError(w, r, http.StatusBadGateway, serrors.Code(err), err.Error())
	default:
		writeAPIError(w, r, http.StatusInternalServerError, serrors.Code(err), err.Error())
	}
}

type workItemResponse struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	BudgetAmount      string            `json:"budgetAmount"`
	Location          string            `json:"location"`
	AutoAssignEnabled bool              `json:"autoAssignEnabled"`
	AutoAssignStatus  string            `json:"autoAssignStatus"`
	Settings          workitem.Settings `json:"settings"`
	LastRunAt         *time.Time        `json:"lastRunAt,omitempty"`
	LastQueueSize     int               `json:"lastQueueSize"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

type workItemWithQueueResponse struct {
	workItemResponse
	Queue []queueEntryResponse `json:"queue"`
}

type queueEntryResponse struct {
	ID              string             `json:"id"`
	TargetID        string             `json:"targetId"`
	CandidateID     string             `json:"candidateId"`
	Status          string             `json:"status"`
	Score           float64            `json:"score"`
	WeightBreakdown map[string]float64 `json:"weightBreakdown"`
	NotifiedAt      *time.Time         `json:"notifiedAt,omitempty"`
	ResolvedAt      *time.Time         `json:"resolvedAt,omitempty"`
	ExpiresAt       time.Time          `json:"expiresAt"`
	CreatedAt       time.Time          `json:"createdAt"`
}

type queueResponse struct {
	TargetID string               `json:"targetId"`
	Entries  []queueEntryResponse `json:"entries"`
}

type eventResponse struct {
	ID        string         `json:"id"`
	TargetID  string         `json:"targetId"`
	ActorID   *string        `json:"actorId,omitempty"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
}

type eventsResponse struct {
	TargetID string          `json:"targetId"`
	Events   []eventResponse `json:"events"`
}

type regenerationContextResponse struct {
	TargetID   string         `json:"targetId"`
	Status     string         `json:"status"`
	EventType  string         `json:"eventType,omitempty"`
	ActorID    *string        `json:"actorId,omitempty"`
	OccurredAt *time.Time     `json:"occurredAt,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func toWorkItemResponse(item workitem.WorkItem) workItemResponse {
	return workItemResponse{
		ID:                item.ID().String(),
		Title:             item.Title(),
		BudgetAmount:      item.BudgetAmount().String(),
		Location:          item.Location(),
		AutoAssignEnabled: item.AutoAssignEnabled(),
		AutoAssignStatus:  string(item.AutoAssignStatus()),
		Settings:          item.AutoAssignSettings(),
		LastRunAt:         item.LastRunAt(),
		LastQueueSize:     item.LastQueueSize(),
		CreatedAt:         item.CreatedAt(),
		UpdatedAt:         item.UpdatedAt(),
	}
}

func toWorkItemWithQueueResponse(item workitem.WorkItem, queue []queueentry.QueueEntry) workItemWithQueueResponse {
	entries := make([]queueEntryResponse, 0, len(queue))
	for _, entry := range queue {
		entries = append(entries, toQueueEntryResponse(entry))
	}
	return workItemWithQueueResponse{
		workItemResponse: toWorkItemResponse(item),
		Queue:            entries,
	}
}

func toQueueEntryResponse(entry queueentry.QueueEntry) queueEntryResponse {
	return queueEntryResponse{
		ID:              entry.ID().String(),
		TargetID:        entry.TargetID().String(),
		CandidateID:     entry.CandidateID().String(),
		Status:          string(entry.Status()),
		Score:           entry.Score(),
		WeightBreakdown: entry.WeightBreakdown(),
		NotifiedAt:      entry.NotifiedAt(),
		ResolvedAt:      entry.ResolvedAt(),
		ExpiresAt:       entry.ExpiresAt(),
		CreatedAt:       entry.CreatedAt(),
	}
}

func toQueueResponse(targetID uuid.UUID, entries []queueentry.QueueEntry) queueResponse {
	out := make([]queueEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toQueueEntryResponse(entry))
	}
	return queueResponse{TargetID: targetID.String(), Entries: out}
}

func toEventsResponse(targetID uuid.UUID, events []assignmentevent.AssignmentEvent) eventsResponse {
	out := make([]eventResponse, 0, len(events))
	for _, event := range events {
		resp := eventResponse{
			ID:        event.ID().String(),
			TargetID:  event.TargetID().String(),
			Type:      string(event.Type()),
			Payload:   event.Payload(),
			CreatedAt: event.CreatedAt(),
		}
		if actor := event.ActorID(); actor != nil {
			s := actor.String()
			resp.ActorID = &s
		}
		out = append(out, resp)
	}
	return eventsResponse{TargetID: targetID.String(), Events: out}
}

func toRegenerationContextResponse(targetID uuid.UUID, regenCtx services.RegenerationContext) regenerationContextResponse {
	resp := regenerationContextResponse{
		TargetID:   targetID.String(),
		Status:     regenCtx.Status,
		EventType:  string(regenCtx.EventType),
		OccurredAt: regenCtx.OccurredAt,
		Payload:    regenCtx.Payload,
	}
	if regenCtx.ActorID != nil {
		s := regenCtx.ActorID.String()
		resp.ActorID = &s
	}
	return resp
}
