// Package server exposes the HTTP surface: trigger intake, ranking
// operations, the audit trail, health, and metrics.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steelhaus/shopsync/internal/apperr"
	"github.com/steelhaus/shopsync/internal/events"
	"github.com/steelhaus/shopsync/internal/oplog"
	"github.com/steelhaus/shopsync/internal/ranking"
	"github.com/steelhaus/shopsync/internal/records"
	"github.com/steelhaus/shopsync/internal/synclock"
	"github.com/steelhaus/shopsync/internal/syncer"
)

const subjectContextKey = "shopsync_subject"

var (
	errMissingEngine        = errors.New("sync engine dependency required")
	errMissingRanking       = errors.New("ranking service dependency required")
	errMissingOperations    = errors.New("operation log dependency required")
	errMissingEvents        = errors.New("event service dependency required")
	errMissingLock          = errors.New("sync lock dependency required")
	errMissingTokens        = errors.New("token validator dependency required")
	errMissingDatabase      = errors.New("database dependency required")
	errMissingFeed          = errors.New("operation feed dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenValidator checks a bearer token and returns the caller identity.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// Dependencies wires the collaborators the HTTP surface needs.
type Dependencies struct {
	Engine     *syncer.Engine
	Ranking    *ranking.Service
	Operations *oplog.Service
	Events     *events.Service
	Lock       *synclock.Lock
	Tokens     TokenValidator
	Database   *gorm.DB
	Feed       *OperationFeed
	Logger     *zap.Logger
}

// NewHTTPHandler builds the router. Health and metrics stay open; every
// trigger, ranking, and audit route requires a service token.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.Ranking == nil {
		return nil, errMissingRanking
	}
	if deps.Operations == nil {
		return nil, errMissingOperations
	}
	if deps.Events == nil {
		return nil, errMissingEvents
	}
	if deps.Lock == nil {
		return nil, errMissingLock
	}
	if deps.Tokens == nil {
		return nil, errMissingTokens
	}
	if deps.Database == nil {
		return nil, errMissingDatabase
	}
	if deps.Feed == nil {
		return nil, errMissingFeed
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		engine:     deps.Engine,
		ranking:    deps.Ranking,
		operations: deps.Operations,
		events:     deps.Events,
		lock:       deps.Lock,
		tokens:     deps.Tokens,
		db:         deps.Database,
		feed:       deps.Feed,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/triggers/board", handler.handleBoardTrigger)
	protected.POST("/triggers/sheet", handler.handleSheetTrigger)
	protected.POST("/rankings/set-order", handler.handleSetOrder)
	protected.POST("/rankings/promote", handler.handlePromote)
	protected.POST("/rankings/normalize", handler.handleNormalize)
	protected.GET("/audit/operations", handler.handleListOperations)
	protected.GET("/audit/operations/:token/logs", handler.handleOperationLogs)
	protected.GET("/audit/events", handler.handleListEvents)
	protected.GET("/audit/feed", handler.handleOperationFeed)

	return router, nil
}

type httpHandler struct {
	engine     *syncer.Engine
	ranking    *ranking.Service
	operations *oplog.Service
	events     *events.Service
	lock       *synclock.Lock
	tokens     TokenValidator
	db         *gorm.DB
	feed       *OperationFeed
	logger     *zap.Logger
}

type errorPayload struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

type acceptedPayload struct {
	Operation string `json:"operation"`
}

type boardActorPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type boardFieldsPayload struct {
	Stage     *string `json:"stage"`
	StartDate *string `json:"start_date"`
	DueDate   *string `json:"due_date"`
	Notes     *string `json:"notes"`
}

type boardTriggerPayload struct {
	CardID     string             `json:"card_id"`
	ChangeType string             `json:"change_type"`
	ObservedAt string             `json:"observed_at"`
	Actor      boardActorPayload  `json:"actor"`
	Fields     boardFieldsPayload `json:"fields"`
}

func (h *httpHandler) handleBoardTrigger(c *gin.Context) {
	var request boardTriggerPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_request", Message: "malformed trigger body"})
		return
	}
	observedAt, err := time.Parse(time.RFC3339, request.ObservedAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_trigger", Message: "observed_at must be RFC 3339"})
		return
	}

	token, err := h.engine.SubmitBoardPush(syncer.BoardPush{
		CardID:     request.CardID,
		ChangeType: request.ChangeType,
		ObservedAt: observedAt,
		Actor:      syncer.ActorRef{ID: request.Actor.ID, DisplayName: request.Actor.DisplayName},
		Fields: syncer.BoardFields{
			Stage:     request.Fields.Stage,
			StartDate: request.Fields.StartDate,
			DueDate:   request.Fields.DueDate,
			Notes:     request.Fields.Notes,
		},
	})
	if err != nil {
		h.writeTriggerRejection(c, err)
		return
	}
	c.JSON(http.StatusAccepted, acceptedPayload{Operation: token})
}

type sheetRowPayload struct {
	Job         string `json:"job"`
	Release     string `json:"release"`
	Customer    string `json:"customer"`
	Description string `json:"description"`
	Stage       string `json:"stage"`
	StartDate   string `json:"start_date"`
	DueDate     string `json:"due_date"`
	Notes       string `json:"notes"`
	RowRef      string `json:"row_ref"`
}

type sheetTriggerPayload struct {
	LastModified string            `json:"last_modified_time"`
	Rows         []sheetRowPayload `json:"rows"`
}

func (h *httpHandler) handleSheetTrigger(c *gin.Context) {
	var request sheetTriggerPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_request", Message: "malformed trigger body"})
		return
	}
	lastModified, err := time.Parse(time.RFC3339, request.LastModified)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_trigger", Message: "last_modified_time must be RFC 3339"})
		return
	}

	rows := make([]syncer.SheetRow, 0, len(request.Rows))
	for _, row := range request.Rows {
		rows = append(rows, syncer.SheetRow{
			Job:         row.Job,
			Release:     row.Release,
			Customer:    row.Customer,
			Description: row.Description,
			Stage:       row.Stage,
			StartDate:   row.StartDate,
			DueDate:     row.DueDate,
			Notes:       row.Notes,
			RowRef:      row.RowRef,
		})
	}

	token, err := h.engine.SubmitSheetPoll(syncer.SheetPoll{LastModified: lastModified, Rows: rows})
	if err != nil {
		h.writeTriggerRejection(c, err)
		return
	}
	c.JSON(http.StatusAccepted, acceptedPayload{Operation: token})
}

// writeTriggerRejection maps a submit failure onto the trigger contract: a
// held lock or a full queue is backpressure (429), a bad trigger is 400.
func (h *httpHandler) writeTriggerRejection(c *gin.Context, err error) {
	var busy *synclock.BusyError
	if errors.As(err, &busy) {
		seconds := int64(busy.RetryAfter / time.Second)
		c.Header("Retry-After", strconv.FormatInt(seconds, 10))
		c.JSON(http.StatusTooManyRequests, errorPayload{
			Error:             "busy",
			Message:           busy.Error(),
			RetryAfterSeconds: seconds,
		})
		return
	}
	if errors.Is(err, syncer.ErrQueueFull) {
		c.JSON(http.StatusTooManyRequests, errorPayload{
			Error:   "queue_full",
			Message: "sync workers are saturated, retry shortly",
		})
		return
	}
	if errors.Is(err, syncer.ErrInvalidTrigger) {
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_trigger", Message: err.Error()})
		return
	}
	h.logger.Error("trigger submission failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, errorPayload{Error: "internal_error", Message: "trigger could not be accepted"})
}

type setOrderPayload struct {
	SubmittalID string   `json:"submittal_id"`
	Order       *float64 `json:"order"`
}

type promotePayload struct {
	SubmittalID string `json:"submittal_id"`
	GroupID     string `json:"group_id"`
}

type normalizePayload struct {
	GroupID string `json:"group_id"`
}

type orderChangePayload struct {
	SubmittalID string   `json:"submittal_id"`
	BoardCardID string   `json:"board_card_id,omitempty"`
	OldOrder    *float64 `json:"old_order"`
	NewOrder    *float64 `json:"new_order"`
}

type orderChangesResponse struct {
	Changes []orderChangePayload `json:"changes"`
}

func (h *httpHandler) handleSetOrder(c *gin.Context) {
	var request setOrderPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_request", Message: "malformed ranking body"})
		return
	}
	submittalID, err := records.NewSubmittalID(request.SubmittalID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_request", Message: err.Error()})
		return
	}

	changes, err := h.ranking.SetOrder(c.Request.Context(), submittalID, request.Order)
	if err != nil {
		h.writeRankingError(c, err)
		return
	}
	h.mirrorRankingChanges(c, changes)
	c.JSON(http.StatusOK, buildOrderChangesResponse(changes))
}

func (h *httpHandler) handlePromote(c *gin.Context) {
	var request promotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_request", Message: "malformed ranking body"})
		return
	}
	submittalID, err := records.NewSubmittalID(request.SubmittalID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_request", Message: err.Error()})
		return
	}

	changes, err := h.ranking.PromoteToUrgent(c.Request.Context(), submittalID, request.GroupID)
	if err != nil {
		h.writeRankingError(c, err)
		return
	}
	h.mirrorRankingChanges(c, changes)
	c.JSON(http.StatusOK, buildOrderChangesResponse(changes))
}

func (h *httpHandler) handleNormalize(c *gin.Context) {
	var request normalizePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_request", Message: "malformed ranking body"})
		return
	}

	changes, err := h.ranking.ReorderGroupFromOne(c.Request.Context(), request.GroupID)
	if err != nil {
		h.writeRankingError(c, err)
		return
	}
	h.mirrorRankingChanges(c, changes)
	c.JSON(http.StatusOK, buildOrderChangesResponse(changes))
}

func (h *httpHandler) writeRankingError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status := http.StatusInternalServerError
	switch {
	case strings.HasSuffix(code, ".not_found"):
		status = http.StatusNotFound
	case strings.HasSuffix(code, ".rejected"),
		strings.HasSuffix(code, ".unassigned"),
		strings.HasSuffix(code, ".group_mismatch"),
		strings.HasSuffix(code, ".empty_group"):
		status = http.StatusBadRequest
	}
	if code == "" {
		code = "internal_error"
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("ranking operation failed", zap.Error(err))
	}
	c.JSON(status, errorPayload{Error: code, Message: err.Error()})
}

// mirrorRankingChanges queues board deliveries for ranking movements made
// through the API. Delivery problems are retried by the sweeper and never
// fail the request: the local mutation has already committed.
func (h *httpHandler) mirrorRankingChanges(c *gin.Context, changes []ranking.OrderChange) {
	if len(changes) == 0 {
		return
	}
	source := events.FormatSource(records.SystemInternal, c.GetString(subjectContextKey))
	if err := h.engine.MirrorOrderChanges(c.Request.Context(), source, changes); err != nil {
		h.logger.Warn("order mirror delivery incomplete", zap.Error(err))
	}
}

func buildOrderChangesResponse(changes []ranking.OrderChange) orderChangesResponse {
	response := orderChangesResponse{Changes: make([]orderChangePayload, 0, len(changes))}
	for _, change := range changes {
		response.Changes = append(response.Changes, orderChangePayload{
			SubmittalID: change.SubmittalID,
			BoardCardID: change.BoardCardID,
			OldOrder:    change.OldOrder,
			NewOrder:    change.NewOrder,
		})
	}
	return response
}

type operationPayload struct {
	Token              string `json:"token"`
	Type               string `json:"type"`
	Status             string `json:"status"`
	SourceSystem       string `json:"source_system"`
	SourceID           string `json:"source_id"`
	StartedAtSeconds   int64  `json:"started_at_s"`
	CompletedAtSeconds *int64 `json:"completed_at_s,omitempty"`
	DurationMillis     *int64 `json:"duration_ms,omitempty"`
	RecordsProcessed   int    `json:"records_processed"`
	RecordsCreated     int    `json:"records_created"`
	RecordsUpdated     int    `json:"records_updated"`
	RecordsFailed      int    `json:"records_failed"`
	ErrorKind          string `json:"error_kind,omitempty"`
	ErrorMessage       string `json:"error_message,omitempty"`
}

func (h *httpHandler) handleListOperations(c *gin.Context) {
	from, err := parseTimeParam(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_request", Message: "from must be RFC 3339"})
		return
	}
	to, err := parseTimeParam(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_request", Message: "to must be RFC 3339"})
		return
	}

	operations, err := h.operations.ListOperations(c.Request.Context(), oplog.OperationFilter{
		From:     from,
		To:       to,
		Type:     c.Query("type"),
		SourceID: c.Query("source_id"),
		Limit:    parseLimitParam(c.Query("limit")),
	})
	if err != nil {
		h.logger.Error("operation listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorPayload{Error: "internal_error", Message: "operation listing failed"})
		return
	}

	payload := make([]operationPayload, 0, len(operations))
	for _, operation := range operations {
		payload = append(payload, operationPayload{
			Token:              operation.Token,
			Type:               operation.Type,
			Status:             string(operation.Status),
			SourceSystem:       operation.SourceSystem,
			SourceID:           operation.SourceID,
			StartedAtSeconds:   operation.StartedAtSeconds,
			CompletedAtSeconds: operation.CompletedAtSeconds,
			DurationMillis:     operation.DurationMillis,
			RecordsProcessed:   operation.RecordsProcessed,
			RecordsCreated:     operation.RecordsCreated,
			RecordsUpdated:     operation.RecordsUpdated,
			RecordsFailed:      operation.RecordsFailed,
			ErrorKind:          operation.ErrorKind,
			ErrorMessage:       operation.ErrorMessage,
		})
	}
	c.JSON(http.StatusOK, gin.H{"operations": payload})
}

type logEntryPayload struct {
	LoggedAtSeconds int64           `json:"logged_at_s"`
	Level           string          `json:"level"`
	Message         string          `json:"message"`
	Details         json.RawMessage `json:"details,omitempty"`
	JobKey          string          `json:"job_key,omitempty"`
	SubmittalID     string          `json:"submittal_id,omitempty"`
}

func (h *httpHandler) handleOperationLogs(c *gin.Context) {
	token := c.Param("token")
	entries, err := h.operations.ListLogs(c.Request.Context(), token)
	if err != nil {
		h.logger.Error("log listing failed", zap.String("token", token), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorPayload{Error: "internal_error", Message: "log listing failed"})
		return
	}

	payload := make([]logEntryPayload, 0, len(entries))
	for _, entry := range entries {
		details := json.RawMessage(nil)
		if entry.DetailsJSON != "" {
			details = json.RawMessage(entry.DetailsJSON)
		}
		payload = append(payload, logEntryPayload{
			LoggedAtSeconds: entry.LoggedAtSeconds,
			Level:           string(entry.Level),
			Message:         entry.Message,
			Details:         details,
			JobKey:          entry.JobKey,
			SubmittalID:     entry.SubmittalID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": payload})
}

type eventPayload struct {
	EventID          int64           `json:"event_id"`
	EntityType       string          `json:"entity_type"`
	EntityKey        string          `json:"entity_key"`
	Action           string          `json:"action"`
	Source           string          `json:"source"`
	Payload          json.RawMessage `json:"payload"`
	CreatedAtSeconds int64           `json:"created_at_s"`
	AppliedAtSeconds *int64          `json:"applied_at_s,omitempty"`
}

func (h *httpHandler) handleListEvents(c *gin.Context) {
	from, err := parseTimeParam(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_request", Message: "from must be RFC 3339"})
		return
	}
	to, err := parseTimeParam(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorPayload{Error: "invalid_request", Message: "to must be RFC 3339"})
		return
	}

	recorded, err := h.events.List(c.Request.Context(), events.Filter{
		From:       from,
		To:         to,
		EntityType: c.Query("entity_type"),
		EntityKey:  c.Query("entity_key"),
		Source:     c.Query("source"),
		Limit:      parseLimitParam(c.Query("limit")),
	})
	if err != nil {
		h.logger.Error("event listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorPayload{Error: "internal_error", Message: "event listing failed"})
		return
	}

	payload := make([]eventPayload, 0, len(recorded))
	for _, event := range recorded {
		payload = append(payload, eventPayload{
			EventID:          event.EventID,
			EntityType:       event.EntityType,
			EntityKey:        event.EntityKey,
			Action:           event.Action,
			Source:           event.Source,
			Payload:          json.RawMessage(event.PayloadJSON),
			CreatedAtSeconds: event.CreatedAtSeconds,
			AppliedAtSeconds: event.AppliedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": payload})
}

type passSummaryPayload struct {
	Operation          string `json:"operation"`
	Type               string `json:"type"`
	Status             string `json:"status"`
	RecordsProcessed   int    `json:"records_processed"`
	RecordsCreated     int    `json:"records_created"`
	RecordsUpdated     int    `json:"records_updated"`
	RecordsFailed      int    `json:"records_failed"`
	DurationMillis     int64  `json:"duration_ms"`
	ErrorKind          string `json:"error_kind,omitempty"`
	CompletedAtSeconds int64  `json:"completed_at_s"`
}

func (h *httpHandler) handleOperationFeed(c *gin.Context) {
	stream, cancel := h.feed.Subscribe(c.Request.Context())
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		select {
		case summary, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(feedEventPassCompleted, passSummaryPayload{
				Operation:          summary.Token,
				Type:               summary.Type,
				Status:             string(summary.Status),
				RecordsProcessed:   summary.Counts.Processed,
				RecordsCreated:     summary.Counts.Created,
				RecordsUpdated:     summary.Counts.Updated,
				RecordsFailed:      summary.Counts.Failed,
				DurationMillis:     summary.Duration.Milliseconds(),
				ErrorKind:          summary.ErrorKind,
				CompletedAtSeconds: summary.CompletedAt.Unix(),
			})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

type lockStatusPayload struct {
	IsLocked       bool   `json:"is_locked"`
	Holder         string `json:"holder,omitempty"`
	HeldForSeconds int64  `json:"held_for_seconds"`
}

type healthPayload struct {
	Status   string            `json:"status"`
	Database string            `json:"database"`
	Lock     lockStatusPayload `json:"lock"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	holder := h.lock.Holder()
	payload := healthPayload{
		Status:   "ok",
		Database: "ok",
		Lock: lockStatusPayload{
			IsLocked:       holder != "",
			Holder:         holder,
			HeldForSeconds: int64(h.lock.HeldFor() / time.Second),
		},
	}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.logger.Warn("database ping failed", zap.Error(err))
		payload.Status = "degraded"
		payload.Database = "unreachable"
		c.JSON(http.StatusServiceUnavailable, payload)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: "token rejected"})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func parseLimitParam(value string) int {
	if value == "" {
		return 0
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
