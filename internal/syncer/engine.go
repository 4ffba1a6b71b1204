package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steelhaus/shopsync/internal/actors"
	"github.com/steelhaus/shopsync/internal/apperr"
	"github.com/steelhaus/shopsync/internal/events"
	"github.com/steelhaus/shopsync/internal/metrics"
	"github.com/steelhaus/shopsync/internal/oplog"
	"github.com/steelhaus/shopsync/internal/outbox"
	"github.com/steelhaus/shopsync/internal/ranking"
	"github.com/steelhaus/shopsync/internal/records"
	"github.com/steelhaus/shopsync/internal/resolver"
	"github.com/steelhaus/shopsync/internal/synclock"
)

// Operation types recorded for sync passes.
const (
	OpTypeBoardSync = "board_sync"
	OpTypeSheetSync = "sheet_sync"
)

const (
	opNewEngine   = "syncer.new_engine"
	opSubmitBoard = "syncer.submit_board"
	opSubmitSheet = "syncer.submit_sheet"
)

const (
	reasonMissingDependency = "missing_dependency"
	reasonInvalidTrigger    = "invalid_trigger"
	reasonTokenFailed       = "token_failed"
	reasonQueueFull         = "queue_full"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 16
)

// ErrQueueFull signals the worker queue rejected a trigger; the sender should
// retry later.
var ErrQueueFull = errors.New("syncer: worker queue is full")

var errMissingDependency = errors.New("syncer: missing dependency")

// PassSummary reports one finished sync pass to listeners.
type PassSummary struct {
	Token       string
	Type        string
	Status      oplog.Status
	Counts      oplog.Counts
	Duration    time.Duration
	ErrorKind   string
	CompletedAt time.Time
}

// PassListener receives pass completions. Implementations must not block.
type PassListener interface {
	PassCompleted(summary PassSummary)
}

// EngineConfig wires the collaborators a sync engine needs.
type EngineConfig struct {
	Database   *gorm.DB
	Lock       *synclock.Lock
	Operations *oplog.Service
	Tokens     oplog.TokenProvider
	Store      *records.Store
	Events     *events.Service
	Outbox     *outbox.Dispatcher
	Ranking    *ranking.Service
	Actors     *actors.Service
	Listener   PassListener
	Clock      func() time.Time
	Logger     *zap.Logger

	EchoWindow       time.Duration
	LockTimeout      time.Duration
	ReworkStage      string
	RequireOperation bool
	Workers          int
	QueueSize        int
}

// Engine accepts normalized triggers, serializes sync passes behind the sync
// lock, and applies the conflict-resolved changes locally before mirroring
// them out through the event ledger and outbox.
type Engine struct {
	db         *gorm.DB
	lock       *synclock.Lock
	operations *oplog.Service
	tokens     oplog.TokenProvider
	store      *records.Store
	events     *events.Service
	outbox     *outbox.Dispatcher
	ranking    *ranking.Service
	actors     *actors.Service
	listener   PassListener
	clock      func() time.Time
	logger     *zap.Logger

	echoWindow       time.Duration
	lockTimeout      time.Duration
	reworkStage      string
	requireOperation bool
	pool             *Pool
}

// NewEngine validates the configuration and starts the worker pool.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	for _, check := range []struct {
		name    string
		missing bool
	}{
		{name: "database", missing: cfg.Database == nil},
		{name: "lock", missing: cfg.Lock == nil},
		{name: "operations", missing: cfg.Operations == nil},
		{name: "tokens", missing: cfg.Tokens == nil},
		{name: "store", missing: cfg.Store == nil},
		{name: "events", missing: cfg.Events == nil},
		{name: "outbox", missing: cfg.Outbox == nil},
		{name: "ranking", missing: cfg.Ranking == nil},
		{name: "actors", missing: cfg.Actors == nil},
	} {
		if check.missing {
			return nil, apperr.New(opNewEngine, reasonMissingDependency, fmt.Errorf("%w: %s", errMissingDependency, check.name))
		}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}

	return &Engine{
		db:               cfg.Database,
		lock:             cfg.Lock,
		operations:       cfg.Operations,
		tokens:           cfg.Tokens,
		store:            cfg.Store,
		events:           cfg.Events,
		outbox:           cfg.Outbox,
		ranking:          cfg.Ranking,
		actors:           cfg.Actors,
		listener:         cfg.Listener,
		clock:            clock,
		logger:           logger,
		echoWindow:       cfg.EchoWindow,
		lockTimeout:      cfg.LockTimeout,
		reworkStage:      strings.TrimSpace(cfg.ReworkStage),
		requireOperation: cfg.RequireOperation,
		pool:             NewPool(workers, queueSize),
	}, nil
}

// Stop waits for queued and running passes to finish. Stop the trigger
// surface first.
func (e *Engine) Stop() {
	e.pool.Stop()
}

// SubmitBoardPush validates and enqueues a board pass, returning the
// operation token the pass will run under. A held lock or a full queue
// rejects the trigger instead of buffering it.
func (e *Engine) SubmitBoardPush(push BoardPush) (string, error) {
	if err := push.Validate(); err != nil {
		return "", apperr.New(opSubmitBoard, reasonInvalidTrigger, err)
	}
	return e.submit(opSubmitBoard, func(token string) {
		e.runBoardPass(token, push)
	})
}

// SubmitSheetPoll validates and enqueues a sheet pass, returning the
// operation token the pass will run under.
func (e *Engine) SubmitSheetPoll(poll SheetPoll) (string, error) {
	if err := poll.Validate(); err != nil {
		return "", apperr.New(opSubmitSheet, reasonInvalidTrigger, err)
	}
	return e.submit(opSubmitSheet, func(token string) {
		e.runSheetPass(token, poll)
	})
}

func (e *Engine) submit(operation string, run func(token string)) (string, error) {
	if busy := e.lock.Busy(); busy != nil {
		metrics.LockBusyRejections.Inc()
		return "", busy
	}
	token, err := e.tokens.NewToken()
	if err != nil {
		return "", apperr.New(operation, reasonTokenFailed, err)
	}
	if !e.pool.TrySubmit(func() { run(token) }) {
		e.logger.Warn("trigger rejected, worker queue full", zap.String("token", token))
		return "", apperr.New(operation, reasonQueueFull, ErrQueueFull)
	}
	return token, nil
}

func (e *Engine) runBoardPass(token string, push BoardPush) {
	e.runPass(token, OpTypeBoardSync, records.SystemBoard, push.CardID,
		func(ctx context.Context, op *oplog.SyncOperation) (oplog.Counts, error) {
			return e.applyBoardPush(ctx, op, push)
		})
}

func (e *Engine) runSheetPass(token string, poll SheetPoll) {
	e.runPass(token, OpTypeSheetSync, records.SystemSheet, poll.LastModified.UTC().Format(time.RFC3339),
		func(ctx context.Context, op *oplog.SyncOperation) (oplog.Counts, error) {
			return e.applySheetPoll(ctx, op, poll)
		})
}

// runPass owns the pass lifecycle: lock, operation record, work, close,
// metrics, listener. A lock held by another pass closes the operation SKIPPED
// instead of waiting out long timeouts inside a worker slot.
func (e *Engine) runPass(token string, opType string, sourceSystem string, sourceID string, work func(context.Context, *oplog.SyncOperation) (oplog.Counts, error)) {
	ctx := context.Background()
	started := e.clock()

	scope, err := e.lock.Acquire(ctx, token, e.lockTimeout)
	if err != nil {
		e.skipPass(ctx, token, opType, sourceSystem, sourceID, err)
		return
	}
	defer scope.Release()

	op, err := e.operations.Open(ctx, token, opType, sourceSystem, sourceID)
	if err != nil {
		if e.requireOperation {
			e.logger.Error("operation open failed, pass aborted", zap.String("token", token), zap.Error(err))
			e.finishPass(token, opType, oplog.StatusFailed, oplog.Counts{}, apperr.CodeOf(err), started)
			return
		}
		e.logger.Warn("proceeding without operation record", zap.String("token", token), zap.Error(err))
		op = nil
	}

	counts, passErr := work(ctx, op)
	status := oplog.StatusCompleted
	errorKind := ""
	errorMessage := ""
	if passErr != nil {
		status = oplog.StatusFailed
		errorKind = apperr.CodeOf(passErr)
		if errorKind == "" {
			errorKind = "internal"
		}
		errorMessage = passErr.Error()
		e.logger.Error("sync pass failed", zap.String("token", token), zap.String("type", opType), zap.Error(passErr))
	}

	if err := e.operations.Close(ctx, op, status, counts, errorKind, errorMessage); err != nil {
		e.logger.Warn("operation close failed", zap.String("token", token), zap.Error(err))
	}
	e.finishPass(token, opType, status, counts, errorKind, started)
}

func (e *Engine) skipPass(ctx context.Context, token string, opType string, sourceSystem string, sourceID string, cause error) {
	metrics.LockBusyRejections.Inc()
	started := e.clock()

	op, err := e.operations.Open(ctx, token, opType, sourceSystem, sourceID)
	if err != nil {
		op = nil
	}
	e.operations.Log(ctx, op, oplog.LevelWarn, "sync lock busy, pass skipped", map[string]any{
		"holder": e.lock.Holder(),
	})
	if err := e.operations.Close(ctx, op, oplog.StatusSkipped, oplog.Counts{}, "busy", cause.Error()); err != nil {
		e.logger.Warn("operation close failed", zap.String("token", token), zap.Error(err))
	}
	e.finishPass(token, opType, oplog.StatusSkipped, oplog.Counts{}, "busy", started)
}

func (e *Engine) finishPass(token string, opType string, status oplog.Status, counts oplog.Counts, errorKind string, started time.Time) {
	completed := e.clock()
	duration := completed.Sub(started)
	metrics.SyncPasses.WithLabelValues(opType, strings.ToLower(string(status))).Inc()
	metrics.SyncPassDuration.WithLabelValues(opType).Observe(duration.Seconds())
	if e.listener != nil {
		e.listener.PassCompleted(PassSummary{
			Token:       token,
			Type:        opType,
			Status:      status,
			Counts:      counts,
			Duration:    duration,
			ErrorKind:   errorKind,
			CompletedAt: completed,
		})
	}
}

// fieldChange is one accepted field-group update ready to persist and mirror.
type fieldChange struct {
	patch   records.JobPatch
	action  string
	payload events.Transition
}

func (e *Engine) applyBoardPush(ctx context.Context, op *oplog.SyncOperation, push BoardPush) (oplog.Counts, error) {
	counts := oplog.Counts{Processed: 1}

	actorName := push.Actor.DisplayName
	if push.Actor.ID != "" {
		resolved, err := e.actors.Resolve(ctx, records.SystemBoard, push.Actor.ID, push.Actor.DisplayName)
		if err != nil {
			e.operations.Log(ctx, op, oplog.LevelWarn, "actor resolution failed", map[string]any{"actor_id": push.Actor.ID, "error": err})
		} else {
			actorName = resolved
		}
	}
	eventSource := events.FormatSource(records.SystemBoard, actorName)

	job, err := e.store.JobByCardID(ctx, push.CardID)
	if err != nil {
		counts.Failed = 1
		return counts, err
	}
	if job != nil {
		updated, err := e.applyJobPush(ctx, op, job, push, eventSource)
		if err != nil {
			counts.Failed = 1
			return counts, err
		}
		if updated {
			counts.Updated = 1
		}
		return counts, nil
	}

	submittal, err := e.store.SubmittalByCardID(ctx, push.CardID)
	if err != nil {
		counts.Failed = 1
		return counts, err
	}
	if submittal == nil {
		counts.Failed = 1
		e.operations.Log(ctx, op, oplog.LevelWarn, "board card matches no record", map[string]any{"card_id": push.CardID})
		return counts, nil
	}

	updated, err := e.applySubmittalPush(ctx, op, submittal, push, eventSource)
	if err != nil {
		counts.Failed = 1
		return counts, err
	}
	if updated {
		counts.Updated = 1
	}
	return counts, nil
}

// applyJobPush resolves and applies the field groups a board push carries for
// a job, then mirrors accepted groups to the sheet. Conflict stamps record
// the source system; the richer "System - actor" attribution goes on events.
func (e *Engine) applyJobPush(ctx context.Context, op *oplog.SyncOperation, job *records.Job, push BoardPush, eventSource string) (bool, error) {
	var candidates []fieldChange

	if push.Fields.Stage != nil {
		incoming := *push.Fields.Stage
		if incoming != job.Stage {
			candidates = append(candidates, fieldChange{
				patch:   records.JobPatch{Group: resolver.GroupStage, Stage: incoming, Source: records.SystemBoard, ObservedAt: push.ObservedAt},
				action:  events.ActionStageChanged,
				payload: events.Transition{From: job.Stage, To: incoming},
			})
		}
	}
	if push.Fields.StartDate != nil || push.Fields.DueDate != nil {
		startDate := job.StartDate
		if push.Fields.StartDate != nil {
			startDate = *push.Fields.StartDate
		}
		dueDate := job.DueDate
		if push.Fields.DueDate != nil {
			dueDate = *push.Fields.DueDate
		}
		if startDate != job.StartDate || dueDate != job.DueDate {
			candidates = append(candidates, fieldChange{
				patch:  records.JobPatch{Group: resolver.GroupSchedule, StartDate: startDate, DueDate: dueDate, Source: records.SystemBoard, ObservedAt: push.ObservedAt},
				action: events.ActionScheduleChanged,
				payload: events.Transition{
					From: map[string]any{"start_date": job.StartDate, "due_date": job.DueDate},
					To:   map[string]any{"start_date": startDate, "due_date": dueDate},
				},
			})
		}
	}
	if push.Fields.Notes != nil {
		incoming := *push.Fields.Notes
		if incoming != job.Notes {
			candidates = append(candidates, fieldChange{
				patch:   records.JobPatch{Group: resolver.GroupNotes, Notes: incoming, Source: records.SystemBoard, ObservedAt: push.ObservedAt},
				action:  events.ActionNotesChanged,
				payload: events.Transition{From: job.Notes, To: incoming},
			})
		}
	}

	accepted := e.resolveCandidates(ctx, op, candidates, job.Key(), func(group resolver.FieldGroup) resolver.FieldState {
		return job.GroupState(group)
	}, records.SystemBoard, push.ObservedAt)
	if len(accepted) == 0 {
		e.operations.Log(ctx, op, oplog.LevelInfo, "push produced no applicable changes", map[string]any{"job_key": job.Key()})
		return false, nil
	}

	patches := make([]records.JobPatch, 0, len(accepted))
	for _, change := range accepted {
		patches = append(patches, change.patch)
	}
	if err := e.store.ApplyJobGroups(ctx, job.Ref(), patches); err != nil {
		return false, err
	}

	for _, change := range accepted {
		e.operations.Log(ctx, op, oplog.LevelInfo, "job group applied", map[string]any{
			"job_key": job.Key(),
			"group":   string(change.patch.Group),
			"source":  eventSource,
		})
		event := events.NewEvent{
			EntityType: records.EntityJob,
			EntityKey:  job.Key(),
			Action:     change.action,
			Source:     eventSource,
			Payload:    change.payload,
		}
		if err := e.emitAndDispatch(ctx, op, event, outbox.DestinationSheet, outbox.ActionCellWrite); err != nil {
			return true, err
		}
	}
	return true, nil
}

// applySubmittalPush applies a stage change to a submittal. Submittal stages
// stay internal (no outbound mirror), but a move into the rework stage
// promotes the submittal on its group ladder and mirrors the resulting order
// changes back to the board.
func (e *Engine) applySubmittalPush(ctx context.Context, op *oplog.SyncOperation, submittal *records.Submittal, push BoardPush, eventSource string) (bool, error) {
	if push.Fields.Stage == nil {
		e.operations.Log(ctx, op, oplog.LevelInfo, "push carries no submittal stage", map[string]any{"submittal_id": submittal.SubmittalID})
		return false, nil
	}
	incoming := *push.Fields.Stage
	if incoming == submittal.Stage {
		e.operations.Log(ctx, op, oplog.LevelDebug, "submittal stage unchanged", map[string]any{"submittal_id": submittal.SubmittalID})
		return false, nil
	}

	observation := resolver.Observation{Source: records.SystemBoard, ObservedAt: push.ObservedAt}
	decision := resolver.Decide(observation, submittal.GroupState(resolver.GroupStage), e.echoWindow)
	if decision != resolver.DecisionApply {
		e.operations.Log(ctx, op, oplog.LevelInfo, "submittal stage skipped", map[string]any{
			"submittal_id": submittal.SubmittalID,
			"decision":     decision.String(),
		})
		return false, nil
	}

	id, err := records.NewSubmittalID(submittal.SubmittalID)
	if err != nil {
		return false, err
	}
	if err := e.store.ApplySubmittalStage(ctx, id, records.StagePatch{Stage: incoming, Source: records.SystemBoard, ObservedAt: push.ObservedAt}); err != nil {
		return false, err
	}
	e.operations.Log(ctx, op, oplog.LevelInfo, "submittal stage applied", map[string]any{
		"submittal_id": submittal.SubmittalID,
		"from":         submittal.Stage,
		"to":           incoming,
	})

	event := events.NewEvent{
		EntityType: records.EntitySubmittal,
		EntityKey:  submittal.SubmittalID,
		Action:     events.ActionStageChanged,
		Source:     eventSource,
		Payload:    events.Transition{From: submittal.Stage, To: incoming},
	}
	if err := e.emitInternal(ctx, op, event); err != nil {
		return true, err
	}

	if e.reworkStage != "" && strings.EqualFold(incoming, e.reworkStage) {
		e.promoteForRework(ctx, op, submittal, eventSource)
	}
	return true, nil
}

// promoteForRework bumps a submittal onto the urgent ladder after a rework
// move. Promotion failures are logged, not escalated: the stage change itself
// already landed.
func (e *Engine) promoteForRework(ctx context.Context, op *oplog.SyncOperation, submittal *records.Submittal, eventSource string) {
	id, err := records.NewSubmittalID(submittal.SubmittalID)
	if err != nil {
		return
	}
	changes, err := e.ranking.PromoteToUrgent(ctx, id, submittal.AssignmentGroup)
	if err != nil {
		e.operations.Log(ctx, op, oplog.LevelError, "rework promotion failed", map[string]any{
			"submittal_id": submittal.SubmittalID,
			"error":        err,
		})
		return
	}
	e.operations.Log(ctx, op, oplog.LevelInfo, "submittal promoted for rework", map[string]any{
		"submittal_id": submittal.SubmittalID,
		"moved":        len(changes),
	})
	e.mirrorOrderChanges(ctx, op, eventSource, changes)
}

func (e *Engine) applySheetPoll(ctx context.Context, op *oplog.SyncOperation, poll SheetPoll) (oplog.Counts, error) {
	var counts oplog.Counts
	eventSource := events.FormatSource(records.SystemSheet, "")

	for _, row := range poll.Rows {
		counts.Processed++

		ref, err := records.NewJobRef(row.Job, row.Release)
		if err != nil {
			counts.Failed++
			e.operations.Log(ctx, op, oplog.LevelWarn, "sheet row rejected", map[string]any{
				"row_ref": row.RowRef,
				"error":   err,
			})
			continue
		}

		job, err := e.store.JobByRef(ctx, ref)
		if err != nil {
			counts.Failed++
			return counts, err
		}
		if job == nil {
			if err := e.createJobFromRow(ctx, op, ref, row, eventSource, poll.LastModified); err != nil {
				counts.Failed++
				return counts, err
			}
			counts.Created++
			continue
		}

		updated, err := e.applyJobRow(ctx, op, job, row, eventSource, poll.LastModified)
		if err != nil {
			counts.Failed++
			return counts, err
		}
		if updated {
			counts.Updated++
		}
	}
	return counts, nil
}

// createJobFromRow materializes a job the sheet knows and the store does not.
// The sheet is the intake surface: board cards never create jobs, rows do.
func (e *Engine) createJobFromRow(ctx context.Context, op *oplog.SyncOperation, ref records.JobRef, row SheetRow, eventSource string, observedAt time.Time) error {
	stamp := observedAt.UTC().Unix()
	job := &records.Job{
		JobNumber:                ref.Number,
		Release:                  ref.Release,
		Customer:                 row.Customer,
		Description:              row.Description,
		Stage:                    row.Stage,
		StartDate:                row.StartDate,
		DueDate:                  row.DueDate,
		Notes:                    row.Notes,
		SheetRowRef:              row.RowRef,
		StageSource:              records.SystemSheet,
		StageUpdatedAtSeconds:    stamp,
		ScheduleSource:           records.SystemSheet,
		ScheduleUpdatedAtSeconds: stamp,
		NotesSource:              records.SystemSheet,
		NotesUpdatedAtSeconds:    stamp,
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return err
	}
	e.operations.Log(ctx, op, oplog.LevelInfo, "job created from sheet row", map[string]any{
		"job_key": ref.Key(),
		"row_ref": row.RowRef,
	})

	event := events.NewEvent{
		EntityType: records.EntityJob,
		EntityKey:  ref.Key(),
		Action:     events.ActionCreated,
		Source:     eventSource,
		Payload: events.Transition{
			From: nil,
			To: map[string]any{
				"stage":      row.Stage,
				"start_date": row.StartDate,
				"due_date":   row.DueDate,
			},
		},
	}
	return e.emitAndDispatch(ctx, op, event, outbox.DestinationBoard, outbox.ActionMove)
}

// applyJobRow resolves and applies a sheet row against a stored job, then
// mirrors accepted groups to the board.
func (e *Engine) applyJobRow(ctx context.Context, op *oplog.SyncOperation, job *records.Job, row SheetRow, eventSource string, observedAt time.Time) (bool, error) {
	var candidates []fieldChange

	if row.Stage != job.Stage {
		candidates = append(candidates, fieldChange{
			patch:   records.JobPatch{Group: resolver.GroupStage, Stage: row.Stage, Source: records.SystemSheet, ObservedAt: observedAt},
			action:  events.ActionStageChanged,
			payload: events.Transition{From: job.Stage, To: row.Stage},
		})
	}
	if row.StartDate != job.StartDate || row.DueDate != job.DueDate {
		candidates = append(candidates, fieldChange{
			patch:  records.JobPatch{Group: resolver.GroupSchedule, StartDate: row.StartDate, DueDate: row.DueDate, Source: records.SystemSheet, ObservedAt: observedAt},
			action: events.ActionScheduleChanged,
			payload: events.Transition{
				From: map[string]any{"start_date": job.StartDate, "due_date": job.DueDate},
				To:   map[string]any{"start_date": row.StartDate, "due_date": row.DueDate},
			},
		})
	}
	if row.Notes != job.Notes {
		candidates = append(candidates, fieldChange{
			patch:   records.JobPatch{Group: resolver.GroupNotes, Notes: row.Notes, Source: records.SystemSheet, ObservedAt: observedAt},
			action:  events.ActionNotesChanged,
			payload: events.Transition{From: job.Notes, To: row.Notes},
		})
	}

	accepted := e.resolveCandidates(ctx, op, candidates, job.Key(), func(group resolver.FieldGroup) resolver.FieldState {
		return job.GroupState(group)
	}, records.SystemSheet, observedAt)
	if len(accepted) == 0 {
		return false, nil
	}

	patches := make([]records.JobPatch, 0, len(accepted))
	for _, change := range accepted {
		patches = append(patches, change.patch)
	}
	if err := e.store.ApplyJobGroups(ctx, job.Ref(), patches); err != nil {
		return false, err
	}

	for _, change := range accepted {
		e.operations.Log(ctx, op, oplog.LevelInfo, "job group applied", map[string]any{
			"job_key": job.Key(),
			"group":   string(change.patch.Group),
			"source":  eventSource,
		})
		event := events.NewEvent{
			EntityType: records.EntityJob,
			EntityKey:  job.Key(),
			Action:     change.action,
			Source:     eventSource,
			Payload:    change.payload,
		}
		if err := e.emitAndDispatch(ctx, op, event, outbox.DestinationBoard, boardActionForGroup(change.patch.Group)); err != nil {
			return true, err
		}
	}
	return true, nil
}

// resolveCandidates filters dirty field groups through the conflict resolver.
func (e *Engine) resolveCandidates(ctx context.Context, op *oplog.SyncOperation, candidates []fieldChange, jobKey string, stateOf func(resolver.FieldGroup) resolver.FieldState, system string, observedAt time.Time) []fieldChange {
	observation := resolver.Observation{Source: system, ObservedAt: observedAt}
	accepted := make([]fieldChange, 0, len(candidates))
	for _, candidate := range candidates {
		decision := resolver.Decide(observation, stateOf(candidate.patch.Group), e.echoWindow)
		if decision != resolver.DecisionApply {
			e.operations.Log(ctx, op, oplog.LevelInfo, "field group skipped", map[string]any{
				"job_key":  jobKey,
				"group":    string(candidate.patch.Group),
				"decision": decision.String(),
			})
			continue
		}
		accepted = append(accepted, candidate)
	}
	return accepted
}

// boardActionForGroup maps an accepted job field group onto the board
// connector action that mirrors it.
func boardActionForGroup(group resolver.FieldGroup) string {
	switch group {
	case resolver.GroupStage:
		return outbox.ActionMove
	case resolver.GroupSchedule:
		return outbox.ActionFieldUpdate
	default:
		return outbox.ActionCommentAppend
	}
}

// MirrorOrderChanges records order-change events for ranking movements made
// outside a sync pass and queues their board deliveries. Failures are logged
// per change; the ranking mutation itself has already committed.
func (e *Engine) MirrorOrderChanges(ctx context.Context, source string, changes []ranking.OrderChange) error {
	return e.mirrorOrderChanges(ctx, nil, source, changes)
}

func (e *Engine) mirrorOrderChanges(ctx context.Context, op *oplog.SyncOperation, source string, changes []ranking.OrderChange) error {
	var lastErr error
	for _, change := range changes {
		if change.BoardCardID == "" {
			continue
		}
		event := events.NewEvent{
			EntityType: records.EntitySubmittal,
			EntityKey:  change.SubmittalID,
			Action:     events.ActionOrderChanged,
			Source:     source,
			Payload: events.Transition{
				From: orderTransitionValue(change.OldOrder),
				To:   orderTransitionValue(change.NewOrder),
			},
		}
		if err := e.emitAndDispatch(ctx, op, event, outbox.DestinationBoard, outbox.ActionFieldUpdate); err != nil {
			e.operations.Log(ctx, op, oplog.LevelError, "order mirror failed", map[string]any{
				"submittal_id": change.SubmittalID,
				"error":        err,
			})
			lastErr = err
		}
	}
	return lastErr
}

func orderTransitionValue(order *float64) any {
	if order == nil {
		return nil
	}
	return *order
}

// emitAndDispatch records an event and its outbox item in one transaction,
// then tries the delivery immediately. A duplicate event skips the enqueue; a
// failed immediate attempt is left to the sweeper.
func (e *Engine) emitAndDispatch(ctx context.Context, op *oplog.SyncOperation, input events.NewEvent, destination string, action string) error {
	var eventID int64
	var itemID int64
	duplicate := false

	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		outcome, err := e.events.WithTx(tx).Create(ctx, input)
		if err != nil {
			return err
		}
		eventID = outcome.EventID
		duplicate = outcome.Duplicate
		if duplicate {
			return nil
		}
		item, err := e.outbox.WithTx(tx).Enqueue(ctx, outcome.EventID, destination, action)
		if err != nil {
			return err
		}
		itemID = item.ItemID
		return nil
	})
	if txErr != nil {
		return txErr
	}

	if duplicate {
		e.operations.Log(ctx, op, oplog.LevelInfo, "event already recorded, delivery skipped", map[string]any{
			"event_id": eventID,
			"action":   input.Action,
		})
		return nil
	}

	e.operations.Log(ctx, op, oplog.LevelInfo, "event recorded", map[string]any{
		"event_id":    eventID,
		"action":      input.Action,
		"destination": destination,
	})

	outcome, err := e.outbox.Attempt(ctx, itemID)
	if err != nil {
		e.operations.Log(ctx, op, oplog.LevelWarn, "immediate delivery attempt errored", map[string]any{
			"item_id": itemID,
			"error":   err,
		})
		return nil
	}
	if outcome != outbox.OutcomeCompleted {
		e.operations.Log(ctx, op, oplog.LevelWarn, "immediate delivery not completed", map[string]any{
			"item_id": itemID,
			"outcome": outcome,
		})
	}
	return nil
}

// emitInternal records an event that has no external destination and closes
// it in place.
func (e *Engine) emitInternal(ctx context.Context, op *oplog.SyncOperation, input events.NewEvent) error {
	outcome, err := e.events.Create(ctx, input)
	if err != nil {
		return err
	}
	if outcome.Duplicate {
		e.operations.Log(ctx, op, oplog.LevelInfo, "event already recorded", map[string]any{"event_id": outcome.EventID})
		return nil
	}
	if err := e.events.Close(ctx, outcome.EventID); err != nil {
		return err
	}
	e.operations.Log(ctx, op, oplog.LevelInfo, "event recorded without external delivery", map[string]any{
		"event_id": outcome.EventID,
		"action":   input.Action,
	})
	return nil
}
