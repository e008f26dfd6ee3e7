// Package services holds the request-facing task operations: creation
// with the inquiry prelude, answer submission, the processing hand-off
// and reads. Everything past the hand-off belongs to the worker.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jexlab/jex/pkg/config"
	"github.com/jexlab/jex/pkg/database"
	"github.com/jexlab/jex/pkg/metrics"
	"github.com/jexlab/jex/pkg/models"
	"github.com/jexlab/jex/pkg/phases"
	"github.com/jexlab/jex/pkg/pipeline"
)

// List pagination bounds.
const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// TaskStore is the slice of the task store the service uses.
type TaskStore interface {
	Insert(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, taskID string) (*models.Task, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Task, int, error)
	UpdateProcessingState(ctx context.Context, taskID string, collectedInfo map[string]any, state json.RawMessage, cost float64) error
	CASStatus(ctx context.Context, taskID string, from, to models.TaskStatus) (bool, error)
}

// Runner starts the background half of a task. Satisfied by the worker
// runner; a fake stands in for it in tests.
type Runner interface {
	Start(ctx context.Context, task *models.Task, state *models.PhaseState) (bool, error)
}

// TaskService owns the task lifecycle up to the background hand-off.
type TaskService struct {
	tasks  TaskStore
	quota  *QuotaGate
	engine *pipeline.Engine
	caller phases.Caller
	runner Runner
	limits *config.LimitsConfig
	logger *slog.Logger
}

// NewTaskService creates a task service. The engine must contain the
// task graph; creation runs it from evaluate up to the planning pause.
func NewTaskService(tasks TaskStore, quota *QuotaGate, engine *pipeline.Engine, caller phases.Caller, runner Runner, limits *config.LimitsConfig) *TaskService {
	return &TaskService{
		tasks:  tasks,
		quota:  quota,
		engine: engine,
		caller: caller,
		runner: runner,
		limits: limits,
		logger: slog.With("component", "task_service"),
	}
}

// CreateTask consumes one quota unit, inserts the task and runs the
// foreground prelude. It returns either inquiry questions for the user
// to answer or, when the input is already sufficient, the processing
// hand-off. The quota unit is refunded when anything past the increment
// fails.
func (s *TaskService) CreateTask(ctx context.Context, userID, scene, userInput string) (*models.CreateTaskResult, error) {
	if userID == "" {
		return nil, NewValidationError("user_id", "user_id is required")
	}
	if scene == "" {
		return nil, NewValidationError("scene", "scene is required")
	}
	if userInput == "" {
		return nil, NewValidationError("user_input", "user_input is required")
	}

	if err := s.quota.Consume(ctx, userID); err != nil {
		return nil, err
	}

	result, err := s.create(ctx, userID, scene, userInput)
	if err != nil {
		s.quota.Refund(ctx, userID)
		return nil, err
	}

	metrics.TasksCreated.Inc()
	return result, nil
}

func (s *TaskService) create(ctx context.Context, userID, scene, userInput string) (*models.CreateTaskResult, error) {
	task := &models.Task{
		ID:        uuid.New().String(),
		UserID:    userID,
		Scene:     scene,
		UserInput: userInput,
		Status:    models.StatusInquiring,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.tasks.Insert(ctx, task); err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}

	// Foreground prelude: evaluation, and on the inquiry branch the
	// question generation. The direct branch pauses at planning.
	state := models.NewPhaseState(task.ID, userID, scene, userInput)
	stopped, err := s.engine.Run(ctx, state, pipeline.RunOpts{
		StopBefore: func(next string) bool { return next == pipeline.NodePlanning },
	})
	if err != nil {
		return nil, fmt.Errorf("running evaluation: %w", err)
	}

	if stopped == pipeline.End {
		s.logger.Info("Task needs inquiry",
			"task_id", task.ID,
			"user_id", userID,
			"questions", len(state.InquiryQuestions),
			"sufficiency", state.InfoSufficiency)
		return &models.CreateTaskResult{
			TaskID:           task.ID,
			Status:           models.StatusInquiring,
			NeedInquiry:      true,
			InquiryQuestions: state.InquiryQuestions,
			InquiryDetails:   state.InquiryDetails,
			InfoSufficiency:  models.Float(state.InfoSufficiency),
			IntermediateState: &models.IntermediateState{
				ProvidedInfo: state.ProvidedInfo,
				MissingInfo:  state.MissingInfo,
				AuditTrail:   state.AuditTrail,
				TotalCost:    state.TotalCost,
			},
		}, nil
	}

	// Direct branch. The status flips before the spawn so a completed
	// run can never be overwritten back to processing.
	swapped, err := s.tasks.CASStatus(ctx, task.ID, models.StatusInquiring, models.StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("updating task status: %w", err)
	}
	if !swapped {
		return nil, fmt.Errorf("task %s: %w", task.ID, ErrInvalidState)
	}
	task.Status = models.StatusProcessing

	if _, err := s.runner.Start(ctx, task, state); err != nil {
		return nil, fmt.Errorf("starting background run: %w", err)
	}

	s.logger.Info("Task started directly",
		"task_id", task.ID,
		"user_id", userID,
		"sufficiency", state.InfoSufficiency)
	return &models.CreateTaskResult{
		TaskID:        task.ID,
		Status:        models.StatusProcessing,
		EstimatedTime: s.limits.EstimatedTime,
	}, nil
}

// SubmitAnswers folds the user's inquiry answers into the collected
// info and parks the task as ready_for_processing. The client-echoed
// intermediate state is validated against a strict whitelist; identity
// always comes from the stored row.
func (s *TaskService) SubmitAnswers(ctx context.Context, taskID, userID string, answers map[int]string, rawState json.RawMessage) (*models.SubmitAnswersResult, error) {
	inter, err := s.decodeIntermediateState(rawState)
	if err != nil {
		return nil, err
	}

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, storeErr(err)
	}
	if task.UserID != userID {
		return nil, ErrForbidden
	}
	if task.Status != models.StatusInquiring {
		return nil, fmt.Errorf("task is %s: %w", task.Status, ErrInvalidState)
	}

	state := models.NewPhaseState(task.ID, task.UserID, task.Scene, task.UserInput)
	state.NeedInquiry = true
	state.ProvidedInfo = inter.ProvidedInfo
	state.MissingInfo = inter.MissingInfo
	state.TotalCost = inter.TotalCost
	if inter.AuditTrail != nil {
		state.AuditTrail = inter.AuditTrail
	}

	delta, err := phases.ProcessAnswers(ctx, s.caller, state, answers)
	if err != nil {
		return nil, fmt.Errorf("processing answers: %w", err)
	}
	state.Apply(delta)

	blob, err := state.Marshal()
	if err != nil {
		return nil, fmt.Errorf("serializing hand-off state: %w", err)
	}
	if err := s.tasks.UpdateProcessingState(ctx, task.ID, state.CollectedInfo, blob, state.TotalCost); err != nil {
		return nil, storeErr(err)
	}

	swapped, err := s.tasks.CASStatus(ctx, task.ID, models.StatusInquiring, models.StatusReadyForProcessing)
	if err != nil {
		return nil, fmt.Errorf("updating task status: %w", err)
	}
	if !swapped {
		return nil, fmt.Errorf("answers already processed: %w", ErrInvalidState)
	}

	s.logger.Info("Answers accepted",
		"task_id", task.ID,
		"answers", len(answers),
		"collected", len(state.CollectedInfo))
	return &models.SubmitAnswersResult{
		TaskID:        task.ID,
		Status:        models.StatusReadyForProcessing,
		CollectedInfo: state.CollectedInfo,
		EstimatedTime: s.limits.EstimatedTime,
	}, nil
}

// StartProcessing flips a ready task to processing and hands it to the
// background runner. Repeat calls against a task that is already
// processing or completed return the current status instead of failing.
func (s *TaskService) StartProcessing(ctx context.Context, taskID, userID string) (*models.StartProcessingResult, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, storeErr(err)
	}
	if task.UserID != userID {
		return nil, ErrForbidden
	}

	swapped, err := s.tasks.CASStatus(ctx, task.ID, models.StatusReadyForProcessing, models.StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("updating task status: %w", err)
	}
	if !swapped {
		// Lost the swap. Re-read to answer with what actually happened.
		task, err = s.tasks.Get(ctx, taskID)
		if err != nil {
			return nil, storeErr(err)
		}
		switch task.Status {
		case models.StatusProcessing, models.StatusCompleted:
			return &models.StartProcessingResult{
				TaskID:  task.ID,
				Status:  task.Status,
				Message: fmt.Sprintf("task already %s", task.Status),
			}, nil
		default:
			return nil, fmt.Errorf("task is %s: %w", task.Status, ErrInvalidState)
		}
	}
	task.Status = models.StatusProcessing

	if len(task.ProcessingState) == 0 {
		return nil, fmt.Errorf("task has no hand-off state: %w", ErrInvalidState)
	}
	state, err := models.UnmarshalPhaseState(task.ProcessingState)
	if err != nil {
		return nil, fmt.Errorf("restoring hand-off state: %w", err)
	}

	if _, err := s.runner.Start(ctx, task, state); err != nil {
		return nil, fmt.Errorf("starting background run: %w", err)
	}

	return &models.StartProcessingResult{
		TaskID:  task.ID,
		Status:  models.StatusProcessing,
		Message: "processing started",
	}, nil
}

// GetTask returns the caller's task.
func (s *TaskService) GetTask(ctx context.Context, taskID, userID string) (*models.Task, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, storeErr(err)
	}
	if task.UserID != userID {
		return nil, ErrForbidden
	}
	return task, nil
}

// ListTasks returns one page of the caller's tasks, newest first.
func (s *TaskService) ListTasks(ctx context.Context, userID string, limit, offset int) (*models.TaskListResult, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	tasks, total, err := s.tasks.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return &models.TaskListResult{
		Tasks:   tasks,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(tasks) < total,
	}, nil
}

// decodeIntermediateState parses the client-echoed state under the
// whitelist rules: only the four known fields, types enforced, unknown
// fields rejected, cost inside [0, ceiling].
func (s *TaskService) decodeIntermediateState(raw json.RawMessage) (*models.IntermediateState, error) {
	if len(raw) == 0 {
		return nil, NewValidationError("intermediate_state", "intermediate_state is required")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var inter models.IntermediateState
	if err := dec.Decode(&inter); err != nil {
		return nil, NewValidationError("intermediate_state", err.Error())
	}

	if inter.TotalCost < 0 || inter.TotalCost > s.limits.StateCostCeiling {
		return nil, NewValidationError("intermediate_state",
			fmt.Sprintf("total_cost must be within [0, %g]", s.limits.StateCostCeiling))
	}
	return &inter, nil
}

// storeErr translates store sentinels into service sentinels.
func storeErr(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
