package toolsurface

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"veritas/internal/apierr"
	"veritas/internal/authqueue"
	"veritas/internal/config"
	"veritas/internal/model"
	"veritas/internal/scheduler"
	"veritas/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "veritas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestSurface(t *testing.T, s *store.Store) *Surface {
	t.Helper()
	pool := scheduler.NewPool(s, 1)
	auth := authqueue.NewService(s)
	cfg := config.DefaultConfig()
	return NewSurface(s, pool, auth, nil, cfg)
}

// --- Schema validation ---

func TestSchemaValidateInputRejectsMissingRequired(t *testing.T) {
	s := Schema{Required: []string{"task_id"}, Properties: map[string]Property{
		"task_id": {Type: "string"},
	}}
	_, err := s.ValidateInput([]byte(`{}`))
	require.NotNil(t, err)
	require.Equal(t, apierr.KindInvalidInput, err.Kind)
}

func TestSchemaValidateInputRejectsUnexpectedField(t *testing.T) {
	s := Schema{Properties: map[string]Property{
		"task_id": {Type: "string"},
	}}
	_, err := s.ValidateInput([]byte(`{"bogus": 1}`))
	require.NotNil(t, err)
}

func TestSchemaValidateInputRejectsWrongType(t *testing.T) {
	s := Schema{Properties: map[string]Property{
		"wait": {Type: "integer"},
	}}
	_, err := s.ValidateInput([]byte(`{"wait": "soon"}`))
	require.NotNil(t, err)
}

func TestSchemaValidateInputRejectsEnumViolation(t *testing.T) {
	s := Schema{Properties: map[string]Property{
		"mode": {Type: "string", Enum: []string{"graceful", "immediate", "full"}},
	}}
	_, err := s.ValidateInput([]byte(`{"mode": "yesterday"}`))
	require.NotNil(t, err)
}

func TestSchemaValidateInputAcceptsWellFormed(t *testing.T) {
	s := Schema{Required: []string{"task_id"}, Properties: map[string]Property{
		"task_id": {Type: "string"},
		"wait":    {Type: "integer"},
	}}
	obj, err := s.ValidateInput([]byte(`{"task_id": "abc", "wait": 5}`))
	require.Nil(t, err)
	require.Equal(t, "abc", obj["task_id"])
}

func TestSanitizeOutputFiltersUndeclaredKeys(t *testing.T) {
	s := Schema{Properties: map[string]Property{
		"ok": {Type: "boolean"},
	}}
	out, err := SanitizeOutput(s, map[string]any{"ok": true, "secret": "leak"})
	require.NoError(t, err)
	m := out.(map[string]any)
	require.Equal(t, true, m["ok"])
	_, present := m["secret"]
	require.False(t, present)
}

func TestSanitizeOutputPassesThroughWhenSchemaEmpty(t *testing.T) {
	out, err := SanitizeOutput(Schema{}, map[string]any{"columns": []string{"a"}, "rows": 1})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"columns": []string{"a"}, "rows": 1}, out)
}

// --- Registry / dispatch ---

func TestRegistryDispatchUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Dispatch(context.Background(), "nope", nil)
	require.NotNil(t, err)
	require.Equal(t, apierr.KindInvalidInput, err.Kind)
}

func TestRegistryRejectsDuplicateRegistration(t *testing.T) {
	reg := NewRegistry()
	tool := &Tool{Name: "x", Handler: func(ctx context.Context, p map[string]any) (any, *apierr.Error) { return nil, nil }}
	require.NoError(t, reg.Register(tool))
	require.Error(t, reg.Register(tool))
}

// --- create_task / queue_targets idempotence ---

func TestCreateTaskThenQueueTargets(t *testing.T) {
	s := newTestStore(t)
	sf := newTestSurface(t, s)

	created, err := sf.handleCreateTask(context.Background(), map[string]any{"central_hypothesis": "caffeine improves reaction time"})
	require.Nil(t, err)
	taskID := created.(map[string]any)["task_id"].(string)
	require.NotEmpty(t, taskID)

	targets := []any{
		map[string]any{"kind": "url", "value": "https://example.com/a"},
	}
	first, err := sf.handleQueueTargets(context.Background(), map[string]any{"task_id": taskID, "targets": targets})
	require.Nil(t, err)
	firstIDs := first.(map[string]any)["ids"].([]string)
	require.Len(t, firstIDs, 1)

	// Re-queuing the identical target is a no-op (spec.md idempotence on
	// (task_id, kind, value)): same job id comes back.
	second, err := sf.handleQueueTargets(context.Background(), map[string]any{"task_id": taskID, "targets": targets})
	require.Nil(t, err)
	secondIDs := second.(map[string]any)["ids"].([]string)
	require.Equal(t, firstIDs, secondIDs)
}

func TestQueueTargetsRejectsUnknownKind(t *testing.T) {
	s := newTestStore(t)
	sf := newTestSurface(t, s)
	task := &model.Task{CentralHypothesis: "h"}
	require.NoError(t, s.CreateTask(task))

	_, err := sf.handleQueueTargets(context.Background(), map[string]any{
		"task_id": task.ID,
		"targets": []any{map[string]any{"kind": "carrier_pigeon", "value": "x"}},
	})
	require.NotNil(t, err)
	require.Equal(t, apierr.KindInvalidInput, err.Kind)
}

func TestQueueTargetsRejectsPausedTaskWithoutResume(t *testing.T) {
	s := newTestStore(t)
	sf := newTestSurface(t, s)
	task := &model.Task{CentralHypothesis: "h", Status: model.TaskPaused}
	require.NoError(t, s.CreateTask(task))
	require.NoError(t, s.UpdateTaskStatus(task.ID, model.TaskPaused))

	_, err := sf.handleQueueTargets(context.Background(), map[string]any{
		"task_id": task.ID,
		"targets": []any{map[string]any{"kind": "url", "value": "https://example.com/a"}},
	})
	require.NotNil(t, err)

	_, err = sf.handleQueueTargets(context.Background(), map[string]any{
		"task_id": task.ID,
		"resume":  true,
		"targets": []any{map[string]any{"kind": "url", "value": "https://example.com/a"}},
	})
	require.Nil(t, err)
}

// --- get_status ---

func TestGetStatusNoWaitReturnsImmediately(t *testing.T) {
	s := newTestStore(t)
	sf := newTestSurface(t, s)
	task := &model.Task{CentralHypothesis: "h"}
	require.NoError(t, s.CreateTask(task))

	start := time.Now()
	out, err := sf.handleGetStatus(context.Background(), map[string]any{"task_id": task.ID})
	require.Nil(t, err)
	require.Less(t, time.Since(start), time.Second)
	m := out.(map[string]any)
	require.Equal(t, string(model.TaskCreated), m["status"])
}

func TestGetStatusWaitUnblocksOnStatusChange(t *testing.T) {
	s := newTestStore(t)
	sf := newTestSurface(t, s)
	task := &model.Task{CentralHypothesis: "h"}
	require.NoError(t, s.CreateTask(task))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = s.UpdateTaskStatus(task.ID, model.TaskExploring)
	}()

	start := time.Now()
	out, err := sf.handleGetStatus(context.Background(), map[string]any{"task_id": task.ID, "wait": 5})
	elapsed := time.Since(start)
	require.Nil(t, err)
	require.Less(t, elapsed, 5*time.Second, "must wake on change, not sleep the full wait")
	m := out.(map[string]any)
	require.Equal(t, string(model.TaskExploring), m["status"])
}

// --- stop_task ---

func TestStopTaskTransitionsToPaused(t *testing.T) {
	s := newTestStore(t)
	sf := newTestSurface(t, s)
	task := &model.Task{CentralHypothesis: "h", Status: model.TaskExploring}
	require.NoError(t, s.CreateTask(task))
	_, _, err := s.CreateJob(&model.Job{TaskID: task.ID, Kind: model.JobTargetQueue, Priority: model.PriorityMedium}, "")
	require.NoError(t, err)

	out, herr := sf.handleStopTask(context.Background(), map[string]any{"task_id": task.ID, "mode": "graceful"})
	require.Nil(t, herr)
	m := out.(map[string]any)
	require.Equal(t, true, m["ok"])
	require.Equal(t, string(model.TaskPaused), m["status"])

	reloaded, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskPaused, reloaded.Status)
}

func TestStopTaskRejectsBadMode(t *testing.T) {
	s := newTestStore(t)
	sf := newTestSurface(t, s)
	task := &model.Task{CentralHypothesis: "h"}
	require.NoError(t, s.CreateTask(task))

	_, err := sf.handleStopTask(context.Background(), map[string]any{"task_id": task.ID, "mode": "vaporize"})
	require.NotNil(t, err)
}

// --- feedback ---

func TestFeedbackDomainBlockThenUnblock(t *testing.T) {
	s := newTestStore(t)
	sf := newTestSurface(t, s)

	out, err := sf.handleFeedback(context.Background(), map[string]any{
		"action":  "domain_block",
		"payload": map[string]any{"domain": "paywalled.example.com"},
	})
	require.Nil(t, err)
	require.Equal(t, true, out.(map[string]any)["ok"])

	blocked, berr := s.IsDomainBlocked("paywalled.example.com")
	require.NoError(t, berr)
	require.True(t, blocked)

	out, err = sf.handleFeedback(context.Background(), map[string]any{
		"action":  "domain_unblock",
		"payload": map[string]any{"domain": "paywalled.example.com"},
	})
	require.Nil(t, err)
	require.Equal(t, true, out.(map[string]any)["ok"])

	blocked, berr = s.IsDomainBlocked("paywalled.example.com")
	require.NoError(t, berr)
	require.False(t, blocked)
}

func TestFeedbackUnknownActionRejected(t *testing.T) {
	s := newTestStore(t)
	sf := newTestSurface(t, s)
	_, err := sf.handleFeedback(context.Background(), map[string]any{
		"action":  "teleport",
		"payload": map[string]any{},
	})
	require.NotNil(t, err)
}

// --- milestones ---
//
// Milestone derivation itself lives in internal/scheduler (DeriveMilestones)
// and is covered by scheduler/milestones_test.go; only the budget-bucket
// helper is toolsurface's own.

func TestBudgetThresholdBucketCrossesBoundaries(t *testing.T) {
	b := model.Budget{MaxPages: 100}
	require.Equal(t, 0, bucketOf(10, b.MaxPages))
	require.Equal(t, 1, bucketOf(25, b.MaxPages))
	require.Equal(t, 2, bucketOf(50, b.MaxPages))
	require.Equal(t, 3, bucketOf(75, b.MaxPages))
	require.Equal(t, 4, bucketOf(100, b.MaxPages))
	require.Equal(t, 0, bucketOf(10, 0))
}

// --- server / stdio round-trip ---

func TestServerDispatchesLineDelimitedRequests(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{
		Name:         "echo",
		InputSchema:  Schema{Required: []string{"msg"}, Properties: map[string]Property{"msg": {Type: "string"}}},
		OutputSchema: Schema{Properties: map[string]Property{"msg": {Type: "string"}}},
		Handler: func(ctx context.Context, params map[string]any) (any, *apierr.Error) {
			return map[string]any{"msg": params["msg"]}, nil
		},
	})

	var out bytes.Buffer
	srv := NewServer(reg, &out)

	req := Request{ID: json.RawMessage(`1`), Tool: "echo", Params: json.RawMessage(`{"msg":"hi"}`)}
	line, err := json.Marshal(req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	in := bytes.NewReader(append(line, '\n'))
	serveErr := srv.Serve(ctx, in)
	require.True(t, serveErr == nil || serveErr == context.DeadlineExceeded)

	scanner := bufio.NewScanner(&out)
	require.True(t, scanner.Scan())
	var resp Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	require.True(t, resp.OK)
}

func TestServerRespondsWithErrorOnMalformedLine(t *testing.T) {
	reg := NewRegistry()
	var out bytes.Buffer
	srv := NewServer(reg, &out)

	in := bytes.NewReader([]byte("not json\n"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = srv.Serve(ctx, in)

	scanner := bufio.NewScanner(&out)
	require.True(t, scanner.Scan())
	var resp Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	require.False(t, resp.OK)
	require.NotNil(t, resp.Error)
}
