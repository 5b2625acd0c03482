package toolsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"veritas/internal/apierr"
	"veritas/internal/model"
	"veritas/internal/scheduler"
)

func (sf *Surface) createTaskTool() *Tool {
	return &Tool{
		Name:        "create_task",
		Description: "Creates a Task in the created state. No work starts until queue_targets is called.",
		InputSchema: Schema{
			Required: []string{"central_hypothesis"},
			Properties: map[string]Property{
				"central_hypothesis": {Type: "string", Description: "The hypothesis this task gathers evidence for or against."},
				"max_pages":          {Type: "integer"},
				"max_fragments":      {Type: "integer"},
				"max_claims":         {Type: "integer"},
				"wall_clock_seconds": {Type: "integer"},
				"priority_domains":   {Type: "array", Items: &PropertyItems{Type: "string"}},
			},
		},
		OutputSchema: Schema{Properties: map[string]Property{
			"task_id": {Type: "string"},
		}},
		Handler: sf.handleCreateTask,
	}
}

func (sf *Surface) handleCreateTask(ctx context.Context, params map[string]any) (any, *apierr.Error) {
	hypothesis, _ := params["central_hypothesis"].(string)
	if strings.TrimSpace(hypothesis) == "" {
		return nil, apierr.FieldError("central_hypothesis", "string", "central_hypothesis must be non-empty")
	}

	budget := model.Budget{
		MaxPages:     sf.cfg.BudgetDefaults.MaxPages,
		MaxFragments: sf.cfg.BudgetDefaults.MaxFragments,
		MaxClaims:    sf.cfg.BudgetDefaults.MaxClaims,
		WallClock:    sf.cfg.BudgetDefaults.WallClock,
	}
	if v, ok := intParam(params, "max_pages"); ok {
		budget.MaxPages = v
	}
	if v, ok := intParam(params, "max_fragments"); ok {
		budget.MaxFragments = v
	}
	if v, ok := intParam(params, "max_claims"); ok {
		budget.MaxClaims = v
	}
	if v, ok := intParam(params, "wall_clock_seconds"); ok {
		budget.WallClock = time.Duration(v) * time.Second
	}
	domains, _ := stringSliceParam(params, "priority_domains")

	task := &model.Task{CentralHypothesis: hypothesis, Budget: budget, PriorityDomains: domains}
	if err := sf.store.CreateTask(task); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFatal, "create task", err)
	}
	return map[string]any{"task_id": task.ID}, nil
}

func (sf *Surface) queueTargetsTool() *Tool {
	return &Tool{
		Name:        "queue_targets",
		Description: "Enqueues one target_queue job per target. Idempotent on (task_id, kind, value).",
		InputSchema: Schema{
			Required: []string{"task_id", "targets"},
			Properties: map[string]Property{
				"task_id": {Type: "string"},
				"targets": {Type: "array", Items: &PropertyItems{Type: "object"}},
				"resume":  {Type: "boolean"},
			},
		},
		OutputSchema: Schema{Properties: map[string]Property{
			"queued_count": {Type: "integer"},
			"ids":          {Type: "array"},
		}},
		Handler: sf.handleQueueTargets,
	}
}

func (sf *Surface) handleQueueTargets(ctx context.Context, params map[string]any) (any, *apierr.Error) {
	taskID, _ := params["task_id"].(string)
	task, err := sf.store.GetTask(taskID)
	if err != nil {
		return nil, notFound(err, "task")
	}

	resume, _ := params["resume"].(bool)
	if task.Status == model.TaskPaused && !resume {
		return nil, apierr.New(apierr.KindInvalidInput, "task is paused; pass resume=true to queue new targets")
	}

	rawTargets, _ := params["targets"].([]any)
	if len(rawTargets) == 0 {
		return nil, apierr.FieldError("targets", "array", "targets must be non-empty")
	}

	ids := make([]string, 0, len(rawTargets))
	for i, raw := range rawTargets {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, apierr.FieldError(fmt.Sprintf("targets[%d]", i), "object", "target must be an object")
		}
		target, verr := decodeTargetEntry(entry)
		if verr != nil {
			return nil, verr
		}
		priority := target.Priority
		if priority == "" {
			priority = model.PriorityMedium
		}
		encoded, err := json.Marshal(target)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInvariant, "encode target", err)
		}
		dedupeKey := "target:" + string(target.Kind) + ":" + target.Value
		id, _, err := sf.store.CreateJob(&model.Job{
			TaskID:   taskID,
			Kind:     model.JobTargetQueue,
			Priority: priority,
			Input:    string(encoded),
		}, dedupeKey)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindStorageFatal, "create job", err)
		}
		ids = append(ids, id)
	}

	if task.Status == model.TaskCreated || task.Status == model.TaskPaused {
		if err := sf.store.UpdateTaskStatus(taskID, model.TaskExploring); err != nil {
			return nil, apierr.Wrap(apierr.KindStorageFatal, "update task status", err)
		}
	}

	return map[string]any{"queued_count": len(ids), "ids": ids}, nil
}

func decodeTargetEntry(entry map[string]any) (model.Target, *apierr.Error) {
	kindStr, _ := entry["kind"].(string)
	var kind model.TargetKind
	switch kindStr {
	case "query":
		kind = model.TargetQuery
	case "url":
		kind = model.TargetURL
	case "doi":
		kind = model.TargetDOI
	default:
		return model.Target{}, apierr.FieldError("kind", "query|url|doi", fmt.Sprintf("target.kind must be one of query|url|doi, got %q", kindStr))
	}

	value, _ := entry["value"].(string)
	if strings.TrimSpace(value) == "" {
		return model.Target{}, apierr.FieldError("value", "string", "target.value must be non-empty")
	}

	var priority model.JobPriority
	if p, ok := entry["priority"].(string); ok && p != "" {
		switch p {
		case "high":
			priority = model.PriorityHigh
		case "medium":
			priority = model.PriorityMedium
		case "low":
			priority = model.PriorityLow
		default:
			return model.Target{}, apierr.FieldError("priority", "high|medium|low", fmt.Sprintf("target.priority must be one of high|medium|low, got %q", p))
		}
	}
	return model.Target{Kind: kind, Value: value, Priority: priority}, nil
}

func (sf *Surface) queueReferenceCandidatesTool() *Tool {
	return &Tool{
		Name:        "queue_reference_candidates",
		Description: "Chases one further hop of the citation graph for a task's already-ingested sources.",
		InputSchema: Schema{
			Required: []string{"task_id"},
			Properties: map[string]Property{
				"task_id":     {Type: "string"},
				"include_ids": {Type: "array", Items: &PropertyItems{Type: "string"}},
				"exclude_ids": {Type: "array", Items: &PropertyItems{Type: "string"}},
				"limit":       {Type: "integer"},
				"dry_run":     {Type: "boolean"},
			},
		},
		OutputSchema: Schema{Properties: map[string]Property{
			"queued_count": {Type: "integer"},
			"ids":          {Type: "array"},
		}},
		Handler: sf.handleQueueReferenceCandidates,
	}
}

func (sf *Surface) handleQueueReferenceCandidates(ctx context.Context, params map[string]any) (any, *apierr.Error) {
	taskID, _ := params["task_id"].(string)
	if _, err := sf.store.GetTask(taskID); err != nil {
		return nil, notFound(err, "task")
	}

	_, hasInclude := params["include_ids"]
	_, hasExclude := params["exclude_ids"]
	if hasInclude == hasExclude {
		return nil, apierr.New(apierr.KindInvalidInput, "exactly one of include_ids or exclude_ids must be given")
	}
	includeIDs, _ := stringSliceParam(params, "include_ids")
	excludeIDs, _ := stringSliceParam(params, "exclude_ids")

	dryRun, _ := params["dry_run"].(bool)
	limit, _ := intParam(params, "limit")
	if limit <= 0 {
		limit = 50
	}

	if !dryRun {
		jobs, err := sf.store.JobsByTask(taskID)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindStorageFatal, "load jobs", err)
		}
		if !scheduler.DeriveMilestones(jobs).CitationChaseReady {
			return nil, apierr.New(apierr.KindInvariant, "citation_chase_ready milestone not yet reached; pass dry_run=true to preview candidates anyway")
		}
	}

	candidates, err := sf.referenceCandidates(taskID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFatal, "compute reference candidates", err)
	}

	if hasInclude {
		include := stringSet(includeIDs)
		filtered := candidates[:0]
		for _, c := range candidates {
			if include[c.ID] {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	} else {
		exclude := stringSet(excludeIDs)
		filtered := candidates[:0]
		for _, c := range candidates {
			if !exclude[c.ID] {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	ids := make([]string, 0, len(candidates))
	if dryRun {
		for _, c := range candidates {
			ids = append(ids, c.ID)
		}
		return map[string]any{"queued_count": 0, "ids": ids}, nil
	}

	for _, c := range candidates {
		target := model.Target{Kind: model.TargetURL, Value: c.URL, Priority: model.PriorityLow}
		encoded, err := json.Marshal(target)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInvariant, "encode target", err)
		}
		id, _, err := sf.store.CreateJob(&model.Job{
			TaskID:   taskID,
			Kind:     model.JobTargetQueue,
			Priority: model.PriorityLow,
			Input:    string(encoded),
		}, "target:"+string(model.TargetURL)+":"+target.Value)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindStorageFatal, "create job", err)
		}
		ids = append(ids, id)
	}
	return map[string]any{"queued_count": len(ids), "ids": ids}, nil
}

type referenceCandidate struct {
	ID  string
	URL string
}

// referenceCandidates finds pages cited by task's ingested sources that
// have no fragments of their own yet — the citation graph's one-hop
// neighborhood that hasn't itself been fetched.
func (sf *Surface) referenceCandidates(taskID string) ([]referenceCandidate, error) {
	sources, err := sf.store.PagesIngestedByTask(taskID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []referenceCandidate
	for _, src := range sources {
		edges, err := sf.store.CitationEdgesFrom(src.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if seen[e.TargetID] {
				continue
			}
			seen[e.TargetID] = true
			n, err := sf.store.CountFragmentsByPage(e.TargetID)
			if err != nil {
				return nil, err
			}
			if n > 0 {
				continue // already fetched
			}
			target, err := sf.store.GetPage(e.TargetID)
			if err != nil {
				continue
			}
			out = append(out, referenceCandidate{ID: target.ID, URL: target.URL})
		}
	}
	return out, nil
}

func (sf *Surface) getStatusTool() *Tool {
	return &Tool{
		Name:        "get_status",
		Description: "Reports a task's status, progress, metrics, budget, and milestones. Long-polls when wait>0.",
		InputSchema: Schema{
			Required: []string{"task_id"},
			Properties: map[string]Property{
				"task_id": {Type: "string"},
				"wait":    {Type: "integer", Description: "Seconds to block for a status/milestone/budget-threshold change."},
				"detail":  {Type: "boolean"},
			},
		},
		OutputSchema: Schema{Properties: map[string]Property{
			"status":           {Type: "string"},
			"progress":         {Type: "object"},
			"metrics":          {Type: "object"},
			"budget":           {Type: "object"},
			"milestones":       {Type: "object"},
			"waiting_for":      {Type: "array"},
			"evidence_summary": {Type: "array"},
		}},
		Handler: sf.handleGetStatus,
	}
}

const statusPollInterval = 250 * time.Millisecond

type statusSnapshot struct {
	task       *model.Task
	jobs       []*model.Job
	milestones scheduler.Milestones
	bucket     [3]int
}

func (sf *Surface) statusSnapshot(taskID string) (statusSnapshot, *apierr.Error) {
	task, err := sf.store.GetTask(taskID)
	if err != nil {
		return statusSnapshot{}, notFound(err, "task")
	}
	jobs, err := sf.store.JobsByTask(taskID)
	if err != nil {
		return statusSnapshot{}, apierr.Wrap(apierr.KindStorageFatal, "load jobs", err)
	}
	metrics, err := sf.store.RecomputeMetrics(taskID)
	if err != nil {
		return statusSnapshot{}, apierr.Wrap(apierr.KindStorageFatal, "recompute metrics", err)
	}
	task.Metrics = metrics
	return statusSnapshot{
		task:       task,
		jobs:       jobs,
		milestones: scheduler.DeriveMilestones(jobs),
		bucket:     budgetThresholdBucket(metrics, task.Budget),
	}, nil
}

func (s statusSnapshot) changed(prior statusSnapshot) bool {
	return s.task.Status != prior.task.Status || s.milestones != prior.milestones || s.bucket != prior.bucket
}

func (sf *Surface) handleGetStatus(ctx context.Context, params map[string]any) (any, *apierr.Error) {
	taskID, _ := params["task_id"].(string)
	waitSecs, _ := intParam(params, "wait")
	detail, _ := params["detail"].(bool)

	snapshot, err := sf.statusSnapshot(taskID)
	if err != nil {
		return nil, err
	}

	if waitSecs > 0 {
		initial := snapshot
		deadline := time.Now().Add(time.Duration(waitSecs) * time.Second)
		for time.Now().Before(deadline) {
			select {
			case <-ctx.Done():
				return sf.renderStatus(ctx, snapshot, detail, taskID), nil
			case <-time.After(statusPollInterval):
			}
			next, serr := sf.statusSnapshot(taskID)
			if serr != nil {
				return nil, serr
			}
			snapshot = next
			if snapshot.changed(initial) {
				break
			}
		}
	}
	return sf.renderStatus(ctx, snapshot, detail, taskID), nil
}

func (sf *Surface) renderStatus(ctx context.Context, snap statusSnapshot, detail bool, taskID string) map[string]any {
	out := map[string]any{
		"status":      string(snap.task.Status),
		"progress":    progressOf(snap.jobs),
		"metrics":     snap.task.Metrics,
		"budget":      snap.task.Budget,
		"milestones":  snap.milestones,
		"waiting_for": waitingForKinds(snap.jobs),
	}
	if detail {
		result, err := sf.store.QueryView(ctx, "claim_evidence_summary", map[string]any{"task_id": taskID}, sf.queryDeadline(), sf.queryMaxSteps())
		if err == nil {
			out["evidence_summary"] = result.Rows
		}
	}
	return out
}

func progressOf(jobs []*model.Job) map[string]any {
	total := len(jobs)
	done := 0
	for _, j := range jobs {
		if j.State == model.JobCompleted || j.State == model.JobFailed || j.State == model.JobCancelled {
			done++
		}
	}
	var fraction float64
	if total > 0 {
		fraction = float64(done) / float64(total)
	}
	return map[string]any{"jobs_total": total, "jobs_done": done, "fraction_complete": fraction}
}

func waitingForKinds(jobs []*model.Job) []string {
	seen := make(map[string]bool)
	for _, j := range jobs {
		switch j.State {
		case model.JobQueued, model.JobRunning:
			seen[string(j.Kind)] = true
		case model.JobAwaitingAuth:
			seen["auth_queue"] = true
		}
	}
	return sortedKeys(seen)
}

func (sf *Surface) stopTaskTool() *Tool {
	return &Tool{
		Name:        "stop_task",
		Description: "Cancels a task's jobs per mode/scope and parks it in the paused state.",
		InputSchema: Schema{
			Required: []string{"task_id"},
			Properties: map[string]Property{
				"task_id": {Type: "string"},
				"reason":  {Type: "string"},
				"mode":    {Type: "string", Enum: []string{"graceful", "immediate", "full"}},
				"scope":   {Type: "array", Items: &PropertyItems{Type: "string"}},
			},
		},
		OutputSchema: Schema{Properties: map[string]Property{
			"ok":     {Type: "boolean"},
			"status": {Type: "string"},
		}},
		Handler: sf.handleStopTask,
	}
}

func (sf *Surface) handleStopTask(ctx context.Context, params map[string]any) (any, *apierr.Error) {
	taskID, _ := params["task_id"].(string)
	if _, err := sf.store.GetTask(taskID); err != nil {
		return nil, notFound(err, "task")
	}

	modeStr, _ := params["mode"].(string)
	if modeStr == "" {
		modeStr = "graceful"
	}
	mode := scheduler.CancelMode(modeStr)
	if mode != scheduler.ModeGraceful && mode != scheduler.ModeImmediate && mode != scheduler.ModeFull {
		return nil, apierr.FieldError("mode", "graceful|immediate|full", "mode must be one of graceful|immediate|full")
	}

	scopeValues, _ := stringSliceParam(params, "scope")
	scope, verr := parseJobKinds(scopeValues)
	if verr != nil {
		return nil, verr
	}

	if _, err := sf.pool.Cancel(taskID, mode, scope); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFatal, "cancel jobs", err)
	}
	if err := sf.store.UpdateTaskStatus(taskID, model.TaskPaused); err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFatal, "update task status", err)
	}
	return map[string]any{"ok": true, "status": string(model.TaskPaused)}, nil
}
