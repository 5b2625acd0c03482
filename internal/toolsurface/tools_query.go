package toolsurface

import (
	"context"
	"time"

	"veritas/internal/apierr"
	"veritas/internal/store"
)

func (sf *Surface) querySQLTool() *Tool {
	return &Tool{
		Name:        "query_sql",
		Description: "Runs a client-supplied read-only SELECT/WITH statement against the evidence graph.",
		InputSchema: Schema{
			Required: []string{"sql"},
			Properties: map[string]Property{
				"sql":            {Type: "string"},
				"deadline_ms":    {Type: "integer"},
				"max_vm_steps":   {Type: "integer"},
				"max_rows":       {Type: "integer"},
			},
		},
		// Empty OutputSchema passes the result through unfiltered — query_sql's
		// row shape is whatever columns the caller's SELECT projects.
		Handler: sf.handleQuerySQL,
	}
}

func (sf *Surface) handleQuerySQL(ctx context.Context, params map[string]any) (any, *apierr.Error) {
	sql, _ := params["sql"].(string)
	if sql == "" {
		return nil, apierr.FieldError("sql", "string", "sql must be non-empty")
	}

	deadline := sf.queryDeadline()
	if ms, ok := intParam(params, "deadline_ms"); ok && ms > 0 {
		deadline = time.Duration(ms) * time.Millisecond
	}
	maxSteps := sf.queryMaxSteps()
	if steps, ok := intParam(params, "max_vm_steps"); ok && steps > 0 {
		maxSteps = int64(steps)
	}
	maxRows, hasMaxRows := intParam(params, "max_rows")

	start := time.Now()
	result, err := sf.store.Execute(ctx, sql, nil, deadline, maxSteps)
	elapsed := time.Since(start)
	if err != nil {
		if apiErr, ok := err.(*apierr.Error); ok {
			return nil, apiErr
		}
		return nil, apierr.Wrap(apierr.KindStorageFatal, "query_sql execution failed", err)
	}

	truncated := false
	rows := result.Rows
	if hasMaxRows && maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
		truncated = true
	}

	return map[string]any{
		"columns":    result.Columns,
		"rows":       rows,
		"truncated":  truncated,
		"elapsed_ms": elapsed.Milliseconds(),
	}, nil
}

func (sf *Surface) vectorSearchTool() *Tool {
	return &Tool{
		Name:        "vector_search",
		Description: "Embeds a query string and returns the closest claims or fragments by cosine similarity.",
		InputSchema: Schema{
			Required: []string{"query", "target"},
			Properties: map[string]Property{
				"query":           {Type: "string"},
				"target":          {Type: "string", Enum: []string{"claims", "fragments"}},
				"task_id":         {Type: "string"},
				"top_k":           {Type: "integer"},
				"min_similarity":  {Type: "number"},
			},
		},
		OutputSchema: Schema{Properties: map[string]Property{
			"results":       {Type: "array"},
			"total_searched": {Type: "integer"},
		}},
		Handler: sf.handleVectorSearch,
	}
}

func (sf *Surface) handleVectorSearch(ctx context.Context, params map[string]any) (any, *apierr.Error) {
	if sf.embed == nil {
		return nil, apierr.New(apierr.KindInvalidInput, "vector_search is unavailable: no embedder configured")
	}
	queryText, _ := params["query"].(string)
	if queryText == "" {
		return nil, apierr.FieldError("query", "string", "query must be non-empty")
	}
	targetStr, _ := params["target"].(string)
	var target store.VectorSearchTarget
	switch targetStr {
	case "claims":
		target = store.VectorTargetClaims
	case "fragments":
		target = store.VectorTargetFragments
	default:
		return nil, apierr.FieldError("target", "claims|fragments", "target must be one of claims|fragments")
	}

	taskID, _ := params["task_id"].(string)
	topK, ok := intParam(params, "top_k")
	if !ok || topK <= 0 {
		topK = sf.cfg.BudgetDefaults.EmbeddingTopK
		if topK <= 0 {
			topK = 8
		}
	}
	minSimilarity := 0.0
	if v, ok := params["min_similarity"].(float64); ok {
		minSimilarity = v
	}

	vectors, err := sf.embed.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindTransient, "embed query", err)
	}
	if len(vectors) == 0 {
		return nil, apierr.New(apierr.KindInvariant, "embedder returned no vector for query")
	}

	results, total, err := sf.store.VectorSearch(target, taskID, vectors[0], topK, minSimilarity)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFatal, "vector search", err)
	}
	return map[string]any{"results": results, "total_searched": total}, nil
}

func (sf *Surface) queryViewTool() *Tool {
	return &Tool{
		Name:        "query_view",
		Description: "Runs one of the named, parameterized canned views.",
		InputSchema: Schema{
			Required: []string{"view_name"},
			Properties: map[string]Property{
				"view_name": {Type: "string"},
				"params":    {Type: "object"},
			},
		},
		Handler: sf.handleQueryView,
	}
}

func (sf *Surface) handleQueryView(ctx context.Context, params map[string]any) (any, *apierr.Error) {
	name, _ := params["view_name"].(string)
	if name == "" {
		return nil, apierr.FieldError("view_name", "string", "view_name must be non-empty")
	}
	viewArgs, _ := params["params"].(map[string]any)

	result, err := sf.store.QueryView(ctx, name, viewArgs, sf.queryDeadline(), sf.queryMaxSteps())
	if err != nil {
		if apiErr, ok := err.(*apierr.Error); ok {
			return nil, apiErr
		}
		return nil, apierr.Wrap(apierr.KindStorageFatal, "query_view execution failed", err)
	}
	return map[string]any{"columns": result.Columns, "rows": result.Rows}, nil
}

func (sf *Surface) listViewsTool() *Tool {
	return &Tool{
		Name:        "list_views",
		Description: "Lists the named views query_view accepts, with descriptions and accepted params.",
		InputSchema: Schema{},
		Handler:     sf.handleListViews,
	}
}

func (sf *Surface) handleListViews(ctx context.Context, params map[string]any) (any, *apierr.Error) {
	views := store.ListViews()
	out := make([]map[string]any, 0, len(views))
	for _, v := range views {
		out = append(out, map[string]any{
			"name":        v.Name,
			"description": v.Description,
			"params":      v.Params,
		})
	}
	return map[string]any{"views": out}, nil
}
