package toolsurface

import (
	"context"
	"fmt"

	"veritas/internal/apierr"
)

func (sf *Surface) calibrationMetricsTool() *Tool {
	return &Tool{
		Name:        "calibration_metrics",
		Description: "Reports a calibration source's active params (get_stats) or its recent human corrections (get_evaluations).",
		InputSchema: Schema{
			Required: []string{"op", "source"},
			Properties: map[string]Property{
				"op":     {Type: "string", Enum: []string{"get_stats", "get_evaluations"}},
				"source": {Type: "string"},
			},
		},
		Handler: sf.handleCalibrationMetrics,
	}
}

func (sf *Surface) handleCalibrationMetrics(ctx context.Context, params map[string]any) (any, *apierr.Error) {
	op, _ := params["op"].(string)
	source, _ := params["source"].(string)
	if source == "" {
		return nil, apierr.FieldError("source", "string", "source must be non-empty")
	}

	switch op {
	case "get_stats":
		stats, err := sf.store.GetCalibrationParams(source)
		if err != nil {
			return nil, notFound(err, "calibration params")
		}
		return map[string]any{
			"source":      stats.Source,
			"params_json": stats.ParamsJSON,
			"updated_at":  stats.UpdatedAt,
		}, nil

	case "get_evaluations":
		result, err := sf.store.QueryView(ctx, "recent_nli_corrections", nil, sf.queryDeadline(), sf.queryMaxSteps())
		if err != nil {
			return nil, apierr.Wrap(apierr.KindStorageFatal, "query recent_nli_corrections", err)
		}
		return map[string]any{"evaluations": result.Rows}, nil

	default:
		return nil, apierr.FieldError("op", "get_stats|get_evaluations", fmt.Sprintf("unknown op %q", op))
	}
}

func (sf *Surface) calibrationRollbackTool() *Tool {
	return &Tool{
		Name:        "calibration_rollback",
		Description: "Restores a calibration source's most recent prior params, undoing its latest recalibration.",
		InputSchema: Schema{
			Required: []string{"source"},
			Properties: map[string]Property{
				"source": {Type: "string"},
			},
		},
		OutputSchema: Schema{Properties: map[string]Property{
			"ok":          {Type: "boolean"},
			"params_json": {Type: "string"},
		}},
		Handler: sf.handleCalibrationRollback,
	}
}

func (sf *Surface) handleCalibrationRollback(ctx context.Context, params map[string]any) (any, *apierr.Error) {
	source, _ := params["source"].(string)
	if source == "" {
		return nil, apierr.FieldError("source", "string", "source must be non-empty")
	}
	paramsJSON, err := sf.store.RollbackCalibration(source)
	if err != nil {
		return nil, notFound(err, "calibration history")
	}
	return map[string]any{"ok": true, "params_json": paramsJSON}, nil
}
