package toolsurface

import (
	"context"
	"fmt"

	"veritas/internal/apierr"
	"veritas/internal/model"
)

func (sf *Surface) getAuthQueueTool() *Tool {
	return &Tool{
		Name:        "get_auth_queue",
		Description: "Lists every auth item awaiting human resolution.",
		InputSchema: Schema{},
		OutputSchema: Schema{Properties: map[string]Property{
			"items": {Type: "array"},
		}},
		Handler: sf.handleGetAuthQueue,
	}
}

func (sf *Surface) handleGetAuthQueue(ctx context.Context, params map[string]any) (any, *apierr.Error) {
	items, err := sf.auth.Pending()
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageFatal, "list auth queue", err)
	}
	return map[string]any{"items": items}, nil
}

func (sf *Surface) resolveAuthTool() *Tool {
	return &Tool{
		Name:        "resolve_auth",
		Description: "Resolves a pending auth item as solved (requeues its blocked jobs) or skipped (cancels them).",
		InputSchema: Schema{
			Required: []string{"item_id", "action"},
			Properties: map[string]Property{
				"item_id": {Type: "string"},
				"action":  {Type: "string", Enum: []string{"solved", "skipped"}},
			},
		},
		OutputSchema: Schema{Properties: map[string]Property{
			"ok": {Type: "boolean"},
		}},
		Handler: sf.handleResolveAuth,
	}
}

func (sf *Surface) handleResolveAuth(ctx context.Context, params map[string]any) (any, *apierr.Error) {
	itemID, _ := params["item_id"].(string)
	actionStr, _ := params["action"].(string)

	var action model.AuthChallengeStatus
	switch actionStr {
	case "solved":
		action = model.AuthResolved
	case "skipped":
		action = model.AuthSkipped
	default:
		return nil, apierr.FieldError("action", "solved|skipped", fmt.Sprintf("action must be solved or skipped, got %q", actionStr))
	}

	if _, err := sf.auth.Resolve(itemID, action); err != nil {
		if apiErr, ok := err.(*apierr.Error); ok {
			return nil, apiErr
		}
		return nil, notFound(err, "auth item")
	}
	return map[string]any{"ok": true}, nil
}
