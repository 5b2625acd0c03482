package toolsurface

import (
	"context"
	"fmt"

	"veritas/internal/apierr"
	"veritas/internal/model"
)

func (sf *Surface) feedbackTool() *Tool {
	return &Tool{
		Name:        "feedback",
		Description: "Applies a human correction: edge_correct, claim_reject, claim_restore, domain_block, domain_unblock, or domain_clear_override.",
		InputSchema: Schema{
			Required: []string{"action", "payload"},
			Properties: map[string]Property{
				"action":  {Type: "string", Enum: []string{"edge_correct", "claim_reject", "claim_restore", "domain_block", "domain_unblock", "domain_clear_override"}},
				"payload": {Type: "object"},
			},
		},
		OutputSchema: Schema{Properties: map[string]Property{
			"ok":        {Type: "boolean"},
			"changed":   {Type: "boolean"},
			"cancelled": {Type: "integer"},
		}},
		Handler: sf.handleFeedback,
	}
}

func (sf *Surface) handleFeedback(ctx context.Context, params map[string]any) (any, *apierr.Error) {
	action, _ := params["action"].(string)
	payload, _ := params["payload"].(map[string]any)

	switch action {
	case "edge_correct":
		edgeID, _ := payload["edge_id"].(string)
		relationStr, _ := payload["relation"].(string)
		label, _ := payload["label"].(string)
		if edgeID == "" {
			return nil, apierr.FieldError("payload.edge_id", "string", "edge_id must be non-empty")
		}
		relation, verr := parseEdgeRelation(relationStr)
		if verr != nil {
			return nil, verr
		}
		if err := sf.store.FeedbackEdgeCorrect(edgeID, relation, label); err != nil {
			return nil, notFound(err, "edge")
		}
		return map[string]any{"ok": true}, nil

	case "claim_reject":
		claimID, _ := payload["claim_id"].(string)
		if claimID == "" {
			return nil, apierr.FieldError("payload.claim_id", "string", "claim_id must be non-empty")
		}
		if err := sf.store.FeedbackClaimReject(claimID); err != nil {
			return nil, notFound(err, "claim")
		}
		return map[string]any{"ok": true}, nil

	case "claim_restore":
		claimID, _ := payload["claim_id"].(string)
		if claimID == "" {
			return nil, apierr.FieldError("payload.claim_id", "string", "claim_id must be non-empty")
		}
		if err := sf.store.FeedbackClaimRestore(claimID); err != nil {
			return nil, notFound(err, "claim")
		}
		return map[string]any{"ok": true}, nil

	case "domain_block":
		domain, _ := payload["domain"].(string)
		if domain == "" {
			return nil, apierr.FieldError("payload.domain", "string", "domain must be non-empty")
		}
		cancelled, err := sf.auth.BlockDomain(domain)
		if err != nil {
			if apiErr, ok := err.(*apierr.Error); ok {
				return nil, apiErr
			}
			return nil, apierr.Wrap(apierr.KindStorageFatal, "block domain", err)
		}
		return map[string]any{"ok": true, "cancelled": cancelled}, nil

	case "domain_unblock":
		domain, _ := payload["domain"].(string)
		if domain == "" {
			return nil, apierr.FieldError("payload.domain", "string", "domain must be non-empty")
		}
		if err := sf.auth.UnblockDomain(domain); err != nil {
			return nil, apierr.Wrap(apierr.KindStorageFatal, "unblock domain", err)
		}
		return map[string]any{"ok": true}, nil

	case "domain_clear_override":
		domain, _ := payload["domain"].(string)
		if domain == "" {
			return nil, apierr.FieldError("payload.domain", "string", "domain must be non-empty")
		}
		if err := sf.store.FeedbackDomainClearOverride(domain); err != nil {
			return nil, apierr.Wrap(apierr.KindStorageFatal, "clear domain override", err)
		}
		return map[string]any{"ok": true}, nil

	default:
		return nil, apierr.FieldError("action", "edge_correct|claim_reject|claim_restore|domain_block|domain_unblock|domain_clear_override", fmt.Sprintf("unknown feedback action %q", action))
	}
}

func parseEdgeRelation(s string) (model.EdgeRelation, *apierr.Error) {
	switch model.EdgeRelation(s) {
	case model.RelationSupports, model.RelationRefutes, model.RelationNeutral:
		return model.EdgeRelation(s), nil
	default:
		return "", apierr.FieldError("payload.relation", "supports|refutes|neutral", fmt.Sprintf("relation must be one of supports|refutes|neutral, got %q", s))
	}
}
