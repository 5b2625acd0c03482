package store

import (
	"context"
	"fmt"
	"time"

	"veritas/internal/apierr"
)

// namedView is one of the canned, parameterized queries exposed by
// query_view / list_views. Templates use named SQLite parameters so
// ordering of caller-supplied args never matters.
type namedView struct {
	Name        string
	Description string
	SQL         string
	Params      []string
}

var namedViews = []namedView{
	{
		Name:        "claim_evidence_summary",
		Description: "Per-claim supports/refutes/neutral tallies.",
		SQL: `SELECT c.id AS claim_id, c.claim_text,
			SUM(CASE WHEN e.relation = 'supports' THEN 1 ELSE 0 END) AS supports,
			SUM(CASE WHEN e.relation = 'refutes' THEN 1 ELSE 0 END) AS refutes,
			SUM(CASE WHEN e.relation = 'neutral' THEN 1 ELSE 0 END) AS neutral
			FROM claims c
			LEFT JOIN edges e ON e.target_type = 'claim' AND e.target_id = c.id AND e.relation IN ('supports','refutes','neutral')
			WHERE c.task_id = :task_id
			GROUP BY c.id, c.claim_text`,
		Params: []string{"task_id"},
	},
	{
		Name:        "claim_origins",
		Description: "Which pages/fragments a claim was extracted from.",
		SQL: `SELECT c.id AS claim_id, f.id AS fragment_id, f.page_id, p.url, p.title
			FROM claims c
			JOIN edges e ON e.target_type = 'claim' AND e.target_id = c.id AND e.relation = 'evidence_source'
			JOIN fragments f ON f.id = e.source_id
			JOIN pages p ON p.id = f.page_id
			WHERE c.id = :claim_id`,
		Params: []string{"claim_id"},
	},
	{
		Name:        "contradictions",
		Description: "Claims with both supporting and refuting evidence, ordered by controversy.",
		SQL: `SELECT c.id AS claim_id, c.claim_text,
			SUM(CASE WHEN e.relation = 'supports' THEN 1 ELSE 0 END) AS supports,
			SUM(CASE WHEN e.relation = 'refutes' THEN 1 ELSE 0 END) AS refutes
			FROM claims c
			JOIN edges e ON e.target_type = 'claim' AND e.target_id = c.id AND e.relation IN ('supports','refutes')
			WHERE c.task_id = :task_id
			GROUP BY c.id, c.claim_text
			HAVING supports > 0 AND refutes > 0
			ORDER BY MIN(supports, refutes) DESC`,
		Params: []string{"task_id"},
	},
	{
		Name:        "unsupported_claims",
		Description: "Claims with no judgement edges at all.",
		SQL: `SELECT c.id AS claim_id, c.claim_text FROM claims c
			WHERE c.task_id = :task_id
			AND NOT EXISTS (SELECT 1 FROM edges e WHERE e.target_type='claim' AND e.target_id = c.id AND e.relation IN ('supports','refutes','neutral'))`,
		Params: []string{"task_id"},
	},
	{
		Name:        "evidence_chain",
		Description: "Full fragment text backing a claim's judgement edges, with relation and confidence.",
		SQL: `SELECT e.relation, e.nli_label, e.nli_confidence, f.text_content, f.page_id, p.url
			FROM edges e
			JOIN fragments f ON f.id = e.source_id AND e.source_type = 'fragment'
			JOIN pages p ON p.id = f.page_id
			WHERE e.target_type = 'claim' AND e.target_id = :claim_id
			AND e.relation IN ('supports','refutes','neutral')
			ORDER BY e.nli_confidence DESC`,
		Params: []string{"claim_id"},
	},
	{
		Name:        "source_impact",
		Description: "Pages ranked by how many claims they produced judgement edges for.",
		SQL: `SELECT p.id AS page_id, p.url, p.title, COUNT(DISTINCT e.target_id) AS claims_touched
			FROM pages p
			JOIN fragments f ON f.page_id = p.id
			JOIN edges e ON e.source_type = 'fragment' AND e.source_id = f.id AND e.relation IN ('supports','refutes','neutral')
			JOIN claims c ON c.id = e.target_id AND c.task_id = :task_id
			GROUP BY p.id, p.url, p.title
			ORDER BY claims_touched DESC`,
		Params: []string{"task_id"},
	},
	{
		Name:        "reference_candidates",
		Description: "Pages cited by already-ingested pages but not yet ingested themselves.",
		SQL: `SELECT e.target_id AS candidate_ref, e.citation_source, COUNT(*) AS cited_by_count
			FROM edges e
			WHERE e.relation = 'cites'
			AND e.target_id NOT IN (SELECT id FROM pages)
			GROUP BY e.target_id, e.citation_source
			ORDER BY cited_by_count DESC`,
		Params: []string{},
	},
	{
		Name:        "citation_flow",
		Description: "The page-to-page citation subgraph as an edge list.",
		SQL: `SELECT e.source_id AS from_page, e.target_id AS to_page, e.citation_source
			FROM edges e WHERE e.relation = 'cites'`,
		Params: []string{},
	},
	{
		Name:        "task_summary",
		Description: "Task status and metrics in one row.",
		SQL:         `SELECT id, status, metrics_json, created_at, updated_at FROM tasks WHERE id = :task_id`,
		Params:      []string{"task_id"},
	},
	{
		Name:        "auth_queue_pending",
		Description: "Auth items awaiting human resolution.",
		SQL:         `SELECT id, domain, challenge_type, blocking_job_ids_json, created_at FROM auth_queue WHERE status = 'pending' ORDER BY created_at DESC`,
		Params:      []string{},
	},
	{
		Name:        "jobs_by_state",
		Description: "All jobs for a task with their state, most recently queued first.",
		SQL:         `SELECT id, kind, priority, state, queued_at, started_at, finished_at, error_message FROM jobs WHERE task_id = :task_id ORDER BY queued_at DESC`,
		Params:      []string{"task_id"},
	},
	{
		Name:        "blocked_domains",
		Description: "Domains with an explicit block policy.",
		SQL:         `SELECT domain, updated_at FROM domain_policy WHERE blocked = 1`,
		Params:      []string{},
	},
	{
		Name:        "recent_nli_corrections",
		Description: "Human corrections to predicted NLI labels, newest first.",
		SQL:         `SELECT edge_id, predicted_label, correct_label, predicted_confidence, created_at FROM nli_corrections ORDER BY created_at DESC LIMIT 200`,
		Params:      []string{},
	},
	{
		Name:        "calibration_snapshot",
		Description: "Active calibration params for every source.",
		SQL:         `SELECT source, params_json, updated_at FROM calibration_params`,
		Params:      []string{},
	},
	{
		Name:        "adopted_claims",
		Description: "Claims the client has explicitly adopted.",
		SQL:         `SELECT id, claim_text, claim_type, llm_confidence FROM claims WHERE task_id = :task_id AND adoption_status = 'adopted'`,
		Params:      []string{"task_id"},
	},
	{
		Name:        "rejected_claims",
		Description: "Claims the client has explicitly rejected.",
		SQL:         `SELECT id, claim_text, claim_type, llm_confidence FROM claims WHERE task_id = :task_id AND adoption_status = 'not_adopted'`,
		Params:      []string{"task_id"},
	},
	{
		Name:        "pages_by_domain",
		Description: "Ingested page counts grouped by domain.",
		SQL:         `SELECT domain, COUNT(*) AS page_count FROM pages GROUP BY domain ORDER BY page_count DESC`,
		Params:      []string{},
	},
	{
		Name:        "fragment_type_breakdown",
		Description: "Fragment counts by type for a page.",
		SQL:         `SELECT fragment_type, COUNT(*) AS n FROM fragments WHERE page_id = :page_id GROUP BY fragment_type`,
		Params:      []string{"page_id"},
	},
	{
		Name:        "human_corrected_edges",
		Description: "Every edge a human has manually corrected.",
		SQL:         `SELECT id, source_id, target_id, relation, nli_label FROM edges WHERE edge_human_corrected = 1`,
		Params:      []string{},
	},
	{
		Name:        "claims_missing_embedding",
		Description: "Claims that have no embedding yet, usually meaning the embedder collaborator has not run on them.",
		SQL:         `SELECT id, claim_text FROM claims WHERE task_id = :task_id AND embedding IS NULL`,
		Params:      []string{"task_id"},
	},
}

// ListViews returns the named-view registry for the list_views tool.
func ListViews() []namedView { return namedViews }

// QueryView runs a named view template, filling :param placeholders from
// args, through the same guarded Execute path as ad hoc SQL (so the view
// registry cannot be used to bypass the read-only/deadline constraints).
func (s *Store) QueryView(ctx context.Context, name string, args map[string]any, deadline time.Duration, maxVMSteps int64) (*QueryResult, error) {
	var view *namedView
	for i := range namedViews {
		if namedViews[i].Name == name {
			view = &namedViews[i]
			break
		}
	}
	if view == nil {
		return nil, apierr.New(apierr.KindInvalidInput, fmt.Sprintf("unknown view %q", name))
	}
	for _, p := range view.Params {
		if _, ok := args[p]; !ok {
			return nil, apierr.FieldError(p, "required", fmt.Sprintf("view %q requires parameter %q", name, p))
		}
	}

	query, positional := bindNamedParams(view.SQL, args)
	return s.Execute(ctx, query, positional, deadline, maxVMSteps)
}

// bindNamedParams rewrites :name placeholders into positional ? markers in
// appearance order, since database/sql's sqlite3 driver accepts named
// parameters directly but Execute's authorizer path is simplest to reason
// about over a single positional arg slice.
func bindNamedParams(query string, args map[string]any) (string, []any) {
	var out []byte
	var positional []any
	i := 0
	for i < len(query) {
		if query[i] == ':' {
			j := i + 1
			for j < len(query) && isIdentByte(query[j]) {
				j++
			}
			name := query[i+1 : j]
			if v, ok := args[name]; ok {
				out = append(out, '?')
				positional = append(positional, v)
				i = j
				continue
			}
		}
		out = append(out, query[i])
		i++
	}
	return string(out), positional
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
