// Package model defines the entities of the evidence graph: tasks, pages,
// fragments, claims, edges, jobs, auth items, and NLI corrections.
package model

import (
	"net/url"
	"time"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskCreated   TaskStatus = "created"
	TaskExploring TaskStatus = "exploring"
	TaskPaused    TaskStatus = "paused"
	TaskFailed    TaskStatus = "failed"
	TaskCompleted TaskStatus = "completed"
)

// Budget caps the resources a Task may consume.
type Budget struct {
	MaxPages     int           `json:"max_pages"`
	MaxFragments int           `json:"max_fragments"`
	MaxClaims    int           `json:"max_claims"`
	WallClock    time.Duration `json:"wall_clock"`
}

// Metrics is a point-in-time snapshot of a Task's progress.
type Metrics struct {
	PagesIngested     int `json:"pages_ingested"`
	FragmentsCreated  int `json:"fragments_created"`
	ClaimsExtracted   int `json:"claims_extracted"`
	EdgesJudged       int `json:"edges_judged"`
	JobsQueued        int `json:"jobs_queued"`
	JobsRunning       int `json:"jobs_running"`
	JobsCompleted     int `json:"jobs_completed"`
	JobsFailed        int `json:"jobs_failed"`
}

// Task is a task-scoped research goal created by the client.
type Task struct {
	ID                 string     `json:"id"`
	CentralHypothesis  string     `json:"central_hypothesis"`
	Budget             Budget     `json:"budget"`
	PriorityDomains    []string   `json:"priority_domains"`
	Status             TaskStatus `json:"status"`
	Metrics            Metrics    `json:"metrics"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// PageType classifies the kind of page ingested.
type PageType string

const (
	PageArticle  PageType = "article"
	PageAcademic PageType = "academic"
	PageKnowledge PageType = "knowledge"
	PageForum    PageType = "forum"
	PageEmpty    PageType = "empty"
)

// PaperMetadata is the JSON blob attached to academic Pages.
// Fields are merge-only: a non-null field from a higher-priority source
// must never be overwritten by a lower-priority write (spec.md §3).
type PaperMetadata struct {
	Year          int    `json:"year,omitempty"`
	DOI           string `json:"doi,omitempty"`
	Venue         string `json:"venue,omitempty"`
	CitationCount int    `json:"citation_count,omitempty"`
	SourceAPI     string `json:"source_api,omitempty"`
	PaperID       string `json:"paper_id,omitempty"`
	HasAbstract   bool   `json:"has_abstract,omitempty"`
}

// Merge fills null fields of m from other without ever overwriting a
// non-null field. Abstract presence is sticky: once true, never cleared.
func (m *PaperMetadata) Merge(other PaperMetadata) {
	if m.Year == 0 {
		m.Year = other.Year
	}
	if m.DOI == "" {
		m.DOI = other.DOI
	}
	if m.Venue == "" {
		m.Venue = other.Venue
	}
	if m.CitationCount == 0 {
		m.CitationCount = other.CitationCount
	}
	if m.SourceAPI == "" {
		m.SourceAPI = other.SourceAPI
	}
	if m.PaperID == "" {
		m.PaperID = other.PaperID
	}
	if other.HasAbstract {
		m.HasAbstract = true
	}
}

// Page is a globally-scoped, URL-unique ingested document.
type Page struct {
	ID            string        `json:"id"`
	URL           string        `json:"url"`
	Domain        string        `json:"domain"`
	PageType      PageType      `json:"page_type"`
	FetchedAt     time.Time     `json:"fetched_at"`
	Title         string        `json:"title"`
	PaperMetadata PaperMetadata `json:"paper_metadata"`
}

// FragmentType classifies an extracted content fragment.
type FragmentType string

const (
	FragmentParagraph FragmentType = "paragraph"
	FragmentHeading   FragmentType = "heading"
	FragmentList      FragmentType = "list"
	FragmentTable     FragmentType = "table"
	FragmentQuote     FragmentType = "quote"
	FragmentFigure    FragmentType = "figure"
	FragmentCode      FragmentType = "code"
	FragmentAbstract  FragmentType = "abstract"
)

// HeadingCrumb is one level of a fragment's heading hierarchy.
type HeadingCrumb struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// RankingScores holds optional retrieval scores for a fragment.
type RankingScores struct {
	BM25   *float64 `json:"bm25,omitempty"`
	Embed  *float64 `json:"embed,omitempty"`
	Rerank *float64 `json:"rerank,omitempty"`
}

// Fragment is a globally-scoped, page-scoped snippet of content.
type Fragment struct {
	ID                string         `json:"id"`
	PageID            string         `json:"page_id"`
	FragmentType      FragmentType   `json:"fragment_type"`
	TextContent       string         `json:"text_content"`
	HeadingHierarchy  []HeadingCrumb `json:"heading_hierarchy"`
	Position          int            `json:"position"`
	Scores            RankingScores  `json:"scores"`
	Embedding         []float32      `json:"-"`
}

// ClaimType classifies the kind of assertion a Claim makes.
type ClaimType string

const (
	ClaimFactual     ClaimType = "factual"
	ClaimCausal      ClaimType = "causal"
	ClaimComparative ClaimType = "comparative"
	ClaimPredictive  ClaimType = "predictive"
	ClaimNormative   ClaimType = "normative"
)

// ClaimGranularity distinguishes atomic from composite assertions.
type ClaimGranularity string

const (
	ClaimAtomic    ClaimGranularity = "atomic"
	ClaimComposite ClaimGranularity = "composite"
)

// AdoptionStatus tracks client feedback on a Claim.
type AdoptionStatus string

const (
	AdoptionAdopted    AdoptionStatus = "adopted"
	AdoptionPending    AdoptionStatus = "pending"
	AdoptionNotAdopted AdoptionStatus = "not_adopted"
)

// Claim is a task-scoped assertion extracted from page content.
type Claim struct {
	ID               string           `json:"id"`
	TaskID           string           `json:"task_id"`
	ClaimText        string           `json:"claim_text"`
	ClaimType        ClaimType        `json:"claim_type"`
	Granularity      ClaimGranularity `json:"granularity"`
	LLMConfidence    float64          `json:"llm_confidence"`
	AdoptionStatus   AdoptionStatus   `json:"adoption_status"`
	SupportingCount  int              `json:"supporting_count"`
	RefutingCount    int              `json:"refuting_count"`
	CreatedAt        time.Time        `json:"created_at"`
	Embedding        []float32        `json:"-"`
}

// EdgeRelation is the closed set of legal edge relations (spec.md §9: no
// inheritance, dispatch by tag).
type EdgeRelation string

const (
	RelationSupports      EdgeRelation = "supports"
	RelationRefutes       EdgeRelation = "refutes"
	RelationNeutral       EdgeRelation = "neutral"
	RelationCites         EdgeRelation = "cites"
	RelationEvidenceSource EdgeRelation = "evidence_source"
)

// EntityType tags the endpoints of an Edge.
type EntityType string

const (
	EntityFragment EntityType = "fragment"
	EntityClaim    EntityType = "claim"
	EntityPage     EntityType = "page"
)

// CitationSource names who supplied a `cites` edge.
type CitationSource string

const (
	CitationSemanticScholar CitationSource = "semantic_scholar"
	CitationOpenAlex        CitationSource = "openalex"
	CitationExtraction      CitationSource = "extraction"
)

// Edge is a typed directed relationship between two entities.
type Edge struct {
	ID                string         `json:"id"`
	SourceType        EntityType     `json:"source_type"`
	SourceID          string         `json:"source_id"`
	TargetType        EntityType     `json:"target_type"`
	TargetID          string         `json:"target_id"`
	Relation          EdgeRelation   `json:"relation"`
	NLILabel          string         `json:"nli_label"`
	NLIConfidence     float64        `json:"nli_confidence"`
	CitationSource    CitationSource `json:"citation_source,omitempty"`
	EdgeHumanCorrected bool          `json:"edge_human_corrected"`
	CreatedAt         time.Time      `json:"created_at"`
}

// JobKind is the closed set of job kinds the scheduler executes.
type JobKind string

const (
	JobTargetQueue    JobKind = "target_queue"
	JobVerifyNLI      JobKind = "verify_nli"
	JobCitationGraph  JobKind = "citation_graph"
)

// JobPriority orders the scheduler's claim order.
type JobPriority string

const (
	PriorityHigh   JobPriority = "high"
	PriorityMedium JobPriority = "medium"
	PriorityLow    JobPriority = "low"
)

// Rank gives a numeric ordering for SQL ORDER BY clauses
// (lower is claimed first, matching spec.md §4.7 "priority ASC").
func (p JobPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// JobState is a node in the DAG: queued -> running -> {completed, failed,
// cancelled}, and queued/running -> awaiting_auth -> queued (spec.md §3).
type JobState string

const (
	JobQueued       JobState = "queued"
	JobRunning      JobState = "running"
	JobCompleted    JobState = "completed"
	JobFailed       JobState = "failed"
	JobCancelled    JobState = "cancelled"
	JobAwaitingAuth JobState = "awaiting_auth"
)

// Job is a unit of scheduled work.
type Job struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	Kind        JobKind    `json:"kind"`
	Priority    JobPriority `json:"priority"`
	State       JobState   `json:"state"`
	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Input       string     `json:"input"` // JSON-encoded task-specific payload
	ErrorMessage string    `json:"error_message,omitempty"`
}

// TargetKind is the kind of a queue_targets entry.
type TargetKind string

const (
	TargetQuery TargetKind = "query"
	TargetURL   TargetKind = "url"
	TargetDOI   TargetKind = "doi"
)

// Target is one entry of a queue_targets call. Encoded verbatim into the
// Input field of the target_queue Job it spawns.
type Target struct {
	Kind     TargetKind  `json:"kind"`
	Value    string      `json:"value"`
	Priority JobPriority `json:"priority,omitempty"`
}

// Domain returns the full host name a url-kind target points at. Query
// and DOI targets have no fixed domain until resolved, so ok is false.
func (t Target) Domain() (domain string, ok bool) {
	if t.Kind != TargetURL {
		return "", false
	}
	u, err := url.Parse(t.Value)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	return u.Hostname(), true
}

// AuthChallengeStatus tracks resolution of an AuthItem.
type AuthChallengeStatus string

const (
	AuthPending  AuthChallengeStatus = "pending"
	AuthResolved AuthChallengeStatus = "resolved"
	AuthSkipped  AuthChallengeStatus = "skipped"
)

// AuthItem surfaces a human-resolvable challenge page.
type AuthItem struct {
	ID             string              `json:"id"`
	Domain         string              `json:"domain"`
	ChallengeType  string              `json:"challenge_type"`
	BlockingJobIDs []string            `json:"blocking_job_ids"`
	Status         AuthChallengeStatus `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
}

// NliCorrection is an append-only record of a human correction to a
// predicted NLI label, feeding offline recalibration.
type NliCorrection struct {
	EdgeID              string    `json:"edge_id"`
	PredictedLabel      string    `json:"predicted_label"`
	CorrectLabel        string    `json:"correct_label"`
	PredictedConfidence float64   `json:"predicted_confidence"`
	CreatedAt           time.Time `json:"created_at"`
}
