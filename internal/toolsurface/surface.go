package toolsurface

import (
	"veritas/internal/authqueue"
	"veritas/internal/collaborators/embedder"
	"veritas/internal/config"
	"veritas/internal/scheduler"
	"veritas/internal/store"
)

// Surface wires every tool handler to its backing collaborator. One
// Surface is built at server startup and its tools registered once;
// handlers close over these fields rather than receiving them as params.
type Surface struct {
	store *store.Store
	pool  *scheduler.Pool
	auth  *authqueue.Service
	embed embedder.Embedder
	cfg   *config.Config
}

// NewSurface builds a Surface. embed may be nil (vector_search then
// returns a clear invalid_input error rather than panicking).
func NewSurface(s *store.Store, pool *scheduler.Pool, auth *authqueue.Service, embed embedder.Embedder, cfg *config.Config) *Surface {
	return &Surface{store: s, pool: pool, auth: auth, embed: embed, cfg: cfg}
}

// RegisterAll registers every tool-surface entry point named in spec.md
// §4.9 with reg. Panics on a duplicate or malformed tool, which can only
// happen from a programming error at this fixed, known-good call site.
func (sf *Surface) RegisterAll(reg *Registry) {
	allTools := []*Tool{
		sf.createTaskTool(),
		sf.queueTargetsTool(),
		sf.queueReferenceCandidatesTool(),
		sf.getStatusTool(),
		sf.stopTaskTool(),

		sf.querySQLTool(),
		sf.vectorSearchTool(),
		sf.queryViewTool(),
		sf.listViewsTool(),

		sf.getAuthQueueTool(),
		sf.resolveAuthTool(),

		sf.feedbackTool(),

		sf.calibrationMetricsTool(),
		sf.calibrationRollbackTool(),
	}
	for _, t := range allTools {
		reg.MustRegister(t)
	}
}
