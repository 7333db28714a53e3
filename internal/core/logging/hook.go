package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// ContextHook extracts pull_request and diff_scope from context and adds
// them to log events.
type ContextHook struct{}

// Run adds contextual fields to the zerolog event.
func (h ContextHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == context.Background() || ctx == nil {
		return
	}

	if ref := GetPullRequest(ctx); ref != "" {
		e.Str("pull_request", ref)
	}

	if scope := GetDiffScope(ctx); scope != "" {
		e.Str("diff_scope", scope)
	}
}
