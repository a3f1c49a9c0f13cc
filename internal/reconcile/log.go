package reconcile

import (
	"context"
	"log/slog"

	"github.com/evanofslack/instance-dns-sync/internal/logger"
)

func level(a Action) slog.Level {
	switch a {
	case ActionUpdate, ActionSkipNoRecord:
		return slog.LevelInfo
	case ActionDuplicateHostname, ActionSkipAmbiguous:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

// LogDecisions writes one audit entry per decision.
func LogDecisions(ctx context.Context, plan Plan) {
	log := logger.FromContext(ctx)
	for _, d := range plan.Decisions {
		log.Log(ctx, level(d.Action), "Reconciliation decision", "decision", d)
	}
}
