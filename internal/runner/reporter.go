package runner

import (
	"context"

	"go.uber.org/zap"

	"github.com/fleetd/fleetd/internal/common/logger"
	"github.com/fleetd/fleetd/internal/hub"
	v1 "github.com/fleetd/fleetd/pkg/api/v1"
)

// Reporter sends finished-activation metrics to the hub. A failed
// report is logged and dropped; it must never block lease release.
type Reporter struct {
	hub hub.Client
	log *logger.Logger
}

func NewReporter(hubClient hub.Client, log *logger.Logger) *Reporter {
	return &Reporter{
		hub: hubClient,
		log: log.WithFields(zap.String("component", "reporter")),
	}
}

func (r *Reporter) Report(ctx context.Context, act *v1.Activation, metrics *v1.ActivationMetrics) {
	act.Status = metrics.FinalStatus
	if err := r.hub.ReportActivation(ctx, act, metrics); err != nil {
		r.log.WithActivationID(act.ID).WithError(err).Error("failed to report activation")
		return
	}
	r.log.WithActivationID(act.ID).Info("activation reported",
		zap.String("status", string(metrics.FinalStatus)),
		zap.Int("iterations", metrics.Iterations),
		zap.Int64("tokens_input", metrics.TokensInput),
		zap.Int64("tokens_output", metrics.TokensOutput),
		zap.Duration("duration", metrics.Duration))
}
