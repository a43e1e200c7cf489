package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orchestra-run/controlplane/internal/platform/logger"
	"github.com/orchestra-run/controlplane/internal/serviceconfig"
	"github.com/orchestra-run/controlplane/internal/serviceops"
)

// Reconciler is the subset of the service lifecycle manager the process
// cleanup job depends on: compute the verified state, then act on whatever
// needs attention.
type Reconciler interface {
	Reconcile(ctx context.Context, declared *serviceconfig.ServicesConfig) ([]serviceops.VerifiedServiceState, error)
}

// ProcessActuator restarts or kills services on the reconciler's behalf.
type ProcessActuator interface {
	Restart(ctx context.Context, spec serviceops.ProcessSpec) error
	KillPort(ctx context.Context, port int) error
}

// ProcessCleanupJob reconciles declared vs. observed service state and
// restarts enabled-but-down services, and kills disabled-but-running or
// orphaned ones.
type ProcessCleanupJob struct {
	reconciler Reconciler
	actuator   ProcessActuator
	declared   func() *serviceconfig.ServicesConfig
	specFor    func(name string) (serviceops.ProcessSpec, bool)
	logger     *logger.Logger
}

// NewProcessCleanupJob constructs a ProcessCleanupJob. declared returns the
// current service configuration snapshot; specFor resolves a declared
// service's process spec for restart.
func NewProcessCleanupJob(
	reconciler Reconciler,
	actuator ProcessActuator,
	declared func() *serviceconfig.ServicesConfig,
	specFor func(name string) (serviceops.ProcessSpec, bool),
	log *logger.Logger,
) *ProcessCleanupJob {
	return &ProcessCleanupJob{reconciler: reconciler, actuator: actuator, declared: declared, specFor: specFor, logger: log}
}

func (j *ProcessCleanupJob) Name() string { return "process_cleanup" }

func (j *ProcessCleanupJob) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	stats := Stats{}

	states, err := j.reconciler.Reconcile(ctx, j.declared())
	if err != nil {
		return Result{Success: false, Duration: time.Since(start)}, err
	}

	for _, st := range states {
		if !st.NeedsAttention() {
			continue
		}

		switch {
		case st.Desired == serviceops.DesiredEnabled:
			spec, ok := j.specFor(st.Name)
			if !ok {
				j.logger.Warn("no process spec for enabled service needing restart", zap.String("service", st.Name))
				stats.Skipped++
				continue
			}
			if err := j.actuator.Restart(ctx, spec); err != nil {
				j.logger.Error("failed to restart service", zap.String("service", st.Name), zap.Error(err))
				stats.Skipped++
				continue
			}
			stats.Produced++

		case st.Desired == serviceops.DesiredDisabled:
			if err := j.actuator.KillPort(ctx, st.Port); err != nil {
				j.logger.Error("failed to stop orphaned/disabled service", zap.String("service", st.Name), zap.Error(err))
				stats.Skipped++
				continue
			}
			stats.Produced++
		}
	}

	return Result{Success: true, Stats: stats, Duration: time.Since(start)}, nil
}
