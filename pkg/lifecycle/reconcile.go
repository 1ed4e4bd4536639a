package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/sabiut/ephemera/internal/telemetry"
	"github.com/sabiut/ephemera/pkg/environment"
	"github.com/sabiut/ephemera/pkg/jobs"
)

// handleCleanupJob implements cleanup_stale_environments, the periodic
// sweep the scheduler re-submits every CLEANUP_INTERVAL. It runs the three
// repair sweeps plus the two optional, parameterized ones (retention and
// retry). A failure in one sweep is logged and does not stop the others.
func (c *Controller) handleCleanupJob(ctx context.Context, _ jobs.Task) error {
	if err := c.ReconcileStuckProvisioning(ctx); err != nil {
		c.Logger.Error("reconcile: stuck provisioning sweep failed", "error", err)
	}
	if err := c.ReconcileStuckDestroying(ctx); err != nil {
		c.Logger.Error("reconcile: stuck destroying sweep failed", "error", err)
	}
	if err := c.ReconcileDrift(ctx); err != nil {
		c.Logger.Error("reconcile: drift sweep failed", "error", err)
	}
	if c.Config.RetentionDays > 0 {
		olderThan := time.Duration(c.Config.RetentionDays) * 24 * time.Hour
		if err := c.ReconcileDeleteOldDestroyed(ctx, olderThan); err != nil {
			c.Logger.Error("reconcile: delete old destroyed sweep failed", "error", err)
		}
	}
	if c.Config.RetryMaxAge > 0 {
		if err := c.ReconcileRetryFailed(ctx, c.Config.RetryMaxAge); err != nil {
			c.Logger.Error("reconcile: retry failed sweep failed", "error", err)
		}
	}
	return nil
}

// ReconcileStuckProvisioning repairs environments stuck in PROVISIONING
// past the stale threshold: it attempts to delete the
// (possibly partially-created) namespace and marks the environment FAILED
// regardless of whether the delete succeeded.
func (c *Controller) ReconcileStuckProvisioning(ctx context.Context) error {
	envs, err := c.Store.ListEnvironmentsByStatus(ctx, environment.StatusProvisioning)
	if err != nil {
		return fmt.Errorf("listing provisioning environments: %w", err)
	}

	cutoff := time.Now().Add(-c.Config.StaleThreshold)
	for _, env := range envs {
		if env.UpdatedAt.After(cutoff) {
			continue
		}
		if err := c.Cluster.DeleteNamespace(ctx, env.Namespace); err != nil {
			c.Logger.Warn("reconcile: deleting namespace for stuck provisioning environment failed", "environment", env.ID, "error", err)
		}
		if _, err := c.Store.UpdateEnvironmentStatus(ctx, env, environment.StatusFailed, "stuck in provisioning"); err != nil {
			c.Logger.Error("reconcile: marking stuck provisioning environment failed", "environment", env.ID, "error", err)
			continue
		}
		telemetry.EnvironmentsTotal.WithLabelValues(string(environment.StatusFailed)).Inc()
	}
	return nil
}

// ReconcileStuckDestroying repairs environments stuck in DESTROYING past
// the stale threshold: namespace delete is attempted,
// and the environment is marked DESTROYED regardless of the delete outcome;
// a namespace the cluster has already forgotten is as good as destroyed.
func (c *Controller) ReconcileStuckDestroying(ctx context.Context) error {
	envs, err := c.Store.ListEnvironmentsByStatus(ctx, environment.StatusDestroying)
	if err != nil {
		return fmt.Errorf("listing destroying environments: %w", err)
	}

	cutoff := time.Now().Add(-c.Config.StaleThreshold)
	for _, env := range envs {
		if env.UpdatedAt.After(cutoff) {
			continue
		}
		if err := c.Cluster.DeleteNamespace(ctx, env.Namespace); err != nil {
			c.Logger.Warn("reconcile: deleting namespace for stuck destroying environment failed", "environment", env.ID, "error", err)
		}
		if _, err := c.Store.UpdateEnvironmentStatus(ctx, env, environment.StatusDestroyed, ""); err != nil {
			c.Logger.Error("reconcile: marking stuck destroying environment failed", "environment", env.ID, "error", err)
			continue
		}
		telemetry.EnvironmentsTotal.WithLabelValues(string(environment.StatusDestroyed)).Inc()
	}
	return nil
}

// ReconcileDrift repairs READY environments whose namespace has
// disappeared out-of-band.
func (c *Controller) ReconcileDrift(ctx context.Context) error {
	envs, err := c.Store.ListEnvironmentsByStatus(ctx, environment.StatusReady)
	if err != nil {
		return fmt.Errorf("listing ready environments: %w", err)
	}

	for _, env := range envs {
		exists, err := c.Cluster.NamespaceExists(ctx, env.Namespace)
		if err != nil {
			c.Logger.Warn("reconcile: checking namespace existence failed", "environment", env.ID, "error", err)
			continue
		}
		if exists {
			continue
		}
		if _, err := c.Store.UpdateEnvironmentStatus(ctx, env, environment.StatusFailed, "namespace no longer exists"); err != nil {
			c.Logger.Error("reconcile: marking drifted environment failed", "environment", env.ID, "error", err)
			continue
		}
		telemetry.EnvironmentsTotal.WithLabelValues(string(environment.StatusFailed)).Inc()
	}
	return nil
}

// ReconcileDeleteOldDestroyed hard-deletes DESTROYED environments older
// than olderThan. A zero RetentionDays disables this sweep.
func (c *Controller) ReconcileDeleteOldDestroyed(ctx context.Context, olderThan time.Duration) error {
	n, err := c.Store.DeleteDestroyedBefore(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("deleting old destroyed environments: %w", err)
	}
	if n > 0 {
		c.Logger.Info("reconcile: deleted old destroyed environments", "count", n)
	}
	return nil
}

// ReconcileRetryFailed re-enqueues FAILED environments updated within the
// last `within` window. A new Deployment row is created for the retry
// attempt since the prior one is terminal and immutable.
func (c *Controller) ReconcileRetryFailed(ctx context.Context, within time.Duration) error {
	envs, err := c.Store.ListEnvironmentsByStatus(ctx, environment.StatusFailed)
	if err != nil {
		return fmt.Errorf("listing failed environments: %w", err)
	}

	cutoff := time.Now().Add(-within)
	for _, env := range envs {
		if env.UpdatedAt.Before(cutoff) {
			continue
		}
		retried, err := c.Store.UpdateEnvironmentStatus(ctx, env, environment.StatusProvisioning, "")
		if err != nil {
			c.Logger.Error("reconcile: retrying failed environment failed", "environment", env.ID, "error", err)
			continue
		}
		env = retried
		dep, err := c.Store.CreateDeployment(ctx, env.ID, env.CommitSHA, "")
		if err != nil {
			c.Logger.Error("reconcile: creating retry deployment failed", "environment", env.ID, "error", err)
			continue
		}
		if _, err := c.Jobs.Submit(ctx, jobs.QueueEnvironment, TaskProvisionEnvironment, ProvisionPayload{
			EnvironmentID: env.ID,
			DeploymentID:  dep.ID,
		}); err != nil {
			c.Logger.Error("reconcile: enqueuing retry provision job failed", "environment", env.ID, "error", err)
		}
	}
	return nil
}
