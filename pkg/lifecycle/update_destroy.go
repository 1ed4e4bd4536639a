package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sabiut/ephemera/internal/telemetry"
	"github.com/sabiut/ephemera/pkg/environment"
	"github.com/sabiut/ephemera/pkg/jobs"
	"github.com/sabiut/ephemera/pkg/sourcehost"
)

// handleUpdateJob implements update_environment. It only confirms the
// namespace still exists; it deliberately does not re-run synthesis (see
// DESIGN.md's "synchronize re-synthesis" decision).
func (c *Controller) handleUpdateJob(ctx context.Context, task jobs.Task) error {
	var payload UpdatePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decoding update_environment payload: %w", err)
	}

	env, err := c.Store.GetEnvironmentByID(ctx, payload.EnvironmentID)
	if err != nil {
		return fmt.Errorf("loading environment %s: %w", payload.EnvironmentID, err)
	}
	if env.Status != environment.StatusUpdating {
		c.Logger.Info("update_environment: environment no longer updating, skipping", "environment", env.ID, "status", env.Status)
		return nil
	}

	exists, err := c.Cluster.NamespaceExists(ctx, env.Namespace)
	if err != nil {
		return fmt.Errorf("checking namespace %s: %w", env.Namespace, err)
	}

	if exists {
		if _, err := c.Store.UpdateEnvironmentStatus(ctx, env, environment.StatusReady, ""); err != nil {
			return fmt.Errorf("moving environment %s to ready: %w", env.ID, err)
		}
		telemetry.EnvironmentsTotal.WithLabelValues(string(environment.StatusReady)).Inc()
		if err := c.Store.UpdateDeploymentStatus(ctx, payload.DeploymentID, environment.DeploymentSuccess, environment.DeploymentUpdate{}); err != nil {
			c.Logger.Warn("updating deployment after synchronize failed", "environment", env.ID, "error", err)
		}
		if err := c.SourceHost.SetCommitStatus(ctx, env.InstallationID, env.RepositoryFullName, env.CommitSHA,
			sourcehost.StatusSuccess, "Preview environment updated", sourcehost.DefaultStatusContext, env.EnvironmentURL); err != nil {
			c.Logger.Warn("setting success commit status failed", "environment", env.ID, "error", err)
		}
		return nil
	}

	reason := "namespace no longer exists"
	if _, err := c.Store.UpdateEnvironmentStatus(ctx, env, environment.StatusFailed, reason); err != nil {
		return fmt.Errorf("moving environment %s to failed: %w", env.ID, err)
	}
	telemetry.EnvironmentsTotal.WithLabelValues(string(environment.StatusFailed)).Inc()
	if err := c.Store.UpdateDeploymentStatus(ctx, payload.DeploymentID, environment.DeploymentFailed, environment.DeploymentUpdate{ErrorMessage: reason}); err != nil {
		c.Logger.Warn("updating deployment after synchronize failure failed", "environment", env.ID, "error", err)
	}
	if err := c.SourceHost.SetCommitStatus(ctx, env.InstallationID, env.RepositoryFullName, env.CommitSHA,
		sourcehost.StatusFailure, reason, sourcehost.DefaultStatusContext, ""); err != nil {
		c.Logger.Warn("setting failure commit status failed", "environment", env.ID, "error", err)
	}
	return nil
}

// handleDestroyJob implements destroy_environment.
func (c *Controller) handleDestroyJob(ctx context.Context, task jobs.Task) error {
	var payload DestroyPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decoding destroy_environment payload: %w", err)
	}

	env, err := c.Store.GetEnvironmentByID(ctx, payload.EnvironmentID)
	if err != nil {
		return fmt.Errorf("loading environment %s: %w", payload.EnvironmentID, err)
	}
	if env.Status != environment.StatusDestroying {
		c.Logger.Info("destroy_environment: environment no longer destroying, skipping", "environment", env.ID, "status", env.Status)
		return nil
	}

	if err := c.Cluster.DeleteNamespace(ctx, env.Namespace); err != nil {
		reason := fmt.Sprintf("deleting namespace: %v", err)
		if _, uerr := c.Store.UpdateEnvironmentStatus(ctx, env, environment.StatusFailed, reason); uerr != nil {
			c.Logger.Error("moving environment to failed after destroy error failed", "environment", env.ID, "error", uerr)
		}
		telemetry.EnvironmentsTotal.WithLabelValues(string(environment.StatusFailed)).Inc()
		if perr := c.SourceHost.PostComment(ctx, env.InstallationID, env.RepositoryFullName, env.PRNumber, failedDestroyComment(reason)); perr != nil {
			c.Logger.Warn("posting destroy failure comment failed", "environment", env.ID, "error", perr)
		}
		return fmt.Errorf("destroying environment %s: %w", env.ID, err)
	}

	env, err = c.Store.UpdateEnvironmentStatus(ctx, env, environment.StatusDestroyed, "")
	if err != nil {
		return fmt.Errorf("moving environment %s to destroyed: %w", env.ID, err)
	}
	telemetry.EnvironmentsTotal.WithLabelValues(string(environment.StatusDestroyed)).Inc()

	if err := c.SourceHost.PostComment(ctx, env.InstallationID, env.RepositoryFullName, env.PRNumber, closeComment(payload.Merged)); err != nil {
		c.Logger.Warn("posting close comment failed", "environment", env.ID, "error", err)
	}
	return nil
}
