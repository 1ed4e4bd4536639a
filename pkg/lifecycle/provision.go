package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sabiut/ephemera/internal/telemetry"
	"github.com/sabiut/ephemera/pkg/cluster"
	"github.com/sabiut/ephemera/pkg/environment"
	"github.com/sabiut/ephemera/pkg/jobs"
	"github.com/sabiut/ephemera/pkg/sourcehost"
	"github.com/sabiut/ephemera/pkg/synth"
)

// handleProvisionJob implements provision_environment. Every
// step after namespace creation is best-effort for the Environment's
// terminal status: only the namespace/quota step can move the environment
// to FAILED, everything else is recorded on the Deployment row instead.
func (c *Controller) handleProvisionJob(ctx context.Context, task jobs.Task) error {
	var payload ProvisionPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("decoding provision_environment payload: %w", err)
	}

	env, err := c.Store.GetEnvironmentByID(ctx, payload.EnvironmentID)
	if err != nil {
		return fmt.Errorf("loading environment %s: %w", payload.EnvironmentID, err)
	}

	switch env.Status {
	case environment.StatusPending:
		env, err = c.Store.UpdateEnvironmentStatus(ctx, env, environment.StatusProvisioning, "")
		if err != nil {
			return fmt.Errorf("moving environment %s to provisioning: %w", env.ID, err)
		}
	case environment.StatusProvisioning:
		// Redelivered mid-flight; continue from where we are.
	default:
		// Already moved past provisioning (READY/FAILED/DESTROYING/etc) by a
		// prior delivery of this same job. Nothing left to do.
		c.Logger.Info("provision_environment: environment no longer pending/provisioning, skipping",
			"environment", env.ID, "status", env.Status)
		return nil
	}

	started := time.Now()
	defer func() {
		telemetry.EnvironmentProvisionDuration.Observe(time.Since(started).Seconds())
	}()

	labels := map[string]string{
		"pr-number":      strconv.Itoa(env.PRNumber),
		"repository":     env.RepositoryName,
		"environment-id": env.ID.String(),
	}
	if err := c.Cluster.CreateNamespace(ctx, env.Namespace, labels); err != nil {
		return c.failProvisioning(ctx, env, payload.DeploymentID, fmt.Sprintf("creating namespace: %v", err))
	}

	quota := cluster.ResourceQuota{CPU: c.Config.NamespaceCPU, Memory: c.Config.NamespaceMemory, Pods: c.Config.NamespacePods}
	if err := c.Cluster.CreateResourceQuota(ctx, env.Namespace, quota); err != nil {
		return c.failProvisioning(ctx, env, payload.DeploymentID, fmt.Sprintf("creating resource quota: %v", err))
	}

	composeAbsent, serviceURLs, result, synthErr := c.synthesizeAndApply(ctx, env, payload.DeploymentID)

	env, err = c.Store.UpdateEnvironmentStatus(ctx, env, environment.StatusReady, "")
	if err != nil {
		return fmt.Errorf("moving environment %s to ready: %w", env.ID, err)
	}
	telemetry.EnvironmentsTotal.WithLabelValues(string(environment.StatusReady)).Inc()

	body := successComment(env, composeAbsent, result, serviceURLs, synthErr)
	if err := c.SourceHost.PostComment(ctx, env.InstallationID, env.RepositoryFullName, env.PRNumber, body); err != nil {
		c.Logger.Warn("posting provisioning comment failed", "environment", env.ID, "error", err)
	}
	if err := c.SourceHost.SetCommitStatus(ctx, env.InstallationID, env.RepositoryFullName, env.CommitSHA,
		sourcehost.StatusSuccess, "Preview environment is ready", sourcehost.DefaultStatusContext, env.EnvironmentURL); err != nil {
		c.Logger.Warn("setting success commit status failed", "environment", env.ID, "error", err)
	}
	return nil
}

// failProvisioning handles the one failure path that does fail the
// Environment: the namespace/quota step itself.
func (c *Controller) failProvisioning(ctx context.Context, env environment.Environment, deploymentID uuid.UUID, reason string) error {
	if _, err := c.Store.UpdateEnvironmentStatus(ctx, env, environment.StatusFailed, reason); err != nil {
		c.Logger.Error("moving environment to failed failed", "environment", env.ID, "error", err)
	}
	telemetry.EnvironmentsTotal.WithLabelValues(string(environment.StatusFailed)).Inc()

	if err := c.Store.UpdateDeploymentStatus(ctx, deploymentID, environment.DeploymentFailed, environment.DeploymentUpdate{ErrorMessage: reason}); err != nil {
		c.Logger.Warn("updating deployment after provisioning failure failed", "environment", env.ID, "error", err)
	}

	if err := c.SourceHost.SetCommitStatus(ctx, env.InstallationID, env.RepositoryFullName, env.CommitSHA,
		sourcehost.StatusFailure, reason, sourcehost.DefaultStatusContext, ""); err != nil {
		c.Logger.Warn("setting failure commit status failed", "environment", env.ID, "error", err)
	}
	if err := c.SourceHost.PostComment(ctx, env.InstallationID, env.RepositoryFullName, env.PRNumber,
		fmt.Sprintf(":x: Failed to provision preview environment: %s", reason)); err != nil {
		c.Logger.Warn("posting failure comment failed", "environment", env.ID, "error", err)
	}
	return fmt.Errorf("provisioning environment %s: %s", env.ID, reason)
}

// synthesizeAndApply runs AI synthesis (with the compose baseline as
// fallback) and applies the resulting manifest set through the cluster
// driver. Every outcome here is recorded on the Deployment row; none of
// them move the Environment to FAILED.
func (c *Controller) synthesizeAndApply(ctx context.Context, env environment.Environment, deploymentID uuid.UUID) (composeAbsent bool, serviceURLs []string, result synth.Result, synthErr error) {
	res, err := c.Synth.Synthesize(ctx, env.InstallationID, env.RepositoryFullName, env.CommitSHA, env.Namespace, env.RepositoryName, c.Config.BaseDomain)
	if errors.Is(err, synth.ErrNoComposeFile) {
		c.updateDeployment(ctx, deploymentID, environment.DeploymentSuccess, environment.DeploymentUpdate{
			Logs: "no compose file found; namespace created with no workload applied",
		})
		return true, nil, synth.Result{}, nil
	}
	if err != nil {
		c.updateDeployment(ctx, deploymentID, environment.DeploymentFailed, environment.DeploymentUpdate{ErrorMessage: err.Error()})
		return false, nil, synth.Result{}, err
	}

	var applyErr error
	for _, m := range res.Manifests {
		if aerr := c.Cluster.ApplyManifest(ctx, m); aerr != nil {
			applyErr = fmt.Errorf("applying %s %s: %w", m.Kind(), m.Name(), aerr)
			break
		}
	}

	upd := environment.DeploymentUpdate{
		AIGenerated:      res.AIGenerated,
		AIFallbackReason: res.FallbackReason,
	}
	if res.AIGenerated {
		upd.AIPlan = aiPlan(res)
	}
	urls := extractServiceURLs(res.Manifests)

	if applyErr != nil {
		upd.ErrorMessage = applyErr.Error()
		c.updateDeployment(ctx, deploymentID, environment.DeploymentFailed, upd)
		return false, urls, res, applyErr
	}

	c.updateDeployment(ctx, deploymentID, environment.DeploymentSuccess, upd)
	return false, urls, res, nil
}

func (c *Controller) updateDeployment(ctx context.Context, deploymentID uuid.UUID, status environment.DeploymentStatus, upd environment.DeploymentUpdate) {
	if err := c.Store.UpdateDeploymentStatus(ctx, deploymentID, status, upd); err != nil {
		c.Logger.Warn("updating deployment status failed", "deployment", deploymentID, "status", status, "error", err)
	}
}
