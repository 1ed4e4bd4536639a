package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/sabiut/ephemera/pkg/environment"
	"github.com/sabiut/ephemera/pkg/jobs"
	"github.com/sabiut/ephemera/pkg/webhook"
)

// Compile-time check: Controller satisfies webhook.Dispatcher.
var _ webhook.Dispatcher = (*Controller)(nil)

// HandleOpened handles a pull_request "opened" event.
func (c *Controller) HandleOpened(ctx context.Context, event webhook.PullRequestEvent) error {
	return c.handleOpenOrReopen(ctx, event)
}

// HandleReopened handles a pull_request "reopened" event. It shares the
// opened handler's logic: both must be idempotent no-ops when an
// environment already exists for the (repo, pr) pair.
func (c *Controller) HandleReopened(ctx context.Context, event webhook.PullRequestEvent) error {
	return c.handleOpenOrReopen(ctx, event)
}

func (c *Controller) handleOpenOrReopen(ctx context.Context, event webhook.PullRequestEvent) error {
	repo := event.Repository.FullName
	prNumber := event.Number
	if prNumber == 0 {
		prNumber = event.PullRequest.Number
	}

	if _, err := c.Store.GetEnvironmentByPR(ctx, repo, prNumber); err == nil {
		c.Logger.Info("environment already exists, ignoring open/reopen", "repository", repo, "pr", prNumber)
		return nil
	} else if !errors.Is(err, environment.ErrNotFound) {
		return fmt.Errorf("looking up environment for %s#%d: %w", repo, prNumber, err)
	}

	owner, err := c.Store.FindOrCreateUser(ctx, event.PullRequest.User.ID, event.PullRequest.User.Login, "", event.PullRequest.User.AvatarURL)
	if err != nil {
		return fmt.Errorf("upserting pull request author: %w", err)
	}

	env, err := c.Store.CreateEnvironment(ctx, environment.Environment{
		RepositoryFullName: repo,
		RepositoryName:     event.Repository.Name,
		PRNumber:           prNumber,
		PRTitle:            event.PullRequest.Title,
		BranchName:         event.PullRequest.Head.Ref,
		CommitSHA:          event.PullRequest.Head.SHA,
		EnvironmentURL:     environment.BuildEnvironmentURL(prNumber, event.Repository.Name, c.Config.BaseDomain),
		InstallationID:     event.Installation.ID,
		OwnerID:            owner.ID,
	})
	if err != nil {
		return fmt.Errorf("creating environment: %w", err)
	}

	dep, err := c.Store.CreateDeployment(ctx, env.ID, env.CommitSHA, "")
	if err != nil {
		return fmt.Errorf("creating initial deployment: %w", err)
	}

	_, err = c.Jobs.Submit(ctx, jobs.QueueEnvironment, TaskProvisionEnvironment, ProvisionPayload{
		EnvironmentID: env.ID,
		DeploymentID:  dep.ID,
	})
	if err != nil {
		return fmt.Errorf("enqueuing provision_environment: %w", err)
	}
	return nil
}

// HandleSynchronize handles a pull_request "synchronize" event: new commits
// pushed to an already-open pull request. It requires an existing
// environment; it does not create one.
func (c *Controller) HandleSynchronize(ctx context.Context, event webhook.PullRequestEvent) error {
	repo := event.Repository.FullName
	prNumber := event.Number
	if prNumber == 0 {
		prNumber = event.PullRequest.Number
	}

	env, err := c.Store.GetEnvironmentByPR(ctx, repo, prNumber)
	if err != nil {
		return fmt.Errorf("synchronize requires an existing environment for %s#%d: %w", repo, prNumber, err)
	}

	env, err = c.Store.UpdateEnvironmentCommit(ctx, env, event.PullRequest.Head.SHA)
	if err != nil {
		return fmt.Errorf("recording new commit for %s#%d: %w", repo, prNumber, err)
	}

	dep, err := c.Store.CreateDeployment(ctx, env.ID, env.CommitSHA, "")
	if err != nil {
		return fmt.Errorf("creating deployment for synchronize: %w", err)
	}

	_, err = c.Jobs.Submit(ctx, jobs.QueueEnvironment, TaskUpdateEnvironment, UpdatePayload{
		EnvironmentID: env.ID,
		DeploymentID:  dep.ID,
	})
	if err != nil {
		return fmt.Errorf("enqueuing update_environment: %w", err)
	}
	return nil
}

// HandleClosed handles a pull_request "closed" event, whether merged or
// simply closed. The environment moves straight to DESTROYING
// regardless of which active status it was in, since a closed PR can arrive
// at any point in provisioning.
func (c *Controller) HandleClosed(ctx context.Context, event webhook.PullRequestEvent) error {
	repo := event.Repository.FullName
	prNumber := event.Number
	if prNumber == 0 {
		prNumber = event.PullRequest.Number
	}

	env, err := c.Store.GetEnvironmentByPR(ctx, repo, prNumber)
	if errors.Is(err, environment.ErrNotFound) {
		c.Logger.Info("close event for unknown environment, ignoring", "repository", repo, "pr", prNumber)
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up environment for %s#%d: %w", repo, prNumber, err)
	}

	if env.Status == environment.StatusDestroying || env.Status == environment.StatusDestroyed {
		return nil
	}

	env, err = c.Store.UpdateEnvironmentStatus(ctx, env, environment.StatusDestroying, "")
	if err != nil {
		return fmt.Errorf("moving environment %s to destroying: %w", env.ID, err)
	}

	_, err = c.Jobs.Submit(ctx, jobs.QueueEnvironment, TaskDestroyEnvironment, DestroyPayload{
		EnvironmentID: env.ID,
		Merged:        event.PullRequest.Merged,
	})
	if err != nil {
		return fmt.Errorf("enqueuing destroy_environment: %w", err)
	}
	return nil
}
