// Package lifecycle is the finite-state machine that coordinates webhook
// events, the job runtime, the cluster and source-host drivers, and
// compose/LLM synthesis. It consults the Environment Store for current
// state before acting, and never takes an in-process lock across an
// external call: correctness comes from state-guarded idempotence, not
// from per-PR mutual exclusion.
package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"github.com/sabiut/ephemera/pkg/cluster"
	"github.com/sabiut/ephemera/pkg/environment"
	"github.com/sabiut/ephemera/pkg/jobs"
	"github.com/sabiut/ephemera/pkg/sourcehost"
	"github.com/sabiut/ephemera/pkg/synth"

	"log/slog"
)

// Task names dispatched through the job runtime. The webhook and API
// handlers enqueue these; a worker's Controller registers handlers for them
// under the same names (see Controller.Handlers).
const (
	TaskProvisionEnvironment     = "provision_environment"
	TaskUpdateEnvironment        = "update_environment"
	TaskDestroyEnvironment       = "destroy_environment"
	TaskCleanupStaleEnvironments = "cleanup_stale_environments"
)

// ProvisionPayload is the provision_environment job payload. DeploymentID
// identifies the Deployment row created by HandleOpened/HandleReopened so
// the job updates the same row it was queued for, rather than guessing at
// "the latest" deployment.
type ProvisionPayload struct {
	EnvironmentID uuid.UUID `json:"environment_id"`
	DeploymentID  uuid.UUID `json:"deployment_id"`
}

// UpdatePayload is the update_environment job payload.
type UpdatePayload struct {
	EnvironmentID uuid.UUID `json:"environment_id"`
	DeploymentID  uuid.UUID `json:"deployment_id"`
}

// DestroyPayload is the destroy_environment job payload. Merged only
// changes the wording of the teardown comment.
type DestroyPayload struct {
	EnvironmentID uuid.UUID `json:"environment_id"`
	Merged        bool      `json:"merged"`
}

// Config parameterizes the controller with deployment-specific values that
// are not part of the state machine's logic.
type Config struct {
	BaseDomain      string
	NamespaceCPU    string
	NamespaceMemory string
	NamespacePods   string
	StaleThreshold  time.Duration
	RetentionDays   int
	RetryMaxAge     time.Duration
}

// Controller is the lifecycle state machine: a set of handlers over
// recorded state plus external calls, constructed once at startup, with no
// in-process locking.
type Controller struct {
	Store      *environment.Store
	Cluster    *cluster.Driver
	SourceHost *sourcehost.Driver
	Synth      *synth.Synthesizer
	Jobs       *jobs.Queue
	Logger     *slog.Logger
	Config     Config
}

// New constructs a Controller from its collaborators.
func New(store *environment.Store, clusterDriver *cluster.Driver, sourceHost *sourcehost.Driver, synthesizer *synth.Synthesizer, queue *jobs.Queue, logger *slog.Logger, cfg Config) *Controller {
	return &Controller{
		Store:      store,
		Cluster:    clusterDriver,
		SourceHost: sourceHost,
		Synth:      synthesizer,
		Jobs:       queue,
		Logger:     logger,
		Config:     cfg,
	}
}

// Handlers returns the job-name -> handler map a jobs.Worker dispatches
// through, covering both lifecycle transitions and the periodic sweep.
func (c *Controller) Handlers() map[string]jobs.HandlerFunc {
	return map[string]jobs.HandlerFunc{
		TaskProvisionEnvironment:     c.handleProvisionJob,
		TaskUpdateEnvironment:        c.handleUpdateJob,
		TaskDestroyEnvironment:       c.handleDestroyJob,
		TaskCleanupStaleEnvironments: c.handleCleanupJob,
	}
}
