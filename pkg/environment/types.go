// Package environment implements the persisted state for users, preview
// environments, and deployment attempts, plus the legal status-transition
// graph that governs how an Environment's lifecycle may evolve.
package environment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an Environment.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusProvisioning Status = "PROVISIONING"
	StatusReady        Status = "READY"
	StatusUpdating     Status = "UPDATING"
	StatusDestroying   Status = "DESTROYING"
	StatusDestroyed    Status = "DESTROYED"
	StatusFailed       Status = "FAILED"
)

// legalTransitions enumerates the edges of the environment state graph.
// A transition not present here is rejected by the Store.
var legalTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProvisioning: true,
		StatusDestroying:   true, // PR closed before its job ran
	},
	StatusProvisioning: {
		StatusReady:      true,
		StatusFailed:     true,
		StatusDestroying: true, // PR closed while provisioning
	},
	StatusReady: {
		StatusUpdating:   true,
		StatusDestroying: true,
		StatusFailed:     true, // drift detected
	},
	StatusUpdating: {
		StatusReady:      true,
		StatusFailed:     true,
		StatusDestroying: true, // PR closed mid-update
	},
	StatusDestroying: {
		StatusDestroyed: true,
		StatusFailed:    true,
	},
	StatusFailed: {
		StatusDestroying:   true, // close event on a failed env
		StatusProvisioning: true, // retry sweep
	},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	edges, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// ActiveStatuses are the statuses considered "active" by ListActiveEnvironments.
var ActiveStatuses = []Status{StatusPending, StatusProvisioning, StatusReady, StatusUpdating}

// DeploymentStatus is the lifecycle state of a Deployment attempt.
type DeploymentStatus string

const (
	DeploymentQueued     DeploymentStatus = "QUEUED"
	DeploymentInProgress DeploymentStatus = "IN_PROGRESS"
	DeploymentSuccess    DeploymentStatus = "SUCCESS"
	DeploymentFailed     DeploymentStatus = "FAILED"
)

// IsTerminal reports whether a deployment status never mutates further.
func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentSuccess || s == DeploymentFailed
}

// User is an identity owner, keyed by the source host's numeric user id.
type User struct {
	ID        uuid.UUID
	GithubID  int64
	Login     string
	Email     string
	AvatarURL string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Environment is one per (repository full name, pr number).
type Environment struct {
	ID                 uuid.UUID
	RepositoryFullName string
	RepositoryName     string
	PRNumber           int
	PRTitle            string
	BranchName         string
	CommitSHA          string
	Namespace          string
	EnvironmentURL     string
	Status             Status
	InstallationID     int64
	OwnerID            uuid.UUID
	ErrorMessage       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastDeployedAt     *time.Time
	DestroyedAt        *time.Time
}

// IsActive reports whether the environment's status is one the reconciler
// and listing endpoints consider "active".
func (e *Environment) IsActive() bool {
	for _, s := range ActiveStatuses {
		if e.Status == s {
			return true
		}
	}
	return false
}

// Deployment is one record per provisioning attempt for a commit.
type Deployment struct {
	ID               uuid.UUID
	EnvironmentID    uuid.UUID
	CommitSHA        string
	CommitMessage    string
	Status           DeploymentStatus
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ErrorMessage     string
	Logs             string
	AIGenerated      bool
	AIPlan           string
	AIFallbackReason string
	CreatedAt        time.Time
}
