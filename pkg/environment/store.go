package environment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("environment: not found")

// ErrIllegalTransition is returned when a status update would violate the
// legal transition graph.
var ErrIllegalTransition = errors.New("environment: illegal status transition")

// Store is the sole writer of User, Environment, and Deployment rows. Each
// exported method runs as its own short-lived statement or single
// conditional UPDATE; the store does not take advisory locks and
// relies on row-level serialization plus the status-guarded UPDATEs in
// UpdateEnvironmentStatus and UpdateEnvironmentCommit.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an environment Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// FindOrCreateUser looks up a user by their source-host numeric id, creating
// one if absent. Present mutable fields (login, email, avatar) are refreshed
// on every call.
func (s *Store) FindOrCreateUser(ctx context.Context, githubID int64, login, email, avatarURL string) (User, error) {
	const query = `
		INSERT INTO users (github_id, login, email, avatar_url, active)
		VALUES ($1, $2, $3, $4, true)
		ON CONFLICT (github_id) DO UPDATE
		SET login = EXCLUDED.login,
		    email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE users.email END,
		    avatar_url = CASE WHEN EXCLUDED.avatar_url <> '' THEN EXCLUDED.avatar_url ELSE users.avatar_url END,
		    updated_at = now()
		RETURNING id, github_id, login, email, avatar_url, active, created_at, updated_at`

	var u User
	err := s.pool.QueryRow(ctx, query, githubID, login, email, avatarURL).Scan(
		&u.ID, &u.GithubID, &u.Login, &u.Email, &u.AvatarURL, &u.Active, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("finding or creating user: %w", err)
	}
	return u, nil
}

// CreateEnvironment inserts a new Environment row in PENDING status. The
// namespace is derived from the PR number and repository name; the caller is
// responsible for the existence check that makes this idempotent at the
// handler level (see Controller.HandleOpened in pkg/lifecycle).
func (s *Store) CreateEnvironment(ctx context.Context, e Environment) (Environment, error) {
	e.Namespace = BuildNamespace(e.PRNumber, e.RepositoryName)
	e.Status = StatusPending

	const query = `
		INSERT INTO environments
			(repository_full_name, repository_name, pr_number, pr_title, branch_name,
			 commit_sha, namespace, environment_url, status, installation_id, owner_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id, created_at, updated_at`

	err := s.pool.QueryRow(ctx, query,
		e.RepositoryFullName, e.RepositoryName, e.PRNumber, e.PRTitle, e.BranchName,
		e.CommitSHA, e.Namespace, e.EnvironmentURL, e.Status, e.InstallationID, e.OwnerID,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Environment{}, fmt.Errorf("creating environment: %w", err)
	}
	return e, nil
}

const environmentColumns = `id, repository_full_name, repository_name, pr_number, pr_title, branch_name,
	commit_sha, namespace, environment_url, status, installation_id, owner_id,
	error_message, created_at, updated_at, last_deployed_at, destroyed_at`

func scanEnvironment(row pgx.Row) (Environment, error) {
	var e Environment
	err := row.Scan(
		&e.ID, &e.RepositoryFullName, &e.RepositoryName, &e.PRNumber, &e.PRTitle, &e.BranchName,
		&e.CommitSHA, &e.Namespace, &e.EnvironmentURL, &e.Status, &e.InstallationID, &e.OwnerID,
		&e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt, &e.LastDeployedAt, &e.DestroyedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Environment{}, ErrNotFound
	}
	if err != nil {
		return Environment{}, fmt.Errorf("scanning environment: %w", err)
	}
	return e, nil
}

// GetEnvironmentByPR looks up the environment for a (repo, pr) pair.
func (s *Store) GetEnvironmentByPR(ctx context.Context, repoFullName string, prNumber int) (Environment, error) {
	query := fmt.Sprintf(`SELECT %s FROM environments WHERE repository_full_name = $1 AND pr_number = $2`, environmentColumns)
	return scanEnvironment(s.pool.QueryRow(ctx, query, repoFullName, prNumber))
}

// GetEnvironmentByID looks up the environment by its primary key.
func (s *Store) GetEnvironmentByID(ctx context.Context, id uuid.UUID) (Environment, error) {
	query := fmt.Sprintf(`SELECT %s FROM environments WHERE id = $1`, environmentColumns)
	return scanEnvironment(s.pool.QueryRow(ctx, query, id))
}

// GetEnvironmentByNamespace looks up the environment owning a namespace.
func (s *Store) GetEnvironmentByNamespace(ctx context.Context, namespace string) (Environment, error) {
	query := fmt.Sprintf(`SELECT %s FROM environments WHERE namespace = $1`, environmentColumns)
	return scanEnvironment(s.pool.QueryRow(ctx, query, namespace))
}

// ListEnvironments lists environments, optionally filtered by repository and
// restricted to active statuses only.
func (s *Store) ListEnvironments(ctx context.Context, repository string, activeOnly bool) ([]Environment, error) {
	query := fmt.Sprintf(`SELECT %s FROM environments WHERE 1=1`, environmentColumns)
	args := []any{}
	n := 1

	if repository != "" {
		query += fmt.Sprintf(" AND repository_full_name = $%d", n)
		args = append(args, repository)
		n++
	}
	if activeOnly {
		query += fmt.Sprintf(" AND status = ANY($%d)", n)
		args = append(args, activeStatusStrings())
		n++
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing environments: %w", err)
	}
	defer rows.Close()

	var out []Environment
	for rows.Next() {
		e, err := scanEnvironment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if out == nil {
		out = []Environment{}
	}
	return out, rows.Err()
}

// ListActiveEnvironments returns all environments in PENDING, PROVISIONING,
// READY, or UPDATING: the set the reconciler and status endpoints treat as
// "active".
func (s *Store) ListActiveEnvironments(ctx context.Context) ([]Environment, error) {
	return s.ListEnvironments(ctx, "", true)
}

// ListEnvironmentsByStatus returns every environment currently in the given
// status, used by the reconciliation sweeps.
func (s *Store) ListEnvironmentsByStatus(ctx context.Context, status Status) ([]Environment, error) {
	query := fmt.Sprintf(`SELECT %s FROM environments WHERE status = $1`, environmentColumns)
	rows, err := s.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("listing environments by status %s: %w", status, err)
	}
	defer rows.Close()

	var out []Environment
	for rows.Next() {
		e, err := scanEnvironment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if out == nil {
		out = []Environment{}
	}
	return out, rows.Err()
}

// UpdateEnvironmentStatus transitions an environment to a new status,
// rejecting the write if the transition is not in the legal graph. The
// transition is guarded by a `WHERE status = $old` conditional UPDATE so two
// concurrent workers racing on the same row cannot both succeed.
func (s *Store) UpdateEnvironmentStatus(ctx context.Context, env Environment, newStatus Status, errMessage string) (Environment, error) {
	if !CanTransition(env.Status, newStatus) {
		return Environment{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, env.Status, newStatus)
	}

	setLastDeployed := newStatus == StatusReady && env.LastDeployedAt == nil
	setDestroyed := newStatus == StatusDestroyed

	query := `
		UPDATE environments
		SET status = $1,
		    error_message = $2,
		    updated_at = now(),
		    last_deployed_at = CASE WHEN $3 THEN now() ELSE last_deployed_at END,
		    destroyed_at = CASE WHEN $4 THEN now() ELSE destroyed_at END
		WHERE id = $5 AND status = $6
		RETURNING ` + environmentColumns

	e, err := scanEnvironment(s.pool.QueryRow(ctx, query,
		newStatus, errMessage, setLastDeployed, setDestroyed, env.ID, env.Status,
	))
	if errors.Is(err, ErrNotFound) {
		return Environment{}, fmt.Errorf("%w: environment %s no longer in status %s (concurrent update)", ErrIllegalTransition, env.ID, env.Status)
	}
	return e, err
}

// UpdateEnvironmentCommit records a new head commit for a pull request and
// moves the environment into UPDATING, as required by the `synchronize` flow.
func (s *Store) UpdateEnvironmentCommit(ctx context.Context, env Environment, sha string) (Environment, error) {
	if !CanTransition(env.Status, StatusUpdating) {
		return Environment{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, env.Status, StatusUpdating)
	}

	query := `
		UPDATE environments
		SET commit_sha = $1, status = $2, updated_at = now()
		WHERE id = $3 AND status = $4
		RETURNING ` + environmentColumns

	e, err := scanEnvironment(s.pool.QueryRow(ctx, query, sha, StatusUpdating, env.ID, env.Status))
	if errors.Is(err, ErrNotFound) {
		return Environment{}, fmt.Errorf("%w: environment %s no longer in status %s (concurrent update)", ErrIllegalTransition, env.ID, env.Status)
	}
	return e, err
}

// CreateDeployment inserts a new Deployment row in QUEUED status for a commit.
func (s *Store) CreateDeployment(ctx context.Context, environmentID uuid.UUID, commitSHA, commitMessage string) (Deployment, error) {
	const query = `
		INSERT INTO deployments (environment_id, commit_sha, commit_message, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, environment_id, commit_sha, commit_message, status, started_at,
		          completed_at, error_message, logs, ai_generated, ai_plan, ai_fallback_reason, created_at`

	var d Deployment
	err := s.pool.QueryRow(ctx, query, environmentID, commitSHA, commitMessage, DeploymentQueued).Scan(
		&d.ID, &d.EnvironmentID, &d.CommitSHA, &d.CommitMessage, &d.Status, &d.StartedAt,
		&d.CompletedAt, &d.ErrorMessage, &d.Logs, &d.AIGenerated, &d.AIPlan, &d.AIFallbackReason, &d.CreatedAt,
	)
	if err != nil {
		return Deployment{}, fmt.Errorf("creating deployment: %w", err)
	}
	return d, nil
}

// DeploymentUpdate carries the optional fields UpdateDeploymentStatus may set.
type DeploymentUpdate struct {
	ErrorMessage     string
	Logs             string
	AIGenerated      bool
	AIPlan           string
	AIFallbackReason string
}

// UpdateDeploymentStatus updates a deployment's status and result fields. A
// deployment already in a terminal status (SUCCESS or FAILED) never mutates
// again; this is enforced with a `WHERE status NOT IN (...)` guard rather
// than an application-level check, so a stray retry cannot silently corrupt
// a finished record.
func (s *Store) UpdateDeploymentStatus(ctx context.Context, id uuid.UUID, status DeploymentStatus, upd DeploymentUpdate) error {
	now := time.Now().UTC()
	var startedAt, completedAt *time.Time
	if status == DeploymentInProgress {
		startedAt = &now
	}
	if status.IsTerminal() {
		completedAt = &now
	}

	const query = `
		UPDATE deployments
		SET status = $1,
		    started_at = COALESCE(started_at, $2),
		    completed_at = COALESCE($3, completed_at),
		    error_message = $4,
		    logs = $5,
		    ai_generated = $6,
		    ai_plan = $7,
		    ai_fallback_reason = $8
		WHERE id = $9 AND status NOT IN ($10, $11)`

	tag, err := s.pool.Exec(ctx, query,
		status, startedAt, completedAt, upd.ErrorMessage, upd.Logs,
		upd.AIGenerated, upd.AIPlan, upd.AIFallbackReason,
		id, DeploymentSuccess, DeploymentFailed,
	)
	if err != nil {
		return fmt.Errorf("updating deployment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deployment %s not found or already terminal", id)
	}
	return nil
}

// DeleteDestroyedBefore hard-deletes DESTROYED environments (and their
// cascaded deployments) whose destroyed_at is older than cutoff. Used by the
// retention sweep of the hourly reconciliation job.
func (s *Store) DeleteDestroyedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM environments WHERE status = $1 AND destroyed_at < $2`
	tag, err := s.pool.Exec(ctx, query, StatusDestroyed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old destroyed environments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func activeStatusStrings() []string {
	out := make([]string, len(ActiveStatuses))
	for i, s := range ActiveStatuses {
		out[i] = string(s)
	}
	return out
}
