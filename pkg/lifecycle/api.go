package lifecycle

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sabiut/ephemera/internal/httpserver"
	"github.com/sabiut/ephemera/pkg/environment"
	"github.com/sabiut/ephemera/pkg/jobs"
)

// Routes returns the chi.Router for /api/v1/environments. It is mounted by
// the webhook-mode HTTP server next to /webhooks/github; the webhook handler
// itself never calls it.
func (c *Controller) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", c.handleCreateEnvironment)
	r.Get("/", c.handleListEnvironments)
	r.Get("/{id}", c.handleGetEnvironment)
	r.Get("/namespace/{namespace}", c.handleGetEnvironmentByNamespace)
	return r
}

// createEnvironmentRequest is the body of POST /api/v1/environments, the
// GitHub Actions path for creating an environment without a webhook.
type createEnvironmentRequest struct {
	RepositoryFullName string `json:"repository_full_name" validate:"required"`
	RepositoryName     string `json:"repository_name" validate:"required"`
	PRNumber           int    `json:"pr_number" validate:"required,gte=1"`
	PRTitle            string `json:"pr_title"`
	BranchName         string `json:"branch_name" validate:"required"`
	CommitSHA          string `json:"commit_sha" validate:"required"`
	InstallationID     int64  `json:"installation_id" validate:"required"`
	UserID             int64  `json:"user_id" validate:"required"`
	UserLogin          string `json:"user_login" validate:"required"`
	UserAvatarURL      string `json:"user_avatar_url"`
}

// handleCreateEnvironment implements POST /api/v1/environments. It is
// idempotent on (repository_full_name, pr_number), mirroring
// handleOpenOrReopen's existence check.
func (c *Controller) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var req createEnvironmentRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	ctx := r.Context()

	if existing, err := c.Store.GetEnvironmentByPR(ctx, req.RepositoryFullName, req.PRNumber); err == nil {
		httpserver.Respond(w, http.StatusOK, existing)
		return
	} else if !errors.Is(err, environment.ErrNotFound) {
		c.Logger.Error("looking up environment", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to look up environment")
		return
	}

	owner, err := c.Store.FindOrCreateUser(ctx, req.UserID, req.UserLogin, "", req.UserAvatarURL)
	if err != nil {
		c.Logger.Error("upserting environment owner", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to upsert user")
		return
	}

	env, err := c.Store.CreateEnvironment(ctx, environment.Environment{
		RepositoryFullName: req.RepositoryFullName,
		RepositoryName:     req.RepositoryName,
		PRNumber:           req.PRNumber,
		PRTitle:            req.PRTitle,
		BranchName:         req.BranchName,
		CommitSHA:          req.CommitSHA,
		EnvironmentURL:     environment.BuildEnvironmentURL(req.PRNumber, req.RepositoryName, c.Config.BaseDomain),
		InstallationID:     req.InstallationID,
		OwnerID:            owner.ID,
	})
	if err != nil {
		c.Logger.Error("creating environment", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create environment")
		return
	}

	dep, err := c.Store.CreateDeployment(ctx, env.ID, env.CommitSHA, "")
	if err != nil {
		c.Logger.Error("creating initial deployment", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create deployment")
		return
	}

	if _, err := c.Jobs.Submit(ctx, jobs.QueueEnvironment, TaskProvisionEnvironment, ProvisionPayload{
		EnvironmentID: env.ID,
		DeploymentID:  dep.ID,
	}); err != nil {
		c.Logger.Error("enqueuing provision_environment", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to enqueue provisioning")
		return
	}

	httpserver.Respond(w, http.StatusCreated, env)
}

// handleListEnvironments implements GET /api/v1/environments.
func (c *Controller) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	repository := r.URL.Query().Get("repository")
	activeOnly := r.URL.Query().Get("active_only") == "true"

	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	envs, err := c.Store.ListEnvironments(r.Context(), repository, activeOnly)
	if err != nil {
		c.Logger.Error("listing environments", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list environments")
		return
	}

	total := len(envs)
	end := params.Offset + params.PageSize
	if params.Offset > total {
		envs = nil
	} else {
		if end > total {
			end = total
		}
		envs = envs[params.Offset:end]
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(envs, params, total))
}

// handleGetEnvironment implements GET /api/v1/environments/{id}.
func (c *Controller) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid environment ID")
		return
	}

	env, err := c.Store.GetEnvironmentByID(r.Context(), id)
	if errors.Is(err, environment.ErrNotFound) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "environment not found")
		return
	}
	if err != nil {
		c.Logger.Error("getting environment", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get environment")
		return
	}

	httpserver.Respond(w, http.StatusOK, env)
}

// handleGetEnvironmentByNamespace implements GET /api/v1/environments/namespace/{namespace}.
func (c *Controller) handleGetEnvironmentByNamespace(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")

	env, err := c.Store.GetEnvironmentByNamespace(r.Context(), namespace)
	if errors.Is(err, environment.ErrNotFound) {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "environment not found")
		return
	}
	if err != nil {
		c.Logger.Error("getting environment by namespace", "error", err, "namespace", namespace)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get environment")
		return
	}

	httpserver.Respond(w, http.StatusOK, env)
}
