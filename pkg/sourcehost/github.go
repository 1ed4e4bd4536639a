// Package sourcehost is the source-host driver: it authenticates as a
// GitHub App, mints per-installation access tokens, and performs the small
// set of best-effort operations the lifecycle controller needs (posting PR
// comments, setting commit statuses, fetching a file at a ref).
package sourcehost

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v56/github"
)

// ErrNotConfigured is returned when the driver was built without a private key.
var ErrNotConfigured = errors.New("sourcehost: not configured")

// ErrNotFound is returned by FetchFile when the path does not exist at ref.
var ErrNotFound = errors.New("sourcehost: file not found")

// Driver authenticates as a GitHub App and issues installation-scoped clients.
// Every installation token is minted fresh per call; none are cached, since
// the token lifetime (1h) comfortably outlives any single job but caching
// adds a staleness failure mode this driver chooses not to carry.
type Driver struct {
	appID      int64
	privateKey *rsa.PrivateKey
	httpClient *http.Client
}

// NewDriver loads the GitHub App private key from path. If the file does not
// exist, the driver is returned in disabled mode (every call fails with
// ErrNotConfigured) rather than as a startup error, so that a deployment
// without GitHub App credentials can still run the cluster/compose pipeline.
func NewDriver(appID int64, privateKeyPath string) (*Driver, error) {
	raw, err := os.ReadFile(privateKeyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Driver{}, nil
		}
		return nil, fmt.Errorf("reading GitHub App private key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decoding GitHub App private key: no PEM block found")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing GitHub App private key: %w", err)
	}

	return &Driver{
		appID:      appID,
		privateKey: key,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (d *Driver) configured() bool {
	return d.privateKey != nil
}

// appJWT mints a short-lived JSON Web Token identifying the GitHub App,
// per GitHub's required claims (iat slightly in the past to tolerate clock
// skew, exp within the 10-minute maximum).
func (d *Driver) appJWT(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    fmt.Sprintf("%d", d.appID),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(d.privateKey)
}

// InstallationClient returns a go-github client authenticated with a fresh
// installation access token for installationID.
func (d *Driver) InstallationClient(ctx context.Context, installationID int64) (*github.Client, error) {
	if !d.configured() {
		return nil, ErrNotConfigured
	}

	appJWT, err := d.appJWT(time.Now())
	if err != nil {
		return nil, fmt.Errorf("minting app JWT: %w", err)
	}

	appClient := github.NewClient(d.httpClient).WithAuthToken(appJWT)
	token, _, err := appClient.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return nil, fmt.Errorf("exchanging app JWT for installation token: %w", err)
	}

	return github.NewClient(d.httpClient).WithAuthToken(token.GetToken()), nil
}

// PostComment posts a comment to a pull request. Best-effort: failures are
// returned for logging but must never fail the enclosing job.
func (d *Driver) PostComment(ctx context.Context, installationID int64, repoFullName string, prNumber int, body string) error {
	client, err := d.InstallationClient(ctx, installationID)
	if err != nil {
		return err
	}
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	_, _, err = client.Issues.CreateComment(ctx, owner, repo, prNumber, &github.IssueComment{Body: &body})
	if err != nil {
		return fmt.Errorf("posting comment to %s#%d: %w", repoFullName, prNumber, err)
	}
	return nil
}

// CommitStatusState mirrors GitHub's commit status states.
type CommitStatusState string

const (
	StatusPending CommitStatusState = "pending"
	StatusSuccess CommitStatusState = "success"
	StatusFailure CommitStatusState = "failure"
	StatusError   CommitStatusState = "error"
)

// DefaultStatusContext is the commit-status context ephemera reports under.
const DefaultStatusContext = "ephemera/environment"

// SetCommitStatus updates the commit status for a SHA. Best-effort.
func (d *Driver) SetCommitStatus(ctx context.Context, installationID int64, repoFullName, sha string, state CommitStatusState, description, statusContext, targetURL string) error {
	client, err := d.InstallationClient(ctx, installationID)
	if err != nil {
		return err
	}
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}
	if statusContext == "" {
		statusContext = DefaultStatusContext
	}

	status := &github.RepoStatus{
		State:       github.String(string(state)),
		Description: github.String(description),
		Context:     github.String(statusContext),
	}
	if targetURL != "" {
		status.TargetURL = github.String(targetURL)
	}

	_, _, err = client.Repositories.CreateStatus(ctx, owner, repo, sha, status)
	if err != nil {
		return fmt.Errorf("setting commit status for %s@%s: %w", repoFullName, sha, err)
	}
	return nil
}

// FetchFile fetches the contents of path at ref. Returns ErrNotFound if the
// path does not exist at that ref.
func (d *Driver) FetchFile(ctx context.Context, installationID int64, repoFullName, path, ref string) ([]byte, error) {
	client, err := d.InstallationClient(ctx, installationID)
	if err != nil {
		return nil, err
	}
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	fileContent, _, resp, err := client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching %s@%s:%s: %w", repoFullName, ref, path, err)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("fetching %s@%s:%s: path is a directory", repoFullName, ref, path)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s@%s:%s: %w", repoFullName, ref, path, err)
	}
	return []byte(content), nil
}

func splitRepo(fullName string) (owner, repo string, err error) {
	for i := 0; i < len(fullName); i++ {
		if fullName[i] == '/' {
			return fullName[:i], fullName[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid repository full name %q: expected owner/repo", fullName)
}
