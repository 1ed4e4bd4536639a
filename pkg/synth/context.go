package synth

import "context"

// FileFetcher fetches a single file's contents at a ref. Implemented by
// pkg/sourcehost.Driver; abstracted here so context assembly can be tested
// without a real GitHub client. BuildContext treats any error from
// FetchFile as the file being absent at ref.
type FileFetcher interface {
	FetchFile(ctx context.Context, installationID int64, repoFullName, path, ref string) ([]byte, error)
}

// budget caps how many characters of a given file are fed to the model.
// Oversized files are truncated, not rejected, so a large README still
// contributes its opening section.
type budget struct {
	path  string
	limit int
}

// fileBudgets is the fixed per-file character budget table. Each dependency
// manifest has its own limit; every non-compose file also draws from
// globalNonComposeBudget.
var fileBudgets = []budget{
	{"docker-compose.yml", 10_000},
	{"docker-compose.yaml", 10_000},
	{"Dockerfile", 5_000},
	{".env.example", 3_000},
	{"README.md", 4_000},
	{"package.json", 3_000},
	{"go.mod", 2_000},
	{"requirements.txt", 2_000},
}

// globalNonComposeBudget caps the combined size of every file besides the
// compose file, so a verbose README plus a large Dockerfile can't together
// blow the prompt budget.
const globalNonComposeBudget = 25_000

// RepoContext is the bounded, assembled context handed to the LLM.
type RepoContext struct {
	ComposeContent string
	ComposePath    string
	Supporting     map[string]string // path -> truncated content
}

// ErrNoComposeFile is returned when neither compose filename exists at ref.
var ErrNoComposeFile = errNoComposeFile{}

type errNoComposeFile struct{}

func (errNoComposeFile) Error() string { return "synth: no compose file found in repository" }

// BuildContext fetches the compose file and a bounded set of supporting
// files for a repository at ref. It aborts with ErrNoComposeFile if no
// compose file exists; every other file is fetched best-effort and skipped
// silently if absent.
func BuildContext(ctx context.Context, fetcher FileFetcher, installationID int64, repoFullName, ref string) (RepoContext, error) {
	var composeContent, composePath string
	for _, name := range []string{"docker-compose.yml", "docker-compose.yaml"} {
		data, err := fetcher.FetchFile(ctx, installationID, repoFullName, name, ref)
		if err == nil {
			composeContent = truncate(string(data), budgetFor(name))
			composePath = name
			break
		}
	}
	if composePath == "" {
		return RepoContext{}, ErrNoComposeFile
	}

	supporting := map[string]string{}
	remaining := globalNonComposeBudget
	for _, b := range fileBudgets {
		if b.path == composePath || b.path == "docker-compose.yml" || b.path == "docker-compose.yaml" {
			continue
		}
		if remaining <= 0 {
			break
		}
		data, err := fetcher.FetchFile(ctx, installationID, repoFullName, b.path, ref)
		if err != nil {
			continue
		}
		limit := b.limit
		if limit > remaining {
			limit = remaining
		}
		content := truncate(string(data), limit)
		supporting[b.path] = content
		remaining -= len(content)
	}

	return RepoContext{ComposeContent: composeContent, ComposePath: composePath, Supporting: supporting}, nil
}

func budgetFor(path string) int {
	for _, b := range fileBudgets {
		if b.path == path {
			return b.limit
		}
	}
	return globalNonComposeBudget
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
