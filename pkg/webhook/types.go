package webhook

// PullRequestEvent is the subset of GitHub's pull_request webhook payload
// the lifecycle controller needs.
type PullRequestEvent struct {
	Action       string      `json:"action"`
	Number       int         `json:"number"`
	PullRequest  PullRequest `json:"pull_request"`
	Repository   Repository  `json:"repository"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

// PullRequest mirrors the fields of GitHub's pull_request object used
// anywhere in the lifecycle controller or namespace/URL generation.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Merged bool   `json:"merged"`
	User   struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
	} `json:"user"`
	Head struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
}

// Repository mirrors the fields of GitHub's repository object.
type Repository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
}

// PingEvent is GitHub's connectivity check payload, sent when a webhook is
// first configured.
type PingEvent struct {
	Zen string `json:"zen"`
}
