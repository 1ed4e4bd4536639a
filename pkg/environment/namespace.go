package environment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// dnsLabelPattern is RFC 1123 label validation, shared with the manifest
// validator's `metadata.name` rule.
var dnsLabelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidDNSLabel reports whether s is a valid DNS label (<=63 chars).
func ValidDNSLabel(s string) bool {
	return len(s) <= 63 && dnsLabelPattern.MatchString(s)
}

// slugify lowercases a repository name and replaces underscores with hyphens,
// the normalization shared by namespace and environment-URL generation.
func slugify(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

// BuildNamespace derives the cluster namespace for a pull request: the
// repository name is slugified and truncated to 20 characters before the
// `pr-{n}-` prefix is prepended, keeping the whole string a valid DNS label.
func BuildNamespace(prNumber int, repoName string) string {
	slug := slugify(repoName)
	if len(slug) > 20 {
		slug = slug[:20]
	}
	// Truncation can land on a hyphen, which would break DNS-label validity.
	slug = strings.TrimRight(slug, "-")
	return fmt.Sprintf("pr-%d-%s", prNumber, slug)
}

// PRNumberFromNamespace extracts the pull-request number encoded in a
// namespace of the form `pr-{n}-...`, as used by the compose synthesizer to
// recover the PR number for hostname generation.
func PRNumberFromNamespace(namespace string) (int, error) {
	parts := strings.SplitN(namespace, "-", 3)
	if len(parts) < 2 || parts[0] != "pr" {
		return 0, fmt.Errorf("namespace %q does not match pr-{n}-... form", namespace)
	}
	return strconv.Atoi(parts[1])
}

// BuildEnvironmentURL derives the public preview URL for a pull request. The
// repository name here is slugified but, unlike in BuildNamespace, not
// truncated.
func BuildEnvironmentURL(prNumber int, repoName, baseDomain string) string {
	subdomain := fmt.Sprintf("pr-%d-%s", prNumber, slugify(repoName))
	return fmt.Sprintf("https://%s.%s", subdomain, baseDomain)
}
