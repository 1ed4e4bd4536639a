package lifecycle

import (
	"fmt"
	"strings"

	"github.com/sabiut/ephemera/pkg/cluster"
	"github.com/sabiut/ephemera/pkg/environment"
	"github.com/sabiut/ephemera/pkg/synth"
)

// extractServiceURLs pulls every Ingress host out of a synthesized manifest
// set, the public URLs surfaced in the provisioning comment.
func extractServiceURLs(manifests []cluster.Manifest) []string {
	var urls []string
	for _, m := range manifests {
		if m.Kind() != cluster.KindIngress {
			continue
		}
		spec, _ := m["spec"].(map[string]any)
		rules, _ := spec["rules"].([]any)
		for _, r := range rules {
			rule, ok := r.(map[string]any)
			if !ok {
				continue
			}
			if host, ok := rule["host"].(string); ok && host != "" {
				urls = append(urls, "https://"+host)
			}
		}
	}
	return urls
}

// successComment builds the PR comment posted once an environment reaches
// READY. composeAbsent covers the "no docker-compose.yml found" branch;
// synthErr covers any other synthesis/apply failure, which is recorded on
// the Deployment but does not fail the environment.
func successComment(env environment.Environment, composeAbsent bool, result synth.Result, serviceURLs []string, synthErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## :rocket: Preview environment ready\n\n")
	fmt.Fprintf(&b, "Namespace `%s` is up.\n\n", env.Namespace)

	switch {
	case composeAbsent:
		b.WriteString("No `docker-compose.yml` or `docker-compose.yaml` found in this repository; the namespace and quota were created, but no workload was deployed.\n")
	case synthErr != nil:
		fmt.Fprintf(&b, "Workload synthesis failed and was not applied: %s\n", synthErr.Error())
	default:
		if len(serviceURLs) > 0 {
			b.WriteString("Service URLs:\n")
			for _, u := range serviceURLs {
				fmt.Fprintf(&b, "- %s\n", u)
			}
		} else {
			fmt.Fprintf(&b, "Environment URL: %s\n", env.EnvironmentURL)
		}
		if result.FallbackReason != "" {
			fmt.Fprintf(&b, "\n_Fell back to deterministic compose synthesis: %s_\n", result.FallbackReason)
		}
		if result.AIGenerated {
			b.WriteString("\n<details><summary>AI deployment plan</summary>\n\n")
			b.WriteString(aiPlan(result))
			b.WriteString("\n</details>\n")
		}
		for _, w := range result.Warnings {
			fmt.Fprintf(&b, "\n> **Warning:** %s\n", w)
		}
	}

	return b.String()
}

// aiPlan renders the manifest set the AI provider generated as the
// markdown body stored on Deployment.AIPlan and embedded in the comment's
// collapsible details block.
func aiPlan(result synth.Result) string {
	var b strings.Builder
	for _, m := range result.Manifests {
		fmt.Fprintf(&b, "- **%s** `%s` (namespace `%s`)\n", m.Kind(), m.Name(), m.Namespace())
	}
	return b.String()
}

// closeComment builds the comment posted once DESTROYING reaches a terminal
// state, distinguishing merged vs. simply-closed.
func closeComment(merged bool) string {
	if merged {
		return ":white_check_mark: This pull request was merged. The preview environment has been torn down."
	}
	return "This pull request was closed. The preview environment has been torn down."
}

// failedDestroyComment is posted when namespace deletion itself errors.
func failedDestroyComment(reason string) string {
	return fmt.Sprintf(":x: Failed to tear down the preview environment: %s", reason)
}
