package synth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SystemPrompt is the fixed instruction given to every provider. It encodes
// the full rule set the validator and cluster driver assume: allowed kinds,
// the NEEDS_BUILD image placeholder, service-type awareness (no Ingress for
// databases/caches/queues/workers), env-var hostname rewriting, per-stack
// health probes, and conservative preview resource limits.
const SystemPrompt = `You are a Kubernetes deployment specialist for an Environment-as-a-Service
platform that creates preview environments for pull requests. Given a
repository's compose file and supporting context, produce the Kubernetes
manifests needed to run every service it describes in a single namespace.

Rules:

1. OUTPUT FORMAT: Respond with JSON only: either a bare array of manifest
   objects, or an object with a "manifests" (or "resources"/"items") array.
   No markdown fences, no explanation text, no commentary outside the JSON.

2. ALLOWED KINDS: Deployment (apps/v1), Service (v1),
   Ingress (networking.k8s.io/v1), PersistentVolumeClaim (v1),
   ConfigMap (v1), Secret (v1). Nothing else.

3. SERVICE TYPE AWARENESS:
   - Databases (postgres, mysql, mariadb, mongodb): official images, a 1Gi
     PersistentVolumeClaim mounted at the standard data directory (e.g.
     /var/lib/postgresql/data for postgres), ClusterIP Service only,
     NO Ingress, TCP liveness/readiness probes on the database port.
   - Caches (redis, memcached): like databases but smaller resources; a PVC
     only if the compose file configures persistence; NO Ingress; TCP probes
     on the service port.
   - Message queues (rabbitmq, kafka, nats): like databases; NO Ingress.
   - Web applications / APIs: Deployment + ClusterIP Service + Ingress, with
     HTTP readiness/liveness probes when a health endpoint can be inferred
     from the context (/health, /healthz, /).
   - Workers / background consumers (celery, sidekiq, queue consumers):
     Deployment only. No Service, no Ingress.
   Only web-facing services get an Ingress.

4. IMAGE HANDLING: If a compose service declares "image:", use that image.
   If it declares "build:", you cannot build images; use the placeholder
   NEEDS_BUILD:<service_name> as the image value instead.

5. ENVIRONMENT VARIABLES: Carry every variable over, accepting both the map
   form (KEY: value) and the list form (- KEY=value). Rewrite hostnames that
   reference other compose services to the Kubernetes Service name you are
   creating for them (e.g. DB_HOST=db becomes the db Service's name). Never
   invent real secrets; keep placeholder values as-is.

6. NETWORKING: Ingresses use ingressClassName nginx, the
   cert-manager.io/cluster-issuer: letsencrypt-prod and
   nginx.ingress.kubernetes.io/ssl-redirect: "true" annotations, TLS with
   secretName <service_name>-tls, and hostname
   pr-<pr_number>-<service_name>.<base domain>. In a compose port mapping
   "host:container" the container listens on the container port.

7. RESOURCE LIMITS (previews are conservative): web apps and workers request
   100m CPU / 128Mi and limit 500m CPU / 512Mi; databases request
   100m CPU / 256Mi and limit 500m CPU / 1Gi; caches request 50m CPU / 64Mi
   and limit 250m CPU / 256Mi. Replicas are always 1.

8. SAFETY: Every manifest must set metadata.namespace to the target
   namespace. Never set hostNetwork, hostPID, hostIPC, hostPath volumes, or
   privileged containers.`

// BuildUserPrompt assembles the user-turn prompt from the bounded repo context.
func BuildUserPrompt(rc RepoContext, namespace, repoSlug, baseDomain string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target namespace: %s\n", namespace)
	fmt.Fprintf(&b, "Repository slug: %s\n", repoSlug)
	fmt.Fprintf(&b, "Base domain for ingress hostnames: %s\n\n", baseDomain)
	fmt.Fprintf(&b, "Compose file (%s):\n```\n%s\n```\n", rc.ComposePath, rc.ComposeContent)

	paths := make([]string, 0, len(rc.Supporting))
	for path := range rc.Supporting {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		fmt.Fprintf(&b, "\n%s:\n```\n%s\n```\n", path, rc.Supporting[path])
	}
	return b.String()
}

// ParseManifests parses a provider's response text into a list of generic
// manifest maps, accepting a bare JSON array or an object wrapping the
// array under "manifests", "resources", or "items". Markdown code fences
// around the JSON are stripped first, since providers routinely wrap JSON
// in ``` blocks despite being told not to.
func ParseManifests(text string) ([]map[string]any, error) {
	text = stripFences(text)

	var arr []map[string]any
	if err := json.Unmarshal([]byte(text), &arr); err == nil {
		return arr, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("parsing provider response as JSON: %w", err)
	}
	for _, key := range []string{"manifests", "resources", "items"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var list []map[string]any
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("parsing %q field: %w", key, err)
		}
		return list, nil
	}
	return nil, fmt.Errorf("provider response has no manifests/resources/items array")
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text
	}
	lines = lines[1:]
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
