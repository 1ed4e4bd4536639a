package synth

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sabiut/ephemera/pkg/cluster"
)

// allowedKinds, allowedAPIVersions, internalOnlyServiceTypes, and the max*
// constants mirror the safety gate between AI output and the Kubernetes API:
// every AI-generated manifest passes through here before pkg/cluster ever
// sees it.
var allowedKinds = map[string]bool{
	"Deployment":            true,
	"Service":               true,
	"Ingress":               true,
	"PersistentVolumeClaim": true,
	"ConfigMap":             true,
	"Secret":                true,
}

var allowedAPIVersions = map[string]bool{
	"apps/v1":              true,
	"v1":                   true,
	"networking.k8s.io/v1": true,
}

var internalOnlyServiceTypes = map[string]bool{
	"NodePort":     true,
	"LoadBalancer": true,
	"ExternalName": true,
}

const (
	maxManifests          = 50
	maxReplicas           = 2
	maxCPULimitMillicores = 2000
	maxMemoryLimitMi      = 2048
)

var dnsLabelRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidationResult accumulates errors (which reject the manifest set) and
// warnings (which leave it valid). Some warnings describe a correction
// already applied in place; others only flag a value, such as an over-limit
// CPU or memory limit, that is left as generated.
type ValidationResult struct {
	Errors    []string
	Warnings  []string
	Manifests []cluster.Manifest // corrected manifests, set only when Valid()
}

func (r *ValidationResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Valid reports whether validation found no rejecting errors.
func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// ValidateAll validates a freshly parsed manifest list, correcting
// namespace mismatches and over-limit replica counts in place rather than
// rejecting them. Over-limit CPU or memory limits, NEEDS_BUILD images, and
// missing Service ports, Ingress rules, or PVC fields only add a warning and
// are left unchanged. Every other violation (disallowed kind, hostNetwork,
// privileged container, missing required field) rejects the whole set:
// ephemera always has the compose fallback to reach for.
func ValidateAll(manifests []map[string]any, expectedNamespace string) *ValidationResult {
	result := &ValidationResult{}

	if len(manifests) == 0 {
		result.addError("AI response contained no manifests")
		return result
	}
	if len(manifests) > maxManifests {
		result.addError("too many manifests: %d (max %d)", len(manifests), maxManifests)
		return result
	}

	corrected := make([]cluster.Manifest, 0, len(manifests))
	for i, m := range manifests {
		cm := validateAndCorrect(m, expectedNamespace, i, result)
		if cm != nil {
			corrected = append(corrected, cm)
		}
	}

	if result.Valid() {
		result.Manifests = corrected
	}
	return result
}

func validateAndCorrect(manifest map[string]any, expectedNamespace string, index int, result *ValidationResult) cluster.Manifest {
	prefix := fmt.Sprintf("manifest[%d]", index)

	kind, _ := manifest["kind"].(string)
	apiVersion, _ := manifest["apiVersion"].(string)
	metadata, metaOK := manifest["metadata"].(map[string]any)

	if kind == "" {
		result.addError("%s: missing 'kind'", prefix)
		return nil
	}
	if apiVersion == "" {
		result.addError("%s: missing 'apiVersion'", prefix)
		return nil
	}
	if !metaOK {
		result.addError("%s: missing or invalid 'metadata'", prefix)
		return nil
	}

	name, _ := metadata["name"].(string)
	if name == "" {
		result.addError("%s (%s): missing 'metadata.name'", prefix, kind)
		return nil
	}

	if !allowedKinds[kind] {
		result.addError("%s: disallowed kind %q", prefix, kind)
		return nil
	}
	if !allowedAPIVersions[apiVersion] {
		result.addError("%s (%s/%s): disallowed apiVersion %q", prefix, kind, name, apiVersion)
		return nil
	}
	if !dnsLabelRE.MatchString(name) {
		result.addError("%s (%s/%s): invalid resource name, must be a valid DNS label", prefix, kind, name)
		return nil
	}

	actualNS, _ := metadata["namespace"].(string)
	if actualNS != expectedNamespace {
		if actualNS != "" {
			result.addWarning("%s (%s/%s): corrected namespace from %q to %q", prefix, kind, name, actualNS, expectedNamespace)
		}
		metadata["namespace"] = expectedNamespace
	}

	spec, _ := manifest["spec"].(map[string]any)
	if spec == nil {
		spec = map[string]any{}
	}

	switch kind {
	case "Deployment":
		if !validateDeployment(manifest, prefix, name, spec, result) {
			return nil
		}
	case "Service":
		validateService(prefix, name, spec, result)
	case "Ingress":
		validateIngress(prefix, name, spec, result)
	case "PersistentVolumeClaim":
		validatePVC(prefix, name, spec, result)
	}

	return cluster.Manifest(manifest)
}

func validateDeployment(manifest map[string]any, prefix, name string, spec map[string]any, result *ValidationResult) bool {
	if replicas, ok := numericValue(spec["replicas"]); ok && replicas > maxReplicas {
		result.addWarning("%s (Deployment/%s): capped replicas from %v to %d", prefix, name, spec["replicas"], maxReplicas)
		spec["replicas"] = maxReplicas
	}

	template, _ := spec["template"].(map[string]any)
	var podSpec map[string]any
	if template != nil {
		podSpec, _ = template["spec"].(map[string]any)
	}
	if podSpec == nil {
		result.addError("%s (Deployment/%s): missing spec.template.spec", prefix, name)
		return false
	}

	if truthy(podSpec["hostNetwork"]) {
		result.addError("%s (Deployment/%s): hostNetwork is not allowed", prefix, name)
		return false
	}
	if truthy(podSpec["hostPID"]) {
		result.addError("%s (Deployment/%s): hostPID is not allowed", prefix, name)
		return false
	}
	if truthy(podSpec["hostIPC"]) {
		result.addError("%s (Deployment/%s): hostIPC is not allowed", prefix, name)
		return false
	}

	containers, _ := podSpec["containers"].([]any)
	if len(containers) == 0 {
		result.addError("%s (Deployment/%s): no containers defined", prefix, name)
		return false
	}
	for i, c := range containers {
		container, _ := c.(map[string]any)
		if !validateContainer(container, fmt.Sprintf("%s (Deployment/%s/container[%d])", prefix, name, i), result) {
			return false
		}
	}

	if volumes, ok := podSpec["volumes"].([]any); ok {
		for _, v := range volumes {
			vol, _ := v.(map[string]any)
			if vol != nil && vol["hostPath"] != nil {
				result.addError("%s (Deployment/%s): hostPath volumes are not allowed", prefix, name)
				return false
			}
		}
	}

	return true
}

func validateContainer(container map[string]any, prefix string, result *ValidationResult) bool {
	if container == nil {
		result.addError("%s: container is not an object", prefix)
		return false
	}
	cname, _ := container["name"].(string)
	if cname == "" {
		result.addError("%s: missing container name", prefix)
		return false
	}
	image, _ := container["image"].(string)
	if image == "" {
		result.addError("%s: missing container image", prefix)
		return false
	}
	if strings.HasPrefix(image, "NEEDS_BUILD:") {
		result.addWarning("%s: image %q requires a build step; the service will not start until a pre-built image is pushed", prefix, image)
	}

	if secCtx, ok := container["securityContext"].(map[string]any); ok {
		if truthy(secCtx["privileged"]) {
			result.addError("%s: privileged containers are not allowed", prefix)
			return false
		}
	}

	if resources, ok := container["resources"].(map[string]any); ok {
		if limits, ok := resources["limits"].(map[string]any); ok {
			checkResourceLimit(limits["cpu"], "cpu", prefix, result)
			checkResourceLimit(limits["memory"], "memory", prefix, result)
		}
	}
	return true
}

func checkResourceLimit(value any, resourceType, prefix string, result *ValidationResult) {
	s, ok := value.(string)
	if !ok || s == "" {
		return
	}
	switch resourceType {
	case "cpu":
		millicores, err := parseCPU(s)
		if err != nil {
			result.addWarning("%s: could not parse cpu limit %q", prefix, s)
			return
		}
		if millicores > maxCPULimitMillicores {
			result.addWarning("%s: CPU limit %s exceeds maximum %dm", prefix, s, maxCPULimitMillicores)
		}
	case "memory":
		mi, err := parseMemoryMi(s)
		if err != nil {
			result.addWarning("%s: could not parse memory limit %q", prefix, s)
			return
		}
		if mi > maxMemoryLimitMi {
			result.addWarning("%s: memory limit %s exceeds maximum %dMi", prefix, s, maxMemoryLimitMi)
		}
	}
}

func validateService(prefix, name string, spec map[string]any, result *ValidationResult) {
	svcType, _ := spec["type"].(string)
	if svcType == "" {
		svcType = "ClusterIP"
	}
	if internalOnlyServiceTypes[svcType] {
		result.addError("%s (Service/%s): service type %q is not allowed in preview environments, use ClusterIP", prefix, name, svcType)
	}
	if ports, ok := spec["ports"].([]any); !ok || len(ports) == 0 {
		result.addWarning("%s (Service/%s): no ports defined", prefix, name)
	}
}

func validateIngress(prefix, name string, spec map[string]any, result *ValidationResult) {
	if rules, ok := spec["rules"].([]any); !ok || len(rules) == 0 {
		result.addWarning("%s (Ingress/%s): no rules defined", prefix, name)
	}
}

func validatePVC(prefix, name string, spec map[string]any, result *ValidationResult) {
	if modes, ok := spec["accessModes"].([]any); !ok || len(modes) == 0 {
		result.addWarning("%s (PVC/%s): no accessModes specified", prefix, name)
	}
	resources, _ := spec["resources"].(map[string]any)
	var requests map[string]any
	if resources != nil {
		requests, _ = resources["requests"].(map[string]any)
	}
	if requests == nil || requests["storage"] == nil {
		result.addWarning("%s (PVC/%s): no storage request specified", prefix, name)
	}
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func parseCPU(value string) (int, error) {
	value = strings.TrimSpace(value)
	if strings.HasSuffix(value, "m") {
		return strconv.Atoi(strings.TrimSuffix(value, "m"))
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	return int(f * 1000), nil
}

func parseMemoryMi(value string) (int, error) {
	value = strings.TrimSpace(value)
	switch {
	case strings.HasSuffix(value, "Gi"):
		f, err := strconv.ParseFloat(strings.TrimSuffix(value, "Gi"), 64)
		if err != nil {
			return 0, err
		}
		return int(f * 1024), nil
	case strings.HasSuffix(value, "Mi"):
		f, err := strconv.ParseFloat(strings.TrimSuffix(value, "Mi"), 64)
		if err != nil {
			return 0, err
		}
		return int(f), nil
	case strings.HasSuffix(value, "Ki"):
		f, err := strconv.ParseFloat(strings.TrimSuffix(value, "Ki"), 64)
		if err != nil {
			return 0, err
		}
		return int(f / 1024), nil
	default:
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, err
		}
		return n / (1024 * 1024), nil
	}
}
