package compose

import (
	"fmt"
	"sort"

	"github.com/sabiut/ephemera/pkg/cluster"
	"github.com/sabiut/ephemera/pkg/environment"
)

// NeedsBuildPrefix marks a container image as requiring a build the
// cluster cannot perform; the LLM synthesizer (pkg/synth) uses the same
// placeholder so the validator can flag it consistently regardless of which
// synthesis path produced it.
const NeedsBuildPrefix = "NEEDS_BUILD:"

// Synthesize converts a parsed compose file into the baseline manifest set:
// one Deployment per compose service, plus a Service and an Ingress for any
// service that exposes a port. A service with no ports gets only its
// Deployment.
func Synthesize(f *File, namespace, repoSlug, baseDomain string) ([]cluster.Manifest, error) {
	prNumber, err := environment.PRNumberFromNamespace(namespace)
	if err != nil {
		return nil, fmt.Errorf("synthesizing manifests: %w", err)
	}

	names := make([]string, 0, len(f.Services))
	for name := range f.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	var manifests []cluster.Manifest
	for _, name := range names {
		svc := f.Services[name]
		ports, err := svc.NormalizedPorts()
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", name, err)
		}
		env, err := svc.NormalizedEnv()
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", name, err)
		}

		labels := baseLabels(repoSlug, name)
		image := svc.Image
		if image == "" && svc.HasBuild() {
			image = NeedsBuildPrefix + name
		}

		manifests = append(manifests, deployment(name, namespace, image, labels, ports, env))

		if len(ports) > 0 {
			manifests = append(manifests, service(name, namespace, labels, ports))
			manifests = append(manifests, ingress(name, namespace, labels, prNumber, baseDomain, ports[0].Host))
		}
	}

	return manifests, nil
}

func baseLabels(repoSlug, serviceName string) map[string]any {
	return map[string]any{
		"app":        repoSlug,
		"service":    serviceName,
		"managed-by": "ephemera",
	}
}

func deployment(name, namespace, image string, labels map[string]any, ports []PortMapping, env map[string]string) cluster.Manifest {
	containerPorts := make([]any, 0, len(ports))
	for _, p := range ports {
		containerPorts = append(containerPorts, map[string]any{"containerPort": p.Container})
	}

	envVars := make([]any, 0, len(env))
	for k, v := range env {
		envVars = append(envVars, map[string]any{"name": k, "value": v})
	}

	return cluster.Manifest{
		"kind":       "Deployment",
		"apiVersion": "apps/v1",
		"metadata": map[string]any{
			"name":      name,
			"namespace": namespace,
			"labels":    labels,
		},
		"spec": map[string]any{
			"replicas": 1,
			"selector": map[string]any{
				"matchLabels": map[string]any{"service": name},
			},
			"template": map[string]any{
				"metadata": map[string]any{"labels": labels},
				"spec": map[string]any{
					"containers": []any{
						map[string]any{
							"name":  name,
							"image": image,
							"ports": containerPorts,
							"env":   envVars,
						},
					},
				},
			},
		},
	}
}

func service(name, namespace string, labels map[string]any, ports []PortMapping) cluster.Manifest {
	svcPorts := make([]any, 0, len(ports))
	for i, p := range ports {
		svcPorts = append(svcPorts, map[string]any{
			"name":       fmt.Sprintf("port-%d", i),
			"port":       p.Host,
			"targetPort": p.Container,
		})
	}

	return cluster.Manifest{
		"kind":       "Service",
		"apiVersion": "v1",
		"metadata": map[string]any{
			"name":      name,
			"namespace": namespace,
			"labels":    labels,
		},
		"spec": map[string]any{
			"type":     "ClusterIP",
			"selector": map[string]any{"service": name},
			"ports":    svcPorts,
		},
	}
}

func ingress(name, namespace string, labels map[string]any, prNumber int, baseDomain string, servicePort int) cluster.Manifest {
	host := fmt.Sprintf("pr-%d-%s.%s", prNumber, name, baseDomain)
	tlsSecret := name + "-tls"

	return cluster.Manifest{
		"kind":       "Ingress",
		"apiVersion": "networking.k8s.io/v1",
		"metadata": map[string]any{
			"name":      name,
			"namespace": namespace,
			"labels":    labels,
			"annotations": map[string]any{
				"cert-manager.io/cluster-issuer":           "letsencrypt-prod",
				"nginx.ingress.kubernetes.io/ssl-redirect": "true",
			},
		},
		"spec": map[string]any{
			"ingressClassName": "nginx",
			"tls": []any{
				map[string]any{"hosts": []any{host}, "secretName": tlsSecret},
			},
			"rules": []any{
				map[string]any{
					"host": host,
					"http": map[string]any{
						"paths": []any{
							map[string]any{
								"path":     "/",
								"pathType": "Prefix",
								"backend": map[string]any{
									"service": map[string]any{
										"name": name,
										"port": map[string]any{"number": servicePort},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}
