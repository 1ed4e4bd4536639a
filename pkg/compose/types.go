// Package compose parses a container-compose document and synthesizes a
// deterministic, baseline set of cluster manifests from it, the fallback
// path the LLM synthesizer (pkg/synth) falls back to on any failure.
package compose

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is a parsed compose document; only the fields the synthesizer
// consumes are modeled.
type File struct {
	Services map[string]Service `yaml:"services"`
}

// Service is one entry under the top-level `services` map.
type Service struct {
	Image       string `yaml:"image"`
	Build       any    `yaml:"build"`
	Ports       []any  `yaml:"ports"`
	Environment any    `yaml:"environment"`
	Volumes     []any  `yaml:"volumes"`
}

// HasBuild reports whether the service declares a `build:` section instead
// of (or alongside) a pre-built image, the signal for NEEDS_BUILD handling.
func (s Service) HasBuild() bool {
	return s.Build != nil
}

// Parse parses raw compose YAML. It requires a top-level `services` map.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing compose file: %w", err)
	}
	if len(f.Services) == 0 {
		return nil, fmt.Errorf("compose file has no top-level services map")
	}
	return &f, nil
}

// PortMapping is a normalized host:container port pair.
type PortMapping struct {
	Host      int
	Container int
}

// NormalizedPorts normalizes the service's port declarations. Each entry may be a bare
// integer (8000), a string with no mapping ("8000"), or a string with a
// host:container mapping ("8080:8000"); in every case the container-side
// port is the trailing element when split on ":".
func (s Service) NormalizedPorts() ([]PortMapping, error) {
	out := make([]PortMapping, 0, len(s.Ports))
	for _, raw := range s.Ports {
		pm, err := parsePortEntry(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, pm)
	}
	return out, nil
}

func parsePortEntry(raw any) (PortMapping, error) {
	switch v := raw.(type) {
	case int:
		return PortMapping{Host: v, Container: v}, nil
	case string:
		parts := strings.Split(v, ":")
		container, err := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
		if err != nil {
			return PortMapping{}, fmt.Errorf("invalid port entry %q: %w", v, err)
		}
		host := container
		if len(parts) > 1 {
			host, err = strconv.Atoi(strings.TrimSpace(parts[0]))
			if err != nil {
				return PortMapping{}, fmt.Errorf("invalid port entry %q: %w", v, err)
			}
		}
		return PortMapping{Host: host, Container: container}, nil
	default:
		return PortMapping{}, fmt.Errorf("unsupported port entry type %T", raw)
	}
}

// NormalizedEnv returns the service's environment variables as a map,
// accepting both the map form ({K: V}) and the list form (["K=V"]).
func (s Service) NormalizedEnv() (map[string]string, error) {
	if s.Environment == nil {
		return map[string]string{}, nil
	}

	out := map[string]string{}
	switch v := s.Environment.(type) {
	case map[string]any:
		for k, val := range v {
			out[k] = fmt.Sprintf("%v", val)
		}
	case []any:
		for _, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("environment list entry must be a string, got %T", entry)
			}
			idx := strings.Index(s, "=")
			if idx < 0 {
				return nil, fmt.Errorf("invalid environment entry %q: expected K=V", s)
			}
			out[s[:idx]] = s[idx+1:]
		}
	default:
		return nil, fmt.Errorf("unsupported environment type %T", v)
	}
	return out, nil
}
