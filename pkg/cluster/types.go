// Package cluster wraps a Kubernetes API client to apply and delete the six
// workload manifest kinds the synthesis pipeline can produce, idempotently.
package cluster

import (
	"encoding/json"
	"fmt"
)

// Kind enumerates the manifest kinds the driver knows how to apply.
type Kind string

const (
	KindDeployment            Kind = "Deployment"
	KindService               Kind = "Service"
	KindIngress               Kind = "Ingress"
	KindPersistentVolumeClaim Kind = "PersistentVolumeClaim"
	KindConfigMap             Kind = "ConfigMap"
	KindSecret                Kind = "Secret"
)

// recognizedKinds is the closed set apply_manifest accepts; anything else is refused.
var recognizedKinds = map[Kind]bool{
	KindDeployment: true, KindService: true, KindIngress: true,
	KindPersistentVolumeClaim: true, KindConfigMap: true, KindSecret: true,
}

// Manifest is a generic cluster resource declaration, kept as a raw map so
// that both the baseline compose synthesizer and the LLM synthesizer can
// produce it without importing Kubernetes client types directly.
type Manifest map[string]any

// Kind returns the manifest's `kind` field.
func (m Manifest) Kind() Kind {
	if v, ok := m["kind"].(string); ok {
		return Kind(v)
	}
	return ""
}

// APIVersion returns the manifest's `apiVersion` field.
func (m Manifest) APIVersion() string {
	v, _ := m["apiVersion"].(string)
	return v
}

// metadata returns the manifest's `metadata` map, creating it if absent.
func (m Manifest) metadata() map[string]any {
	meta, ok := m["metadata"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		m["metadata"] = meta
	}
	return meta
}

// Name returns `metadata.name`.
func (m Manifest) Name() string {
	v, _ := m.metadata()["name"].(string)
	return v
}

// Namespace returns `metadata.namespace`.
func (m Manifest) Namespace() string {
	v, _ := m.metadata()["namespace"].(string)
	return v
}

// SetNamespace overwrites `metadata.namespace`.
func (m Manifest) SetNamespace(ns string) {
	m.metadata()["namespace"] = ns
}

// IsRecognized reports whether Kind() is one of the six supported kinds.
func (m Manifest) IsRecognized() bool {
	return recognizedKinds[m.Kind()]
}

// decodeInto marshals the manifest back to JSON and unmarshals it into dst,
// the bridge between the generic map representation and a typed client-go object.
func (m Manifest) decodeInto(dst any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding manifest into %T: %w", dst, err)
	}
	return nil
}
