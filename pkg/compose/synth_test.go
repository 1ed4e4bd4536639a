package compose

import "testing"

const sampleCompose = `
services:
  web:
    image: acme/web:latest
    ports:
      - "8080:8000"
    environment:
      - DEBUG=true
      - PORT=8000
  worker:
    image: acme/worker:latest
    environment:
      DEBUG: "false"
  api:
    image: acme/api:latest
    ports:
      - 9000
`

func TestSynthesizeEmitsDeploymentServiceIngressOnlyWhenPortExposed(t *testing.T) {
	f, err := Parse([]byte(sampleCompose))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	manifests, err := Synthesize(f, "pr-42-widget", "widget", "preview.example.com")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	kindsByName := map[string][]string{}
	for _, m := range manifests {
		name, _ := m["metadata"].(map[string]any)["name"].(string)
		kindsByName[name] = append(kindsByName[name], string(m.Kind()))
	}

	// web and api expose ports: Deployment + Service + Ingress.
	for _, name := range []string{"web", "api"} {
		got := kindsByName[name]
		if len(got) != 3 {
			t.Errorf("service %s: expected 3 manifests, got %d (%v)", name, len(got), got)
		}
	}

	// worker exposes no ports: Deployment only.
	if got := kindsByName["worker"]; len(got) != 1 || got[0] != "Deployment" {
		t.Errorf("service worker: expected [Deployment] only, got %v", got)
	}
}

func TestSynthesizePortMappingBoundaryForms(t *testing.T) {
	compose := `
services:
  a:
    image: x
    ports: ["8000"]
  b:
    image: x
    ports: ["8000:8000"]
  c:
    image: x
    ports: [8000]
`
	f, err := Parse([]byte(compose))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	for name := range f.Services {
		svc := f.Services[name]
		ports, err := svc.NormalizedPorts()
		if err != nil {
			t.Fatalf("service %s: %v", name, err)
		}
		if len(ports) != 1 || ports[0].Container != 8000 {
			t.Errorf("service %s: expected containerPort 8000, got %+v", name, ports)
		}
	}
}

func TestSynthesizeIngressHostnameUsesPRNumberFromNamespace(t *testing.T) {
	f, err := Parse([]byte(sampleCompose))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	manifests, err := Synthesize(f, "pr-42-widget", "widget", "preview.example.com")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	found := false
	for _, m := range manifests {
		if m.Kind() != "Ingress" {
			continue
		}
		found = true
		spec := m["spec"].(map[string]any)
		rules := spec["rules"].([]any)
		rule := rules[0].(map[string]any)
		host := rule["host"].(string)
		if host != "pr-42-web.preview.example.com" && host != "pr-42-api.preview.example.com" {
			t.Errorf("unexpected ingress host: %s", host)
		}
	}
	if !found {
		t.Fatal("expected at least one Ingress manifest")
	}
}

func TestSynthesizeRejectsMalformedNamespace(t *testing.T) {
	f, err := Parse([]byte(sampleCompose))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Synthesize(f, "not-a-pr-namespace", "widget", "preview.example.com"); err == nil {
		t.Fatal("expected error for malformed namespace")
	}
}

func TestNormalizedEnvListAndMapFormsAgree(t *testing.T) {
	f, err := Parse([]byte(sampleCompose))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	webEnv, err := f.Services["web"].NormalizedEnv()
	if err != nil {
		t.Fatalf("web env: %v", err)
	}
	if webEnv["DEBUG"] != "true" || webEnv["PORT"] != "8000" {
		t.Errorf("unexpected web env: %+v", webEnv)
	}

	workerEnv, err := f.Services["worker"].NormalizedEnv()
	if err != nil {
		t.Fatalf("worker env: %v", err)
	}
	if workerEnv["DEBUG"] != "false" {
		t.Errorf("unexpected worker env: %+v", workerEnv)
	}
}

func TestParseRejectsMissingServices(t *testing.T) {
	if _, err := Parse([]byte("version: \"3\"\n")); err == nil {
		t.Fatal("expected error for compose file with no services")
	}
}
