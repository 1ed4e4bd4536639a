package synth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sabiut/ephemera/internal/telemetry"
	"github.com/sabiut/ephemera/pkg/cluster"
	"github.com/sabiut/ephemera/pkg/compose"
)

// Synthesizer produces the manifest set for a deployment: it tries the AI
// provider first (when configured) and falls back to the deterministic
// compose synthesizer on any failure in the AI path: a provider error, a
// response that fails parsing, or one that fails validation. Synthesize
// returns an error and no manifests when no compose file is found (wrapping
// ErrNoComposeFile), when the compose file is unparseable, or when the
// baseline compose synthesis itself fails.
type Synthesizer struct {
	Provider Provider // nil disables AI synthesis entirely
	Fetcher  FileFetcher
	Cache    *Cache
	Logger   *slog.Logger
}

// Result is the outcome of a synthesis attempt.
type Result struct {
	Manifests      []cluster.Manifest
	AIGenerated    bool
	FallbackReason string // set only when AIGenerated is false but AI was attempted
	Warnings       []string
}

// Synthesize runs the pipeline described in the package doc. installationID
// and ref select which commit's files are fetched; namespace, repoSlug, and
// baseDomain parameterize both the AI prompt and the compose fallback.
func (s *Synthesizer) Synthesize(ctx context.Context, installationID int64, repoFullName, ref, namespace, repoSlug, baseDomain string) (Result, error) {
	rc, err := BuildContext(ctx, s.Fetcher, installationID, repoFullName, ref)
	if err != nil {
		return Result{}, fmt.Errorf("assembling repository context: %w", err)
	}
	composeFile, err := compose.Parse([]byte(rc.ComposeContent))
	if err != nil {
		return Result{}, fmt.Errorf("parsing compose file %s: %w", rc.ComposePath, err)
	}

	var fallbackReason string
	if s.Provider != nil {
		result, reason, ok := s.tryAI(ctx, rc, namespace, repoSlug, baseDomain)
		if ok {
			return result, nil
		}
		fallbackReason = reason
	}

	manifests, err := compose.Synthesize(composeFile, namespace, repoSlug, baseDomain)
	if err != nil {
		return Result{}, fmt.Errorf("baseline compose synthesis failed: %w", err)
	}
	return Result{Manifests: manifests, AIGenerated: false, FallbackReason: fallbackReason}, nil
}

// tryAI attempts the full AI path. On failure it reports ok=false along
// with a human-readable reason recorded on the Deployment row, so the
// fallback to compose synthesis is never a silent one.
func (s *Synthesizer) tryAI(ctx context.Context, rc RepoContext, namespace, repoSlug, baseDomain string) (Result, string, bool) {
	key := CacheKey(rc.ComposeContent, namespace)
	if cached, ok := s.Cache.Get(key); ok {
		return Result{Manifests: cached, AIGenerated: true}, "", true
	}

	userPrompt := BuildUserPrompt(rc, namespace, repoSlug, baseDomain)
	resp, err := s.Provider.Generate(ctx, SystemPrompt, userPrompt)
	if err != nil {
		telemetry.SynthesisProviderCalls.WithLabelValues(s.Provider.Name(), "error").Inc()
		return Result{}, s.logFallback(fmt.Sprintf("Provider %s failed: %v", s.Provider.Name(), err)), false
	}
	telemetry.SynthesisProviderCalls.WithLabelValues(s.Provider.Name(), "ok").Inc()
	if s.Logger != nil {
		s.Logger.Info("AI synthesis provider responded",
			"provider", s.Provider.Name(), "model", resp.Model,
			"input_tokens", resp.InputTokens, "output_tokens", resp.OutputTokens)
	}

	raw, err := ParseManifests(resp.Text)
	if err != nil {
		return Result{}, s.logFallback(fmt.Sprintf("Response parsing failed: %v", err)), false
	}

	validation := ValidateAll(raw, namespace)
	if !validation.Valid() {
		return Result{}, s.logFallback("Manifest validation failed: " + joinErrors(validation.Errors)), false
	}

	s.Cache.Set(key, validation.Manifests)
	return Result{Manifests: validation.Manifests, AIGenerated: true, Warnings: validation.Warnings}, "", true
}

func (s *Synthesizer) logFallback(reason string) string {
	telemetry.SynthesisFallbackTotal.Inc()
	if s.Logger != nil {
		s.Logger.Warn("AI synthesis fell back to compose baseline", "reason", reason)
	}
	return reason
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e
	}
	return out
}
