// Package gcloud implements the provider that drives Google Cloud targets by
// shelling out to the gcloud, kubectl, and docker command line tools. The
// tools authenticate with whatever ambient credentials the environment
// carries; the orchestrator never handles credential material itself.
package gcloud

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/cloudstep/orchestrate/internal/plan"
	"github.com/cloudstep/orchestrate/internal/provider"
)

func init() {
	provider.Register("gcloud", func() (provider.Client, error) {
		return New(), nil
	})
}

// runFunc executes one external command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Provider executes deployment actions against GKE and Artifact Registry
// through the installed CLI tools.
type Provider struct {
	run runFunc
}

// New returns a Provider that invokes the real CLI tools.
func New() *Provider {
	return &Provider{run: runCommand}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gcloud" }

// Execute dispatches the step to its action handler.
func (p *Provider) Execute(ctx context.Context, step plan.Step, deps map[string]plan.Outputs) (plan.Outputs, error) {
	switch step.Action {
	case plan.ActionCreateCluster:
		return p.createCluster(ctx, step.Params)
	case plan.ActionBindIdentity:
		return p.bindIdentity(ctx, step.Params)
	case plan.ActionBuildImage:
		return p.buildImage(ctx, step.Params)
	case plan.ActionPushImage:
		return p.pushImage(ctx, step.Params)
	case plan.ActionDeploy:
		return p.deploy(ctx, step.Params)
	case plan.ActionWaitReady:
		return p.waitReady(ctx, step.Params)
	case plan.ActionGrantAccess:
		return p.grantAccess(ctx, step.Params)
	default:
		return nil, provider.Permanent(string(step.Action), fmt.Errorf("unsupported action"))
	}
}

func (p *Provider) gcloud(ctx context.Context, args ...string) ([]byte, error) {
	return p.run(ctx, "gcloud", args...)
}

func (p *Provider) kubectl(ctx context.Context, args ...string) ([]byte, error) {
	return p.run(ctx, "kubectl", args...)
}

func (p *Provider) docker(ctx context.Context, args ...string) ([]byte, error) {
	return p.run(ctx, "docker", args...)
}

// errAlreadyExists marks a create call that found its resource in place.
// Callers treat it as success and fall through to a describe.
var errAlreadyExists = errors.New("resource already exists")

// transient output markers. Matching is best effort; an unrecognized failure
// stays permanent so misconfigurations are not retried.
var transientMarkers = []string{
	"quota",
	"rate limit",
	"ratelimitexceeded",
	"resourceexhausted",
	"429",
	"500",
	"502",
	"503",
	"timed out",
	"timeout",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
	"try again",
	"tls handshake",
	"unavailable",
}

var existsMarkers = []string{
	"already exists",
	"alreadyexists",
	"duplicate",
	"409",
}

// classify turns a failed command into a provider error. Context errors pass
// through untouched so the executor can tell timeouts from tool failures.
func classify(op string, out []byte, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	text := strings.ToLower(string(out))
	if errors.Is(err, exec.ErrNotFound) {
		return provider.Permanent(op, err)
	}
	for _, marker := range existsMarkers {
		if strings.Contains(text, marker) {
			return fmt.Errorf("%s: %w", op, errAlreadyExists)
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return provider.Transient(op, fmt.Errorf("%s: %v", firstLine(out), err))
		}
	}
	return provider.Permanent(op, fmt.Errorf("%s: %v", firstLine(out), err))
}

func firstLine(out []byte) string {
	text := strings.TrimSpace(string(out))
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		text = "command failed with no output"
	}
	return text
}

func alreadyExists(err error) bool {
	return errors.Is(err, errAlreadyExists)
}

func param(params map[string]string, key, def string) string {
	if v, ok := params[key]; ok && v != "" {
		return v
	}
	return def
}

func requireParam(op string, params map[string]string, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == "" {
		return "", provider.Permanent(op, fmt.Errorf("missing required param %q", key))
	}
	return v, nil
}
