package interp

import (
	"strings"
	"testing"

	"github.com/cloudstep/orchestrate/internal/plan"
)

func TestRefs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"no refs here", nil},
		{"${project}", []string{"project"}},
		{"gcr.io/${project}/app:${build.tag}", []string{"project", "build.tag"}},
		{"${a}${b}", []string{"a", "b"}},
	}
	for _, tc := range tests {
		got := Refs(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("Refs(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Errorf("Refs(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}

func TestStepRef(t *testing.T) {
	tests := []struct {
		in         string
		step, out  string
		wantDotted bool
	}{
		{"build.digest", "build", "digest", true},
		{"build-image.imageDigest", "build-image", "imageDigest", true},
		{"project", "", "", false},
		{".hidden", "", "", false},
		{"trailing.", "", "", false},
		{"a.b.c", "a", "b.c", true},
	}
	for _, tc := range tests {
		step, out, dotted := StepRef(tc.in)
		if dotted != tc.wantDotted || step != tc.step || out != tc.out {
			t.Errorf("StepRef(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.in, step, out, dotted, tc.step, tc.out, tc.wantDotted)
		}
	}
}

func TestStatic(t *testing.T) {
	params := map[string]string{"project": "acme-prod", "region": "us-central1"}

	got, err := Static("projects/${project}/regions/${region}", params)
	if err != nil {
		t.Fatalf("Static: %v", err)
	}
	if got != "projects/acme-prod/regions/us-central1" {
		t.Errorf("Static = %q", got)
	}

	// Dotted references survive untouched for later resolution.
	got, err = Static("${project}:${build.digest}", params)
	if err != nil {
		t.Fatalf("Static: %v", err)
	}
	if got != "acme-prod:${build.digest}" {
		t.Errorf("Static = %q, want dotted ref preserved", got)
	}

	if _, err := Static("${missing}", params); err == nil {
		t.Error("expected error for unknown parameter")
	} else if !strings.Contains(err.Error(), `"missing"`) {
		t.Errorf("error %q does not name the parameter", err)
	}
}

func TestOutputs(t *testing.T) {
	outputs := map[string]plan.Outputs{
		"build-image": {"imageDigest": "sha256:abc123"},
		"create-cluster": {
			"clusterId": "projects/p/locations/l/clusters/c",
			"endpoint":  "10.0.0.1",
		},
	}

	got, err := Outputs("deploy ${build-image.imageDigest} to ${create-cluster.endpoint}", outputs)
	if err != nil {
		t.Fatalf("Outputs: %v", err)
	}
	if got != "deploy sha256:abc123 to 10.0.0.1" {
		t.Errorf("Outputs = %q", got)
	}

	// Plain refs are not this phase's business.
	got, err = Outputs("${project}", outputs)
	if err != nil {
		t.Fatalf("Outputs: %v", err)
	}
	if got != "${project}" {
		t.Errorf("Outputs = %q, want plain ref preserved", got)
	}

	if _, err := Outputs("${ghost.value}", outputs); err == nil {
		t.Error("expected error for unknown step reference")
	}
	if _, err := Outputs("${build-image.nope}", outputs); err == nil {
		t.Error("expected error for unknown output reference")
	}
}

func TestResolveParams(t *testing.T) {
	outputs := map[string]plan.Outputs{"push": {"digest": "sha256:def"}}
	params := map[string]string{"image": "repo@${push.digest}", "replicas": "3"}

	resolved, err := ResolveParams(params, outputs)
	if err != nil {
		t.Fatalf("ResolveParams: %v", err)
	}
	if resolved["image"] != "repo@sha256:def" {
		t.Errorf("image = %q", resolved["image"])
	}
	if resolved["replicas"] != "3" {
		t.Errorf("replicas = %q", resolved["replicas"])
	}
	if params["image"] != "repo@${push.digest}" {
		t.Error("input params modified")
	}

	if _, err := ResolveParams(map[string]string{"x": "${gone.ref}"}, outputs); err == nil {
		t.Error("expected error for unresolvable param")
	}
}
