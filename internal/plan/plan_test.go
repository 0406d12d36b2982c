package plan

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// ---------- BuildPlan tests ----------

func TestBuildPlan(t *testing.T) {
	tests := []struct {
		name      string
		steps     []Step
		wantErr   string
		errIs     error
		wantOrder []string
		wantWaves [][]string
	}{
		{
			name: "linear_chain",
			steps: []Step{
				{Name: "cluster", Action: ActionCreateCluster},
				{Name: "deploy", Action: ActionDeploy, DependsOn: []string{"cluster"}},
				{Name: "wait", Action: ActionWaitReady, DependsOn: []string{"deploy"}},
			},
			wantOrder: []string{"cluster", "deploy", "wait"},
			wantWaves: [][]string{{"cluster"}, {"deploy"}, {"wait"}},
		},
		{
			name: "independent_roots_share_a_wave",
			steps: []Step{
				{Name: "cluster", Action: ActionCreateCluster},
				{Name: "build", Action: ActionBuildImage},
				{Name: "deploy", Action: ActionDeploy, DependsOn: []string{"cluster", "build"}},
			},
			wantOrder: []string{"cluster", "build", "deploy"},
			wantWaves: [][]string{{"cluster", "build"}, {"deploy"}},
		},
		{
			name: "ties_keep_declaration_order_not_lexicographic",
			steps: []Step{
				{Name: "zeta", Action: ActionBuildImage},
				{Name: "alpha", Action: ActionCreateCluster},
				{Name: "mid", Action: ActionDeploy, DependsOn: []string{"zeta", "alpha"}},
			},
			wantOrder: []string{"zeta", "alpha", "mid"},
			wantWaves: [][]string{{"zeta", "alpha"}, {"mid"}},
		},
		{
			name: "diamond",
			steps: []Step{
				{Name: "a", Action: ActionCreateCluster},
				{Name: "b", Action: ActionBuildImage, DependsOn: []string{"a"}},
				{Name: "c", Action: ActionBindIdentity, DependsOn: []string{"a"}},
				{Name: "d", Action: ActionDeploy, DependsOn: []string{"b", "c"}},
			},
			wantOrder: []string{"a", "b", "c", "d"},
			wantWaves: [][]string{{"a"}, {"b", "c"}, {"d"}},
		},
		{
			name:      "single_step",
			steps:     []Step{{Name: "only", Action: ActionBuildImage}},
			wantOrder: []string{"only"},
			wantWaves: [][]string{{"only"}},
		},
		{
			name:      "empty_steps",
			steps:     []Step{},
			wantOrder: []string{},
		},
		{
			name: "duplicate_step_name",
			steps: []Step{
				{Name: "a", Action: ActionBuildImage},
				{Name: "a", Action: ActionPushImage},
			},
			wantErr: "declared twice",
			errIs:   ErrDuplicateStep,
		},
		{
			name: "unknown_dependency",
			steps: []Step{
				{Name: "a", Action: ActionDeploy, DependsOn: []string{"ghost"}},
			},
			wantErr: `depends on "ghost"`,
			errIs:   ErrUnknownDependency,
		},
		{
			name: "self_dependency",
			steps: []Step{
				{Name: "a", Action: ActionDeploy, DependsOn: []string{"a"}},
			},
			wantErr: "depends on itself",
			errIs:   ErrCyclicDependency,
		},
		{
			name: "two_node_cycle",
			steps: []Step{
				{Name: "a", Action: ActionBuildImage, DependsOn: []string{"b"}},
				{Name: "b", Action: ActionPushImage, DependsOn: []string{"a"}},
			},
			wantErr: "cyclic dependency",
			errIs:   ErrCyclicDependency,
		},
		{
			name: "cycle_behind_valid_prefix",
			steps: []Step{
				{Name: "ok", Action: ActionCreateCluster},
				{Name: "x", Action: ActionBuildImage, DependsOn: []string{"ok", "z"}},
				{Name: "y", Action: ActionPushImage, DependsOn: []string{"x"}},
				{Name: "z", Action: ActionDeploy, DependsOn: []string{"y"}},
			},
			wantErr: "involving x, y, z",
			errIs:   ErrCyclicDependency,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := BuildPlan("test-target", tc.steps)
			if tc.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tc.wantErr)
				}
				if !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("error %q does not contain %q", err.Error(), tc.wantErr)
				}
				if tc.errIs != nil && !errors.Is(err, tc.errIs) {
					t.Fatalf("errors.Is(%v, %v) = false", err, tc.errIs)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got := p.Names()
			if len(got) != len(tc.wantOrder) {
				t.Fatalf("order = %v, want %v", got, tc.wantOrder)
			}
			for i := range tc.wantOrder {
				if got[i] != tc.wantOrder[i] {
					t.Errorf("order[%d] = %q, want %q", i, got[i], tc.wantOrder[i])
				}
			}

			if tc.wantWaves != nil {
				waves := p.Waves()
				if len(waves) != len(tc.wantWaves) {
					t.Fatalf("waves = %v, want %v", waves, tc.wantWaves)
				}
				for i, wave := range tc.wantWaves {
					if len(waves[i]) != len(wave) {
						t.Errorf("wave %d: got %v, want %v", i, waves[i], wave)
						continue
					}
					for j, step := range wave {
						if waves[i][j] != step {
							t.Errorf("wave %d step %d: got %q, want %q", i, j, waves[i][j], step)
						}
					}
				}
			}
		})
	}
}

func TestBuildPlan_DoesNotMutateInput(t *testing.T) {
	steps := []Step{
		{Name: "a", Action: ActionBuildImage, DependsOn: []string{"b"}},
		{Name: "b", Action: ActionPushImage, DependsOn: []string{"a"}},
	}
	if _, err := BuildPlan("t", steps); err == nil {
		t.Fatal("expected cycle error, got nil")
	}
	if steps[0].Name != "a" || steps[1].Name != "b" {
		t.Errorf("input steps reordered: %v", steps)
	}
	if len(steps[0].DependsOn) != 1 || steps[0].DependsOn[0] != "b" {
		t.Errorf("input dependencies modified: %v", steps[0].DependsOn)
	}
}

func TestBuildPlan_CopiesSteps(t *testing.T) {
	steps := []Step{
		{Name: "a", Action: ActionBuildImage, Params: map[string]string{"tag": "v1"}},
	}
	p, err := BuildPlan("t", steps)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	steps[0].Params["tag"] = "mutated"
	got, _ := p.Step("a")
	if got.Params["tag"] != "v1" {
		t.Errorf("plan step params = %q, want %q", got.Params["tag"], "v1")
	}
}

func TestPlan_Accessors(t *testing.T) {
	p, err := BuildPlan("demo", []Step{
		{Name: "a", Action: ActionCreateCluster},
		{Name: "b", Action: ActionBuildImage, DependsOn: []string{"a"}},
		{Name: "c", Action: ActionDeploy, DependsOn: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	if p.Target != "demo" {
		t.Errorf("Target = %q, want %q", p.Target, "demo")
	}
	if _, ok := p.Step("a"); !ok {
		t.Error("Step(a) not found")
	}
	if _, ok := p.Step("nope"); ok {
		t.Error("Step(nope) should not exist")
	}

	deps := p.Dependents("a")
	if len(deps) != 2 || deps[0] != "b" || deps[1] != "c" {
		t.Errorf("Dependents(a) = %v, want [b c]", deps)
	}
	if got := p.Dependents("c"); len(got) != 0 {
		t.Errorf("Dependents(c) = %v, want empty", got)
	}
}

// ---------- idempotency key tests ----------

func TestKey(t *testing.T) {
	base := Key(ActionBuildImage, map[string]string{"tag": "v1", "context": "."})

	if !strings.HasPrefix(base, "sha256:") {
		t.Errorf("key %q missing sha256 prefix", base)
	}
	if got := Key(ActionBuildImage, map[string]string{"context": ".", "tag": "v1"}); got != base {
		t.Errorf("key depends on map iteration order: %q vs %q", got, base)
	}
	if got := Key(ActionBuildImage, map[string]string{"tag": "v2", "context": "."}); got == base {
		t.Error("key unchanged after param value change")
	}
	if got := Key(ActionPushImage, map[string]string{"tag": "v1", "context": "."}); got == base {
		t.Error("key unchanged after action change")
	}
	if Key(ActionDeploy, nil) != Key(ActionDeploy, map[string]string{}) {
		t.Error("nil and empty params should hash identically")
	}
}

// ---------- status and result tests ----------

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
		{StatusSkipped, true},
	}
	for _, tc := range tests {
		if got := tc.status.Terminal(); got != tc.want {
			t.Errorf("Terminal(%q) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestStepResult_Duration(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := StepResult{StartedAt: start, FinishedAt: start.Add(90 * time.Second)}
	if got := r.Duration(); got != 90*time.Second {
		t.Errorf("Duration = %v, want 90s", got)
	}
	if got := (StepResult{}).Duration(); got != 0 {
		t.Errorf("zero result Duration = %v, want 0", got)
	}
}

func TestAction_Valid(t *testing.T) {
	for _, a := range Actions() {
		if !a.Valid() {
			t.Errorf("Valid(%q) = false, want true", a)
		}
	}
	if Action("DeleteEverything").Valid() {
		t.Error("Valid(DeleteEverything) = true, want false")
	}
}
