package events

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestEvent_Chaining(t *testing.T) {
	e := New(StepRetrying, "prod", "run-1").
		WithStep("build-image").
		WithData("attempt", 2).
		WithData("error", "quota exceeded")

	if e.Type != StepRetrying {
		t.Errorf("Type = %q, want %q", e.Type, StepRetrying)
	}
	if e.Target != "prod" || e.RunID != "run-1" {
		t.Errorf("correlation fields = (%q, %q)", e.Target, e.RunID)
	}
	if e.Step != "build-image" {
		t.Errorf("Step = %q, want %q", e.Step, "build-image")
	}
	if e.Data["attempt"] != 2 {
		t.Errorf("Data[attempt] = %v, want 2", e.Data["attempt"])
	}
	if e.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestEvent_JSON(t *testing.T) {
	e := New(StepSucceeded, "prod", "run-9").WithStep("deploy")
	data, err := e.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "step.succeeded" {
		t.Errorf("type = %v", decoded["type"])
	}
	if decoded["step"] != "deploy" {
		t.Errorf("step = %v", decoded["step"])
	}
}

func TestCollector(t *testing.T) {
	var c Collector
	c.Emit(New(RunStarted, "t", "r"))
	c.Emit(New(StepRunning, "t", "r").WithStep("a"))
	c.Emit(New(StepSucceeded, "t", "r").WithStep("a"))

	if got := len(c.Events()); got != 3 {
		t.Fatalf("Events count = %d, want 3", got)
	}
	succeeded := c.ByType(StepSucceeded)
	if len(succeeded) != 1 || succeeded[0].Step != "a" {
		t.Errorf("ByType(step.succeeded) = %v", succeeded)
	}
}

func TestStreamEmitter(t *testing.T) {
	var buf bytes.Buffer
	s := NewStreamEmitter(&buf)
	s.Emit(New(RunStarted, "t", "r"))
	s.Emit(New(RunCompleted, "t", "r"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	for _, line := range lines {
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Errorf("line %q is not valid JSON: %v", line, err)
		}
	}
}

func TestFanout(t *testing.T) {
	var a, b Collector
	f := Fanout{&a, &b}
	f.Emit(New(RunStarted, "t", "r"))
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Errorf("fanout delivered (%d, %d) events, want (1, 1)", len(a.Events()), len(b.Events()))
	}
}
