package gcloud

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudstep/orchestrate/internal/plan"
	"github.com/cloudstep/orchestrate/internal/provider"
)

// ---------- scripted command runner ----------

type scriptResponse struct {
	out string
	err error
}

type script struct {
	t         *testing.T
	calls     []string
	responses []scriptResponse
}

func newScript(t *testing.T, responses ...scriptResponse) *script {
	return &script{t: t, responses: responses}
}

func (s *script) run(_ context.Context, name string, args ...string) ([]byte, error) {
	s.calls = append(s.calls, name+" "+strings.Join(args, " "))
	if len(s.responses) == 0 {
		s.t.Fatalf("unexpected command: %s %s", name, strings.Join(args, " "))
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return []byte(resp.out), resp.err
}

func (s *script) call(i int) string {
	if i >= len(s.calls) {
		s.t.Fatalf("call %d not made; calls: %v", i, s.calls)
	}
	return s.calls[i]
}

func testProvider(s *script) *Provider {
	return &Provider{run: s.run}
}

var exitErr = errors.New("exit status 1")

// ---------- CreateCluster ----------

func TestCreateCluster(t *testing.T) {
	s := newScript(t,
		scriptResponse{out: "Creating cluster..."},
		scriptResponse{out: `{"name": "demo", "endpoint": "34.1.2.3"}`},
		scriptResponse{out: "kubeconfig entry generated"},
	)
	p := testProvider(s)

	out, err := p.Execute(context.Background(), plan.Step{
		Name:   "create-cluster",
		Action: plan.ActionCreateCluster,
		Params: map[string]string{"cluster": "demo", "project": "acme", "region": "us-central1"},
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if out["clusterId"] != "projects/acme/locations/us-central1/clusters/demo" {
		t.Errorf("clusterId = %q", out["clusterId"])
	}
	if out["endpoint"] != "34.1.2.3" {
		t.Errorf("endpoint = %q", out["endpoint"])
	}

	create := s.call(0)
	if !strings.Contains(create, "container clusters create demo") {
		t.Errorf("create command = %q", create)
	}
	if !strings.Contains(create, "--workload-pool acme.svc.id.goog") {
		t.Errorf("create command missing workload pool: %q", create)
	}
	if !strings.Contains(s.call(2), "get-credentials") {
		t.Errorf("credentials command = %q", s.call(2))
	}
}

func TestCreateCluster_AlreadyExists(t *testing.T) {
	s := newScript(t,
		scriptResponse{out: "ERROR: (gcloud.container.clusters.create) already exists", err: exitErr},
		scriptResponse{out: `{"name": "demo", "endpoint": "34.0.0.9"}`},
		scriptResponse{out: "ok"},
	)
	p := testProvider(s)

	out, err := p.createCluster(context.Background(),
		map[string]string{"cluster": "demo", "project": "acme", "region": "us-central1"})
	if err != nil {
		t.Fatalf("existing cluster should map to success, got %v", err)
	}
	if out["endpoint"] != "34.0.0.9" {
		t.Errorf("endpoint = %q", out["endpoint"])
	}
}

func TestCreateCluster_QuotaIsRetryable(t *testing.T) {
	s := newScript(t,
		scriptResponse{out: "ERROR: Quota exceeded for resource cpus", err: exitErr},
	)
	p := testProvider(s)

	_, err := p.createCluster(context.Background(),
		map[string]string{"cluster": "demo", "project": "acme", "region": "us-central1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !provider.Retryable(err) {
		t.Errorf("quota error should be retryable: %v", err)
	}
}

func TestCreateCluster_MissingParam(t *testing.T) {
	p := testProvider(newScript(t))
	_, err := p.createCluster(context.Background(), map[string]string{"cluster": "demo"})
	if err == nil {
		t.Fatal("expected error for missing project")
	}
	if provider.Retryable(err) {
		t.Error("missing param must not be retryable")
	}
	if !strings.Contains(err.Error(), `"project"`) {
		t.Errorf("error %q does not name the param", err)
	}
}

// ---------- BindIdentity ----------

func TestBindIdentity(t *testing.T) {
	s := newScript(t,
		scriptResponse{out: "Created service account"},
		scriptResponse{out: "Updated IAM policy"},
		scriptResponse{out: "serviceaccount/app created"},
		scriptResponse{out: "serviceaccount/app annotated"},
	)
	p := testProvider(s)

	out, err := p.bindIdentity(context.Background(), map[string]string{
		"service_account": "app-runner",
		"project":         "acme",
		"namespace":       "prod",
		"ksa":             "app",
	})
	if err != nil {
		t.Fatalf("bindIdentity: %v", err)
	}
	if out["serviceAccountId"] != "app-runner@acme.iam.gserviceaccount.com" {
		t.Errorf("serviceAccountId = %q", out["serviceAccountId"])
	}

	if !strings.Contains(s.call(1), "serviceAccount:acme.svc.id.goog[prod/app]") {
		t.Errorf("binding member wrong: %q", s.call(1))
	}
	if !strings.Contains(s.call(3), "iam.gke.io/gcp-service-account=app-runner@acme.iam.gserviceaccount.com") {
		t.Errorf("annotation wrong: %q", s.call(3))
	}
}

// ---------- BuildImage / PushImage ----------

func TestBuildImage(t *testing.T) {
	s := newScript(t,
		scriptResponse{out: "Successfully built"},
		scriptResponse{out: "sha256:fedcba9876\n"},
	)
	p := testProvider(s)

	out, err := p.buildImage(context.Background(), map[string]string{
		"image":   "gcr.io/acme/app:v1",
		"context": "./svc",
	})
	if err != nil {
		t.Fatalf("buildImage: %v", err)
	}
	if out["imageId"] != "sha256:fedcba9876" {
		t.Errorf("imageId = %q", out["imageId"])
	}
	if got := s.call(0); !strings.HasPrefix(got, "docker build -t gcr.io/acme/app:v1") || !strings.HasSuffix(got, "./svc") {
		t.Errorf("build command = %q", got)
	}
}

func TestPushImage(t *testing.T) {
	s := newScript(t,
		scriptResponse{out: "pushed"},
		scriptResponse{out: "gcr.io/acme/app@sha256:0011aabb\n"},
	)
	p := testProvider(s)

	out, err := p.pushImage(context.Background(), map[string]string{"image": "gcr.io/acme/app:v1"})
	if err != nil {
		t.Fatalf("pushImage: %v", err)
	}
	if out["imageDigest"] != "sha256:0011aabb" {
		t.Errorf("imageDigest = %q", out["imageDigest"])
	}
	if out["imageRef"] != "gcr.io/acme/app@sha256:0011aabb" {
		t.Errorf("imageRef = %q", out["imageRef"])
	}
}

// ---------- Deploy / WaitReady ----------

func TestDeploy_NewDeployment(t *testing.T) {
	s := newScript(t,
		scriptResponse{out: "deployment.apps/web created"},
		scriptResponse{out: "service/web exposed"},
	)
	p := testProvider(s)

	out, err := p.deploy(context.Background(), map[string]string{
		"app":       "web",
		"image":     "gcr.io/acme/app@sha256:11",
		"namespace": "prod",
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if out["deploymentId"] != "prod/web" {
		t.Errorf("deploymentId = %q", out["deploymentId"])
	}
}

func TestDeploy_ExistingRollsImage(t *testing.T) {
	s := newScript(t,
		scriptResponse{out: `Error from server (AlreadyExists): deployments.apps "web" already exists`, err: exitErr},
		scriptResponse{out: "deployment.apps/web image updated"},
		scriptResponse{out: `Error from server (AlreadyExists): services "web" already exists`, err: exitErr},
	)
	p := testProvider(s)

	out, err := p.deploy(context.Background(), map[string]string{
		"app":   "web",
		"image": "gcr.io/acme/app@sha256:22",
	})
	if err != nil {
		t.Fatalf("deploy over existing should succeed, got %v", err)
	}
	if out["deploymentId"] != "default/web" {
		t.Errorf("deploymentId = %q", out["deploymentId"])
	}
	if !strings.Contains(s.call(1), "set image deployment/web *=gcr.io/acme/app@sha256:22") {
		t.Errorf("set image command = %q", s.call(1))
	}
}

func TestWaitReady(t *testing.T) {
	s := newScript(t,
		scriptResponse{out: `deployment "web" successfully rolled out`},
		scriptResponse{out: "203.0.113.7"},
	)
	p := testProvider(s)

	out, err := p.waitReady(context.Background(), map[string]string{"app": "web"})
	if err != nil {
		t.Fatalf("waitReady: %v", err)
	}
	if out["ready"] != "true" {
		t.Errorf("ready = %q", out["ready"])
	}
	if out["externalIP"] != "203.0.113.7" {
		t.Errorf("externalIP = %q", out["externalIP"])
	}
}

func TestWaitReady_NoService(t *testing.T) {
	s := newScript(t,
		scriptResponse{out: "rolled out"},
		scriptResponse{out: `Error from server (NotFound): services "worker" not found`, err: exitErr},
	)
	p := testProvider(s)

	out, err := p.waitReady(context.Background(), map[string]string{"app": "worker"})
	if err != nil {
		t.Fatalf("waitReady without service should succeed, got %v", err)
	}
	if out["ready"] != "true" {
		t.Errorf("ready = %q", out["ready"])
	}
	if _, ok := out["externalIP"]; ok {
		t.Error("externalIP should be absent without a service")
	}
}

// ---------- GrantAccess ----------

func TestGrantAccess(t *testing.T) {
	s := newScript(t,
		scriptResponse{out: "Updated IAM policy"},
	)
	p := testProvider(s)

	out, err := p.grantAccess(context.Background(), map[string]string{
		"project": "acme",
		"member":  "group:devs@example.com",
		"role":    "roles/container.developer",
	})
	if err != nil {
		t.Fatalf("grantAccess: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("outputs = %v, want empty", out)
	}
	got := s.call(0)
	if !strings.Contains(got, "--member group:devs@example.com") || !strings.Contains(got, "--role roles/container.developer") {
		t.Errorf("grant command = %q", got)
	}
}

// ---------- dispatch and classification ----------

func TestExecute_UnsupportedAction(t *testing.T) {
	p := testProvider(newScript(t))
	_, err := p.Execute(context.Background(), plan.Step{Name: "x", Action: plan.Action("Reboot")}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported action")
	}
	if provider.Retryable(err) {
		t.Error("unsupported action must not be retryable")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		out           string
		wantRetryable bool
		wantExists    bool
	}{
		{"quota", "ERROR: Quota 'CPUS' exceeded", true, false},
		{"unavailable", "ERROR: 503 Service Unavailable", true, false},
		{"rate_limit", "rateLimitExceeded: too many requests", true, false},
		{"connection", "dial tcp: connection refused", true, false},
		{"exists", `resource "demo" already exists`, false, true},
		{"conflict_409", "ERROR: 409 duplicate entry", false, true},
		{"not_found", "ERROR: cluster not found", false, false},
		{"permission", "PERMISSION_DENIED: caller lacks container.clusters.create", false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := classify("op", []byte(tc.out), exitErr)
			if got := alreadyExists(err); got != tc.wantExists {
				t.Errorf("alreadyExists = %v, want %v", got, tc.wantExists)
			}
			if got := provider.Retryable(err); got != tc.wantRetryable {
				t.Errorf("Retryable = %v, want %v", got, tc.wantRetryable)
			}
		})
	}

	if err := classify("op", nil, nil); err != nil {
		t.Errorf("nil command error should classify to nil, got %v", err)
	}
	if err := classify("op", nil, context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("context errors must pass through, got %v", err)
	}
}
