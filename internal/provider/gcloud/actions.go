package gcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudstep/orchestrate/internal/plan"
	"github.com/cloudstep/orchestrate/internal/provider"
)

const servicePollInterval = 5 * time.Second

func (p *Provider) createCluster(ctx context.Context, params map[string]string) (plan.Outputs, error) {
	const op = "create cluster"
	cluster, err := requireParam(op, params, "cluster")
	if err != nil {
		return nil, err
	}
	project, err := requireParam(op, params, "project")
	if err != nil {
		return nil, err
	}
	region, err := requireParam(op, params, "region")
	if err != nil {
		return nil, err
	}

	args := []string{
		"container", "clusters", "create", cluster,
		"--project", project,
		"--region", region,
		"--workload-pool", project + ".svc.id.goog",
		"--quiet",
	}
	if mt := param(params, "machine_type", ""); mt != "" {
		args = append(args, "--machine-type", mt)
	}
	if n := param(params, "num_nodes", ""); n != "" {
		args = append(args, "--num-nodes", n)
	}
	if out, err := p.gcloud(ctx, args...); err != nil {
		if cerr := classify(op, out, err); !alreadyExists(cerr) {
			return nil, cerr
		}
	}

	descOut, err := p.gcloud(ctx, "container", "clusters", "describe", cluster,
		"--project", project, "--region", region, "--format", "json")
	if err != nil {
		return nil, classify(op, descOut, err)
	}
	var desc struct {
		Name     string `json:"name"`
		Endpoint string `json:"endpoint"`
	}
	if err := json.Unmarshal(descOut, &desc); err != nil {
		return nil, provider.Permanent(op, fmt.Errorf("parse cluster description: %w", err))
	}

	// Later kubectl steps need the cluster in the ambient kubeconfig.
	if out, err := p.gcloud(ctx, "container", "clusters", "get-credentials", cluster,
		"--project", project, "--region", region); err != nil {
		return nil, classify(op, out, err)
	}

	return plan.Outputs{
		"clusterId": fmt.Sprintf("projects/%s/locations/%s/clusters/%s", project, region, cluster),
		"endpoint":  desc.Endpoint,
	}, nil
}

func (p *Provider) bindIdentity(ctx context.Context, params map[string]string) (plan.Outputs, error) {
	const op = "bind identity"
	account, err := requireParam(op, params, "service_account")
	if err != nil {
		return nil, err
	}
	project, err := requireParam(op, params, "project")
	if err != nil {
		return nil, err
	}
	namespace := param(params, "namespace", "default")
	ksa := param(params, "ksa", account)
	email := fmt.Sprintf("%s@%s.iam.gserviceaccount.com", account, project)

	if out, err := p.gcloud(ctx, "iam", "service-accounts", "create", account,
		"--project", project, "--quiet"); err != nil {
		if cerr := classify(op, out, err); !alreadyExists(cerr) {
			return nil, cerr
		}
	}

	member := fmt.Sprintf("serviceAccount:%s.svc.id.goog[%s/%s]", project, namespace, ksa)
	if out, err := p.gcloud(ctx, "iam", "service-accounts", "add-iam-policy-binding", email,
		"--project", project,
		"--role", "roles/iam.workloadIdentityUser",
		"--member", member,
		"--quiet"); err != nil {
		if cerr := classify(op, out, err); !alreadyExists(cerr) {
			return nil, cerr
		}
	}

	if out, err := p.kubectl(ctx, "create", "serviceaccount", ksa, "-n", namespace); err != nil {
		if cerr := classify(op, out, err); !alreadyExists(cerr) {
			return nil, cerr
		}
	}
	if out, err := p.kubectl(ctx, "annotate", "serviceaccount", ksa, "-n", namespace,
		"iam.gke.io/gcp-service-account="+email, "--overwrite"); err != nil {
		return nil, classify(op, out, err)
	}

	return plan.Outputs{"serviceAccountId": email}, nil
}

func (p *Provider) buildImage(ctx context.Context, params map[string]string) (plan.Outputs, error) {
	const op = "build image"
	image, err := requireParam(op, params, "image")
	if err != nil {
		return nil, err
	}
	buildContext := param(params, "context", ".")

	args := []string{"build", "-t", image}
	if df := param(params, "dockerfile", ""); df != "" {
		args = append(args, "-f", df)
	}
	args = append(args, buildContext)
	if out, err := p.docker(ctx, args...); err != nil {
		return nil, classify(op, out, err)
	}

	idOut, err := p.docker(ctx, "inspect", "--format", "{{.Id}}", image)
	if err != nil {
		return nil, classify(op, idOut, err)
	}
	return plan.Outputs{"imageId": strings.TrimSpace(string(idOut))}, nil
}

func (p *Provider) pushImage(ctx context.Context, params map[string]string) (plan.Outputs, error) {
	const op = "push image"
	image, err := requireParam(op, params, "image")
	if err != nil {
		return nil, err
	}

	if out, err := p.docker(ctx, "push", image); err != nil {
		return nil, classify(op, out, err)
	}

	refOut, err := p.docker(ctx, "inspect", "--format", "{{index .RepoDigests 0}}", image)
	if err != nil {
		return nil, classify(op, refOut, err)
	}
	ref := strings.TrimSpace(string(refOut))
	digest := ref
	if i := strings.LastIndexByte(ref, '@'); i >= 0 {
		digest = ref[i+1:]
	}
	return plan.Outputs{
		"imageDigest": digest,
		"imageRef":    ref,
	}, nil
}

func (p *Provider) deploy(ctx context.Context, params map[string]string) (plan.Outputs, error) {
	const op = "deploy"
	app, err := requireParam(op, params, "app")
	if err != nil {
		return nil, err
	}
	image, err := requireParam(op, params, "image")
	if err != nil {
		return nil, err
	}
	namespace := param(params, "namespace", "default")
	port := param(params, "port", "8080")

	out, err := p.kubectl(ctx, "create", "deployment", app,
		"--image", image, "--port", port, "-n", namespace)
	if err != nil {
		cerr := classify(op, out, err)
		if !alreadyExists(cerr) {
			return nil, cerr
		}
		// Existing deployment: roll the image instead.
		if out, err := p.kubectl(ctx, "set", "image", "deployment/"+app,
			"*="+image, "-n", namespace); err != nil {
			return nil, classify(op, out, err)
		}
	}

	if replicas := param(params, "replicas", ""); replicas != "" {
		if out, err := p.kubectl(ctx, "scale", "deployment/"+app,
			"--replicas", replicas, "-n", namespace); err != nil {
			return nil, classify(op, out, err)
		}
	}

	if out, err := p.kubectl(ctx, "expose", "deployment", app,
		"--port", "80", "--target-port", port,
		"--type", "LoadBalancer", "-n", namespace); err != nil {
		if cerr := classify(op, out, err); !alreadyExists(cerr) {
			return nil, cerr
		}
	}

	return plan.Outputs{"deploymentId": namespace + "/" + app}, nil
}

func (p *Provider) waitReady(ctx context.Context, params map[string]string) (plan.Outputs, error) {
	const op = "wait ready"
	app, err := requireParam(op, params, "app")
	if err != nil {
		return nil, err
	}
	namespace := param(params, "namespace", "default")
	interval := servicePollInterval
	if v := param(params, "poll_interval", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, provider.Permanent(op, fmt.Errorf("invalid poll_interval %q", v))
		}
		interval = d
	}

	if out, err := p.kubectl(ctx, "rollout", "status", "deployment/"+app, "-n", namespace); err != nil {
		return nil, classify(op, out, err)
	}

	outputs := plan.Outputs{"ready": "true"}
	for {
		out, err := p.kubectl(ctx, "get", "service", app, "-n", namespace,
			"-o", "jsonpath={.status.loadBalancer.ingress[0].ip}")
		if err != nil {
			// No service means the app was deployed without exposure.
			if strings.Contains(strings.ToLower(string(out)), "not found") {
				return outputs, nil
			}
			return nil, classify(op, out, err)
		}
		if ip := strings.TrimSpace(string(out)); ip != "" {
			outputs["externalIP"] = ip
			return outputs, nil
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Provider) grantAccess(ctx context.Context, params map[string]string) (plan.Outputs, error) {
	const op = "grant access"
	project, err := requireParam(op, params, "project")
	if err != nil {
		return nil, err
	}
	member, err := requireParam(op, params, "member")
	if err != nil {
		return nil, err
	}
	role := param(params, "role", "roles/container.viewer")

	if out, err := p.gcloud(ctx, "projects", "add-iam-policy-binding", project,
		"--member", member, "--role", role,
		"--quiet", "--format", "none"); err != nil {
		if cerr := classify(op, out, err); !alreadyExists(cerr) {
			return nil, cerr
		}
	}
	return plan.Outputs{}, nil
}
