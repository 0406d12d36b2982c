package state

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/cloudstep/orchestrate/internal/plan"
)

const etcdDialTimeout = 5 * time.Second

// Etcd stores results in an etcd cluster under
// orchestrate/<target>/<step>/<key>. It suits teams sharing one state
// backend across machines.
type Etcd struct {
	cli    *clientv3.Client
	prefix string
}

// NewEtcd connects to the given endpoints.
func NewEtcd(_ context.Context, endpoints []string) (*Etcd, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: etcdDialTimeout,
	})
	if err != nil {
		return nil, wrap("connect etcd", err)
	}
	return &Etcd{cli: cli, prefix: "orchestrate/"}, nil
}

func (e *Etcd) key(target, step, key string) string {
	return e.prefix + target + "/" + step + "/" + key
}

func (e *Etcd) targetPrefix(target string) string {
	return e.prefix + target + "/"
}

// Get implements Store.
func (e *Etcd) Get(ctx context.Context, target, step, key string) (plan.StepResult, bool, error) {
	resp, err := e.cli.Get(ctx, e.key(target, step, key))
	if err != nil {
		return plan.StepResult{}, false, wrap("get", err)
	}
	if len(resp.Kvs) == 0 {
		return plan.StepResult{}, false, nil
	}
	var r plan.StepResult
	if err := json.Unmarshal(resp.Kvs[0].Value, &r); err != nil {
		return plan.StepResult{}, false, wrap("decode", err)
	}
	return r, true, nil
}

// Put implements Store.
func (e *Etcd) Put(ctx context.Context, target, step, key string, result plan.StepResult) error {
	result.Step = step
	result.Key = key
	data, err := json.Marshal(result)
	if err != nil {
		return wrap("encode", err)
	}
	if _, err := e.cli.Put(ctx, e.key(target, step, key), string(data)); err != nil {
		return wrap("put", err)
	}
	return nil
}

// List implements Store.
func (e *Etcd) List(ctx context.Context, target string) ([]plan.StepResult, error) {
	resp, err := e.cli.Get(ctx, e.targetPrefix(target), clientv3.WithPrefix())
	if err != nil {
		return nil, wrap("list", err)
	}

	latest := make(map[string]plan.StepResult)
	for _, kv := range resp.Kvs {
		var r plan.StepResult
		if err := json.Unmarshal(kv.Value, &r); err != nil {
			return nil, wrap("decode", err)
		}
		prev, ok := latest[r.Step]
		if !ok || r.FinishedAt.After(prev.FinishedAt) {
			latest[r.Step] = r
		}
	}

	out := make([]plan.StepResult, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FinishedAt.Equal(out[j].FinishedAt) {
			return out[i].Step < out[j].Step
		}
		return out[i].FinishedAt.Before(out[j].FinishedAt)
	})
	return out, nil
}

// Purge implements Store.
func (e *Etcd) Purge(ctx context.Context, target string) error {
	if _, err := e.cli.Delete(ctx, e.targetPrefix(target), clientv3.WithPrefix()); err != nil {
		return wrap("purge", err)
	}
	return nil
}

// Close implements Store.
func (e *Etcd) Close() error {
	return e.cli.Close()
}
