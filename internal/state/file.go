package state

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cloudstep/orchestrate/internal/plan"
)

// File stores results as JSON lines, one file per target, under a directory.
// Each Put appends one line; on read the last record for a (step, key) pair
// wins, so a retry overwrites without rewriting history.
type File struct {
	Dir string

	mu sync.Mutex
}

// NewFile returns a file store rooted at dir. The directory is created on
// first write.
func NewFile(dir string) *File {
	return &File{Dir: dir}
}

func (f *File) path(target string) (string, error) {
	if target == "" || strings.ContainsAny(target, `/\`) {
		return "", wrap("resolve path", fmt.Errorf("invalid target name %q", target))
	}
	return filepath.Join(f.Dir, target+".jsonl"), nil
}

func (f *File) load(target string) ([]plan.StepResult, error) {
	path, err := f.path(target)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, wrap("open", err)
	}
	defer file.Close()

	var results []plan.StepResult
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var r plan.StepResult
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			return nil, wrap("decode", fmt.Errorf("%s line %d: %w", path, line, err))
		}
		results = append(results, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, wrap("read", err)
	}
	return results, nil
}

// Get implements Store.
func (f *File) Get(_ context.Context, target, step, key string) (plan.StepResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	results, err := f.load(target)
	if err != nil {
		return plan.StepResult{}, false, err
	}
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Step == step && results[i].Key == key {
			return results[i], true, nil
		}
	}
	return plan.StepResult{}, false, nil
}

// Put implements Store.
func (f *File) Put(_ context.Context, target, step, key string, result plan.StepResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path, err := f.path(target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return wrap("create dir", err)
	}

	result.Step = step
	result.Key = key
	data, err := json.Marshal(result)
	if err != nil {
		return wrap("encode", err)
	}
	data = append(data, '\n')

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return wrap("open", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return wrap("write", err)
	}
	if err := file.Close(); err != nil {
		return wrap("close", err)
	}
	return nil
}

// List implements Store.
func (f *File) List(_ context.Context, target string) ([]plan.StepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	results, err := f.load(target)
	if err != nil {
		return nil, err
	}
	return latestPerStep(results), nil
}

// Purge implements Store.
func (f *File) Purge(_ context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path, err := f.path(target)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return wrap("remove", err)
	}
	return nil
}

// Close implements Store.
func (f *File) Close() error { return nil }

// latestPerStep keeps the last record seen for each step, preserving the
// order in which steps first appeared.
func latestPerStep(results []plan.StepResult) []plan.StepResult {
	index := make(map[string]int)
	var out []plan.StepResult
	for _, r := range results {
		if i, ok := index[r.Step]; ok {
			out[i] = r
			continue
		}
		index[r.Step] = len(out)
		out = append(out, r)
	}
	return out
}
