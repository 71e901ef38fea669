package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// StepContext is what an executor sees of the job it runs for
type StepContext struct {
	Job  *domain.Job
	Step string
	Lang string // language suffix of per-language steps

	mu    sync.Mutex
	lines []string
}

// Logf records an outcome line; lines are appended to the job log with the step result
func (sc *StepContext) Logf(format string, args ...any) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.lines = append(sc.lines, fmt.Sprintf(format, args...))
}

// Lines returns the recorded outcome lines
func (sc *StepContext) Lines() []string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]string(nil), sc.lines...)
}

// Executor performs the work bound to a step
type Executor interface {
	Execute(ctx context.Context, sc *StepContext) error
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, sc *StepContext) error

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, sc *StepContext) error {
	return f(ctx, sc)
}

// Registry binds step names and step name prefixes to executors.
// Exact names win over prefixes; the longest matching prefix wins.
type Registry struct {
	exact    map[string]Executor
	prefixes map[string]Executor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		exact:    map[string]Executor{},
		prefixes: map[string]Executor{},
	}
}

// Register binds an exact step name
func (r *Registry) Register(step string, e Executor) *Registry {
	r.exact[step] = e
	return r
}

// RegisterPrefix binds every step starting with prefix
func (r *Registry) RegisterPrefix(prefix string, e Executor) *Registry {
	r.prefixes[prefix] = e
	return r
}

// Lookup returns the executor bound to step
func (r *Registry) Lookup(step string) (Executor, bool) {
	if e, ok := r.exact[step]; ok {
		return e, true
	}
	best := ""
	for p := range r.prefixes {
		if strings.HasPrefix(step, p) && len(step) > len(p) && len(p) > len(best) {
			best = p
		}
	}
	if best == "" {
		return nil, false
	}
	return r.prefixes[best], true
}

// Steps lists the bound names and prefixes (prefixes end with "*")
func (r *Registry) Steps() []string {
	out := make([]string, 0, len(r.exact)+len(r.prefixes))
	for s := range r.exact {
		out = append(out, s)
	}
	for p := range r.prefixes {
		out = append(out, p+"*")
	}
	sort.Strings(out)
	return out
}
