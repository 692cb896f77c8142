// Package instrument maps roster labels to the backends that answer
// instrument queries when automation is on.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrDuplicateLabel    = errors.New("instrument label already registered")
)

// Invoker answers one instrument query.
type Invoker interface {
	Invoke(ctx context.Context, query string) (string, error)
}

// InvokerFunc adapts a plain function to Invoker.
type InvokerFunc func(ctx context.Context, query string) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}

// Descriptor 描述一个已注册的 instrument
// Descriptor is one registered instrument. Match, when set, lets labels
// other than Label resolve to it (for example model variants).
type Descriptor struct {
	Label  string
	Kind   string
	Match  func(label string) bool
	Invoke Invoker
}

// Registry 显式的 label -> instrument 映射，启动时填充
// Registry is an explicit label-to-instrument mapping filled at startup.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Descriptor
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]Descriptor{}}
}

func key(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

func (r *Registry) Register(d Descriptor) error {
	k := key(d.Label)
	if k == "" {
		return fmt.Errorf("register instrument: label is empty")
	}
	if d.Invoke == nil {
		return fmt.Errorf("register instrument %q: no invoker", d.Label)
	}
	d.Label = strings.TrimSpace(d.Label)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[k]; ok {
		return fmt.Errorf("register instrument %q: %w", d.Label, ErrDuplicateLabel)
	}
	r.entries[k] = d
	r.order = append(r.order, k)
	return nil
}

// Lookup is an exact, case-insensitive match.
func (r *Registry) Lookup(label string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[key(label)]
	return d, ok
}

// Labels returns labels in registration order.
func (r *Registry) Labels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.entries[k].Label)
	}
	return out
}

// Resolve 先精确匹配，再按注册顺序尝试 matcher
// Resolve tries an exact match first, then each matcher in registration
// order.
func (r *Registry) Resolve(label string) (Descriptor, error) {
	if d, ok := r.Lookup(label); ok {
		return d, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, k := range r.order {
		d := r.entries[k]
		if d.Match != nil && d.Match(label) {
			return d, nil
		}
	}
	if strings.TrimSpace(label) == "" {
		return Descriptor{}, fmt.Errorf("resolve unlabelled query: %w", ErrUnknownInstrument)
	}
	return Descriptor{}, fmt.Errorf("resolve %q: %w", label, ErrUnknownInstrument)
}

// Invoke resolves label and runs the query against it. An empty label
// goes to the first registered instrument.
func (r *Registry) Invoke(ctx context.Context, label, query string) (string, error) {
	var (
		d   Descriptor
		err error
	)
	if strings.TrimSpace(label) == "" {
		r.mu.RLock()
		if len(r.order) > 0 {
			d = r.entries[r.order[0]]
		}
		r.mu.RUnlock()
		if d.Invoke == nil {
			return "", fmt.Errorf("no instruments registered: %w", ErrUnknownInstrument)
		}
	} else if d, err = r.Resolve(label); err != nil {
		return "", err
	}
	answer, err := d.Invoke.Invoke(ctx, query)
	if err != nil {
		return "", fmt.Errorf("instrument %s: %w", d.Label, err)
	}
	return strings.TrimSpace(answer), nil
}

// PrefixMatcher matches label itself and variants such as "label-mini".
func PrefixMatcher(label string) func(string) bool {
	base := key(label)
	return func(candidate string) bool {
		c := key(candidate)
		return c == base || strings.HasPrefix(c, base+"-") || strings.HasPrefix(c, base+":")
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
