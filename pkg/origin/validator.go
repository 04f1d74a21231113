package origin

import (
	"errors"
	"sort"
	"sync"
)

// Validator decides whether a message from a given sender origin is
// processed. It is safe for concurrent use and its allow-list can be
// replaced at runtime.
type Validator struct {
	mu        sync.RWMutex
	allowAll  bool
	allowed   map[string]struct{}
	allowNull bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithNullOrigin sets the local policy for sandboxed and opaque origins.
func WithNullOrigin(allow bool) Option {
	return func(v *Validator) {
		v.allowNull = allow
	}
}

// NewValidator builds a Validator from an allow-list. Entries that fail
// to normalise are ignored; use Replace to learn about them.
func NewValidator(allowed []string, opts ...Option) *Validator {
	v := &Validator{allowed: make(map[string]struct{})}
	for _, opt := range opts {
		opt(v)
	}
	_ = v.Replace(allowed)
	return v
}

// Exact returns a Validator that accepts only o.
func Exact(o string, opts ...Option) *Validator {
	return NewValidator([]string{o}, opts...)
}

// Allow reports whether messages from o may be processed.
func (v *Validator) Allow(o string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	n, err := Normalize(o)
	if err != nil {
		return false
	}
	if n == Null {
		return v.allowNull
	}
	if v.allowAll {
		return true
	}
	_, ok := v.allowed[n]
	return ok
}

// Replace swaps the allow-list. Valid entries are applied even when some
// entries are invalid; the returned error joins every rejected entry.
func (v *Validator) Replace(allowed []string) error {
	next := make(map[string]struct{}, len(allowed))
	allowAll := false
	var errs []error
	for _, a := range allowed {
		if a == Wildcard {
			allowAll = true
			continue
		}
		n, err := Normalize(a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n == Null {
			continue
		}
		next[n] = struct{}{}
	}

	v.mu.Lock()
	v.allowed = next
	v.allowAll = allowAll
	v.mu.Unlock()
	return errors.Join(errs...)
}

// AllowsNull reports the null-origin policy.
func (v *Validator) AllowsNull() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.allowNull
}

// Allowed returns the sorted allow-list.
func (v *Validator) Allowed() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.allowed)+1)
	if v.allowAll {
		out = append(out, Wildcard)
	}
	for o := range v.allowed {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}
