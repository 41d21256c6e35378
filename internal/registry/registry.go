// Package registry implements the process-wide service table that decouples
// cards from the shell. Services are registered by name during single-threaded
// startup, the table is frozen before the first frame, and lookups after the
// freeze are lock-free.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Service names every shell must install before the first frame.
const (
	SvcCreateCard = "create_card"
	SvcNotify     = "notify"
	SvcQuitting   = "quitting"
	SvcKeystrokes = "keystrokes"
	SvcEdit       = "edit"
	SvcRunCommand = "run_command"
	SvcExit       = "exit"
)

// Callable shapes a service may take. The registrar is deliberately closed
// over these four; adding a shape is an ABI change.
type (
	// Proc consumes a single string argument and returns nothing.
	Proc func(arg string)

	// Pred returns a boolean with no arguments.
	Pred func() bool

	// Source returns a string with no arguments.
	Source func() string

	// Runner launches a command and streams output chunks to sink.
	Runner func(command string, sink func(chunk string))
)

// Kind identifies a callable shape for Verify.
type Kind uint8

// Callable shape identifiers.
const (
	KindProc Kind = iota + 1
	KindPred
	KindSource
	KindRunner
)

// ErrDuplicateName reports a second Register under an existing name.
// Callers should use errors.Is(err, ErrDuplicateName).
var ErrDuplicateName = errors.New("duplicate service name")

// ErrBadShape reports a callable that is none of the four service shapes.
var ErrBadShape = errors.New("unsupported callable shape")

// Registry is a name-keyed callable dispatch table. The zero value is not
// usable; call New.
type Registry struct {
	mu      sync.Mutex
	entries map[string]any
	frozen  atomic.Bool
}

// New creates an empty, unfrozen registry.
func New() *Registry {
	return &Registry{entries: make(map[string]any)}
}

// Register installs fn under name. It fails on duplicate names and on
// callables that are not one of the four service shapes. Registering after
// Freeze is a programming error and panics.
func (r *Registry) Register(name string, fn any) error {
	if name == "" {
		return errors.New("register: name is empty")
	}

	if fn == nil {
		return fmt.Errorf("register %q: callable is nil", name)
	}

	switch fn.(type) {
	case Proc, Pred, Source, Runner:
	default:
		return fmt.Errorf("register %q: %w (%T)", name, ErrBadShape, fn)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		panic(fmt.Sprintf("registry: register %q after freeze", name))
	}

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateName)
	}

	r.entries[name] = fn

	return nil
}

// Freeze marks the end of startup wiring. After Freeze the table is
// read-only and lookups take no lock.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frozen.Store(true)
}

// Verify checks that every wanted name is present with the wanted shape.
// The shell runs this once, after Freeze and before the first frame, so
// shape mismatches fail at startup instead of mid-frame.
func (r *Registry) Verify(want map[string]Kind) error {
	for name, kind := range want {
		entry, ok := r.lookup(name)
		if !ok {
			return fmt.Errorf("verify: service %q is not registered", name)
		}

		if kindOf(entry) != kind {
			return fmt.Errorf("verify: service %q has shape %T, want kind %d", name, entry, kind)
		}
	}

	return nil
}

// Proc invokes the Proc service registered under name. A missing or
// mismatched name logs a warning and is a no-op so the render loop cannot
// crash mid-frame.
func (r *Registry) Proc(name, arg string) {
	entry, ok := r.lookup(name)
	if !ok {
		warnMissing(name)

		return
	}

	fn, ok := entry.(Proc)
	if !ok {
		warnShape(name, entry)

		return
	}

	fn(arg)
}

// Pred invokes the Pred service registered under name, returning false when
// the name is missing or mismatched.
func (r *Registry) Pred(name string) bool {
	entry, ok := r.lookup(name)
	if !ok {
		warnMissing(name)

		return false
	}

	fn, ok := entry.(Pred)
	if !ok {
		warnShape(name, entry)

		return false
	}

	return fn()
}

// Source invokes the Source service registered under name, returning the
// empty string when the name is missing or mismatched.
func (r *Registry) Source(name string) string {
	entry, ok := r.lookup(name)
	if !ok {
		warnMissing(name)

		return ""
	}

	fn, ok := entry.(Source)
	if !ok {
		warnShape(name, entry)

		return ""
	}

	return fn()
}

// Runner invokes the Runner service registered under name. Missing or
// mismatched names log a warning and drop the request.
func (r *Registry) Runner(name, command string, sink func(chunk string)) {
	entry, ok := r.lookup(name)
	if !ok {
		warnMissing(name)

		return
	}

	fn, ok := entry.(Runner)
	if !ok {
		warnShape(name, entry)

		return
	}

	fn(command, sink)
}

// lookup reads the table. Registration is forbidden after Freeze, so the
// lock is only needed while startup wiring may still be running.
func (r *Registry) lookup(name string) (any, bool) {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	entry, ok := r.entries[name]

	return entry, ok
}

func kindOf(entry any) Kind {
	switch entry.(type) {
	case Proc:
		return KindProc
	case Pred:
		return KindPred
	case Source:
		return KindSource
	case Runner:
		return KindRunner
	default:
		return 0
	}
}

func warnMissing(name string) {
	logrus.WithField("service", name).Warn("service not registered; returning default")
}

func warnShape(name string, entry any) {
	logrus.WithFields(logrus.Fields{
		"service": name,
		"shape":   fmt.Sprintf("%T", entry),
	}).Error("service has unexpected shape")
}
