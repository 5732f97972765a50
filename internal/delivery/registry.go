// Package delivery holds the presentation channels that notification
// events fan out to.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/user/mediasync/internal/types"
)

// ErrPermissionDenied is returned by channels the user or OS has not
// allowed to present notifications. Callers treat it as a silent no-op.
var ErrPermissionDenied = errors.New("notification permission denied")

// Channel presents one event to the user. Deliver must not block on slow
// I/O; channels that need it hand the work to a goroutine.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, ev *types.Event) error
}

// Func adapts a function to a Channel.
func Func(name string, fn func(ctx context.Context, ev *types.Event) error) Channel {
	return funcChannel{name: name, fn: fn}
}

type funcChannel struct {
	name string
	fn   func(ctx context.Context, ev *types.Event) error
}

func (f funcChannel) Name() string { return f.name }

func (f funcChannel) Deliver(ctx context.Context, ev *types.Event) error {
	return f.fn(ctx, ev)
}

// Registry routes events to channels by name, in registration order.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]Channel),
	}
}

// Register adds ch, replacing any channel with the same name.
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[ch.Name()]; !exists {
		r.order = append(r.order, ch.Name())
	}
	r.channels[ch.Name()] = ch
}

// Names lists registered channel names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Deliver hands ev to the named channel. Returns an error if no channel is
// registered under name.
func (r *Registry) Deliver(ctx context.Context, name string, ev *types.Event) error {
	r.mu.RLock()
	ch, ok := r.channels[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no delivery channel: %s", name)
	}
	return ch.Deliver(ctx, ev)
}
