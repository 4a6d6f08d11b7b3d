package loop

import "sync"

// Policy is the explicit process-wide loop registry called for by design
// note "Module-level policy / global event loop": rather than a bare global
// singleton, GetEventLoop/SetEventLoop/NewEventLoop go through one Policy
// value so callers (notably tests) can swap in an isolated policy instead of
// mutating shared package state.
type Policy struct {
	mu      sync.Mutex
	current *Loop
}

// NewPolicy returns an empty policy with no default loop yet.
func NewPolicy() *Policy {
	return &Policy{}
}

// GetEventLoop returns the process-wide default loop, creating one lazily on
// first call — one lazily-created loop per Policy, since this runtime
// doesn't attempt multi-threaded parallel task execution.
func (p *Policy) GetEventLoop() (*Loop, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		l, err := New()
		if err != nil {
			return nil, err
		}
		p.current = l
	}
	return p.current, nil
}

// SetEventLoop installs l as the default loop.
func (p *Policy) SetEventLoop(l *Loop) {
	p.mu.Lock()
	p.current = l
	p.mu.Unlock()
}

// NewEventLoop constructs a fresh loop without installing it as the default.
func (p *Policy) NewEventLoop() (*Loop, error) {
	return New()
}

// defaultPolicy backs the package-level convenience functions below, which
// is what most call sites actually want — equivalent to trollius/asyncio's
// module-level get_event_loop()/set_event_loop()/new_event_loop().
var defaultPolicy = NewPolicy()

func GetEventLoop() (*Loop, error) { return defaultPolicy.GetEventLoop() }
func SetEventLoop(l *Loop)         { defaultPolicy.SetEventLoop(l) }
func NewEventLoop() (*Loop, error) { return defaultPolicy.NewEventLoop() }
