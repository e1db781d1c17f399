// Package registry holds the registrar table mapping an address-of-record
// to the transport it registered through.
package registry

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Binding is the current contact of one address-of-record. Conn and Addr
// together identify where any message addressed to the AOR must be sent;
// the registered Contact host is never resolved, the learned transport
// address is authoritative.
type Binding struct {
	Contact   string
	Conn      net.PacketConn
	Addr      net.Addr
	ExpiresAt time.Time
}

// Registry is the process-wide registration table. All operations share
// one lock so the expiry check and the conditional eviction stay atomic.
type Registry struct {
	mu       sync.Mutex
	bindings map[string]Binding

	now func() time.Time
	log zerolog.Logger
}

func New(log zerolog.Logger) *Registry {
	return &Registry{
		bindings: make(map[string]Binding),
		now:      time.Now,
		log:      log.With().Str("caller", "Registry").Logger(),
	}
}

// SetClock replaces the wall clock. Used by tests to observe expiry
// without sleeping.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Register inserts or overwrites the binding for aor. A re-registration
// leaves no residue of the previous entry.
func (r *Registry) Register(aor string, b Binding) {
	r.mu.Lock()
	r.bindings[aor] = b
	r.mu.Unlock()
	r.log.Debug().Str("aor", aor).Str("contact", b.Contact).Msg("Contact registered")
}

// Unregister removes aor. Absent keys are tolerated.
func (r *Registry) Unregister(aor string) {
	r.mu.Lock()
	delete(r.bindings, aor)
	r.mu.Unlock()
	r.log.Debug().Str("aor", aor).Msg("Contact unregistered")
}

// Lookup returns the binding for aor. An entry whose expiry has passed is
// removed and reported absent.
func (r *Registry) Lookup(aor string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(aor)
}

func (r *Registry) lookup(aor string) (Binding, bool) {
	b, exists := r.bindings[aor]
	if !exists {
		return Binding{}, false
	}
	if !b.ExpiresAt.After(r.now()) {
		delete(r.bindings, aor)
		r.log.Warn().Str("aor", aor).Msg("registration has expired")
		return Binding{}, false
	}
	return b, true
}

// Contains reports plain membership without touching expiry. Origin
// checks use this; only forwarding paths demand a live entry.
func (r *Registry) Contains(aor string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.bindings[aor]
	return exists
}

// Valid reports whether aor has a non-expired binding, evicting it when
// the expiry has passed.
func (r *Registry) Valid(aor string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.lookup(aor)
	return ok
}

// Len returns the number of entries, expired ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}

// Snapshot copies the table as aor -> contact, for the debug dump after
// each REGISTER.
func (r *Registry) Snapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.bindings))
	for aor, b := range r.bindings {
		out[aor] = b.Contact
	}
	return out
}
