package risk

import (
	"context"
	"sync"
	"time"
)

// LocationEntry is one observation in an identity's location history.
type LocationEntry struct {
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultLocationHistoryLimit caps per-identity location history; the
// oldest entries are evicted first.
const DefaultLocationHistoryLimit = 100

// DeviceTracker is the per-identity registry of known devices, known IP
// addresses, location history, and recent authentication failures. All
// state is scoped per identity. The scorer depends only on this
// interface, so a durable backend can replace the in-memory default
// without touching it.
//
// Registration happens only after a confirmed successful authentication;
// a failed or unverified attempt must never grow trust.
type DeviceTracker interface {
	// IsKnownDevice reports whether a device with the same content hash
	// is registered for identity, refreshing its last-seen time when it
	// is. Every check is also an implicit touch.
	IsKnownDevice(ctx context.Context, identity string, fp DeviceFingerprint) (bool, error)

	// RegisterDevice appends the device unless one with the same hash is
	// already present. Idempotent.
	RegisterDevice(ctx context.Context, identity string, fp DeviceFingerprint) error

	// IsKnownIP is a pure membership check with no side effect.
	IsKnownIP(ctx context.Context, identity, ip string) (bool, error)

	// RegisterIP adds ip to the identity's set. Idempotent.
	RegisterIP(ctx context.Context, identity, ip string) error

	// AddLocation appends (label, now) to the identity's history and
	// trims it to the configured cap.
	AddLocation(ctx context.Context, identity, label string) error

	// RecentLocation returns the most recent history entry no older than
	// the window, or false when none qualifies.
	RecentLocation(ctx context.Context, identity string, within time.Duration) (LocationEntry, bool, error)

	// RecordFailure notes a failed authentication attempt for identity.
	RecordFailure(ctx context.Context, identity string) error

	// RecentFailures counts failed attempts within the window.
	RecentFailures(ctx context.Context, identity string, within time.Duration) (int, error)

	// ClearFailures drops the identity's failure history, invoked after
	// a confirmed successful authentication.
	ClearFailures(ctx context.Context, identity string) error

	// Devices returns the identity's known devices in registration order.
	Devices(ctx context.Context, identity string) ([]DeviceFingerprint, error)
}

// identityState holds one identity's registries. Each identity has its
// own lock so operations on different identities never block each other.
type identityState struct {
	mu        sync.Mutex
	devices   []DeviceFingerprint
	ips       map[string]struct{}
	locations []LocationEntry
	failures  []time.Time
}

// MemoryTracker is the default DeviceTracker. State is process-scoped
// and non-durable: it resets on restart. Substitute PostgresTracker for
// a durable registry.
type MemoryTracker struct {
	mu           sync.RWMutex
	identities   map[string]*identityState
	historyLimit int
	now          func() time.Time
}

// NewMemoryTracker creates an in-memory tracker. historyLimit <= 0 uses
// DefaultLocationHistoryLimit.
func NewMemoryTracker(historyLimit int) *MemoryTracker {
	if historyLimit <= 0 {
		historyLimit = DefaultLocationHistoryLimit
	}
	return &MemoryTracker{
		identities:   make(map[string]*identityState),
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// state returns the identity's registry, creating it on first use.
func (t *MemoryTracker) state(identity string) *identityState {
	t.mu.RLock()
	st, ok := t.identities[identity]
	t.mu.RUnlock()
	if ok {
		return st
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok = t.identities[identity]; ok {
		return st
	}
	st = &identityState{ips: make(map[string]struct{})}
	t.identities[identity] = st
	return st
}

// IsKnownDevice checks membership by content hash and refreshes the
// stored device's last-seen time on a match.
func (t *MemoryTracker) IsKnownDevice(_ context.Context, identity string, fp DeviceFingerprint) (bool, error) {
	st := t.state(identity)
	st.mu.Lock()
	defer st.mu.Unlock()

	hash := fp.Hash()
	for i := range st.devices {
		if st.devices[i].Hash() == hash {
			st.devices[i].LastSeen = t.now()
			return true, nil
		}
	}
	return false, nil
}

// RegisterDevice appends the device if no stored device shares its hash.
// CreatedAt and LastSeen are assigned here, never taken from the caller.
func (t *MemoryTracker) RegisterDevice(_ context.Context, identity string, fp DeviceFingerprint) error {
	st := t.state(identity)
	st.mu.Lock()
	defer st.mu.Unlock()

	hash := fp.Hash()
	for i := range st.devices {
		if st.devices[i].Hash() == hash {
			st.devices[i].LastSeen = t.now()
			return nil
		}
	}

	now := t.now()
	fp.CreatedAt = now
	fp.LastSeen = now
	st.devices = append(st.devices, fp)
	return nil
}

// IsKnownIP reports set membership without side effects.
func (t *MemoryTracker) IsKnownIP(_ context.Context, identity, ip string) (bool, error) {
	st := t.state(identity)
	st.mu.Lock()
	defer st.mu.Unlock()

	_, ok := st.ips[ip]
	return ok, nil
}

// RegisterIP adds ip to the identity's set.
func (t *MemoryTracker) RegisterIP(_ context.Context, identity, ip string) error {
	st := t.state(identity)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.ips[ip] = struct{}{}
	return nil
}

// AddLocation appends the label with the current time and evicts the
// oldest entries beyond the history cap.
func (t *MemoryTracker) AddLocation(_ context.Context, identity, label string) error {
	st := t.state(identity)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.locations = append(st.locations, LocationEntry{Label: label, Timestamp: t.now()})
	if excess := len(st.locations) - t.historyLimit; excess > 0 {
		st.locations = append([]LocationEntry(nil), st.locations[excess:]...)
	}
	return nil
}

// RecentLocation scans newest-first and returns the first entry within
// the window.
func (t *MemoryTracker) RecentLocation(_ context.Context, identity string, within time.Duration) (LocationEntry, bool, error) {
	st := t.state(identity)
	st.mu.Lock()
	defer st.mu.Unlock()

	cutoff := t.now().Add(-within)
	for i := len(st.locations) - 1; i >= 0; i-- {
		if !st.locations[i].Timestamp.Before(cutoff) {
			return st.locations[i], true, nil
		}
	}
	return LocationEntry{}, false, nil
}

// RecordFailure appends a failure timestamp for the identity.
func (t *MemoryTracker) RecordFailure(_ context.Context, identity string) error {
	st := t.state(identity)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.failures = append(st.failures, t.now())
	return nil
}

// RecentFailures counts failures within the window and prunes older ones.
func (t *MemoryTracker) RecentFailures(_ context.Context, identity string, within time.Duration) (int, error) {
	st := t.state(identity)
	st.mu.Lock()
	defer st.mu.Unlock()

	cutoff := t.now().Add(-within)
	kept := st.failures[:0]
	for _, ts := range st.failures {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	st.failures = kept
	return len(kept), nil
}

// ClearFailures drops the identity's failure history.
func (t *MemoryTracker) ClearFailures(_ context.Context, identity string) error {
	st := t.state(identity)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.failures = nil
	return nil
}

// Devices returns a copy of the identity's known devices in
// registration order.
func (t *MemoryTracker) Devices(_ context.Context, identity string) ([]DeviceFingerprint, error) {
	st := t.state(identity)
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]DeviceFingerprint, len(st.devices))
	copy(out, st.devices)
	return out, nil
}
