package risk

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryTrackerDeviceLifecycle(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker(0)
	fp := NewDeviceFingerprint("Mozilla/5.0", "macOS", "2560x1440", "UTC", "en-US")

	known, err := tracker.IsKnownDevice(ctx, "alice", fp)
	if err != nil {
		t.Fatalf("IsKnownDevice: %v", err)
	}
	if known {
		t.Error("device must be unknown before registration")
	}

	if err := tracker.RegisterDevice(ctx, "alice", fp); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	known, err = tracker.IsKnownDevice(ctx, "alice", fp)
	if err != nil {
		t.Fatalf("IsKnownDevice: %v", err)
	}
	if !known {
		t.Error("device must be known after registration")
	}

	// Same content from a different fingerprint instance still matches
	clone := NewDeviceFingerprint("Mozilla/5.0", "macOS", "2560x1440", "UTC", "en-US")
	known, _ = tracker.IsKnownDevice(ctx, "alice", clone)
	if !known {
		t.Error("recognition must be by content hash, not instance")
	}

	// Other identities see nothing
	known, _ = tracker.IsKnownDevice(ctx, "bob", fp)
	if known {
		t.Error("registries must be scoped per identity")
	}
}

func TestMemoryTrackerRegisterDeviceIdempotent(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker(0)
	fp := FingerprintFromUserAgent("Mozilla/5.0")

	for i := 0; i < 3; i++ {
		if err := tracker.RegisterDevice(ctx, "alice", fp); err != nil {
			t.Fatalf("RegisterDevice: %v", err)
		}
	}

	devices, err := tracker.Devices(ctx, "alice")
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("expected 1 device after repeated registration, got %d", len(devices))
	}
	if devices[0].CreatedAt.IsZero() || devices[0].LastSeen.IsZero() {
		t.Error("registration must assign CreatedAt and LastSeen")
	}
}

func TestMemoryTrackerKnownDeviceTouchesLastSeen(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker(0)

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }

	fp := FingerprintFromUserAgent("Mozilla/5.0")
	if err := tracker.RegisterDevice(ctx, "alice", fp); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	current = current.Add(2 * time.Hour)
	if _, err := tracker.IsKnownDevice(ctx, "alice", fp); err != nil {
		t.Fatalf("IsKnownDevice: %v", err)
	}

	devices, _ := tracker.Devices(ctx, "alice")
	if !devices[0].LastSeen.Equal(current) {
		t.Errorf("LastSeen = %v, want %v", devices[0].LastSeen, current)
	}
	if !devices[0].CreatedAt.Equal(current.Add(-2 * time.Hour)) {
		t.Error("CreatedAt must not move on recognition")
	}
}

func TestMemoryTrackerIPRegistry(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker(0)

	known, err := tracker.IsKnownIP(ctx, "alice", "203.0.113.10")
	if err != nil {
		t.Fatalf("IsKnownIP: %v", err)
	}
	if known {
		t.Error("IP must be unknown before registration")
	}

	if err := tracker.RegisterIP(ctx, "alice", "203.0.113.10"); err != nil {
		t.Fatalf("RegisterIP: %v", err)
	}
	if err := tracker.RegisterIP(ctx, "alice", "203.0.113.10"); err != nil {
		t.Fatalf("RegisterIP repeat: %v", err)
	}

	known, _ = tracker.IsKnownIP(ctx, "alice", "203.0.113.10")
	if !known {
		t.Error("IP must be known after registration")
	}
	known, _ = tracker.IsKnownIP(ctx, "bob", "203.0.113.10")
	if known {
		t.Error("IP registry must be scoped per identity")
	}
}

func TestMemoryTrackerLocationHistoryCap(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker(5)

	current := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }

	for i := 0; i < 8; i++ {
		current = current.Add(time.Minute)
		if err := tracker.AddLocation(ctx, "alice", fmt.Sprintf("city-%d", i)); err != nil {
			t.Fatalf("AddLocation: %v", err)
		}
	}

	st := tracker.state("alice")
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.locations) != 5 {
		t.Fatalf("expected history capped at 5, got %d", len(st.locations))
	}
	if st.locations[0].Label != "city-3" {
		t.Errorf("oldest entries must be evicted first, head = %q", st.locations[0].Label)
	}
	if st.locations[4].Label != "city-7" {
		t.Errorf("newest entry must survive, tail = %q", st.locations[4].Label)
	}
}

func TestMemoryTrackerRecentLocation(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker(0)

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }

	if _, ok, _ := tracker.RecentLocation(ctx, "alice", time.Hour); ok {
		t.Error("empty history must report no recent location")
	}

	tracker.AddLocation(ctx, "alice", "New York, US")
	current = current.Add(30 * time.Minute)
	tracker.AddLocation(ctx, "alice", "London, UK")
	current = current.Add(30 * time.Minute)

	entry, ok, err := tracker.RecentLocation(ctx, "alice", time.Hour)
	if err != nil {
		t.Fatalf("RecentLocation: %v", err)
	}
	if !ok || entry.Label != "London, UK" {
		t.Errorf("expected newest in-window entry London, got %+v ok=%v", entry, ok)
	}

	// Move past the window: both entries age out
	current = current.Add(time.Hour)
	if _, ok, _ := tracker.RecentLocation(ctx, "alice", time.Hour); ok {
		t.Error("entries outside the window must not qualify")
	}
}

func TestMemoryTrackerFailures(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker(0)

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		if err := tracker.RecordFailure(ctx, "alice"); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	n, err := tracker.RecentFailures(ctx, "alice", time.Hour)
	if err != nil {
		t.Fatalf("RecentFailures: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 recent failures, got %d", n)
	}

	// Failures outside the window are pruned
	current = current.Add(2 * time.Hour)
	tracker.RecordFailure(ctx, "alice")
	n, _ = tracker.RecentFailures(ctx, "alice", time.Hour)
	if n != 1 {
		t.Errorf("expected 1 failure after window pruning, got %d", n)
	}

	if err := tracker.ClearFailures(ctx, "alice"); err != nil {
		t.Fatalf("ClearFailures: %v", err)
	}
	n, _ = tracker.RecentFailures(ctx, "alice", time.Hour)
	if n != 0 {
		t.Errorf("expected 0 failures after clear, got %d", n)
	}
}

func TestMemoryTrackerConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryTracker(0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			identity := fmt.Sprintf("user-%d", n%4)
			fp := FingerprintFromUserAgent(fmt.Sprintf("agent-%d", n))
			for j := 0; j < 50; j++ {
				tracker.RegisterDevice(ctx, identity, fp)
				tracker.IsKnownDevice(ctx, identity, fp)
				tracker.RegisterIP(ctx, identity, "203.0.113.10")
				tracker.AddLocation(ctx, identity, "London, UK")
				tracker.RecordFailure(ctx, identity)
				tracker.RecentFailures(ctx, identity, time.Hour)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		devices, err := tracker.Devices(ctx, fmt.Sprintf("user-%d", i))
		if err != nil {
			t.Fatalf("Devices: %v", err)
		}
		// 4 distinct agents map to each identity
		if len(devices) != 4 {
			t.Errorf("user-%d: expected 4 devices, got %d", i, len(devices))
		}
	}
}
