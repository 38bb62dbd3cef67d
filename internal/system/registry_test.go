package system

import (
	"testing"

	"github.com/hearthctl/hearthctl/internal/device"
)

func mustID(t *testing.T, controller, component string) device.ID {
	t.Helper()
	id, err := device.NewID(controller, component)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	return id
}

func TestCreateAssignsUUIDAndInitialVersion(t *testing.T) {
	reg := NewRegistry()
	fs, err := reg.Create("STOVE", "TERMOCAMINO", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if fs.ID == "" {
		t.Error("expected a generated id")
	}
	if fs.Version != 1 {
		t.Errorf("expected initial version 1, got %d", fs.Version)
	}
}

func TestExclusiveMembershipRejectsDoubleAdd(t *testing.T) {
	reg := NewRegistry()
	a, _ := reg.Create("STOVE", "a", nil)
	b, _ := reg.Create("STOVE", "b", nil)
	pump := mustID(t, "esp", "pump")

	if _, err := reg.AddDevice(a.ID, pump); err != nil {
		t.Fatalf("AddDevice to a: %v", err)
	}
	if _, err := reg.AddDevice(b.ID, pump); err == nil {
		t.Error("expected adding a device already in system a to system b to be rejected")
	}
}

func TestFindByDeviceIsAQueryNotAPointer(t *testing.T) {
	reg := NewRegistry()
	fs, _ := reg.Create("STOVE", "TERMOCAMINO", nil)
	fire := mustID(t, "esp", "fire")
	_, _ = reg.AddDevice(fs.ID, fire)

	found, ok := reg.FindByDevice(fire)
	if !ok {
		t.Fatal("expected to find the owning system")
	}
	if found.ID != fs.ID {
		t.Errorf("expected system %s, got %s", fs.ID, found.ID)
	}

	unknown := mustID(t, "esp", "unrelated")
	if _, ok := reg.FindByDevice(unknown); ok {
		t.Error("expected no system for an unassigned device")
	}
}

func TestVersionIncrementsOnEveryMutation(t *testing.T) {
	reg := NewRegistry()
	fs, _ := reg.Create("STOVE", "a", nil)
	pump := mustID(t, "esp", "pump")

	after, err := reg.AddDevice(fs.ID, pump)
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if after.Version != fs.Version+1 {
		t.Errorf("expected version to increment on AddDevice, got %d -> %d", fs.Version, after.Version)
	}

	configured, err := reg.UpdateConfiguration(fs.ID, after.Version, map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("UpdateConfiguration: %v", err)
	}
	if configured.Version != after.Version+1 {
		t.Errorf("expected version to increment on UpdateConfiguration, got %d -> %d", after.Version, configured.Version)
	}

	defaulted, err := reg.SetFailSafeDefault(fs.ID, pump, device.NewRelayValue(false))
	if err != nil {
		t.Fatalf("SetFailSafeDefault: %v", err)
	}
	if defaulted.Version != configured.Version+1 {
		t.Errorf("expected version to increment on SetFailSafeDefault, got %d -> %d", configured.Version, defaulted.Version)
	}

	removed, err := reg.RemoveDevice(fs.ID, pump)
	if err != nil {
		t.Fatalf("RemoveDevice: %v", err)
	}
	if removed.Version != defaulted.Version+1 {
		t.Errorf("expected version to increment on RemoveDevice, got %d -> %d", defaulted.Version, removed.Version)
	}
}

func TestUpdateConfigurationOptimisticConflict(t *testing.T) {
	reg := NewRegistry()
	fs, _ := reg.Create("STOVE", "a", nil)

	if _, err := reg.UpdateConfiguration(fs.ID, fs.Version, map[string]string{"maxFanSpeed": "3"}); err != nil {
		t.Fatalf("UpdateConfiguration with correct version: %v", err)
	}
	if _, err := reg.UpdateConfiguration(fs.ID, fs.Version, map[string]string{"maxFanSpeed": "2"}); err == nil {
		t.Error("expected stale version to be rejected")
	}
}

func TestRemoveDeviceFreesItForReassignment(t *testing.T) {
	reg := NewRegistry()
	a, _ := reg.Create("STOVE", "a", nil)
	b, _ := reg.Create("STOVE", "b", nil)
	pump := mustID(t, "esp", "pump")

	_, _ = reg.AddDevice(a.ID, pump)
	if _, err := reg.RemoveDevice(a.ID, pump); err != nil {
		t.Fatalf("RemoveDevice: %v", err)
	}
	if _, err := reg.AddDevice(b.ID, pump); err != nil {
		t.Errorf("expected device to be reassignable after removal, got error: %v", err)
	}
}
