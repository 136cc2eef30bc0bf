package domain_test

import (
	"testing"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
)

func TestToPlacementDevice_OmitsProperties(t *testing.T) {
	device := domain.Device{
		ID:         "d1",
		TenantID:   "tenant-a",
		Name:       "gateway-a",
		Labels:     map[string]string{"site": "plant-1"},
		Properties: map[string]string{"serial": "SN-0042"},
	}
	got := domain.ToPlacementDevice(device)
	if got.ID != device.ID || got.Name != device.Name {
		t.Errorf("ID or Name changed: got %+v", got)
	}
	if got.Labels["site"] != "plant-1" {
		t.Errorf("Labels[site] = %q, want plant-1", got.Labels["site"])
	}
}

func TestToPlacementDevice_CopiesLabels(t *testing.T) {
	device := domain.Device{ID: "d1", Labels: map[string]string{"site": "plant-1"}}
	got := domain.ToPlacementDevice(device)
	got.Labels["site"] = "plant-2"
	if device.Labels["site"] != "plant-1" {
		t.Errorf("mutating the placement view changed the device: %q", device.Labels["site"])
	}
}

func TestPlacementDevices_PreservesOrderAndLength(t *testing.T) {
	pool := []domain.Device{{ID: "d2"}, {ID: "d1"}, {ID: "d3"}}
	got := domain.DeviceIDs(domain.PlacementDevices(pool))
	want := []domain.DeviceID{"d2", "d1", "d3"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestParseBundleVersion(t *testing.T) {
	if v, err := domain.ParseBundleVersion("v1.4.2"); err != nil || v != "v1.4.2" {
		t.Fatalf("ParseBundleVersion(v1.4.2) = (%q, %v)", v, err)
	}
	if _, err := domain.ParseBundleVersion("stable"); err == nil {
		t.Fatal("ParseBundleVersion(stable) succeeded")
	}
	cmp, err := domain.BundleVersion("1.10.0").Compare("1.9.3")
	if err != nil || cmp != 1 {
		t.Fatalf("Compare(1.10.0, 1.9.3) = (%d, %v), want (1, nil)", cmp, err)
	}
}
