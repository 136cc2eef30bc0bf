// Package devicerepotest provides contract tests for [domain.DeviceRepository]
// implementations.
package devicerepotest

import (
	"context"
	"errors"
	"testing"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
)

// Factory creates a fresh [domain.DeviceRepository] for each test invocation.
type Factory func(t *testing.T) domain.DeviceRepository

// Run exercises the [domain.DeviceRepository] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		device := domain.Device{
			ID:         "d1",
			TenantID:   "tenant-a",
			Name:       "gateway-a",
			Labels:     map[string]string{"site": "plant-1"},
			Properties: map[string]string{"serial": "SN-0042"},
		}

		if err := repo.Create(ctx, device); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "d1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Name != "gateway-a" {
			t.Errorf("Name = %q, want %q", got.Name, "gateway-a")
		}
		if got.TenantID != "tenant-a" {
			t.Errorf("TenantID = %q, want %q", got.TenantID, "tenant-a")
		}
		if got.Labels["site"] != "plant-1" {
			t.Errorf("Labels[site] = %q, want %q", got.Labels["site"], "plant-1")
		}
		if got.Properties["serial"] != "SN-0042" {
			t.Errorf("Properties[serial] = %q, want %q", got.Properties["serial"], "SN-0042")
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		device := domain.Device{ID: "d1", TenantID: "tenant-a", Name: "gateway-a"}

		if err := repo.Create(ctx, device); err != nil {
			t.Fatalf("first Create: %v", err)
		}
		err := repo.Create(ctx, device)
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListByTenant", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		devices := []domain.Device{
			{ID: "d2", TenantID: "tenant-a", Name: "b"},
			{ID: "d1", TenantID: "tenant-a", Name: "a"},
			{ID: "d3", TenantID: "tenant-b", Name: "c"},
		}
		for _, d := range devices {
			if err := repo.Create(ctx, d); err != nil {
				t.Fatalf("Create %s: %v", d.ID, err)
			}
		}

		got, err := repo.ListByTenant(ctx, "tenant-a")
		if err != nil {
			t.Fatalf("ListByTenant: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("ListByTenant: got %d, want 2", len(got))
		}
		if got[0].ID != "d1" || got[1].ID != "d2" {
			t.Errorf("ListByTenant order = [%s %s], want [d1 d2]", got[0].ID, got[1].ID)
		}

		none, err := repo.ListByTenant(ctx, "tenant-z")
		if err != nil {
			t.Fatalf("ListByTenant(empty): %v", err)
		}
		if len(none) != 0 {
			t.Errorf("ListByTenant(empty): got %d, want 0", len(none))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, domain.Device{ID: "d1", TenantID: "tenant-a", Name: "a"}); err != nil {
			t.Fatal(err)
		}
		if err := repo.Delete(ctx, "d1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		_, err := repo.Get(ctx, "d1")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get after Delete: got %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Delete(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Delete: got %v, want ErrNotFound", err)
		}
	})
}
