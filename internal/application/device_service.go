package application

import (
	"context"
	"fmt"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/domain"
)

// DeviceService manages the device registry the target resolver reads.
type DeviceService struct {
	Devices domain.DeviceRepository
}

func (s *DeviceService) Register(ctx context.Context, device domain.Device) error {
	if device.ID == "" {
		return fmt.Errorf("%w: device ID is required", domain.ErrInvalidArgument)
	}
	if device.TenantID == "" {
		return fmt.Errorf("%w: device tenant is required", domain.ErrInvalidArgument)
	}
	if device.Name == "" {
		return fmt.Errorf("%w: device name is required", domain.ErrInvalidArgument)
	}
	return s.Devices.Create(ctx, device)
}

func (s *DeviceService) Get(ctx context.Context, id domain.DeviceID) (domain.Device, error) {
	return s.Devices.Get(ctx, id)
}

func (s *DeviceService) List(ctx context.Context, tenant domain.TenantID) ([]domain.Device, error) {
	return s.Devices.ListByTenant(ctx, tenant)
}

// Decommission removes a device from the registry. Rollouts in flight
// stop targeting it on their next phase.
func (s *DeviceService) Decommission(ctx context.Context, id domain.DeviceID) error {
	return s.Devices.Delete(ctx, id)
}
