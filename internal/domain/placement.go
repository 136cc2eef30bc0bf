package domain

import (
	"context"
	"fmt"
)

// PlacementStrategy selects devices from a tenant's fleet.
//
// Resolve receives only the placement view of each device. The platform
// treats the returned slice order as meaningful: phases take devices from
// the front of the list.
type PlacementStrategy interface {
	Resolve(ctx context.Context, pool []PlacementDevice) ([]PlacementDevice, error)
}

// PlacementFor instantiates the placement strategy for a selector.
func PlacementFor(sel TargetSelector) (PlacementStrategy, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	switch sel.Type {
	case SelectorStatic:
		return &StaticPlacement{Devices: sel.DeviceIDs}, nil
	case SelectorAll:
		return &AllPlacement{}, nil
	case SelectorLabels:
		return &LabelPlacement{MatchLabels: sel.MatchLabels}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported target selector type %q", ErrInvalidArgument, sel.Type)
	}
}

// StaticPlacement selects an explicit set of devices by ID. Devices not
// present in the pool (decommissioned, or registered to another tenant)
// are omitted.
type StaticPlacement struct {
	Devices []DeviceID
}

func (s *StaticPlacement) Resolve(_ context.Context, pool []PlacementDevice) ([]PlacementDevice, error) {
	index := make(map[DeviceID]PlacementDevice, len(pool))
	for _, d := range pool {
		index[d.ID] = d
	}
	result := make([]PlacementDevice, 0, len(s.Devices))
	for _, id := range s.Devices {
		if d, ok := index[id]; ok {
			result = append(result, d)
		}
	}
	return result, nil
}

// AllPlacement selects every device in the pool.
type AllPlacement struct{}

func (a *AllPlacement) Resolve(_ context.Context, pool []PlacementDevice) ([]PlacementDevice, error) {
	result := make([]PlacementDevice, len(pool))
	copy(result, pool)
	return result, nil
}

// LabelPlacement filters the pool by label matching. All labels must be
// present and equal on the device.
type LabelPlacement struct {
	MatchLabels map[string]string
}

func (s *LabelPlacement) Resolve(_ context.Context, pool []PlacementDevice) ([]PlacementDevice, error) {
	var result []PlacementDevice
	for _, d := range pool {
		if matchLabels(d.Labels, s.MatchLabels) {
			result = append(result, d)
		}
	}
	return result, nil
}

func matchLabels(labels, selector map[string]string) bool {
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// RegistryTargetResolver implements [TargetResolver] over the device
// registry.
type RegistryTargetResolver struct {
	Devices DeviceRepository
}

func (r *RegistryTargetResolver) ResolveTargets(ctx context.Context, sel TargetSelector, tenant TenantID) ([]DeviceID, error) {
	strategy, err := PlacementFor(sel)
	if err != nil {
		return nil, err
	}
	pool, err := r.Devices.ListByTenant(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("%w: list devices for tenant %q: %v", ErrTargetResolution, tenant, err)
	}
	resolved, err := strategy.Resolve(ctx, PlacementDevices(pool))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTargetResolution, err)
	}
	return DeviceIDs(resolved), nil
}
