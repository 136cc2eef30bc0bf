package domain

// Device describes a registered edge device as the rollout engine sees it.
// Registry CRUD lives elsewhere; the engine only needs enough to resolve
// which devices a rollout targets. Properties are not visible to
// placement; only the placement view (see [PlacementDevice]) is.
type Device struct {
	ID         DeviceID
	TenantID   TenantID
	Name       string
	Labels     map[string]string
	Properties map[string]string
}

// PlacementDevice is the subset of device state shared with placement
// strategies.
type PlacementDevice struct {
	ID     DeviceID
	Name   string
	Labels map[string]string
}

// ToPlacementDevice returns the placement view of a device (Labels only;
// Properties are omitted).
func ToPlacementDevice(d Device) PlacementDevice {
	labels := make(map[string]string, len(d.Labels))
	for k, v := range d.Labels {
		labels[k] = v
	}
	return PlacementDevice{ID: d.ID, Name: d.Name, Labels: labels}
}

// PlacementDevices returns the placement view of each device in the slice.
func PlacementDevices(pool []Device) []PlacementDevice {
	out := make([]PlacementDevice, len(pool))
	for i, d := range pool {
		out[i] = ToPlacementDevice(d)
	}
	return out
}

// DeviceIDs returns the IDs of resolved devices in order.
func DeviceIDs(resolved []PlacementDevice) []DeviceID {
	out := make([]DeviceID, len(resolved))
	for i, d := range resolved {
		out[i] = d.ID
	}
	return out
}
