package domain

import "fmt"

// SelectorType identifies how a rollout names its devices.
type SelectorType string

const (
	SelectorStatic SelectorType = "static"
	SelectorAll    SelectorType = "all"
	SelectorLabels SelectorType = "labels"
)

// TargetSelector names the devices a rollout targets: an explicit device
// list, the whole tenant fleet, or a device group expressed as labels.
// The rollout aggregate treats it as opaque.
type TargetSelector struct {
	Type        SelectorType
	DeviceIDs   []DeviceID        // for "static"
	MatchLabels map[string]string // for "labels"
}

// Validate checks that the selector carries what its type needs.
func (s TargetSelector) Validate() error {
	switch s.Type {
	case SelectorStatic:
		if len(s.DeviceIDs) == 0 {
			return fmt.Errorf("%w: static selector requires at least one device", ErrInvalidArgument)
		}
	case SelectorAll:
	case SelectorLabels:
		if len(s.MatchLabels) == 0 {
			return fmt.Errorf("%w: label selector requires at least one label", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unsupported target selector type %q", ErrInvalidArgument, s.Type)
	}
	return nil
}
