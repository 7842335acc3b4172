package audio

import (
	"fmt"
	"strings"
)

// FindDevice resolves a configured device name. An empty name selects the
// system default and returns nil. Otherwise the first device whose name or id
// contains name, ignoring case, is returned.
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}

	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		if len(devices) == 0 {
			return nil, fmt.Errorf("%w: no capture devices found", ErrNoInput)
		}
		return nil, nil
	}

	for i, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), name) || strings.Contains(strings.ToLower(d.ID), name) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no capture device matching %q", ErrNoInput, name)
}
