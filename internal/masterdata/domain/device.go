package masterdata

import (
	"errors"
	"strings"
	"time"
)

const (
	DefaultDeviceName  = "Main switchboard"
	DefaultDeviceModel = "HN-PM3F001D"
)

// Device is a monitored meter, identified by its network address.
type Device struct {
	ID        int64
	Name      string
	Address   string
	Model     string
	Hostname  string
	CreatedAt time.Time
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if strings.TrimSpace(d.Address) == "" {
		return errors.New("device: empty address")
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("device: empty name")
	}
	return nil
}

// WithDefaults fills an empty name or model with the defaults.
func (d Device) WithDefaults() Device {
	if strings.TrimSpace(d.Name) == "" {
		d.Name = DefaultDeviceName
	}
	if strings.TrimSpace(d.Model) == "" {
		d.Model = DefaultDeviceModel
	}
	return d
}
