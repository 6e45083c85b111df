package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/motorbox/internal/connector"
)

// Supported box vendors.
const (
	VendorMCC2     = "mcc2"
	VendorMCS      = "mcs"
	VendorMCS2     = "mcs2"
	VendorEmulator = "emulator"
)

// BoxesFile is the root of the YAML file listing the boxes of an
// installation.
type BoxesFile struct {
	Boxes []BoxConfig `yaml:"boxes"`
}

// BoxConfig describes how to reach one box. Unset optional fields take the
// defaults returned by the Get methods.
type BoxConfig struct {
	Name   string `yaml:"name"`
	Vendor string `yaml:"vendor"`

	// Port is a serial device path. Exactly one of Port and Address is
	// set, except for emulated boxes which need neither.
	Port    *string `yaml:"port,omitempty"`
	Address *string `yaml:"address,omitempty"` // host:port

	Serial    *connector.PortOptions `yaml:"serial,omitempty"`
	Timeout   *string                `yaml:"timeout,omitempty"` // duration string like "200ms"
	Tolerance *float64               `yaml:"tolerance,omitempty"`
	// Input is the motor input table applied at start-up.
	Input    *string         `yaml:"input,omitempty"`
	Emulator *EmulatorConfig `yaml:"emulator,omitempty"`
}

// EmulatorConfig shapes an emulated MCC2 box.
type EmulatorConfig struct {
	Buses    *int  `yaml:"buses,omitempty"`
	Axes     *int  `yaml:"axes,omitempty"`
	Realtime *bool `yaml:"realtime,omitempty"`
}

// LoadBoxes reads and validates the YAML file at path.
func LoadBoxes(path string) (*BoxesFile, error) {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("boxes file must have .yaml extension, got %q", ext)
	}
	f, err := openBounded(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to open boxes file: %w", err)
	}
	defer f.Close()

	var bf BoxesFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&bf); err != nil {
		return nil, fmt.Errorf("failed to parse boxes YAML: %w", err)
	}
	if err := bf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid boxes file: %w", err)
	}
	return &bf, nil
}

// Validate checks every box and the uniqueness of box names.
func (f *BoxesFile) Validate() error {
	if len(f.Boxes) == 0 {
		return fmt.Errorf("%w: no boxes defined", ErrConfig)
	}
	var errs []error
	seen := make(map[string]bool, len(f.Boxes))
	for i := range f.Boxes {
		b := &f.Boxes[i]
		if err := b.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("box %d: %w", i, err))
		}
		if seen[b.Name] {
			errs = append(errs, fmt.Errorf("box %d: duplicate name %q", i, b.Name))
		}
		seen[b.Name] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}
	return nil
}

// Box returns the box called name.
func (f *BoxesFile) Box(name string) (BoxConfig, bool) {
	for _, b := range f.Boxes {
		if b.Name == name {
			return b, true
		}
	}
	return BoxConfig{}, false
}

// Validate checks that the configuration values are valid.
func (b *BoxConfig) Validate() error {
	if b.Name == "" {
		return errors.New("name must be set")
	}

	hasPort := b.Port != nil && *b.Port != ""
	hasAddr := b.Address != nil && *b.Address != ""
	switch b.Vendor {
	case VendorMCC2, VendorMCS:
		if hasPort == hasAddr {
			return fmt.Errorf("%s: exactly one of port and address must be set", b.Name)
		}
	case VendorMCS2:
		if !hasAddr {
			return fmt.Errorf("%s: mcs2 boxes need an address", b.Name)
		}
	case VendorEmulator:
		if hasPort || hasAddr {
			return fmt.Errorf("%s: emulated boxes take no port or address", b.Name)
		}
	default:
		return fmt.Errorf("%s: unknown vendor %q", b.Name, b.Vendor)
	}

	if b.Serial != nil {
		if _, err := b.Serial.Normalise(); err != nil {
			return fmt.Errorf("%s: %w", b.Name, err)
		}
	}
	if b.Timeout != nil && *b.Timeout != "" {
		d, err := time.ParseDuration(*b.Timeout)
		if err != nil {
			return fmt.Errorf("%s: invalid timeout '%s': %w", b.Name, *b.Timeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s: timeout must be positive, got %s", b.Name, d)
		}
	}
	if b.Tolerance != nil && *b.Tolerance <= 0 {
		return fmt.Errorf("%s: tolerance must be positive, got %g", b.Name, *b.Tolerance)
	}
	if e := b.Emulator; e != nil {
		if e.Buses != nil && (*e.Buses < 1 || *e.Buses > 16) {
			return fmt.Errorf("%s: emulator buses must be between 1 and 16, got %d", b.Name, *e.Buses)
		}
		if e.Axes != nil && (*e.Axes < 1 || *e.Axes > 9) {
			return fmt.Errorf("%s: emulator axes must be between 1 and 9, got %d", b.Name, *e.Axes)
		}
	}
	return nil
}

// GetTimeout returns the reply timeout or connector.DefaultTimeout.
func (b *BoxConfig) GetTimeout() time.Duration {
	if b.Timeout == nil || *b.Timeout == "" {
		return connector.DefaultTimeout
	}
	d, err := time.ParseDuration(*b.Timeout)
	if err != nil {
		return connector.DefaultTimeout
	}
	return d
}

// GetSerial returns the serial options, normalised.
func (b *BoxConfig) GetSerial() connector.PortOptions {
	var opts connector.PortOptions
	if b.Serial != nil {
		opts = *b.Serial
	}
	if n, err := opts.Normalise(); err == nil {
		return n
	}
	return opts
}

// GetEmulator returns the emulator shape, 1 bus with 2 axes by default.
func (b *BoxConfig) GetEmulator() (buses, axes int, realtime bool) {
	buses, axes, realtime = 1, 2, true
	if e := b.Emulator; e != nil {
		if e.Buses != nil {
			buses = *e.Buses
		}
		if e.Axes != nil {
			axes = *e.Axes
		}
		if e.Realtime != nil {
			realtime = *e.Realtime
		}
	}
	return buses, axes, realtime
}

// WriteBoxes writes f as YAML to path.
func WriteBoxes(path string, f *BoxesFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
