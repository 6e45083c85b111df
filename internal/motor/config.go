package motor

import (
	"errors"
	"fmt"
	"math"

	"github.com/mitchellh/mapstructure"
)

// Config describes how a motor's controller units map onto the normalised
// and display scales, and which end-of-travel sensing it has.
type Config struct {
	WithInitiators bool    `mapstructure:"with_initiators" json:"with_initiators" yaml:"with_initiators"`
	WithEncoder    bool    `mapstructure:"with_encoder" json:"with_encoder" yaml:"with_encoder"`
	DisplayUnits   string  `mapstructure:"display_units" json:"display_units" yaml:"display_units"`
	Inversion      bool    `mapstructure:"inversion" json:"inversion" yaml:"inversion"`
	NormPerContr   float64 `mapstructure:"norm_per_contr" json:"norm_per_contr" yaml:"norm_per_contr"`
	DisplPerContr  float64 `mapstructure:"displ_per_contr" json:"displ_per_contr" yaml:"displ_per_contr"`
	// DisplNull is the display origin in normalised units.
	DisplNull float64 `mapstructure:"displ_null" json:"displ_null" yaml:"displ_null"`
	// NullPosition is the beginning of travel in controller units.
	NullPosition float64 `mapstructure:"null_position" json:"null_position" yaml:"null_position"`
}

// DefaultConfig is the configuration of a freshly discovered motor.
func DefaultConfig() Config {
	return Config{
		DisplayUnits:  "Schritte",
		NormPerContr:  1,
		DisplPerContr: 1,
		DisplNull:     500,
	}
}

// Validate reports scale factors that would make the unit transforms
// undefined.
func (c Config) Validate() error {
	var errs []error
	if c.NormPerContr == 0 || math.IsNaN(c.NormPerContr) || math.IsInf(c.NormPerContr, 0) {
		errs = append(errs, fmt.Errorf("norm_per_contr must be finite and non-zero, got %v", c.NormPerContr))
	}
	if c.DisplPerContr == 0 || math.IsNaN(c.DisplPerContr) || math.IsInf(c.DisplPerContr, 0) {
		errs = append(errs, fmt.Errorf("displ_per_contr must be finite and non-zero, got %v", c.DisplPerContr))
	}
	if math.IsNaN(c.DisplNull) || math.IsNaN(c.NullPosition) {
		errs = append(errs, errors.New("displ_null and null_position must be numbers"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}
	return nil
}

// Calibratable reports whether the motor can find its own travel limits.
func (c Config) Calibratable() bool { return c.WithInitiators || c.WithEncoder }

func (c Config) sign() float64 {
	if c.Inversion {
		return -1
	}
	return 1
}

// Patch applies loosely typed key/value settings onto c. Values are
// converted where the meaning is unambiguous ("1" and 1 both enable a
// flag). Unknown keys are an error.
func (c Config) Patch(values map[string]any) (Config, error) {
	out := c
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return c, err
	}
	if err := dec.Decode(values); err != nil {
		return c, fmt.Errorf("%w: %w", ErrConfigKey, err)
	}
	if err := out.Validate(); err != nil {
		return c, err
	}
	return out, nil
}

// SoftLimits bound destinations in normalised units. A nil bound is open.
type SoftLimits struct {
	Min *float64
	Max *float64
}

// IsSet reports whether at least one bound is set.
func (l SoftLimits) IsSet() bool { return l.Min != nil || l.Max != nil }

// Clamp limits dest to the bounds. With strict set, a destination outside
// the bounds is an error instead.
func (l SoftLimits) Clamp(dest float64, strict bool) (float64, error) {
	if l.Min != nil && l.Max != nil && *l.Max < *l.Min {
		return dest, fmt.Errorf("%w: upper bound %g is below lower bound %g", ErrSoftLimits, *l.Max, *l.Min)
	}
	if l.Min != nil && dest < *l.Min {
		if strict {
			return dest, fmt.Errorf("%w: %g is below %g", ErrOutsideSoftLimits, dest, *l.Min)
		}
		dest = *l.Min
	}
	if l.Max != nil && dest > *l.Max {
		if strict {
			return dest, fmt.Errorf("%w: %g is above %g", ErrOutsideSoftLimits, dest, *l.Max)
		}
		dest = *l.Max
	}
	return dest, nil
}

// Float returns a pointer to v, for building SoftLimits literals.
func Float(v float64) *float64 { return &v }
