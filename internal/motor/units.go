package motor

import (
	"fmt"
	"strings"
)

// Units selects one of the three coordinate systems of a motor.
type Units int

const (
	// Norm is the device-independent scale; a calibrated travel spans
	// 0..1000.
	Norm Units = iota
	// Contr is the controller's native position unit (steps, nm, mm).
	Contr
	// Displ is the user-facing scale with a configurable zero and factor.
	Displ
)

func (u Units) String() string {
	switch u {
	case Norm:
		return "norm"
	case Contr:
		return "contr"
	case Displ:
		return "displ"
	}
	return fmt.Sprintf("Units(%d)", int(u))
}

// ParseUnits accepts "norm", "contr" or "displ".
func ParseUnits(s string) (Units, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "norm":
		return Norm, nil
	case "contr":
		return Contr, nil
	case "displ":
		return Displ, nil
	}
	return 0, fmt.Errorf("unknown units %q: expected norm, contr or displ", s)
}

// Set implements pflag.Value so Units can be used as a command-line flag.
func (u *Units) Set(s string) error {
	v, err := ParseUnits(s)
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Type implements pflag.Value.
func (u *Units) Type() string { return "units" }

// Transform converts v between coordinate systems under c. With rel set, v
// is a displacement and the origin offsets are skipped. Norm and Displ are
// always related through controller units so that round trips are exact.
func (c Config) Transform(v float64, from, to Units, rel bool) float64 {
	if from == to {
		return v
	}
	switch {
	case from == Contr && to == Norm:
		return c.contrToNorm(v, rel)
	case from == Norm && to == Contr:
		return c.normToContr(v, rel)
	case from == Norm && to == Displ:
		return c.contrToDispl(c.normToContr(v, rel), rel)
	case from == Displ && to == Norm:
		return c.contrToNorm(c.displToContr(v, rel), rel)
	case from == Contr && to == Displ:
		return c.contrToDispl(v, rel)
	case from == Displ && to == Contr:
		return c.displToContr(v, rel)
	}
	panic(fmt.Sprintf("motor: transform from %v to %v", from, to))
}

func (c Config) contrToNorm(v float64, rel bool) float64 {
	if !rel {
		v -= c.NullPosition
	}
	return v * c.NormPerContr
}

func (c Config) normToContr(v float64, rel bool) float64 {
	v /= c.NormPerContr
	if !rel {
		v += c.NullPosition
	}
	return v
}

// displZero is the display origin expressed in controller units.
func (c Config) displZero() float64 {
	return c.normToContr(c.DisplNull, false)
}

func (c Config) contrToDispl(v float64, rel bool) float64 {
	if !rel {
		v -= c.displZero()
	}
	return v * c.DisplPerContr
}

func (c Config) displToContr(v float64, rel bool) float64 {
	v /= c.DisplPerContr
	if !rel {
		v += c.displZero()
	}
	return v
}
