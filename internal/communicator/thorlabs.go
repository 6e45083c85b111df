package communicator

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// StageAxisInfo mirrors the APT stage description of one device.
type StageAxisInfo struct {
	MinPos float64
	MaxPos float64
	Units  float64
	Pitch  float64
}

// VelocityParameters mirrors the APT velocity profile of one device.
type VelocityParameters struct {
	MinVel float64
	Accn   float64
	MaxVel float64
}

// APTDevice is the call surface of one Thorlabs APT motor, normally backed by
// the vendor SDK. Positions are in the stage's native units.
type APTDevice interface {
	MoveBy(shift float64) error
	MoveTo(position float64) error
	StopProfiled() error
	Position() (float64, error)
	InMotion() (bool, error)
	ForwardLimitActive() (bool, error)
	ReverseLimitActive() (bool, error)
	StageAxisInfo() (StageAxisInfo, error)
	SetStageAxisInfo(StageAxisInfo) error
	VelocityParameters() (VelocityParameters, error)
	SetVelocityParameters(VelocityParameters) error
	HardwareInfo() (string, error)
}

var thorlabsDefaults = Parameters{
	{Name: "min_pos", Default: -1000},
	{Name: "max_pos", Default: 1000},
	{Name: "units", Default: 1},
	{Name: "pitch", Default: 0.5},
	{Name: "accn", Default: 0.4},
	{Name: "max_vel", Default: 0.3},
}

// Thorlabs drives APT devices directly; there is no framing layer. All
// devices sit on bus 0 and are addressed by their serial number.
type Thorlabs struct {
	base
	devices map[int]APTDevice
	serials []int

	paramMu sync.Mutex
	params  map[int]map[string]float64
}

var _ Communicator = (*Thorlabs)(nil)

// NewThorlabs takes the available devices keyed by serial number.
func NewThorlabs(devices map[int]APTDevice) *Thorlabs {
	t := &Thorlabs{
		base: base{
			vendor:    "thorlabs-apt",
			params:    thorlabsDefaults,
			tolerance: 0.001,
			shift:     20,
		},
		devices: devices,
		params:  make(map[int]map[string]float64, len(devices)),
	}
	for serial := range devices {
		t.serials = append(t.serials, serial)
		t.params[serial] = thorlabsDefaults.Values()
	}
	sort.Ints(t.serials)
	return t
}

func (t *Thorlabs) device(bus, axis int) (APTDevice, error) {
	if bus != 0 {
		return nil, fmt.Errorf("%w: bus %d", ErrAddress, bus)
	}
	d, ok := t.devices[axis]
	if !ok {
		return nil, fmt.Errorf("%w: no APT device with serial %d", ErrAddress, axis)
	}
	return d, nil
}

// call serialises SDK access like a transport and records the outcome.
func (t *Thorlabs) call(bus, axis int, fn func(APTDevice) error) error {
	start := time.Now()
	d, err := t.device(bus, axis)
	if err == nil {
		t.mu.Lock()
		err = fn(d)
		t.mu.Unlock()
	}
	observe(t.vendor, start, err)
	return err
}

func (t *Thorlabs) Go(shift float64, bus, axis int) error {
	return t.call(bus, axis, func(d APTDevice) error { return d.MoveBy(shift) })
}

func (t *Thorlabs) GoTo(destination float64, bus, axis int) error {
	return t.call(bus, axis, func(d APTDevice) error { return d.MoveTo(destination) })
}

func (t *Thorlabs) Stop(bus, axis int) error {
	return t.call(bus, axis, func(d APTDevice) error { return d.StopProfiled() })
}

func (t *Thorlabs) Position(bus, axis int) (float64, error) {
	var pos float64
	err := t.call(bus, axis, func(d APTDevice) (err error) {
		pos, err = d.Position()
		return err
	})
	return pos, err
}

func (t *Thorlabs) SetPosition(float64, int, int) error {
	return fmt.Errorf("set position: %w", ErrNotSupported)
}

// Parameter refreshes the cached stage and velocity description from the
// device and returns name from it.
func (t *Thorlabs) Parameter(name string, bus, axis int) (float64, error) {
	if _, ok := thorlabsDefaults.Default(name); !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	var (
		info StageAxisInfo
		vel  VelocityParameters
	)
	err := t.call(bus, axis, func(d APTDevice) (err error) {
		if info, err = d.StageAxisInfo(); err != nil {
			return err
		}
		vel, err = d.VelocityParameters()
		return err
	})
	if err != nil {
		return 0, err
	}

	values := map[string]float64{
		"min_pos": info.MinPos,
		"max_pos": info.MaxPos,
		"units":   info.Units,
		"pitch":   info.Pitch,
		"accn":    vel.Accn,
		"max_vel": vel.MaxVel,
	}
	t.paramMu.Lock()
	t.params[axis] = values
	t.paramMu.Unlock()
	return values[name], nil
}

// SetParameter updates one cached value and writes the whole stage and
// velocity description back, since APT only accepts complete sets.
func (t *Thorlabs) SetParameter(name string, value float64, bus, axis int) error {
	if _, ok := thorlabsDefaults.Default(name); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	if _, err := t.device(bus, axis); err != nil {
		return err
	}

	t.paramMu.Lock()
	p := t.params[axis]
	p[name] = value
	info := StageAxisInfo{MinPos: p["min_pos"], MaxPos: p["max_pos"], Units: p["units"], Pitch: p["pitch"]}
	vel := VelocityParameters{Accn: p["accn"], MaxVel: p["max_vel"]}
	t.paramMu.Unlock()

	return t.call(bus, axis, func(d APTDevice) error {
		if err := d.SetStageAxisInfo(info); err != nil {
			return err
		}
		return d.SetVelocityParameters(vel)
	})
}

func (t *Thorlabs) MotorStand(bus, axis int) (bool, error) {
	var moving bool
	err := t.call(bus, axis, func(d APTDevice) (err error) {
		moving, err = d.InMotion()
		return err
	})
	return !moving, err
}

func (t *Thorlabs) MotorAtBeginning(bus, axis int) (bool, error) {
	var active bool
	err := t.call(bus, axis, func(d APTDevice) (err error) {
		active, err = d.ReverseLimitActive()
		return err
	})
	return active, err
}

func (t *Thorlabs) MotorAtEnd(bus, axis int) (bool, error) {
	var active bool
	err := t.call(bus, axis, func(d APTDevice) (err error) {
		active, err = d.ForwardLimitActive()
		return err
	})
	return active, err
}

func (t *Thorlabs) BusList() ([]int, error) { return []int{0}, nil }

func (t *Thorlabs) BusCheck(bus int) (bool, string) { return bus == 0, "" }

// AxesList returns the device serial numbers in ascending order.
func (t *Thorlabs) AxesList(bus int) ([]int, error) {
	if bus != 0 {
		return nil, fmt.Errorf("%w: bus %d", ErrAddress, bus)
	}
	return append([]int(nil), t.serials...), nil
}

func (t *Thorlabs) CheckConnection() (string, error) {
	for _, serial := range t.serials {
		var info string
		err := t.call(0, serial, func(d APTDevice) (err error) {
			info, err = d.HardwareInfo()
			return err
		})
		if err == nil {
			return info, nil
		}
	}
	return "", ErrNoControllers
}

// Calibrate does nothing; APT stages home through the SDK's own tools.
func (t *Thorlabs) Calibrate(bus, axis int) error {
	_, err := t.device(bus, axis)
	return err
}

func (t *Thorlabs) CommandToBox([]byte) ([]byte, error) {
	return nil, fmt.Errorf("raw command: %w", ErrNotSupported)
}

func (t *Thorlabs) CommandToModule([]byte, int) ([]byte, error) {
	return nil, fmt.Errorf("raw command: %w", ErrNotSupported)
}

func (t *Thorlabs) CommandToMotor([]byte, int, int) ([]byte, error) {
	return nil, fmt.Errorf("raw command: %w", ErrNotSupported)
}
