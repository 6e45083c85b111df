package box

import (
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/motorbox/internal/communicator"
	"github.com/banshee-data/motorbox/internal/monitoring"
	"github.com/banshee-data/motorbox/internal/motor"
)

// Controller is one controller module on the bus of a box.
type Controller struct {
	Bus int

	comm   communicator.Communicator
	motors map[int]*motor.Motor
}

func newController(comm communicator.Communicator, bus int) *Controller {
	return &Controller{Bus: bus, comm: comm, motors: make(map[int]*motor.Motor)}
}

// MakeMotors replaces the motors of the controller with default motors for
// every axis the module reports.
func (c *Controller) MakeMotors() error {
	axes, err := c.comm.AxesList(c.Bus)
	if err != nil {
		return fmt.Errorf("controller %d: %w", c.Bus, err)
	}
	motors := make(map[int]*motor.Motor, len(axes))
	for _, axis := range axes {
		m, err := motor.New(c.comm, c.Bus, axis)
		if err != nil {
			return err
		}
		motors[axis] = m
	}
	c.motors = motors
	monitoring.Logf("box: controller %d has motors for axes %v", c.Bus, axes)
	return nil
}

func (c *Controller) addMotor(m *motor.Motor) { c.motors[m.Coord().Axis] = m }

// Axes returns the axes with a motor, in ascending order.
func (c *Controller) Axes() []int {
	axes := make([]int, 0, len(c.motors))
	for axis := range c.motors {
		axes = append(axes, axis)
	}
	sort.Ints(axes)
	return axes
}

// Motors returns the motors of the controller by axis.
func (c *Controller) Motors() []*motor.Motor {
	motors := make([]*motor.Motor, 0, len(c.motors))
	for _, axis := range c.Axes() {
		motors = append(motors, c.motors[axis])
	}
	return motors
}

// Motor returns the motor at axis.
func (c *Controller) Motor(axis int) (*motor.Motor, error) {
	m, ok := c.motors[axis]
	if !ok {
		return nil, fmt.Errorf("%w: %d.%d", ErrNoMotor, c.Bus, axis)
	}
	return m, nil
}

// Stand reports whether every motor of the controller is at rest.
func (c *Controller) Stand() (bool, error) {
	for _, m := range c.Motors() {
		stand, err := m.Stand()
		if err != nil || !stand {
			return false, err
		}
	}
	return true, nil
}

// WaitStop blocks until every motor of the controller stands.
func (c *Controller) WaitStop(stop motor.StopIndicator) error {
	for _, m := range c.Motors() {
		if err := m.WaitStop(stop); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every motor of the controller, even when some fail.
func (c *Controller) Stop() error {
	var errs []error
	for _, m := range c.Motors() {
		if err := m.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Command sends a raw command to the controller module.
func (c *Controller) Command(raw []byte) ([]byte, error) {
	return c.comm.CommandToModule(raw, c.Bus)
}
