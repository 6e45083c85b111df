package cluster

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/banshee-data/motorbox/internal/motor"
)

// BoxSeparator joins a box name and a motor name.
const BoxSeparator = "|"

// BoxesCluster is a MotorsCluster assembled from whole boxes.
type BoxesCluster struct {
	*MotorsCluster

	mu     sync.Mutex
	prefix bool
	boxes  map[string]MotorSet
}

// NewBoxes returns an empty cluster. With prefix set, the motors of each
// added box are renamed to "box|motor" so that equal names on different
// boxes do not collide.
func NewBoxes(prefix bool) *BoxesCluster {
	c, _ := New()
	return &BoxesCluster{
		MotorsCluster: c,
		prefix:        prefix,
		boxes:         make(map[string]MotorSet),
	}
}

// AddBox adds the motors of set under the box name. A name collision
// leaves the cluster unchanged.
func (b *BoxesCluster) AddBox(name string, set MotorSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.boxes[name]; ok {
		return fmt.Errorf("%w: box %q", ErrNameCollision, name)
	}
	motors := set.Motors()
	if b.prefix {
		p := name + BoxSeparator
		for _, m := range motors {
			if !strings.HasPrefix(m.Name(), p) {
				m.SetName(p + m.Name())
			}
		}
	}
	if err := b.Add(motors...); err != nil {
		return fmt.Errorf("box %q: %w", name, err)
	}
	b.boxes[name] = set
	return nil
}

// RemoveBox drops the box and its motors. Unknown names are ignored.
func (b *BoxesCluster) RemoveBox(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.boxes[name]
	if !ok {
		return
	}
	b.Remove(set.Motors()...)
	delete(b.boxes, name)
}

// Box returns the box added under name.
func (b *BoxesCluster) Box(name string) (MotorSet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.boxes[name]
	return set, ok
}

// Boxes returns the box names in sorted order.
func (b *BoxesCluster) Boxes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.boxes))
	for name := range b.boxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// motorSet is a fixed list of motors.
type motorSet []*motor.Motor

func (s motorSet) Motors() []*motor.Motor { return s }

// Set wraps a list of motors as a MotorSet.
func Set(motors ...*motor.Motor) MotorSet { return motorSet(motors) }
