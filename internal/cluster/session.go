package cluster

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/banshee-data/motorbox/internal/config"
	"github.com/banshee-data/motorbox/internal/monitoring"
	"github.com/banshee-data/motorbox/internal/motor"
)

// SaveSession writes the position, scale and soft limits of every motor
// to the session file at path. Entries of motors that are saved in the
// file but not part of the cluster are kept.
func (c *MotorsCluster) SaveSession(path string) error {
	saved, err := config.ReadSessionFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		monitoring.Logf("cluster: previous session data in %s ignored: %v", path, err)
	}

	// Read every motor before touching the file.
	motors := c.Motors()
	entries := make([]config.SessionEntry, 0, len(motors)+len(saved))
	present := make(map[string]bool, len(motors))
	for _, m := range motors {
		pos, err := m.Position(motor.Norm)
		if err != nil {
			return err
		}
		name := m.Name()
		present[name] = true
		entries = append(entries, config.SessionEntry{
			Name:         name,
			Position:     pos,
			NormPerContr: m.Config().NormPerContr,
			Limits:       m.SoftLimits(),
		})
	}
	for _, e := range saved {
		if !present[e.Name] {
			entries = append(entries, e)
		}
	}

	c.sessionMu.Lock()
	err = config.WriteSessionFile(path, entries)
	c.sessionMu.Unlock()
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	monitoring.Logf("cluster: session data saved to %s", path)
	return nil
}

// LoadSession restores the motors saved in the session file at path. The
// saved position is taken to be the current one, so the motors must not
// have moved since the session was saved. It returns the coordinates of
// the motors without saved data, which need a calibration.
func (c *MotorsCluster) LoadSession(path string) ([]motor.Coord, error) {
	saved, err := config.ReadSessionFile(path)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]config.SessionEntry, len(saved))
	for _, e := range saved {
		byName[e.Name] = e
	}

	var (
		restored []string
		missing  []motor.Coord
	)
	for _, m := range c.Motors() {
		e, ok := byName[m.Name()]
		if !ok {
			missing = append(missing, m.Coord())
			continue
		}
		contr, err := m.Position(motor.Contr)
		if err != nil {
			return nil, err
		}
		cfg := m.Config()
		cfg.NormPerContr = e.NormPerContr
		cfg.NullPosition = contr - e.Position/e.NormPerContr
		if err := m.ApplyConfig(cfg); err != nil {
			return nil, err
		}
		m.SetSoftLimits(e.Limits, motor.Norm)
		restored = append(restored, m.Name())
	}

	monitoring.Logf("cluster: session data loaded for %v", restored)
	if len(missing) > 0 {
		monitoring.Logf("cluster: motors %v need calibration", missing)
	}
	return missing, nil
}

// SavePositions writes the current positions of all motors as a one-row
// path file.
func (c *MotorsCluster) SavePositions(path string, units motor.Units, delimiter rune) error {
	positions, err := c.Positions(units)
	if err != nil {
		return err
	}
	return config.WritePositionsFile(path, delimiter, positions)
}

// ReadPath reads a path file. With check set, every column must name a
// motor of the cluster.
func (c *MotorsCluster) ReadPath(path string, delimiter rune, decimal string, check bool) ([]map[string]float64, error) {
	p, err := config.ReadPathFile(path, delimiter, decimal)
	if err != nil {
		return nil, err
	}
	if check {
		if err := c.checkNames(p.Names); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", path, config.ErrFileRead, err)
		}
	}
	return p.Points, nil
}

// ReadPositions reads a path file holding exactly one waypoint.
func (c *MotorsCluster) ReadPositions(path string, delimiter rune, decimal string) (map[string]float64, error) {
	points, err := c.ReadPath(path, delimiter, decimal, true)
	if err != nil {
		return nil, err
	}
	if len(points) != 1 {
		return nil, fmt.Errorf("%s: %w: %d rows instead of one", path, config.ErrFileRead, len(points))
	}
	return points[0], nil
}

// PathTravelFromFile reads the path file at path and travels it with
// PathTravel.
func PathTravelFromFile[T any](c *MotorsCluster, path string, action Action[T], units motor.Units, stop motor.StopIndicator, reporter motor.WaitReporter, delimiter rune, decimal string) ([]T, error) {
	points, err := c.ReadPath(path, delimiter, decimal, false)
	if err != nil {
		return nil, err
	}
	return PathTravel(c, points, action, units, stop, reporter)
}
