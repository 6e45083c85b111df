package cluster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motorbox/internal/config"
	"github.com/banshee-data/motorbox/internal/motor"
)

func TestSession_SaveLoad(t *testing.T) {
	motors, _ := newMotors(t, 2, false)
	for _, m := range motors {
		cfg := m.Config()
		cfg.NormPerContr = 0.05
		cfg.NullPosition = -10000
		require.NoError(t, m.ApplyConfig(cfg))
	}
	motors[0].SetSoftLimits(motor.SoftLimits{Min: motor.Float(100), Max: motor.Float(900)}, motor.Norm)
	c, err := New(motors...)
	require.NoError(t, err)
	require.NoError(t, c.GoTo(map[string]float64{"Motor0.1": 600, "Motor0.2": 250}, motor.Norm, motor.MoveOptions{Wait: true}))

	path := filepath.Join(t.TempDir(), "session.csv")
	require.NoError(t, c.SaveSession(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "name;position;norm_per_contr;min_limit;max_limit\n"+
		"Motor0.1;600;0.05;100;900\n"+
		"Motor0.2;250;0.05;None;None\n", string(data))

	// A fresh session on the same hardware knows nothing about the scale.
	for _, m := range motors {
		require.NoError(t, m.ApplyConfig(motor.DefaultConfig()))
		m.SetSoftLimits(motor.SoftLimits{}, motor.Norm)
	}
	missing, err := c.LoadSession(path)
	require.NoError(t, err)
	assert.Empty(t, missing)

	pos, err := motors[0].Position(motor.Norm)
	require.NoError(t, err)
	assert.InDelta(t, 600, pos, 1e-9)
	assert.Equal(t, 0.05, motors[0].Config().NormPerContr)
	assert.InDelta(t, -10000, motors[0].Config().NullPosition, 1e-9)
	limits := motors[0].SoftLimits()
	require.NotNil(t, limits.Max)
	assert.Equal(t, 900.0, *limits.Max)
	assert.False(t, motors[1].SoftLimits().IsSet())
}

func TestSession_AbsentMotorsArePreserved(t *testing.T) {
	motors, _ := newMotors(t, 2, false)
	path := filepath.Join(t.TempDir(), "session.csv")
	require.NoError(t, config.WriteSessionFile(path, []config.SessionEntry{
		{Name: "Ghost", Position: 12, NormPerContr: 3, Limits: motor.SoftLimits{Min: motor.Float(1)}},
		{Name: "Motor0.1", Position: 999, NormPerContr: 9},
	}))

	c, err := New(motors[0])
	require.NoError(t, err)
	require.NoError(t, c.SaveSession(path))

	entries, err := config.ReadSessionFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Motor0.1", entries[0].Name)
	assert.Equal(t, 0.0, entries[0].Position)
	assert.Equal(t, 1.0, entries[0].NormPerContr)
	assert.Equal(t, "Ghost", entries[1].Name)
	assert.Equal(t, 12.0, entries[1].Position)

	c2, err := New(motors...)
	require.NoError(t, err)
	missing, err := c2.LoadSession(path)
	require.NoError(t, err)
	assert.Equal(t, []motor.Coord{{Bus: 0, Axis: 2}}, missing)
}

func TestSession_Errors(t *testing.T) {
	motors, _ := newMotors(t, 1, false)
	c, err := New(motors...)
	require.NoError(t, err)
	dir := t.TempDir()

	_, err = c.LoadSession(filepath.Join(dir, "absent.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	damaged := filepath.Join(dir, "damaged.csv")
	require.NoError(t, os.WriteFile(damaged, []byte("name;position\nA;1\n"), 0o644))
	_, err = c.LoadSession(damaged)
	assert.ErrorIs(t, err, config.ErrFileRead)

	// Saving over a damaged file replaces it.
	require.NoError(t, c.SaveSession(damaged))
	entries, err := config.ReadSessionFile(damaged)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPositionsFiles(t *testing.T) {
	motors, box := newMotors(t, 2, false)
	c, err := New(motors...)
	require.NoError(t, err)
	dir := t.TempDir()

	require.NoError(t, c.GoTo(map[string]float64{"Motor0.1": 7, "Motor0.2": -4}, motor.Contr, motor.MoveOptions{Wait: true}))
	saved := filepath.Join(dir, "positions.csv")
	require.NoError(t, c.SavePositions(saved, motor.Contr, ';'))

	positions, err := c.ReadPositions(saved, ';', ".")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"Motor0.1": 7, "Motor0.2": -4}, positions)

	unknown := filepath.Join(dir, "unknown.csv")
	require.NoError(t, os.WriteFile(unknown, []byte("Motor0.1;Ghost\n1;2\n"), 0o644))
	_, err = c.ReadPositions(unknown, ';', ".")
	assert.ErrorIs(t, err, config.ErrFileRead)
	assert.ErrorIs(t, err, ErrUnknownMotor)

	twoRows := filepath.Join(dir, "path.csv")
	require.NoError(t, os.WriteFile(twoRows, []byte("Motor0.1;Motor0.2\n1,5;2\n3;4\n"), 0o644))
	_, err = c.ReadPositions(twoRows, ';', ",")
	assert.ErrorIs(t, err, config.ErrFileRead)

	results, err := PathTravelFromFile(c, twoRows, func(i int, _ map[string]float64) (float64, error) {
		return box.Motor(0, 1).Position(), nil
	}, motor.Contr, nil, nil, ';', ",")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.5, 3}, results, 0.5)
}
