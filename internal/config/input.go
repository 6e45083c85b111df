package config

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/banshee-data/motorbox/internal/communicator"
	"github.com/banshee-data/motorbox/internal/motor"
)

// Column names of the motor input table.
const (
	ColName       = "Motor Name"
	ColBus        = "Bus"
	ColAxis       = "Achse"
	ColInitiators = "Mit Initiatoren(0 oder 1)"
	ColEncoder    = "Mit Encoder(0 oder 1)"
	ColUnits      = "Einheiten"
	ColFactor     = "Umrechnungsfaktor"
	// ColInversion is optional; older tables do not carry it.
	ColInversion = "Inversion(0 oder 1)"
)

var requiredColumns = []string{ColName, ColBus, ColAxis, ColInitiators, ColEncoder, ColUnits, ColFactor}

// MotorRow is one parsed line of the input table. Empty cells fall back to
// motor.DefaultConfig and the vendor parameter defaults.
type MotorRow struct {
	Coord motor.Coord
	// Name is empty when the table leaves it blank.
	Name   string
	Config motor.Config
	// Parameters holds only the vendor parameters the table has a column
	// for.
	Parameters map[string]float64
}

// Input is a parsed input table.
type Input struct {
	// Buses lists the controllers in order of first appearance.
	Buses  []int
	Motors []MotorRow
}

// ReadInput reads the input table at path.
func ReadInput(path string, params communicator.Parameters) (Input, error) {
	t, err := ReadTableFile(path, DefaultDelimiter)
	if err != nil {
		return Input{}, err
	}
	in, err := ParseInput(t, params)
	if err != nil {
		return Input{}, fmt.Errorf("%s: %w", path, err)
	}
	return in, nil
}

// ParseInput validates t against the input table layout and the vendor
// parameter table params. Every problem found is reported, wrapped in
// ErrConfig.
func ParseInput(t Table, params communicator.Parameters) (Input, error) {
	var missing []string
	for _, col := range requiredColumns {
		if t.Column(col) < 0 {
			missing = append(missing, strconv.Quote(col))
		}
	}
	if len(missing) > 0 {
		return Input{}, fmt.Errorf("%w: missing columns %s", ErrConfig, strings.Join(missing, ", "))
	}

	var (
		in   Input
		errs []error
		seen = make(map[motor.Coord]int)
	)
	for i := range t.Rows {
		line := i + 2
		row, err := parseMotorRow(t.Record(i), params)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		if prev, ok := seen[row.Coord]; ok {
			errs = append(errs, fmt.Errorf("line %d: motor %s already defined on line %d", line, row.Coord, prev))
			continue
		}
		seen[row.Coord] = line
		if !slices.Contains(in.Buses, row.Coord.Bus) {
			in.Buses = append(in.Buses, row.Coord.Bus)
		}
		in.Motors = append(in.Motors, row)
	}
	if len(errs) > 0 {
		return Input{}, fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}
	return in, nil
}

func parseMotorRow(rec map[string]string, params communicator.Parameters) (MotorRow, error) {
	var errs []error
	intCell := func(col string) int {
		v, err := strconv.Atoi(strings.TrimSpace(rec[col]))
		if err != nil {
			errs = append(errs, fmt.Errorf("%q must be an integer, got %q", col, rec[col]))
		}
		return v
	}
	flagCell := func(col string, def bool) bool {
		switch strings.TrimSpace(rec[col]) {
		case "":
			return def
		case "0":
			return false
		case "1":
			return true
		}
		errs = append(errs, fmt.Errorf("%q must be 0 or 1, got %q", col, rec[col]))
		return def
	}
	floatCell := func(col string, def float64) float64 {
		s := strings.TrimSpace(rec[col])
		if s == "" {
			return def
		}
		v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%q must be a number, got %q", col, rec[col]))
		}
		return v
	}

	cfg := motor.DefaultConfig()
	row := MotorRow{
		Coord: motor.Coord{Bus: intCell(ColBus), Axis: intCell(ColAxis)},
		Name:  strings.TrimSpace(rec[ColName]),
	}
	cfg.WithInitiators = flagCell(ColInitiators, cfg.WithInitiators)
	cfg.WithEncoder = flagCell(ColEncoder, cfg.WithEncoder)
	cfg.Inversion = flagCell(ColInversion, cfg.Inversion)
	if units := strings.TrimSpace(rec[ColUnits]); units != "" {
		cfg.DisplayUnits = units
	}
	cfg.DisplPerContr = floatCell(ColFactor, cfg.DisplPerContr)
	if err := cfg.Validate(); err != nil && len(errs) == 0 {
		errs = append(errs, err)
	}
	row.Config = cfg

	row.Parameters = make(map[string]float64)
	for _, p := range params {
		if _, ok := rec[p.Name]; ok {
			row.Parameters[p.Name] = floatCell(p.Name, p.Default)
		}
	}
	if len(errs) > 0 {
		return MotorRow{}, errors.Join(errs...)
	}
	return row, nil
}

// TemplateMotor is a motor listed in an empty input table.
type TemplateMotor struct {
	Name  string
	Coord motor.Coord
}

// WriteInputTemplate writes an input table with one row per motor. Only
// the name, bus and axis cells are filled in.
func WriteInputTemplate(w io.Writer, params communicator.Parameters, motors []TemplateMotor) error {
	header := append([]string(nil), requiredColumns...)
	header = append(header, ColInversion)
	header = append(header, params.Names()...)

	t := Table{Header: header}
	for _, m := range motors {
		row := make([]string, len(header))
		row[0] = m.Name
		row[1] = strconv.Itoa(m.Coord.Bus)
		row[2] = strconv.Itoa(m.Coord.Axis)
		t.Rows = append(t.Rows, row)
	}
	return WriteTable(w, DefaultDelimiter, t)
}
