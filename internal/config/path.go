package config

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Path is a sequence of waypoints read from a table whose header names the
// motors and whose rows are the positions to visit.
type Path struct {
	Names  []string
	Points []map[string]float64
}

// ReadPath parses a path table. decimal is the decimal separator used in
// the cells; an empty decimal means ".".
func ReadPath(r io.Reader, delimiter rune, decimal string) (Path, error) {
	t, err := ReadTable(r, delimiter)
	if err != nil {
		return Path{}, err
	}
	p := Path{Names: t.Header}
	for i, row := range t.Rows {
		point := make(map[string]float64, len(row))
		for j, cell := range row {
			if decimal != "" && decimal != "." {
				cell = strings.ReplaceAll(cell, decimal, ".")
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return Path{}, fmt.Errorf("%w: line %d, column %q: %q is not a number", ErrFileRead, i+2, t.Header[j], row[j])
			}
			point[t.Header[j]] = v
		}
		p.Points = append(p.Points, point)
	}
	return p, nil
}

// ReadPathFile reads the path table at path.
func ReadPathFile(path string, delimiter rune, decimal string) (Path, error) {
	f, err := openBounded(path)
	if err != nil {
		return Path{}, err
	}
	defer f.Close()

	p, err := ReadPath(f, delimiter, decimal)
	if err != nil {
		return Path{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// WritePositions writes positions as a one-row path, columns sorted by
// name.
func WritePositions(w io.Writer, delimiter rune, positions map[string]float64) error {
	names := make([]string, 0, len(positions))
	for name := range positions {
		names = append(names, name)
	}
	sort.Strings(names)

	row := make([]string, len(names))
	for i, name := range names {
		row[i] = formatFloat(positions[name])
	}
	return WriteTable(w, delimiter, Table{Header: names, Rows: [][]string{row}})
}

// WritePositionsFile replaces the file at path with positions.
func WritePositionsFile(path string, delimiter rune, positions map[string]float64) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return WritePositions(f, delimiter, positions)
}
