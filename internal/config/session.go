package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/banshee-data/motorbox/internal/motor"
)

// SessionHeader is the header row of a session file.
var SessionHeader = []string{"name", "position", "norm_per_contr", "min_limit", "max_limit"}

// noLimit marks an open soft limit in a session file.
const noLimit = "None"

// SessionEntry is the saved state of one motor: its position and scale in
// normalised units and its soft limits.
type SessionEntry struct {
	Name         string
	Position     float64
	NormPerContr float64
	Limits       motor.SoftLimits
}

// ReadSession parses session data. The header, every number and the
// uniqueness of names are checked; any violation is ErrFileRead.
func ReadSession(r io.Reader) ([]SessionEntry, error) {
	t, err := ReadTable(r, DefaultDelimiter)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(t.Header, SessionHeader) {
		return nil, fmt.Errorf("%w: session header %q", ErrFileRead, t.Header)
	}

	entries := make([]SessionEntry, 0, len(t.Rows))
	seen := make(map[string]bool, len(t.Rows))
	for i, row := range t.Rows {
		e, err := parseSessionRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrFileRead, i+2, err)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("%w: motor %q saved twice", ErrFileRead, e.Name)
		}
		seen[e.Name] = true
		entries = append(entries, e)
	}
	return entries, nil
}

func parseSessionRow(row []string) (SessionEntry, error) {
	e := SessionEntry{Name: row[0]}
	var err error
	if e.Position, err = strconv.ParseFloat(row[1], 64); err != nil {
		return e, err
	}
	if e.NormPerContr, err = strconv.ParseFloat(row[2], 64); err != nil {
		return e, err
	}
	if e.NormPerContr == 0 {
		return e, errors.New("norm_per_contr is zero")
	}
	if e.Limits.Min, err = parseLimit(row[3]); err != nil {
		return e, err
	}
	if e.Limits.Max, err = parseLimit(row[4]); err != nil {
		return e, err
	}
	return e, nil
}

func parseLimit(s string) (*float64, error) {
	if s == noLimit {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func formatLimit(v *float64) string {
	if v == nil {
		return noLimit
	}
	return formatFloat(*v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteSession writes entries in order.
func WriteSession(w io.Writer, entries []SessionEntry) error {
	t := Table{Header: SessionHeader}
	for _, e := range entries {
		t.Rows = append(t.Rows, []string{
			e.Name,
			formatFloat(e.Position),
			formatFloat(e.NormPerContr),
			formatLimit(e.Limits.Min),
			formatLimit(e.Limits.Max),
		})
	}
	return WriteTable(w, DefaultDelimiter, t)
}

// ReadSessionFile reads the session file at path. A missing file is
// reported with an error matching os.ErrNotExist.
func ReadSessionFile(path string) ([]SessionEntry, error) {
	f, err := openBounded(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := ReadSession(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// WriteSessionFile replaces the session file at path.
func WriteSessionFile(path string, entries []SessionEntry) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return WriteSession(f, entries)
}
