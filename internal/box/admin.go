package box

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/motorbox/internal/motor"
)

// MotorStatus is one entry of the motors debug endpoint.
type MotorStatus struct {
	Name     string  `json:"name"`
	Bus      int     `json:"bus"`
	Axis     int     `json:"axis"`
	Units    string  `json:"units"`
	Position float64 `json:"position"`
	Stand    bool    `json:"stand"`
	Error    string  `json:"error,omitempty"`
}

// Status reads the position and state of every motor. Read failures are
// reported per motor.
func (b *Box) Status() []MotorStatus {
	motors := b.Motors()
	out := make([]MotorStatus, 0, len(motors))
	for _, m := range motors {
		st := MotorStatus{
			Name:  m.Name(),
			Bus:   m.Coord().Bus,
			Axis:  m.Coord().Axis,
			Units: m.Config().DisplayUnits,
		}
		pos, err := m.Position(motor.Displ)
		if err == nil {
			st.Position = pos
			st.Stand, err = m.Stand()
		}
		if err != nil {
			st.Error = err.Error()
		}
		out = append(out, st)
	}
	return out
}

func (b *Box) routeName(endpoint string) string {
	if name := b.Name(); name != "" {
		return name + "-" + endpoint
	}
	return endpoint
}

// AttachAdminRoutes registers the debug endpoints of the box on mux. Boxes
// with a name get routes prefixed with it, so several boxes can share a
// mux.
func (b *Box) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc(b.routeName("motors"), "motors of the box with their positions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(b.Status()); err != nil {
			http.Error(w, "Failed to encode motors", http.StatusInternalServerError)
		}
	})

	debug.HandleFunc(b.routeName("report"), "initialisation report", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, b.Report())
	})

	// Raw command to the box, or to a module or motor when bus and axis
	// are given.
	debug.HandleSilentFunc(b.routeName("send-command-api"), func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		bus, hasBus, err := formInt(r, "bus")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		axis, hasAxis, err := formInt(r, "axis")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if hasAxis && !hasBus {
			http.Error(w, "Axis requires bus", http.StatusBadRequest)
			return
		}

		var reply []byte
		switch {
		case hasAxis:
			reply, err = b.comm.CommandToMotor([]byte(command), bus, axis)
		case hasBus:
			reply, err = b.comm.CommandToModule([]byte(command), bus)
		default:
			reply, err = b.Command([]byte(command))
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("Command failed: %v", err), http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Command %q answered %q", command, reply))
	})
}

func formInt(r *http.Request, key string) (int, bool, error) {
	s := strings.TrimSpace(r.FormValue(key))
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, fmt.Errorf("Invalid %s %q", key, s)
	}
	return v, true, nil
}
