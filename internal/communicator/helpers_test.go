package communicator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motorbox/internal/connector"
)

// scripted answers every frame written to a ScriptedPort through
// respond. Commands with ok == false stay unanswered.
type scripted struct {
	mu       sync.Mutex
	commands []string
}

func (s *scripted) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func newScriptedConn(t *testing.T, framer connector.Framer, respond func(cmd string) (string, bool)) (*connector.SerialConnector, *scripted) {
	t.Helper()
	s := &scripted{}
	port := connector.NewScriptedPort()
	port.OnWrite = func(p []byte) {
		cmd, err := framer.Unwrap(p)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.commands = append(s.commands, string(cmd))
		s.mu.Unlock()
		if reply, ok := respond(string(cmd)); ok {
			port.AddReadData(framer.Wrap([]byte(reply)))
		}
	}
	conn, err := connector.NewSerialConnector(port, framer, time.Millisecond)
	require.NoError(t, err)
	return conn, s
}
