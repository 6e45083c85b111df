package emulator

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/banshee-data/motorbox/internal/monitoring"
)

// takeReplies removes and returns all queued reply bytes without waiting.
func (b *Box) takeReplies() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.out.Len() == 0 {
		return nil
	}
	out := append([]byte(nil), b.out.Bytes()...)
	b.out.Reset()
	return out
}

// Serve exposes the box on ln so that Ethernet-attached clients can talk to
// it with the MCC2 framing. Every connection shares the same box. Serve
// returns nil once ctx is cancelled or the listener is closed.
func (b *Box) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	conns := make(map[net.Conn]struct{})
	closeConns := func() {
		mu.Lock()
		for c := range conns {
			c.Close()
		}
		mu.Unlock()
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			closeConns()
			wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		mu.Lock()
		conns[conn] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				mu.Lock()
				delete(conns, conn)
				mu.Unlock()
				conn.Close()
			}()
			b.serveConn(conn)
		}()
	}
}

func (b *Box) serveConn(conn net.Conn) {
	monitoring.Logf("mcc2 emulator: client %s connected", conn.RemoteAddr())
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := b.Write(buf[:n]); werr != nil {
				return
			}
			if out := b.takeReplies(); out != nil {
				if _, werr := conn.Write(out); werr != nil {
					return
				}
			}
		}
		if err != nil {
			monitoring.Logf("mcc2 emulator: client %s disconnected", conn.RemoteAddr())
			return
		}
	}
}
