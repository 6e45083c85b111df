package connector

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by a ScriptedPort after Close.
var ErrPortClosed = errors.New("serial port closed")

// ScriptedPort is an in-memory SerialPorter for tests. Replies are queued
// with AddReadData or produced by OnWrite; an empty queue reads like an
// expired serial timeout. The exported fields may be set between calls.
type ScriptedPort struct {
	mu sync.Mutex

	in  bytes.Buffer
	out bytes.Buffer

	// ReadError and WriteError fail the next call once.
	ReadError  error
	WriteError error
	// ShortWrite makes the next Write report one byte fewer than given.
	ShortWrite bool
	CloseError error

	Closed      bool
	WriteCalls  int
	Resets      int
	ReadTimeout time.Duration

	// OnWrite sees a copy of every successful write and may queue a reply.
	// It runs without the port lock held.
	OnWrite func(p []byte)
}

func NewScriptedPort() *ScriptedPort { return &ScriptedPort{} }

func (s *ScriptedPort) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.Closed:
		return 0, ErrPortClosed
	case s.ReadError != nil:
		err := s.ReadError
		s.ReadError = nil
		return 0, err
	case s.in.Len() == 0:
		return 0, nil
	}
	return s.in.Read(p)
}

func (s *ScriptedPort) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.WriteCalls++
	if s.Closed {
		s.mu.Unlock()
		return 0, ErrPortClosed
	}
	if err := s.WriteError; err != nil {
		s.WriteError = nil
		s.mu.Unlock()
		return 0, err
	}
	n, _ := s.out.Write(p)
	if s.ShortWrite {
		s.ShortWrite = false
		n--
	}
	hook := s.OnWrite
	s.mu.Unlock()

	if hook != nil {
		hook(append([]byte(nil), p...))
	}
	return n, nil
}

func (s *ScriptedPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return s.CloseError
}

func (s *ScriptedPort) SetReadTimeout(timeout time.Duration) error {
	s.mu.Lock()
	s.ReadTimeout = timeout
	s.mu.Unlock()
	return nil
}

// ResetInputBuffer drops queued replies.
func (s *ScriptedPort) ResetInputBuffer() error {
	s.mu.Lock()
	s.Resets++
	s.in.Reset()
	s.mu.Unlock()
	return nil
}

// AddReadData queues bytes for Read.
func (s *ScriptedPort) AddReadData(data []byte) {
	s.mu.Lock()
	s.in.Write(data)
	s.mu.Unlock()
}

// Written returns everything written so far.
func (s *ScriptedPort) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.out.Bytes()...)
}
