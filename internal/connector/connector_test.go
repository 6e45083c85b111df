package connector

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stxEtx = Framer{Begin: []byte{0x02}, End: []byte{0x03}}

func TestFramer_Wrap(t *testing.T) {
	got := stxEtx.Wrap([]byte("5IVR"))
	want := []byte("\x025IVR\x03")
	if !bytes.Equal(got, want) {
		t.Errorf("Wrap() = %q, want %q", got, want)
	}

	lf := Framer{Begin: []byte(":"), End: []byte("\n")}
	if got := lf.Wrap([]byte("GNC")); string(got) != ":GNC\n" {
		t.Errorf("Wrap() = %q, want %q", got, ":GNC\n")
	}
}

func TestFramer_Unwrap(t *testing.T) {
	tests := []struct {
		name    string
		framer  Framer
		raw     string
		want    []byte
		wantErr bool
	}{
		{name: "empty is no reply", framer: stxEtx, raw: "", want: nil},
		{name: "ack only", framer: stxEtx, raw: "\x02\x06\x03", want: []byte{0x06}},
		{name: "empty frame", framer: stxEtx, raw: "\x02\x03", want: []byte{}},
		{name: "missing begin", framer: stxEtx, raw: "\x06\x03", wantErr: true},
		{name: "missing end", framer: stxEtx, raw: "\x02\x06", wantErr: true},
		{name: "no begin marker configured", framer: Framer{End: []byte("\r\n")}, raw: "3\r\n", want: []byte("3")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.framer.Unwrap([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrReplyFormat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.want != nil {
				assert.NotNil(t, got)
			}
		})
	}
}

func TestSerialConnector_SendFramesAndClears(t *testing.T) {
	port := NewScriptedPort()
	c, err := NewSerialConnector(port, stxEtx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, port.ReadTimeout)

	port.AddReadData([]byte("\x02stale\x03"))
	require.NoError(t, c.Send([]byte("0S"), true))
	assert.Equal(t, []byte("\x020S\x03"), port.Written())
	assert.Equal(t, 1, port.Resets)

	got, err := c.Read()
	require.NoError(t, err)
	assert.Nil(t, got, "stale input should have been discarded")
}

func TestSerialConnector_SendWithoutClear(t *testing.T) {
	port := NewScriptedPort()
	c, err := NewSerialConnector(port, stxEtx, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.Timeout())

	require.NoError(t, c.Send([]byte("1"), false))
	assert.Equal(t, 0, port.Resets)
}

func TestSerialConnector_SendErrors(t *testing.T) {
	port := NewScriptedPort()
	c, err := NewSerialConnector(port, stxEtx, 10*time.Millisecond)
	require.NoError(t, err)

	port.WriteError = errors.New("boom")
	err = c.Send([]byte("0S"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	port.ShortWrite = true
	err = c.Send([]byte("0S"), false)
	assert.ErrorIs(t, err, ErrWriteFailed)
}

func TestSerialConnector_ReadKeepsFollowingFrames(t *testing.T) {
	port := NewScriptedPort()
	c, err := NewSerialConnector(port, stxEtx, 10*time.Millisecond)
	require.NoError(t, err)

	port.AddReadData([]byte("\x02\x06one\x03\x02\x06two\x03"))

	first, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, "\x06one", string(first))

	second, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, "\x06two", string(second))

	third, err := c.Read()
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestSerialConnector_ReadPartialFrameIsFormatError(t *testing.T) {
	port := NewScriptedPort()
	c, err := NewSerialConnector(port, stxEtx, 10*time.Millisecond)
	require.NoError(t, err)

	port.AddReadData([]byte("\x02\x06half"))
	_, err = c.Read()
	assert.ErrorIs(t, err, ErrReplyFormat)
}

func TestSerialConnector_ReadTransportError(t *testing.T) {
	port := NewScriptedPort()
	c, err := NewSerialConnector(port, stxEtx, 10*time.Millisecond)
	require.NoError(t, err)

	port.ReadError = errors.New("unplugged")
	_, err = c.Read()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrReplyFormat)
}

func TestSerialConnector_CloseOnce(t *testing.T) {
	port := NewScriptedPort()
	port.CloseError = errors.New("already gone")
	c, err := NewSerialConnector(port, stxEtx, 10*time.Millisecond)
	require.NoError(t, err)

	err1 := c.Close()
	err2 := c.Close()
	assert.Equal(t, err1, err2)
	assert.True(t, port.Closed)
}

func TestEthernetConnector_RoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	framer := Framer{End: []byte("\r\n")}
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if string(buf[:n]) == "*IDN?\r\n" {
			conn.Write([]byte("SmarAct MCS2\r\n"))
		}
		// Hold the connection open until the client closes it.
		conn.Read(buf)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	c := NewEthernetConnector(conn, framer, 500*time.Millisecond)

	require.NoError(t, c.Send([]byte("*IDN?"), true))
	got, err := c.Read()
	require.NoError(t, err)
	assert.Equal(t, "SmarAct MCS2", string(got))

	// Nothing else is queued, so the next read times out quietly.
	require.NoError(t, c.SetTimeout(20*time.Millisecond))
	got, err = c.Read()
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Close())
	<-done
}

func TestEthernetConnector_SetTimeoutRejectsZero(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	c := NewEthernetConnector(client, Framer{End: []byte("\n")}, 0)
	defer c.Close()

	assert.Equal(t, DefaultTimeout, c.Timeout())
	assert.Error(t, c.SetTimeout(0))
}
