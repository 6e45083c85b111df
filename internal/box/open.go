package box

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/banshee-data/motorbox/internal/communicator"
	"github.com/banshee-data/motorbox/internal/config"
	"github.com/banshee-data/motorbox/internal/connector"
	"github.com/banshee-data/motorbox/internal/emulator"
)

// Dial connects to the box described by cfg and returns its communicator.
// Emulated boxes are created in-process.
func Dial(ctx context.Context, cfg config.BoxConfig) (communicator.Communicator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.GetTimeout()

	var (
		comm communicator.Communicator
		err  error
	)
	switch cfg.Vendor {
	case config.VendorEmulator:
		buses, axes, realtime := cfg.GetEmulator()
		var conn *connector.SerialConnector
		conn, err = connector.NewSerialConnector(emulator.NewBox(buses, axes, realtime), communicator.MCC2Framer, timeout)
		if err == nil {
			comm = communicator.NewMCC2(conn)
		}
	case config.VendorMCC2:
		var conn connector.Connector
		if conn, err = connect(ctx, cfg, communicator.MCC2Framer, timeout, ""); err == nil {
			comm = communicator.NewMCC2(conn)
		}
	case config.VendorMCS:
		var conn connector.Connector
		if conn, err = connect(ctx, cfg, communicator.MCSFramer, timeout, ""); err == nil {
			if comm, err = communicator.NewMCS(conn); err != nil {
				conn.Close()
			}
		}
	case config.VendorMCS2:
		var conn connector.Connector
		if conn, err = connect(ctx, cfg, communicator.MCS2Framer, timeout, strconv.Itoa(communicator.MCS2Port)); err == nil {
			if comm, err = communicator.NewMCS2(conn); err != nil {
				conn.Close()
			}
		}
	default:
		err = fmt.Errorf("unknown vendor %q", cfg.Vendor)
	}
	if err != nil {
		return nil, fmt.Errorf("box %q: %w", cfg.Name, err)
	}
	if cfg.Tolerance != nil {
		comm.SetTolerance(*cfg.Tolerance)
	}
	return comm, nil
}

func connect(ctx context.Context, cfg config.BoxConfig, framer connector.Framer, timeout time.Duration, defaultPort string) (connector.Connector, error) {
	if cfg.Port != nil {
		return connector.OpenSerial(*cfg.Port, cfg.GetSerial(), framer, timeout)
	}
	addr := *cfg.Address
	if _, _, err := net.SplitHostPort(addr); err != nil && defaultPort != "" {
		addr = net.JoinHostPort(addr, defaultPort)
	}
	return connector.DialEthernet(ctx, addr, framer, timeout)
}

// Open connects to the box described by cfg and initialises it, from the
// input table when cfg names one and by discovery otherwise.
func Open(ctx context.Context, cfg config.BoxConfig) (*Box, error) {
	comm, err := Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var b *Box
	if cfg.Input != nil && *cfg.Input != "" {
		in, rerr := config.ReadInput(*cfg.Input, comm.ParameterDefaults())
		if rerr != nil {
			comm.Close()
			return nil, fmt.Errorf("box %q: %w", cfg.Name, rerr)
		}
		b, err = NewFromInput(comm, in)
	} else {
		b, err = New(comm)
	}
	if err != nil {
		comm.Close()
		return nil, fmt.Errorf("box %q: %w", cfg.Name, err)
	}
	b.SetName(cfg.Name)
	return b, nil
}
