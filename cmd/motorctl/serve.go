package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/banshee-data/motorbox/internal/communicator"
	"github.com/banshee-data/motorbox/internal/emulator"
	"github.com/banshee-data/motorbox/internal/monitoring"
)

func newEmulateCmd() *cobra.Command {
	var (
		listen   string
		buses    int
		axes     int
		realtime bool
	)
	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Serve an emulated MCC2 box over TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if buses < 1 || buses > 16 {
				return fmt.Errorf("buses must be between 1 and 16, got %d", buses)
			}
			if axes < 1 || axes > 9 {
				return fmt.Errorf("axes must be between 1 and 9, got %d", axes)
			}
			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			eb := emulator.NewBox(buses, axes, realtime)
			defer eb.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "emulating %d controllers with %d axes on %s\n", buses, axes, ln.Addr())
			return eb.Serve(cmd.Context(), ln)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:5000", "TCP listen address")
	cmd.Flags().IntVar(&buses, "buses", 1, "number of controller modules")
	cmd.Flags().IntVar(&axes, "axes", 2, "axes per controller")
	cmd.Flags().BoolVar(&realtime, "realtime", true, "step motors at their configured frequency")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve debug pages and metrics for the boxes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			inst, err := openInstallation(ctx, opts)
			if err != nil {
				return err
			}
			defer inst.Close()

			if err := communicator.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
				return err
			}
			mux := http.NewServeMux()
			for _, b := range inst.boxes {
				b.AttachAdminRoutes(mux)
			}
			mux.Handle("/metrics", promhttp.Handler())

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			return serveHTTP(ctx, ln, mux)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8080", "listen address")
	return cmd
}

// serveHTTP serves h on ln until ctx is cancelled.
func serveHTTP(ctx context.Context, ln net.Listener, h http.Handler) error {
	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			monitoring.Logf("got request %q", r.URL.Path)
			h.ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("serving on http://%s/debug/", ln.Addr())
		errc <- server.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
