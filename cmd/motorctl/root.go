package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/motorbox/internal/monitoring"
)

type rootOptions struct {
	boxesPath string
	boxNames  []string
	quiet     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "motorctl",
		Short: "motorctl drives stepper and piezo motor controllers",
		Long: `motorctl talks to Phytron MCC2, SmarAct MCS and MCS2 controller boxes.
Boxes are listed in a YAML file; emulated boxes need no hardware.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.quiet {
				monitoring.SetLogger(nil)
			} else {
				monitoring.SetLogger(log.Printf)
			}
		},
	}
	root.PersistentFlags().StringVar(&opts.boxesPath, "boxes", "boxes.yaml", "YAML file describing the boxes")
	root.PersistentFlags().StringSliceVar(&opts.boxNames, "box", nil, "boxes to open (default all)")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress diagnostic logging")

	root.AddCommand(
		newPortsCmd(),
		newDiscoverCmd(opts),
		newPositionsCmd(opts),
		newMoveCmd(opts),
		newPathCmd(opts),
		newCalibrateCmd(opts),
		newSessionCmd(opts),
		newEmulateCmd(),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure. SIGINT and
// SIGTERM cancel the command context, which stops running moves.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
