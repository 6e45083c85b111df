package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/banshee-data/motorbox/internal/cluster"
	"github.com/banshee-data/motorbox/internal/motor"
)

// progress prints the motors of a group operation as they finish.
type progress struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *progress) SetWaitList(names []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(names) > 0 {
		fmt.Fprintf(p.out, "waiting for %v\n", names)
	}
}

func (p *progress) MotorDone(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s done\n", name)
}

func newCalibrateCmd(opts *rootOptions) *cobra.Command {
	var (
		parallel bool
		middle   bool
		session  string
	)
	cmd := &cobra.Command{
		Use:   "calibrate [motor...]",
		Short: "Calibrate motors, all calibratable ones by default",
		Long: `Calibrate drives each motor to both ends of its travel and maps the
travel onto 0..1000 normalised units. Motors without initiators or encoder
only get the controller's own reference run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := openInstallation(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer inst.Close()

			c := inst.cluster.MotorsCluster
			err = c.CalibrateMotors(cluster.CalibrateRequest{
				Names:      args,
				Parallel:   parallel,
				Stop:       motor.ContextStop(cmd.Context()),
				Reporter:   &progress{out: cmd.OutOrStdout()},
				GoToMiddle: middle,
			})
			if err != nil {
				return err
			}
			if session != "" {
				if err := c.SaveSession(session); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session saved to %s\n", session)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&parallel, "parallel", false, "calibrate the motors concurrently")
	cmd.Flags().BoolVar(&middle, "middle", false, "move each motor to the middle of its travel afterwards")
	cmd.Flags().StringVar(&session, "session", "", "save the calibration to this session file")
	return cmd
}

func newSessionCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Save or restore calibrations and soft limits",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "save FILE",
		Short: "Save the calibration of every motor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := openInstallation(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer inst.Close()
			return inst.cluster.SaveSession(args[0])
		},
	}, &cobra.Command{
		Use:   "load FILE",
		Short: "Restore the calibration of motors that have not moved since saving",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := openInstallation(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer inst.Close()

			missing, err := inst.cluster.LoadSession(args[0])
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no session data for %v, calibrate them\n", missing)
			}
			return printPositions(cmd, inst.cluster.MotorsCluster, motor.Norm)
		},
	})
	return cmd
}
