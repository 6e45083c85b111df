package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/motorbox/internal/cluster"
	"github.com/banshee-data/motorbox/internal/motor"
)

// parseTargets reads NAME=VALUE arguments.
func parseTargets(args []string) (map[string]float64, error) {
	targets := make(map[string]float64, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected NAME=VALUE, got %q", arg)
		}
		v, err := strconv.ParseFloat(strings.Replace(value, ",", ".", 1), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		targets[name] = v
	}
	return targets, nil
}

func newMoveCmd(opts *rootOptions) *cobra.Command {
	var (
		units    = motor.Displ
		relative bool
		noWait   bool
		check    bool
	)
	cmd := &cobra.Command{
		Use:   "move NAME=VALUE...",
		Short: "Move motors to positions, or by shifts with --relative",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := parseTargets(args)
			if err != nil {
				return err
			}
			inst, err := openInstallation(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer inst.Close()

			c := inst.cluster
			mo := motor.MoveOptions{
				Wait:  !noWait,
				Check: check,
				Stop:  motor.ContextStop(cmd.Context()),
			}
			if relative {
				err = c.Go(targets, units, mo)
			} else {
				err = c.GoTo(targets, units, mo)
			}
			if err != nil {
				return err
			}
			names := make([]string, 0, len(targets))
			for name := range targets {
				names = append(names, name)
			}
			sort.Strings(names)
			return printPositions(cmd, c.MotorsCluster, units, names...)
		},
	}
	cmd.Flags().Var(&units, "units", "norm, contr or displ")
	cmd.Flags().BoolVarP(&relative, "relative", "r", false, "treat values as shifts")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return once the commands are sent")
	cmd.Flags().BoolVar(&check, "check", false, "refuse destinations outside the soft limits and verify arrival")
	return cmd
}

func newPathCmd(opts *rootOptions) *cobra.Command {
	var (
		units     = motor.Displ
		delimiter string
		decimal   string
	)
	cmd := &cobra.Command{
		Use:   "path FILE",
		Short: "Travel the waypoints of a path file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			delim, err := delimiterRune(delimiter)
			if err != nil {
				return err
			}
			inst, err := openInstallation(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer inst.Close()

			c := inst.cluster.MotorsCluster
			out := cmd.OutOrStdout()
			visit := func(i int, point map[string]float64) (map[string]float64, error) {
				names := make([]string, 0, len(point))
				for name := range point {
					names = append(names, name)
				}
				reached, err := c.Positions(units, names...)
				if err != nil {
					return nil, err
				}
				fmt.Fprintf(out, "waypoint %d reached\n", i+1)
				return reached, nil
			}
			results, err := cluster.PathTravelFromFile(c, args[0], visit, units, motor.ContextStop(cmd.Context()), nil, delim, decimal)
			fmt.Fprintf(out, "%d waypoints travelled\n", len(results))
			return err
		},
	}
	cmd.Flags().Var(&units, "units", "norm, contr or displ")
	cmd.Flags().StringVar(&delimiter, "delimiter", ";", "column delimiter")
	cmd.Flags().StringVar(&decimal, "decimal", ".", "decimal separator of the values")
	return cmd
}

func delimiterRune(s string) (rune, error) {
	r := []rune(s)
	if len(r) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	return r[0], nil
}
