package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/motorbox/internal/cluster"
	"github.com/banshee-data/motorbox/internal/connector"
	"github.com/banshee-data/motorbox/internal/motor"
)

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List the serial ports of this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := connector.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

func newDiscoverCmd(opts *rootOptions) *cobra.Command {
	var templateDir string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Open the boxes and print what was found",
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := openInstallation(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer inst.Close()

			out := cmd.OutOrStdout()
			for _, b := range inst.boxes {
				fmt.Fprintf(out, "[%s] %s\n%s", b.Name(), b.Communicator().Vendor(), b.Report())
				if templateDir == "" {
					continue
				}
				path := filepath.Join(templateDir, b.Name()+"_input_template.csv")
				if err := writeTemplate(path, b.EmptyInputTemplate); err != nil {
					return err
				}
				fmt.Fprintf(out, "input template written to %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&templateDir, "template", "", "directory to write an empty input table per box into")
	return cmd
}

func writeTemplate(path string, write func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newPositionsCmd(opts *rootOptions) *cobra.Command {
	var (
		units = motor.Displ
		save  string
	)
	cmd := &cobra.Command{
		Use:   "positions [motor...]",
		Short: "Print motor positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := openInstallation(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer inst.Close()

			c := inst.cluster
			if err := printPositions(cmd, c.MotorsCluster, units, args...); err != nil {
				return err
			}
			if save != "" {
				return c.SavePositions(save, units, ';')
			}
			return nil
		},
	}
	cmd.Flags().Var(&units, "units", "norm, contr or displ")
	cmd.Flags().StringVar(&save, "save", "", "also write the positions to this path file")
	return cmd
}

func printPositions(cmd *cobra.Command, c *cluster.MotorsCluster, units motor.Units, names ...string) error {
	if len(names) == 0 {
		names = c.Names()
	}
	positions, err := c.Positions(units, names...)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, name := range names {
		label := units.String()
		if m, err := c.Motor(name); err == nil && units == motor.Displ {
			label = m.Config().DisplayUnits
		}
		fmt.Fprintf(w, "%s\t%g\t%s\n", name, positions[name], label)
	}
	return w.Flush()
}
