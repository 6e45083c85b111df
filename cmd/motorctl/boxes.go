package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/motorbox/internal/box"
	"github.com/banshee-data/motorbox/internal/cluster"
	"github.com/banshee-data/motorbox/internal/config"
)

// installation is the set of boxes opened for one command.
type installation struct {
	boxes   []*box.Box
	cluster *cluster.BoxesCluster
}

// openInstallation opens the boxes selected in opts. With more than one box
// motor names are prefixed with the box name.
func openInstallation(ctx context.Context, opts *rootOptions) (*installation, error) {
	f, err := config.LoadBoxes(opts.boxesPath)
	if err != nil {
		return nil, err
	}
	selected := f.Boxes
	if len(opts.boxNames) > 0 {
		selected = nil
		for _, name := range opts.boxNames {
			cfg, ok := f.Box(name)
			if !ok {
				return nil, fmt.Errorf("box %q is not defined in %s", name, opts.boxesPath)
			}
			selected = append(selected, cfg)
		}
	}

	inst := &installation{cluster: cluster.NewBoxes(len(selected) > 1)}
	for _, cfg := range selected {
		b, err := box.Open(ctx, cfg)
		if err != nil {
			inst.Close()
			return nil, err
		}
		inst.boxes = append(inst.boxes, b)
		if err := inst.cluster.AddBox(cfg.Name, b); err != nil {
			inst.Close()
			return nil, err
		}
	}
	return inst, nil
}

// Close stops and closes every box.
func (i *installation) Close() error {
	var errs []error
	for _, b := range i.boxes {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("box %q: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}
