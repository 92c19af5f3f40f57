package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pspoerri/ndwimask/internal/scene"
)

func newSceneCmd(a *app) *cobra.Command {
	var noExtract bool

	cmd := &cobra.Command{
		Use:   "scene DIR",
		Short: "Compute masks for every Landsat 8 scene under a bulk-order directory",
		Long: `scene walks DIR for Landsat 8 products. Archives named <id>.tar.gz are
unpacked into <id>/ unless that directory exists already; every <id>/
directory holding B3, B5 and BQA bands is then processed. A failing scene
is reported and the remaining scenes are still processed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenes, err := scene.Discover(args[0],
				scene.WithLogger(a.log),
				scene.WithExtract(!noExtract),
			)
			if err != nil {
				return a.exitError(err)
			}
			if len(scenes) == 0 {
				return a.exitError(fmt.Errorf("no Landsat 8 scenes found under %s", args[0]))
			}

			p, err := a.newPipeline(cmd)
			if err != nil {
				return a.exitError(err)
			}

			var errs []error
			for i, s := range scenes {
				if err := cmd.Context().Err(); err != nil {
					errs = append(errs, err)
					break
				}
				log := a.log.WithFields(logrus.Fields{"scene": s.ID, "n": fmt.Sprintf("%d/%d", i+1, len(scenes))})
				res, err := p.Run(cmd.Context(), s.Bands)
				if err != nil {
					log.WithError(err).Error("scene failed")
					errs = append(errs, fmt.Errorf("%s: %w", s.ID, err))
					continue
				}
				log.WithField("water_fraction", fmt.Sprintf("%.4f", res.Summary.WaterFraction())).Info("scene done")
				report(cmd, res)
			}
			if err := errors.Join(errs...); err != nil {
				return a.exitError(fmt.Errorf("%d of %d scenes failed: %w", len(errs), len(scenes), err))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noExtract, "no-extract", false, "Do not unpack .tar.gz archives")
	return cmd
}
