package main

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pspoerri/ndwimask/internal/pipeline"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run GREEN NIR QA",
		Short: "Compute the mask of one scene from its band files",
		Example: `  ndwimask run LC08_..._B3.TIF LC08_..._B5.TIF LC08_..._BQA.TIF
  ndwimask run --t-srs EPSG:3413 --preview webp B3.TIF B5.TIF BQA.TIF`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.newPipeline(cmd)
			if err != nil {
				return a.exitError(err)
			}
			res, err := p.Run(cmd.Context(), pipeline.Inputs{Green: args[0], NIR: args[1], QA: args[2]})
			if err != nil {
				return a.exitError(err)
			}
			a.log.WithFields(logrus.Fields{
				"blocks":  res.Blocks,
				"elapsed": res.Elapsed.Round(time.Millisecond).String(),
			}).Info("done")
			report(cmd, res)
			return nil
		},
	}
}
