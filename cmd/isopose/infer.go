package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/isopose/isopose/internal/dataset"
	"github.com/isopose/isopose/internal/review"
)

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Predict poses for a directory of test images",
	Long: `Runs the pose model over every png/jpg/jpeg in --test-dir in name order and
prints the predicted quaternion and Euler angles. With --csv or --dataset-dir
each prediction is paired with the nearest labelled render, and with --out a
side-by-side comparison PNG is written per image.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		testDir, _ := cmd.Flags().GetString("test-dir")
		csvPath, _ := cmd.Flags().GetString("csv")
		dataDir, _ := cmd.Flags().GetString("dataset-dir")
		outDir, _ := cmd.Flags().GetString("out")

		a, err := newApp(cfg, logger, appOptions{requirePose: true, skipPolicy: true})
		if err != nil {
			return err
		}
		defer a.Close()

		var index *dataset.Index
		if csvPath != "" || dataDir != "" {
			index, err = dataset.Load(csvPath, dataDir)
			switch {
			case errors.Is(err, dataset.ErrEmpty):
				logger.Warn("no dataset quaternions found, nearest-image lookup disabled")
			case err != nil:
				return err
			default:
				logger.Info("dataset loaded", "samples", index.Len())
			}
		}

		runner := review.NewRunner(a.est, review.Options{
			Index:   index,
			OutDir:  outDir,
			Workers: cfg.Inference.Workers,
			Logger:  logger,
		})
		results, err := runner.Run(cmd.Context(), testDir)
		if err != nil {
			return err
		}
		review.Report(cmd.OutOrStdout(), results)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inferCmd)
	f := inferCmd.Flags()
	f.String("test-dir", "", "Directory of images to predict")
	f.String("csv", "", "CSV with x,y,z,w,filename columns")
	f.String("dataset-dir", "", "Directory of labelled renders")
	f.String("out", "", "Directory for comparison PNGs")
	f.String("pose-model", "", "Pose model ONNX file")
	configFlag(f, "pose-model", "models.pose")
	_ = inferCmd.MarkFlagRequired("test-dir")
}
