package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/governor/internal/predict"
	"github.com/steveyegge/governor/internal/types"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict near-term governance violations",
}

var predictTrainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train and deploy the violation model",
	Long: `Build a labeled training set from recorded metrics and alerts, fit every
candidate model and deploy the most accurate one. Exit status is 2 when the
selected model misses the target accuracy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		p, closeStore, err := newPredictor()
		if err != nil {
			return err
		}
		defer closeStore()

		report, err := p.Train(cmd.Context())
		if errors.Is(err, predict.ErrInsufficientData) {
			printWarn(cmd.OutOrStdout(), "%v", err)
			return withCode(exitAdvisory)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			if err := printJSON(out, report); err != nil {
				return err
			}
		} else {
			printTraining(out, report)
		}
		if !report.MeetsTarget {
			return withCode(exitAdvisory)
		}
		return nil
	},
}

var predictRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Score the current moment with the deployed model",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		p, closeStore, err := newPredictor()
		if err != nil {
			return err
		}
		defer closeStore()

		preds, err := p.Run(cmd.Context())
		out := cmd.OutOrStdout()
		if errors.Is(err, predict.ErrModelUnavailable) {
			printWarn(out, "No usable model; run 'gov predict train' first")
			return withCode(exitAdvisory)
		}
		if err != nil && len(preds) == 0 {
			return err
		}
		if asJSON {
			return printJSON(out, preds)
		}
		for _, pred := range preds {
			printPrediction(out, pred)
		}
		return err
	},
}

var predictStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the deployed model and recent predictions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		p, closeStore, err := newPredictor()
		if err != nil {
			return err
		}
		defer closeStore()

		st, err := p.Stats(cmd.Context(), limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asJSON {
			return printJSON(out, st)
		}

		fmt.Fprintf(out, "\n%s\n", cyan("=== Prediction Model ==="))
		if st.Model == nil {
			printWarn(out, "No model deployed")
		} else {
			fmt.Fprintf(out, "Model: %s  Accuracy: %s  Horizon: %dh  Trained: %s\n",
				st.Model.Model, pct(st.Model.Accuracy), st.Model.HorizonHours, st.Model.TrainedAt.UTC().Format("2006-01-02 15:04"))
		}
		if len(st.Predictions) == 0 {
			fmt.Fprintln(out, gray("No predictions recorded"))
			return nil
		}
		fmt.Fprintln(out)
		t := newTable(out, "Time", "Violation", "Probability", "Risk", "Model")
		for _, pred := range st.Predictions {
			t.Append([]string{
				pred.Timestamp.UTC().Format("01-02 15:04"), pred.ClassLabel,
				fmt.Sprintf("%.2f", pred.Probability), riskColor(pred.RiskLevel), pred.ModelName,
			})
		}
		t.Render()
		return nil
	},
}

func init() {
	predictTrainCmd.Flags().Bool("json", false, "Print the training report as JSON")
	predictRunCmd.Flags().Bool("json", false, "Print predictions as JSON")
	predictStatsCmd.Flags().Int("limit", 10, "Number of recent predictions")
	predictStatsCmd.Flags().Bool("json", false, "Print as JSON")
	predictCmd.AddCommand(predictTrainCmd, predictRunCmd, predictStatsCmd)
	rootCmd.AddCommand(predictCmd)
}

func newPredictor() (*predict.Predictor, func(), error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	p, err := predict.New(predict.Config{
		Store:          store,
		Logger:         logger,
		ModelDir:       cfg.Paths.Models,
		HorizonHours:   cfg.Predict.HorizonHours,
		TargetAccuracy: cfg.Predict.TargetAccuracy,
		SampleInterval: cfg.Predict.SampleInterval,
		TrainingWindow: cfg.Predict.TrainingWindow,
		MetricTypes:    cfg.Predict.MetricTypes,
		Seed:           cfg.Predict.Seed,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return p, func() { store.Close() }, nil
}

func printTraining(w io.Writer, r *predict.TrainingReport) {
	fmt.Fprintf(w, "\n%s\n", cyan("=== Model Training ==="))
	fmt.Fprintf(w, "Samples: %d (train %d, test %d)\n\n", r.Samples, r.TrainSamples, r.TestSamples)
	t := newTable(w, "Model", "Accuracy", "")
	for _, c := range r.Candidates {
		mark := ""
		if c.Model == r.Selected {
			mark = "selected"
		}
		t.Append([]string{c.Model, pct(c.Accuracy), mark})
	}
	t.Render()
	if r.MeetsTarget {
		printOK(w, "%s deployed at %s (target %s)", r.Selected, pct(r.Accuracy), pct(r.TargetAccuracy))
	} else {
		printWarn(w, "%s deployed at %s, below target %s", r.Selected, pct(r.Accuracy), pct(r.TargetAccuracy))
	}
	fmt.Fprintf(w, "Model: %s\n", rel(r.ModelPath))
}

func printPrediction(w io.Writer, p *types.Prediction) {
	fmt.Fprintf(w, "\n%s %s (p=%.2f, %s risk, next %dh)\n", cyan("Prediction:"), p.ClassLabel, p.Probability, riskColor(p.RiskLevel), p.HorizonHours)
	if len(p.Features) > 0 {
		names := make([]string, 0, len(p.Features))
		for _, f := range p.Features {
			names = append(names, f.Name)
		}
		fmt.Fprintf(w, "Drivers: %s\n", strings.Join(names, ", "))
	}
	for _, r := range p.Recommendations {
		fmt.Fprintf(w, "  - %s\n", r)
	}
}

func riskColor(level string) string {
	switch level {
	case "HIGH":
		return red(level)
	case "MEDIUM":
		return yellow(level)
	}
	return green(level)
}
