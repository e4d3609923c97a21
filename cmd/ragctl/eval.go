package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/grounded-rag/internal/eval"
)

var (
	evalDataset string
	evalOut     string
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score the pipeline against a golden question set",
	Long: `Run every question of a JSONL golden set through the pipeline and report
answer, refusal and citation rates.

Each line holds {"id", "question", "top_k", "must_cite", "must_contain", "must_say_idk"}.`,
	Args: cobra.NoArgs,
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().StringVar(&evalDataset, "dataset", "eval/golden.jsonl", "golden set in JSONL")
	evalCmd.Flags().StringVar(&evalOut, "out", "eval/results.json", "report output path")
}

func runEval(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cases, err := eval.LoadCases(evalDataset)
	if err != nil {
		return err
	}

	app, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer app.Close()
	if err := loadCorpus(ctx, app); err != nil {
		return err
	}

	report, err := eval.NewRunner(app.Answers).Run(ctx, cases)
	if err != nil {
		return err
	}
	if err := eval.WriteReport(evalOut, report); err != nil {
		return err
	}
	eval.PrintSummary(os.Stdout, report)
	fmt.Printf("\nReport written to %s\n", evalOut)
	return nil
}
