package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
)

var (
	askQuestion  string
	askTopK      int
	askCategory  string
	askAppliesTo []string
	askStream    bool
	askJSON      bool
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer one question from the corpus",
	Long: `Answer one question strictly from the indexed corpus.

Examples:
  ragctl ask -q "How long are refunds available?"
  ragctl ask -q "Who can see my data?" --category privacy --stream`,
	Args: cobra.NoArgs,
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askQuestion, "question", "q", "", "question to answer (required)")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "candidates to retrieve (default from tuning)")
	askCmd.Flags().StringVar(&askCategory, "category", "", "restrict retrieval to one category")
	askCmd.Flags().StringSliceVar(&askAppliesTo, "applies-to", nil, "restrict retrieval to documents applying to these plans")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "print the answer as it is generated")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the result as JSON")
	_ = askCmd.MarkFlagRequired("question")
}

func runAsk(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer app.Close()
	if err := loadCorpus(ctx, app); err != nil {
		return err
	}

	req := domain.AskRequest{
		Question:  askQuestion,
		TopK:      askTopK,
		Category:  askCategory,
		AppliesTo: askAppliesTo,
	}

	var result *domain.AnswerResult
	if askStream && !askJSON {
		events, err := app.Answers.AskStream(ctx, req)
		if err != nil {
			return err
		}
		for event := range events {
			switch event.Kind {
			case domain.StreamEventDelta:
				fmt.Print(event.Delta)
			case domain.StreamEventDone:
				result = event.Result
			case domain.StreamEventError:
				fmt.Println()
				return event.Err
			}
		}
		fmt.Println()
		if result == nil {
			return errors.New("stream ended without a result")
		}
		// A downgraded or refused stream replaces the streamed text.
		if result.IsRefusal() {
			fmt.Println(result.FinalAnswer)
		}
	} else {
		result, err = app.Answers.Ask(ctx, req)
		if err != nil {
			return err
		}
	}

	if askJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printAnswer(result, !askStream)
	return nil
}

func printAnswer(result *domain.AnswerResult, withText bool) {
	bold := color.New(color.Bold).SprintFunc()
	dim := color.New(color.FgHiBlack).SprintFunc()
	state := color.New(color.FgGreen, color.Bold).SprintFunc()
	if result.IsRefusal() {
		state = color.New(color.FgYellow, color.Bold).SprintFunc()
	}

	if withText {
		fmt.Println(result.FinalAnswer)
	}
	fmt.Println()
	status := string(result.State)
	if result.Reason != "" {
		status += " (" + result.Reason + ")"
	}
	fmt.Printf("%s %s\n", bold("State:"), state(status))
	if len(result.Citations) == 0 {
		return
	}
	fmt.Println(bold("Sources:"))
	for _, c := range result.Citations {
		fmt.Printf("  [%s] %s %s\n", c.ChunkID, c.SectionPath, dim(fmt.Sprintf("%.3f", c.Score)))
		if snippet := strings.TrimSpace(c.Snippet); snippet != "" {
			fmt.Printf("    %s\n", dim(snippet))
		}
	}
	fmt.Printf("%s %s\n", dim("trace:"), dim(result.TraceID))
}
