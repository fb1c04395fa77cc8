package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rageval/src/core/dataset"
	"rageval/src/core/evaluation"
	"rageval/src/infrastructure/log"
)

// evaluateCmd represents the evaluate command
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run an evaluation locally and write the results table",
	Long: `Evaluate loads a corpus and a query set (JSON, JSONL or Parquet), indexes the
corpus in Weaviate, answers every query with the chat model over the top-k
retrieved documents and asks the judge model whether each document is
relevant. The per-query table is written as CSV; --report adds a JSON export
with centered query and document embeddings.`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringP("documents", "d", "", "Corpus file path")
	evaluateCmd.MarkFlagRequired("documents")
	evaluateCmd.Flags().StringP("queries", "q", "", "Query set file path")
	evaluateCmd.MarkFlagRequired("queries")
	evaluateCmd.Flags().StringP("output", "o", "-", "CSV output path, - for stdout")
	evaluateCmd.Flags().String("report", "", "JSON report output path")
	evaluateCmd.Flags().Bool("cleanup", false, "Delete the Weaviate class after the run")
	evaluateCmd.Flags().Int("top-k", 0, "Documents retrieved per query (overrides eval.top_k)")
	viper.BindPFlag("eval.top_k", evaluateCmd.Flags().Lookup("top-k"))
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	documentsPath, _ := cmd.Flags().GetString("documents")
	queriesPath, _ := cmd.Flags().GetString("queries")
	outputPath, _ := cmd.Flags().GetString("output")
	reportPath, _ := cmd.Flags().GetString("report")
	cleanup, _ := cmd.Flags().GetBool("cleanup")

	docs, err := dataset.LoadDocuments(documentsPath)
	if err != nil {
		return err
	}
	queries, err := dataset.LoadQueries(queriesPath)
	if err != nil {
		return err
	}
	docs, err = dataset.Split(docs, viper.GetInt("eval.chunk_size"), viper.GetInt("eval.chunk_overlap"))
	if err != nil {
		return err
	}

	m, err := newModels()
	if err != nil {
		return err
	}
	defer m.Close()

	sdk, err := newWeaviateSDK()
	if err != nil {
		return err
	}
	if err := sdk.Ready(ctx); err != nil {
		return err
	}
	store, err := newDocumentStore(sdk, viper.GetString("weaviate.class"))
	if err != nil {
		return err
	}
	if cleanup {
		defer func() {
			if err := store.Reset(context.WithoutCancel(ctx)); err != nil {
				log.Error(err, "Failed to clean up Weaviate class")
				return
			}
			log.Info("Cleaned up Weaviate class", "class", viper.GetString("weaviate.class"))
		}()
	}

	pipeline, err := newPipeline(m, store)
	if err != nil {
		return err
	}

	log.Info("Ingesting documents", "count", len(docs), "models", m.describe)
	docs, err = pipeline.Ingest(ctx, docs)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(queries),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("evaluating"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	records, summary, err := pipeline.Run(ctx, queries, func(evaluation.Record) {
		_ = bar.Add(1)
	})
	_ = bar.Finish()
	if err != nil {
		return err
	}

	if err := writeOutput(outputPath, evaluation.NewTable(records).WriteCSV); err != nil {
		return err
	}
	if reportPath != "" {
		export, err := evaluation.NewExport(records, summary, docs)
		if err != nil {
			return err
		}
		if err := writeOutput(reportPath, export.WriteJSON); err != nil {
			return err
		}
	}

	printSummary(cmd.ErrOrStderr(), summary)
	return nil
}

func writeOutput(path string, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(os.Stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func printSummary(w io.Writer, s evaluation.Summary) {
	fmt.Fprintf(w, "Evaluation Results:\n")
	fmt.Fprintf(w, "Total queries: %d (failed: %d, unknown judgments: %d)\n", s.Queries, s.Failed, s.UnknownJudgments)
	for i, p := range s.MeanPrecision {
		fmt.Fprintf(w, "Mean precision@%d: %.4f\n", i+1, p)
	}
}
