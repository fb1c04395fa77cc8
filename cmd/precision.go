package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"rageval/src/core/dataset"
	"rageval/src/core/relevance"
)

var precisionCmd = &cobra.Command{
	Use:   "precision [file]",
	Short: "Compute precision@k for ranked relevance labels",
	Long: `Precision reads JSON lines from a file or stdin. Each line is either a list of
labels in rank order, e.g. ["relevant", "irrelevant", null], or an object
{"id": "q1", "judgments": [...]}. One JSON line with the precision at every
rank is printed per input line.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		return computePrecision(in, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(precisionCmd)
}

type ranking struct {
	ID        string               `json:"id,omitempty"`
	Judgments []relevance.Judgment `json:"judgments"`
}

func (r *ranking) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &r.Judgments)
	}
	type plain ranking
	return json.Unmarshal(data, (*plain)(r))
}

type precisionRow struct {
	ID        string    `json:"id,omitempty"`
	Precision []float64 `json:"precision"`
	Unknown   int       `json:"unknown"`
}

func computePrecision(r io.Reader, w io.Writer) error {
	rankings, err := dataset.DecodeLines[ranking](r)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for i, rk := range rankings {
		precision, err := relevance.PrecisionAtK(rk.Judgments)
		if err != nil {
			return fmt.Errorf("ranking %d: %w", i+1, err)
		}
		if err := enc.Encode(precisionRow{
			ID:        rk.ID,
			Precision: precision,
			Unknown:   relevance.CountUnknown(rk.Judgments),
		}); err != nil {
			return err
		}
	}
	return nil
}
