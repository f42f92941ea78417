package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/ethpandaops/commitbenchoor/pkg/logparse"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var extractPrecision bool

var extractCmd = &cobra.Command{
	Use:   "extract <log-file>",
	Short: "Extract metrics from an analyzer or comparison log",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().BoolVar(&extractPrecision, "precision", false,
		"Read a comparison log instead of an analyzer log")
}

func runExtract(cmd *cobra.Command, args []string) error {
	path := args[0]

	if extractPrecision {
		rec, err := logparse.ExtractPrecision(path)
		if err != nil {
			return err
		}

		if rec == nil {
			return fmt.Errorf("%s: no precision summary found", path)
		}

		return renderFields(os.Stdout, rec.Fields())
	}

	rec, err := logparse.ExtractAnalyzerLog(path)
	if errors.Is(err, logparse.ErrRuntimeNotFound) {
		return fmt.Errorf("%s: analyzer did not report a runtime", path)
	}

	if err != nil {
		return err
	}

	return renderFields(os.Stdout, rec.Fields())
}

func renderFields(w io.Writer, fields map[string]string) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Field", "Value"})

	for _, k := range keys {
		tbl.AppendRow(table.Row{k, fields[k]})
	}

	_, err := fmt.Fprintln(w, tbl.Render())

	return err
}
