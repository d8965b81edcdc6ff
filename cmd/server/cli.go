package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"corpusbot/internal/corpus"
	"corpusbot/internal/models"
	"corpusbot/internal/search"
)

var (
	processMode   string
	searchResults int
	exportOutput  string
	clearConfirm  bool
)

func init() {
	processCmd.Flags().StringVarP(&processMode, "mode", "m", string(models.ModeData), "input mode: data or question")
	searchCmd.Flags().IntVarP(&searchResults, "results", "n", 0, "number of search results to process (default from config)")
	corpusExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write the JSON array to this file instead of stdout")
	corpusClearCmd.Flags().BoolVar(&clearConfirm, "yes", false, "confirm removal of every record")
}

var processCmd = &cobra.Command{
	Use:   "process <text>",
	Short: "Run one text through the pipeline and print the outcome",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		out := a.pipeline.Process(ctx, strings.Join(args, " "), models.ParseMode(processMode))
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
		if !out.Accepted() {
			return fmt.Errorf("text was not stored: %s", outcomeSummary(out))
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a .json, .jsonl, .csv or .txt document into the corpus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		report, err := a.importer.Import(ctx, filepath.Base(args[0]), f)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Collect training data from web search results",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		query := strings.Join(args, " ")
		progress, err := a.collector.Collect(ctx, query, searchResults, func(p search.Progress) {
			logger.Info("Search progress",
				zap.Int("processed", p.Processed),
				zap.Int("total", p.TotalURLs),
				zap.Int("entries_added", p.EntriesAdded),
				zap.String("url", p.CurrentURL))
		})
		if perr := printJSON(cmd.OutOrStdout(), progress); perr != nil {
			return perr
		}
		return err
	},
}

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Inspect and maintain the training corpus",
}

func openCorpus() (*corpus.Store, error) {
	return corpus.NewStore(cfg.Corpus.Path, cfg.Corpus.CounterPath, logger)
}

var corpusCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the corpus counter and size",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCorpus()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), store.Stats())
	},
}

var corpusClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every record and reset the counter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearConfirm {
			return fmt.Errorf("refusing to clear %s without --yes", cfg.Corpus.Path)
		}
		store, err := openCorpus()
		if err != nil {
			return err
		}
		if err := store.Clear(cmd.Context()); err != nil {
			return err
		}
		logger.Warn("Corpus cleared", zap.String("path", store.Path()))
		return nil
	},
}

var corpusExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the corpus as a JSON array",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCorpus()
		if err != nil {
			return err
		}

		if exportOutput == "" {
			return store.WriteJSONArray(cmd.OutOrStdout())
		}

		f, err := os.Create(exportOutput)
		if err != nil {
			return err
		}
		if err := store.WriteJSONArray(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		logger.Info("Corpus exported", zap.String("output", exportOutput), zap.Int("count", store.Count()))
		return nil
	},
}

var corpusReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reset the counter to the number of stored records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCorpus()
		if err != nil {
			return err
		}
		count, changed, err := store.Reconcile(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"count": count, "changed": changed})
	},
}

var corpusRepairCmd = &cobra.Command{
	Use:   "repair-legacy <file>",
	Short: "Recover records from a comma-prefixed legacy corpus file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		recs, report, err := corpus.ParseLegacy(f)
		if err != nil {
			return err
		}

		store, err := openCorpus()
		if err != nil {
			return err
		}
		count := store.Count()
		if len(recs) > 0 {
			if count, err = store.AppendBatch(cmd.Context(), recs); err != nil {
				return err
			}
		}

		return printJSON(cmd.OutOrStdout(), map[string]any{
			"recovered": report.Recovered,
			"skipped":   report.Skipped,
			"count":     count,
		})
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outcomeSummary(out models.Outcome) string {
	s := string(out.Kind)
	if out.Reason != "" {
		s += " (" + string(out.Reason) + ")"
	}
	if out.IncidentCode != "" {
		s += ", incident " + out.IncidentCode
	}
	return s
}
