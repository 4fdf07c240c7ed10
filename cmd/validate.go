package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/scanner"
)

var validateFormat string

// validateCmd represents the validate command.
var validateCmd = &cobra.Command{
	Use:   "validate [template...]",
	Short: "Check templates for parse, binding and macro errors",
	Long: `Parse templates and report every error found, not just the first.
With no arguments every template under the configured template paths is
checked. Macro files referenced by the templates are checked as they load.

Examples:
  weft validate                    # Validate all templates
  weft validate page.weft          # Validate one template
  weft validate --format json      # Output results as JSON`,
	RunE: runValidateCommand,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().
		StringVarP(&validateFormat, "format", "f", "text", "Output format (text, json)")
}

// ValidationResult is the outcome for one template.
type ValidationResult struct {
	File     string `json:"file"`
	Checksum string `json:"checksum,omitempty"`
	Valid    bool   `json:"valid"`
}

// ValidationSummary is the outcome of a validate run.
type ValidationSummary struct {
	Total   int                `json:"total"`
	Valid   int                `json:"valid"`
	Invalid int                `json:"invalid"`
	Results []ValidationResult `json:"results"`
	Errors  []errors.Entry     `json:"errors"`
}

func runValidateCommand(cmd *cobra.Command, args []string) error {
	if validateFormat != "text" && validateFormat != "json" {
		return fmt.Errorf("unsupported format: %s (supported: text, json)", validateFormat)
	}

	cfg, eng, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	s := scanner.New(cfg.Templates.Extension,
		scanner.WithExclude(cfg.Templates.Exclude...),
		scanner.WithLogger(logger))

	roots := args
	if len(roots) == 0 {
		roots = cfg.Templates.Paths
	}
	files, err := s.Discover(ctx, roots...)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No templates found to validate")

		return nil
	}

	scanned, collector := s.Scan(ctx, files, func(ctx context.Context, f scanner.File, src []byte) error {
		_, err := eng.Parse(ctx, src, f.Path)

		return err
	})

	summary := summarize(scanned, collector)
	logger.Debug(ctx, "Validated templates",
		"total", summary.Total,
		"invalid", summary.Invalid)

	switch validateFormat {
	case "json":
		if err := outputValidationJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	default:
		outputValidationText(cmd.OutOrStdout(), summary)
	}

	if summary.Invalid > 0 {
		return fmt.Errorf("validation failed: %d invalid templates", summary.Invalid)
	}

	return nil
}

func summarize(files []scanner.File, collector *errors.ErrorCollector) ValidationSummary {
	entries := collector.Entries()
	failed := make(map[string]bool, len(entries))
	for _, e := range entries {
		failed[e.File] = true
	}

	summary := ValidationSummary{
		Total:   len(files),
		Results: make([]ValidationResult, 0, len(files)),
		Errors:  entries,
	}
	for _, f := range files {
		result := ValidationResult{File: f.Path, Checksum: f.Checksum, Valid: !failed[f.Path]}
		if result.Valid {
			summary.Valid++
		} else {
			summary.Invalid++
		}
		summary.Results = append(summary.Results, result)
	}

	return summary
}

func outputValidationText(w io.Writer, summary ValidationSummary) {
	fmt.Fprintf(w, "Validation Summary:\n")
	fmt.Fprintf(w, "  Total templates: %d\n", summary.Total)
	fmt.Fprintf(w, "  Valid: %d\n", summary.Valid)
	fmt.Fprintf(w, "  Invalid: %d\n", summary.Invalid)
	fmt.Fprintln(w)

	for _, e := range summary.Errors {
		fmt.Fprintf(w, "%s:%d:%d: %s\n", e.File, e.Line, e.Column, e.Message)
		if e.Snippet != "" {
			fmt.Fprint(w, e.Snippet)
		}
		fmt.Fprintln(w)
	}

	if summary.Invalid == 0 {
		fmt.Fprintln(w, "All templates are valid")
	}
}

func outputValidationJSON(w io.Writer, summary ValidationSummary) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(summary)
}
