package cmd

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/weft/internal/engine"
	"github.com/conneroisu/weft/internal/errors"
)

var (
	renderData string
	renderOut  string
)

// renderCmd represents the render command
var renderCmd = &cobra.Command{
	Use:   "render <template>",
	Short: "Render a template to HTML",
	Long: `Render a template file. Identifiers that are not component properties
are looked up in the data file, a YAML mapping.

Examples:
  weft render page.weft                        # Render to stdout
  weft render page.weft --data data.yaml       # Render with data
  weft render page.weft -d data.yaml -o out.html`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVarP(&renderData, "data", "d", "", "YAML data file")
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "", "Output file (default stdout)")
}

func runRender(cmd *cobra.Command, args []string) error {
	_, eng, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	if err := renderTemplate(ctx, eng, args[0], renderData, renderOut, cmd.OutOrStdout()); err != nil {
		printError(cmd.ErrOrStderr(), err)

		return fmt.Errorf("rendering %s failed", args[0])
	}
	logger.Debug(ctx, "Rendered template", "file", args[0], "out", renderOut)

	return nil
}

// renderTemplate renders the template at path with the data file dataPath
// to outPath, or to stdout when outPath is empty.
func renderTemplate(ctx context.Context, eng *engine.Engine, path, dataPath, outPath string, stdout io.Writer) error {
	data, err := loadData(dataPath)
	if err != nil {
		return err
	}

	// Render into memory so a failed render leaves the output file intact
	var buf bytes.Buffer
	if err := eng.RenderFile(ctx, &buf, path, data); err != nil {
		return err
	}

	if outPath == "" {
		_, err := buf.WriteTo(stdout)

		return err
	}
	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		return errors.WrapIO(err, errors.ErrCodeRenderFailed,
			fmt.Sprintf("writing %s", outPath))
	}

	return nil
}

// loadData reads a YAML data file. An empty path means no data.
func loadData(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeFileNotFound,
			fmt.Sprintf("reading data file %s", path))
	}

	var data map[string]any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, errors.ErrCodeConfigInvalid,
			fmt.Sprintf("parsing data file %s", path))
	}

	return data, nil
}

// printError writes err with its source snippet when it has one.
func printError(w io.Writer, err error) {
	fmt.Fprintln(w, err)

	var we *errors.WeftError
	if stderrors.As(err, &we) {
		if snippet := we.Snippet(1); snippet != "" {
			fmt.Fprint(w, snippet)
		}
	}
}
