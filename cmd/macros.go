package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/weft/internal/errors"
	"github.com/conneroisu/weft/internal/macro"
	"github.com/conneroisu/weft/internal/scanner"
)

// macrosCmd represents the macros command
var macrosCmd = &cobra.Command{
	Use:   "macros",
	Short: "List macros defined in macro files",
	Long: `Load every macro file under the configured macro paths and print the
macros each defines with their parameters, as YAML.

Examples:
  weft macros                      # List all macro files
  weft macros --macros ./shared    # List macros in another directory`,
	Args: cobra.NoArgs,
	RunE: runMacros,
}

func init() {
	rootCmd.AddCommand(macrosCmd)
}

type macroFileListing struct {
	File   string         `yaml:"file"`
	Macros []macroListing `yaml:"macros"`
}

type macroListing struct {
	Name         string         `yaml:"name"`
	Signature    string         `yaml:"signature"`
	DefaultParam string         `yaml:"default_param,omitempty"`
	Params       []paramListing `yaml:"params,omitempty"`
}

type paramListing struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	HasDefault bool   `yaml:"has_default,omitempty"`
}

func runMacros(cmd *cobra.Command, _ []string) error {
	cfg, eng, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	s := scanner.New(cfg.Macros.Extension, scanner.WithLogger(logger))
	files, err := s.Discover(ctx, cfg.Macros.Paths...)
	if err != nil {
		return err
	}

	collector := errors.NewErrorCollector()
	listings := make([]macroFileListing, 0, len(files))
	for _, f := range files {
		macros, err := eng.LoadMacroFile(ctx, f.Path)
		if err != nil {
			collector.Add(f.Path, err)

			continue
		}
		listings = append(listings, listFile(f.Path, macros))
	}

	encoder := yaml.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent(2)
	if err := encoder.Encode(listings); err != nil {
		return err
	}
	if err := encoder.Close(); err != nil {
		return err
	}

	if collector.HasErrors() {
		fmt.Fprint(cmd.ErrOrStderr(), collector.Report())

		return fmt.Errorf("%d macro files failed to load", len(collector.Entries()))
	}

	return nil
}

func listFile(path string, macros []*macro.Macro) macroFileListing {
	listing := macroFileListing{File: path, Macros: make([]macroListing, len(macros))}
	for i, m := range macros {
		ml := macroListing{
			Name:         m.Name,
			Signature:    m.Signature(),
			DefaultParam: m.DefaultParam,
		}
		for _, p := range m.Params {
			ml.Params = append(ml.Params, paramListing{Name: p.Name, Type: p.Type, HasDefault: p.HasDefault})
		}
		listing.Macros[i] = ml
	}

	return listing
}
