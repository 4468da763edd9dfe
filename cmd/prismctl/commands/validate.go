package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/prismmesh/spectrum"
)

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path...]",
		Short: "Check spectrum documents",
		Long: `Parse and validate spectrum documents (JSON or YAML).

Each path may be a file or a directory; directories are loaded as one
catalog, so duplicate unit identifiers are reported too. Without a path the
spectrum directory is checked.

Examples:
  prismctl validate spectra/
  prismctl validate relay.json completion.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				if a.cfg.SpectrumDir == "" {
					return fmt.Errorf("no path given and no spectrum directory configured")
				}
				paths = []string{a.cfg.SpectrumDir}
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, p := range paths {
				if err := validatePath(out, p); err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", p, err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d paths invalid", failed, len(paths))
			}
			return nil
		},
	}
}

func validatePath(out io.Writer, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		s, err := spectrum.Load(path)
		if err != nil {
			return err
		}
		report(out, path, s)
		return nil
	}

	catalog, err := spectrum.LoadDir(path)
	if err != nil {
		return err
	}
	for _, id := range catalog.IDs() {
		s, _ := catalog.Get(id)
		report(out, path, s)
	}
	return nil
}

func report(out io.Writer, path string, s *spectrum.Spectrum) {
	fmt.Fprintf(out, "ok   %s: %s (%d wavelengths, %d refractions)\n",
		path, s.ID(), len(s.Wavelengths), len(s.Refractions))
}
