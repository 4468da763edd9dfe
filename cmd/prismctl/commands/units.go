package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/prismmesh/spectrum"
)

func newUnitsCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "units",
		Short: "List the registered units",
		Long: `List every registered unit with its frequencies and refractions.

Streaming frequencies are marked with a trailing '*'.

Examples:
  prismctl units
  prismctl units --json | jq '.[].name'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.newMesh(a.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			var spectra []*spectrum.Spectrum
			for _, id := range m.Registry().Units() {
				s, err := m.Multiplexer().ResolveSpectrum(id)
				if err != nil {
					return fmt.Errorf("unit %s: %w", id, err)
				}
				spectra = append(spectra, s)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(spectra)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "UNIT\tVERSION\tFREQUENCIES\tREFRACTIONS")
			for _, s := range spectra {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID(), s.Version, frequencies(s), refractions(s))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the spectra as JSON")
	return cmd
}

func frequencies(s *spectrum.Spectrum) string {
	names := make([]string, 0, len(s.Wavelengths))
	for _, w := range s.Wavelengths {
		if w.Stream {
			names = append(names, w.Frequency+"*")
			continue
		}
		names = append(names, w.Frequency)
	}
	return strings.Join(names, ",")
}

func refractions(s *spectrum.Spectrum) string {
	if len(s.Refractions) == 0 {
		return "-"
	}
	names := make([]string, 0, len(s.Refractions))
	for _, r := range s.Refractions {
		names = append(names, r.Name+"->"+r.Target)
	}
	return strings.Join(names, ",")
}
