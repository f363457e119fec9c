package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	fs "github.com/gofhir/snapshot"
	"github.com/gofhir/snapshot/pkg/loader"
	"github.com/gofhir/snapshot/pkg/model"
	"github.com/gofhir/snapshot/pkg/projection"
)

// Output formats.
const (
	formatJSON = "json"
	formatYAML = "yaml"
	formatFHIR = "fhir"
)

const (
	keyFormat           = "format"
	keyOutput           = "output"
	keyTables           = "tables"
	keyCheckExpressions = "check-expressions"
)

func generateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <url>...",
		Short: "Generate the snapshot of one or more profiles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format := a.v.GetString(keyFormat)
			if err := checkFormat(format); err != nil {
				return err
			}
			tables := a.v.GetBool(keyTables)

			var extra []fs.Option
			if tables {
				extra = append(extra, fs.WithExpressionCheck(a.v.GetBool(keyCheckExpressions)))
			}
			eng, err := a.engine(cmd.Context(), extra...)
			if err != nil {
				return err
			}
			defer eng.Close()

			outDir := a.v.GetString(keyOutput)
			for _, url := range args {
				var data []byte
				var name string
				if tables {
					t, err := eng.Project(cmd.Context(), url)
					if err != nil {
						return err
					}
					for _, iss := range t.Diagnostics.Issues {
						a.log.Warn("%s: %s", url, iss.Diagnostics)
					}
					name = t.Name
					data, err = encodeTables(t, format)
					if err != nil {
						return err
					}
				} else {
					sd, err := eng.StructureDefinition(cmd.Context(), url)
					if err != nil {
						return err
					}
					name = sd.Name
					data, err = encodeDefinition(sd, format)
					if err != nil {
						return err
					}
				}

				if err := write(cmd.OutOrStdout(), outDir, fileName(name, url), format, data); err != nil {
					return err
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringP(keyFormat, "f", formatJSON, "Output format: json, yaml or fhir")
	f.StringP(keyOutput, "o", "", "Write one file per profile into this directory instead of stdout")
	f.Bool(keyTables, false, "Print the validation tables of the snapshot instead of the definition")
	f.Bool(keyCheckExpressions, false, "With --tables, compile every invariant expression and report failures")
	return cmd
}

func checkFormat(format string) error {
	switch format {
	case formatJSON, formatYAML, formatFHIR:
		return nil
	}
	return fmt.Errorf("unknown format %q (want json, yaml or fhir)", format)
}

// encodeDefinition renders sd. The fhir format goes through the typed R4
// model and keeps only the fields it knows.
func encodeDefinition(sd *model.StructureDefinition, format string) ([]byte, error) {
	switch format {
	case formatYAML:
		return loader.ExportYAML(sd)
	case formatFHIR:
		return json.MarshalIndent(loader.NewR4Converter().ToR4(sd), "", "  ")
	default:
		return loader.ExportJSON(sd)
	}
}

func encodeTables(t *projection.Tables, format string) ([]byte, error) {
	if format == formatYAML {
		return yaml.Marshal(t)
	}
	return json.MarshalIndent(t, "", "  ")
}

// fileName prefers the definition's name and falls back to the last
// segment of its URL.
func fileName(name, url string) string {
	if name != "" {
		return name
	}
	return path.Base(url)
}

func extension(format string) string {
	if format == formatYAML {
		return ".yaml"
	}
	return ".json"
}

// write prints data to w, or stores it as dir/name.ext when dir is set.
func write(w io.Writer, dir, name, format string, data []byte) error {
	if dir == "" {
		if _, err := w.Write(data); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w)
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name+extension(format)), data, 0o644)
}
