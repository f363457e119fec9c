package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	fs "github.com/gofhir/snapshot"
	"github.com/gofhir/snapshot/engine"
	"github.com/gofhir/snapshot/worker"
)

const (
	keyWorkers     = "workers"
	keyFailFast    = "fail-fast"
	keyMetricsFile = "metrics-file"
)

func batchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [url]...",
		Short: "Generate snapshots in parallel",
		Long: "Generate the snapshots of the given profiles in parallel, or of every loaded " +
			"definition that ships no snapshot when no URL is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			format := a.v.GetString(keyFormat)
			if err := checkFormat(format); err != nil {
				return err
			}

			eng, err := a.engine(cmd.Context(),
				fs.WithWorkerCount(a.v.GetInt(keyWorkers)),
				fs.WithFailFast(a.v.GetBool(keyFailFast)),
			)
			if err != nil {
				return err
			}
			defer eng.Close()

			result, err := eng.GenerateAll(cmd.Context(), args)
			if err != nil {
				return err
			}

			if outDir := a.v.GetString(keyOutput); outDir != "" {
				if err := writeBatch(eng, result, outDir, format); err != nil {
					return err
				}
			}
			if path := a.v.GetString(keyMetricsFile); path != "" {
				if err := writeMetrics(eng.Metrics(), path); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "generated %d of %d snapshots in %v (%d failed, %d skipped)\n",
				result.CompletedJobs-result.FailedJobs, result.TotalJobs, result.TotalDuration,
				result.FailedJobs, result.TotalJobs-result.CompletedJobs)
			for _, r := range result.Failed() {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %v\n", r.URL, r.Err)
			}
			if result.FailedJobs > 0 {
				return fmt.Errorf("%d of %d snapshots failed", result.FailedJobs, result.TotalJobs)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.Int(keyWorkers, 0, "Concurrent generators (0 uses the number of CPUs)")
	f.Bool(keyFailFast, false, "Stop starting new profiles after the first failure")
	f.StringP(keyOutput, "o", "", "Write one file per generated profile into this directory")
	f.StringP(keyFormat, "f", formatJSON, "Output format: json, yaml or fhir")
	f.String(keyMetricsFile, "", "Write Prometheus metrics in text format to this file")
	return cmd
}

// writeBatch stores every generated snapshot as a complete definition.
func writeBatch(eng *engine.Engine, result *worker.BatchResult, dir, format string) error {
	for _, r := range result.Results {
		if r.Snapshot == nil {
			continue
		}
		sd, err := eng.Registry().Get(r.URL)
		if err != nil {
			return err
		}
		data, err := encodeDefinition(r.Snapshot.StructureDefinition(sd), format)
		if err != nil {
			return fmt.Errorf("%s: %w", r.URL, err)
		}
		if err := write(nil, dir, fileName(sd.Name, sd.URL), format, data); err != nil {
			return err
		}
	}
	return nil
}

// writeMetrics dumps m for the node exporter's textfile collector.
func writeMetrics(m *fs.Metrics, path string) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(m.Collector()); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, reg)
}
