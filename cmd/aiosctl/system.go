package main

import (
	"fmt"

	"github.com/nugget/aios-runtime/internal/metrics"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

var systemCmd = &cobra.Command{
	Use:   "system",
	Short: "Inspect overall runtime status and metrics",
}

var systemStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize driver, scheduler, and bus state",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, closeRT, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRT()

		manifests := rt.Registry.Manifests()
		running := 0
		for _, m := range manifests {
			if status, ok := rt.Registry.Status(m.ID); ok && status == "running" {
				running++
			}
		}

		fmt.Printf("drivers:   %d registered, %d running\n", len(manifests), running)
		fmt.Printf("scheduler: %v\n", rt.Scheduler.Stats())
		fmt.Printf("bus:       %d events in history\n", len(rt.Bus.GetHistory(nil, 0)))
		return nil
	},
}

var systemMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print the runtime's Prometheus metrics in text exposition format",
	RunE: func(cmd *cobra.Command, args []string) error {
		families, err := metrics.Registry.Gather()
		if err != nil {
			return fmt.Errorf("gather metrics: %w", err)
		}
		enc := expfmt.NewEncoder(cmd.OutOrStdout(), expfmt.FmtText)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				return fmt.Errorf("encode metrics: %w", err)
			}
		}
		return nil
	},
}

func init() {
	systemCmd.AddCommand(systemStatusCmd, systemMetricsCmd)
}
