package main

import (
	"encoding/json"
	"fmt"

	"github.com/nugget/aios-runtime/internal/scheduler"
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Create, list, and delete schedule records",
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a cron, interval, or absolute schedule record",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		kind, _ := cmd.Flags().GetString("kind")
		expression, _ := cmd.Flags().GetString("expression")
		eventType, _ := cmd.Flags().GetString("event-type")
		metaJSON, _ := cmd.Flags().GetString("metadata")

		var k scheduler.Kind
		switch kind {
		case "cron":
			k = scheduler.KindCron
		case "interval":
			k = scheduler.KindInterval
		case "absolute":
			k = scheduler.KindAbsolute
		default:
			return fmt.Errorf("--kind must be cron, interval, or absolute, got %q", kind)
		}

		tmpl := scheduler.EventTemplate{Type: eventType}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &tmpl.Metadata); err != nil {
				return fmt.Errorf("parse --metadata: %w", err)
			}
		}

		rt, closeRT, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRT()

		r := &scheduler.Record{
			UserID:        user,
			Kind:          k,
			Expression:    expression,
			EventTemplate: tmpl,
		}
		if err := rt.Scheduler.Create(r); err != nil {
			return err
		}
		fmt.Println(r.ID)
		return nil
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List currently loaded schedule records",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, closeRT, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRT()

		for _, r := range rt.Scheduler.List() {
			fmt.Printf("%-38s %-9s %-8s %-24s next=%s\n", r.ID, r.Kind, r.UserID, r.Expression, r.NextTrigger.Format("2006-01-02T15:04:05Z"))
		}
		return nil
	},
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete <schedule-id>",
	Short: "Delete a schedule record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, closeRT, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRT()

		if err := rt.Scheduler.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

func init() {
	scheduleCreateCmd.Flags().String("user", "", "owning user id (required)")
	scheduleCreateCmd.Flags().String("kind", "", "cron, interval, or absolute (required)")
	scheduleCreateCmd.Flags().String("expression", "", "cron expression, ISO-8601 duration, or RFC3339 timestamp (required)")
	scheduleCreateCmd.Flags().String("event-type", "", "event type to fire when due (required)")
	scheduleCreateCmd.Flags().String("metadata", "", "fired event's metadata as a JSON object")
	scheduleCreateCmd.MarkFlagRequired("user")
	scheduleCreateCmd.MarkFlagRequired("kind")
	scheduleCreateCmd.MarkFlagRequired("expression")
	scheduleCreateCmd.MarkFlagRequired("event-type")

	scheduleCmd.AddCommand(scheduleCreateCmd, scheduleListCmd, scheduleDeleteCmd)
}
