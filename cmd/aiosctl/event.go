package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nugget/aios-runtime/internal/bus"
	"github.com/nugget/aios-runtime/internal/event"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Emit, list, and stream bus events",
}

var eventEmitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Emit one event onto the bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		user, _ := cmd.Flags().GetString("user")
		source, _ := cmd.Flags().GetString("source")
		metaJSON, _ := cmd.Flags().GetString("metadata")

		e, err := event.New(source, typ, user)
		if err != nil {
			return err
		}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
				return fmt.Errorf("parse --metadata: %w", err)
			}
		}

		rt, closeRT, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRT()

		id, err := rt.Bus.Emit(e)
		if err != nil {
			return fmt.Errorf("emit: %w", err)
		}
		fmt.Println(id)
		return nil
	},
}

var eventListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent events from the bus history",
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		rt, closeRT, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRT()

		var filter *bus.Filter
		if typ != "" {
			filter = &bus.Filter{EventTypes: []string{typ}}
		}
		for _, e := range rt.Bus.GetHistory(filter, limit) {
			printEvent(e)
		}
		return nil
	},
}

var eventStreamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream events from the bus until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")

		rt, closeRT, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRT()

		var filter bus.Filter
		if typ != "" {
			filter = bus.Filter{EventTypes: []string{typ}}
		}
		stream, subID := rt.Bus.SubscribeStream(filter, 256, bus.OverflowDropOldest)
		defer rt.Bus.Unsubscribe(subID)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		for {
			select {
			case e := <-stream.C:
				printEvent(e)
			case <-sigCh:
				return nil
			}
		}
	},
}

func printEvent(e event.Event) {
	b, err := json.Marshal(e.ToMap())
	if err != nil {
		fmt.Fprintf(os.Stderr, "aiosctl: marshal event %s: %v\n", e.ID, err)
		return
	}
	fmt.Println(string(b))
}

func init() {
	eventEmitCmd.Flags().String("type", "", "event type (required)")
	eventEmitCmd.Flags().String("user", "", "user id (required)")
	eventEmitCmd.Flags().String("source", "aiosctl", "event source")
	eventEmitCmd.Flags().String("metadata", "", "event metadata as a JSON object")
	eventEmitCmd.MarkFlagRequired("type")
	eventEmitCmd.MarkFlagRequired("user")

	eventListCmd.Flags().String("type", "", "filter by event type")
	eventListCmd.Flags().Int("limit", 50, "maximum number of events to list")

	eventStreamCmd.Flags().String("type", "", "filter by event type")

	eventCmd.AddCommand(eventEmitCmd, eventListCmd, eventStreamCmd)
}
