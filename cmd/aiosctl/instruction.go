package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nugget/aios-runtime/internal/event"
	"github.com/nugget/aios-runtime/internal/instruction"
	"github.com/spf13/cobra"
)

var instructionCmd = &cobra.Command{
	Use:   "instruction",
	Short: "List a user's instructions and test-execute one against an event",
}

var instructionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the instructions owned by a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		rt, closeRT, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRT()

		store := instruction.NewDocStore(rt.Docstore)
		instrs, err := store.ListForUser(cmd.Context(), user)
		if err != nil {
			return err
		}
		for _, instr := range instrs {
			fmt.Printf("%-38s %-24s %-20s enabled=%v runs=%d\n", instr.ID, instr.Name, instr.Trigger.EventType, instr.Enabled, instr.ExecutionCount)
		}
		return nil
	},
}

var instructionExecuteCmd = &cobra.Command{
	Use:   "execute",
	Short: "Match one synthetic event against a user's instructions and print the produced events",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		typ, _ := cmd.Flags().GetString("type")
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

		out, err := rt.Instruction.Process(cmd.Context(), e, time.Now().UTC())
		if err != nil {
			return err
		}
		for _, produced := range out {
			printEvent(produced)
		}
		return nil
	},
}

func init() {
	instructionListCmd.Flags().String("user", "", "owning user id (required)")

	instructionExecuteCmd.Flags().String("user", "", "user id whose instructions to match against (required)")
	instructionExecuteCmd.Flags().String("type", "", "event type (required)")
	instructionExecuteCmd.Flags().String("source", "aiosctl", "event source")
	instructionExecuteCmd.Flags().String("metadata", "", "event metadata as a JSON object")
	instructionExecuteCmd.MarkFlagRequired("user")
	instructionExecuteCmd.MarkFlagRequired("type")

	instructionCmd.AddCommand(instructionListCmd, instructionExecuteCmd)
}
