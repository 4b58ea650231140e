package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var driverCmd = &cobra.Command{
	Use:   "driver",
	Short: "List and control registered drivers",
}

var driverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered driver and its status",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, closeRT, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRT()

		for _, m := range rt.Registry.Manifests() {
			status, running := rt.Registry.Status(m.ID)
			if !running {
				status = "not started"
			}
			fmt.Printf("%-28s %-10s %-6s %s\n", m.ID, m.DriverType, status, m.Version)
		}
		return nil
	},
}

var driverStartCmd = &cobra.Command{
	Use:   "start <driver-id>",
	Short: "Start a registered driver",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, closeRT, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRT()

		if err := rt.Registry.StartDriver(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("started %s\n", args[0])
		return nil
	},
}

var driverStopCmd = &cobra.Command{
	Use:   "stop <driver-id>",
	Short: "Stop a running driver",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, closeRT, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRT()

		if err := rt.Registry.StopDriver(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("stopped %s\n", args[0])
		return nil
	},
}

var driverStatusCmd = &cobra.Command{
	Use:   "status <driver-id>",
	Short: "Show a single driver's lifecycle status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, closeRT, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer closeRT()

		status, ok := rt.Registry.Status(args[0])
		if !ok {
			fmt.Printf("%s: not started\n", args[0])
			return nil
		}
		fmt.Printf("%s: %s\n", args[0], status)
		return nil
	},
}

func init() {
	driverCmd.AddCommand(driverListCmd, driverStartCmd, driverStopCmd, driverStatusCmd)
}
