// Command aiosctl is the operator CLI for aios-runtime. Each invocation
// loads the daemon's config file, constructs its own ephemeral
// runtime.Runtime against the same docstore/scheduler-store paths the
// daemon uses, performs one operation, and exits: there is no network
// API server in front of aiosd to talk to, so aiosctl is a
// single-binary admin tool operating directly on the stores.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "aiosctl",
	Short:   "Operate an aios-runtime instance from the command line",
	Version: buildinfoVersion(),
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to config file")

	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(driverCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(instructionCmd)
	rootCmd.AddCommand(systemCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "aiosctl: %v\n", err)
		os.Exit(1)
	}
}
