package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nugget/aios-runtime/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read, write, and reset fields in the daemon config file",
}

var configGetCmd = &cobra.Command{
	Use:   "get <dotted.path>",
	Short: "Print one field from the config file, or the whole file if no path is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfgPath, err := config.FindConfig(path)
		if err != nil {
			return err
		}
		doc, err := loadConfigDocument(cfgPath)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			return printYAML(doc)
		}
		val, ok := getDotted(doc, args[0])
		if !ok {
			return fmt.Errorf("no such config field: %s", args[0])
		}
		return printYAML(val)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <dotted.path> <value>",
	Short: "Set one field in the config file and write it back",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfgPath, err := config.FindConfig(path)
		if err != nil {
			return err
		}
		doc, err := loadConfigDocument(cfgPath)
		if err != nil {
			return err
		}
		setDotted(doc, args[0], parseScalar(args[1]))

		data, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		var check config.Config
		if err := yaml.Unmarshal(data, &check); err != nil {
			return fmt.Errorf("%s would no longer parse as valid config: %w", args[0], err)
		}
		if err := check.Validate(); err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		return writeConfigDocument(cfgPath, doc)
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Overwrite the config file with built-in defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			path = "config.yaml"
		}
		data, err := yaml.Marshal(config.Default())
		if err != nil {
			return fmt.Errorf("marshal default config: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("wrote defaults to %s\n", path)
		return nil
	},
}

func loadConfigDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func writeConfigDocument(path string, doc map[string]any) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func printYAML(v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

// getDotted walks doc by a "a.b.c" path of map keys.
func getDotted(doc map[string]any, dotted string) (any, bool) {
	cur := any(doc)
	for _, key := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setDotted walks doc by a "a.b.c" path, creating intermediate maps as
// needed, and assigns value at the final key.
func setDotted(doc map[string]any, dotted string, value any) {
	keys := strings.Split(dotted, ".")
	cur := doc
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
}

// parseScalar interprets a command-line value as a bool, int, float,
// or falls back to a plain string, so "config set bus.history_capacity
// 5000" doesn't need quoting to become a YAML integer.
func parseScalar(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd, configResetCmd)
}
