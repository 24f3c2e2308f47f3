package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/intellirouter/chain-engine/pkg/chain"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	var inputFlags []string

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Validate and execute a chain against the built-in reference executors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadChain(args[0])
			if err != nil {
				return err
			}

			inputs, err := parseInputFlags(inputFlags)
			if err != nil {
				return err
			}

			cfg := loadEngineConfig(v)
			applyDefaults(c, cfg)

			engine := chain.NewEngine(chain.NewBuiltinRegistry())
			engine.AddObserver(chain.NewLoggingObserver())

			outputs, err := engine.Run(cmd.Context(), c, inputs)
			if err != nil {
				return err
			}

			return printOutputs(outputs)
		},
	}

	cmd.Flags().StringArrayVar(&inputFlags, "input", nil, "chain input as name=value (repeatable); value is parsed as JSON when possible, else kept as a string")

	return cmd
}

// parseInputFlags turns a list of "name=value" flags into a chain input
// map, decoding each value as JSON when it parses as one (so callers can
// pass numbers, booleans, arrays, and objects) and falling back to a plain
// string otherwise.
func parseInputFlags(flags []string) (map[string]chain.Value, error) {
	inputs := make(map[string]chain.Value, len(flags))
	for _, f := range flags {
		name, raw, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --input %q: expected name=value", f)
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			inputs[name] = chain.NewString(raw)
			continue
		}
		inputs[name] = chain.FromAny(decoded)
	}
	return inputs, nil
}

// applyDefaults fills in each step's Timeout and the chain's
// MaxParallelSteps from cfg when the chain document itself leaves them
// unset.
func applyDefaults(c *chain.Chain, cfg engineConfig) {
	if cfg.DefaultTimeoutMS > 0 {
		for _, step := range c.Steps {
			if step.Timeout == 0 {
				step.Timeout = msToDuration(cfg.DefaultTimeoutMS)
			}
		}
	}
	if c.MaxParallelSteps == 0 && cfg.DefaultMaxParallel > 0 {
		c.MaxParallelSteps = cfg.DefaultMaxParallel
	}
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func printOutputs(outputs map[string]chain.Value) error {
	raw := make(map[string]interface{}, len(outputs))
	for k, v := range outputs {
		raw[k] = v.Raw()
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling outputs: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
