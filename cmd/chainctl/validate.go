package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/intellirouter/chain-engine/pkg/chain"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Parse and validate a chain document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadChain(args[0])
			if err != nil {
				return err
			}
			if err := chain.Validate(c); err != nil {
				return err
			}
			fmt.Printf("chain %q is valid (%d steps, %d dependencies)\n", c.ID, len(c.Steps), len(c.Dependencies))
			return nil
		},
	}
}
