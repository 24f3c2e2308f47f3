package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/intellirouter/chain-engine/pkg/chain"
)

func newInspectCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print a chain's computed topological plan without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadChain(args[0])
			if err != nil {
				return err
			}
			if err := chain.Validate(c); err != nil {
				return err
			}
			plan, err := chain.BuildPlan(c)
			if err != nil {
				return err
			}

			fmt.Printf("chain %q — %d steps in plan order:\n", c.ID, len(plan.Order))
			for i, id := range plan.Order {
				step := c.Steps[id]
				marker := " "
				if plan.IsCompositeOwned(id) {
					marker = "*"
				}
				fmt.Printf("%3d. %s%-30s %s\n", i+1, marker, id, step.Body.Type())
			}
			fmt.Println()
			fmt.Println("(* = reached only through its owning Conditional/Parallel/Loop, not dispatched directly)")
			return nil
		},
	}
}
