package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/model"
)

var (
	linkType     string
	linkStrength float64
)

func init() {
	cmd := &cobra.Command{
		Use:   "link <source-id> <target-id>",
		Short: "Associate two memories",
		Args:  cobra.ExactArgs(2),
		Run:   runLink,
	}
	cmd.Flags().StringVarP(&linkType, "type", "t", "semantic", "Association type (causal, temporal, semantic, emotional, contextual)")
	cmd.Flags().Float64VarP(&linkStrength, "strength", "s", 0.5, "Association strength in [0,1]")
	RootCmd.AddCommand(cmd)
}

func runLink(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	sys, arch, err := openSystem(ctx)
	if err != nil {
		exitErr("open", err)
	}

	assoc, err := sys.CreateAssociation(args[0], args[1], model.AssociationType(linkType), linkStrength)
	if err != nil {
		exitErr("link", err)
	}

	saveSystem(ctx, sys, arch)
	fmt.Printf("linked %s -> %s (%s, %.2f)\n", assoc.Source, assoc.Target, assoc.Type, assoc.Strength)
}
