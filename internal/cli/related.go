package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/model"
)

var (
	relatedDepth int
	relatedType  string
)

func init() {
	cmd := &cobra.Command{
		Use:   "related <id>",
		Short: "List memories reachable through associations",
		Args:  cobra.ExactArgs(1),
		Run:   runRelated,
	}
	cmd.Flags().IntVarP(&relatedDepth, "depth", "n", 1, "Maximum traversal depth")
	cmd.Flags().StringVarP(&relatedType, "type", "t", "", "Only list direct edges of this type (skips traversal)")
	RootCmd.AddCommand(cmd)
}

func runRelated(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	sys, arch, err := openSystem(ctx)
	if err != nil {
		exitErr("open", err)
	}
	defer closeSystem(sys, arch)

	if relatedType != "" {
		edges := sys.Neighbors(args[0], model.AssociationType(relatedType))
		if len(edges) == 0 {
			fmt.Println("no associations")
			return
		}
		for _, e := range edges {
			fmt.Printf("%s -> %s  %-10s  %.2f\n", e.Source, e.Target, e.Type, e.Strength)
		}
		return
	}

	mems, err := sys.GetAssociated(ctx, args[0], relatedDepth)
	if err != nil {
		exitErr("related", err)
	}
	if len(mems) == 0 {
		fmt.Println("no associated memories")
		return
	}
	for _, m := range mems {
		fmt.Printf("%s  %-10s  %s\n", m.ID, m.Kind, snippet(m.Content, 72))
	}
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
