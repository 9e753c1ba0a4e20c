package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/model"
	"github.com/engramdev/engram/internal/retrieval"
)

var patternsKinds []string

func init() {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Cluster memories by shared tags and repeated facts",
		Run:   runPatterns,
	}
	cmd.Flags().StringSliceVarP(&patternsKinds, "kind", "k", nil, "Restrict to kinds")
	RootCmd.AddCommand(cmd)
}

func runPatterns(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	sys, arch, err := openSystem(ctx)
	if err != nil {
		exitErr("open", err)
	}
	defer closeSystem(sys, arch)

	var q retrieval.Query
	for _, k := range patternsKinds {
		kind := model.Kind(k)
		if !kind.IsValid() {
			exitErr("patterns", fmt.Errorf("unknown kind %q", k))
		}
		q.Kinds = append(q.Kinds, kind)
	}

	clusters, err := sys.Patterns(ctx, q)
	if err != nil {
		exitErr("patterns", err)
	}
	if len(clusters) == 0 {
		fmt.Println("no patterns")
		return
	}
	for _, c := range clusters {
		fmt.Printf("%-32s  %3d  %s\n", c.Label, c.Count, snippet(c.Example, 60))
	}
}
