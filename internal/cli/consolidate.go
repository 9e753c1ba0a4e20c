package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run one maintenance pass (decay, compaction, inference)",
		Run:   runConsolidate,
	}
	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	sys, arch, err := openSystem(ctx)
	if err != nil {
		exitErr("open", err)
	}

	before := sys.Stats()
	if err := sys.Consolidate(ctx); err != nil {
		exitErr("consolidate", err)
	}
	after := sys.Stats()

	saveSystem(ctx, sys, arch)
	fmt.Printf("consolidated %d records, %+d associations, %+d bytes\n",
		after.TotalRecords, after.Associations-before.Associations, after.StorageBytes-before.StorageBytes)
}
