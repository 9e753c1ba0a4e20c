package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Run:   runStats,
	}
	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	sys, arch, err := openSystem(cmd.Context())
	if err != nil {
		exitErr("open", err)
	}
	defer closeSystem(sys, arch)

	st := sys.Stats()
	fmt.Printf("records:      %d\n", st.TotalRecords)
	for _, k := range model.Kinds {
		if n := st.ByKind[k]; n > 0 {
			fmt.Printf("  %-11s %d\n", k.String()+":", n)
		}
	}
	fmt.Printf("associations: %d\n", st.Associations)
	fmt.Printf("storage:      %d bytes\n", st.StorageBytes)
	if st.TotalRecords > 0 {
		fmt.Printf("importance:   %.2f mean\n", st.MeanImportance)
	}
}
