package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var exportOut string

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all memories and associations as JSON",
		Long:  "Export the full store as a plaintext JSON snapshot. Private memories are decrypted; guard the output accordingly.",
		Run:   runExport,
	}
	cmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write to file instead of stdout")
	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	sys, arch, err := openSystem(ctx)
	if err != nil {
		exitErr("open", err)
	}
	defer closeSystem(sys, arch)

	snap := sys.Export(ctx)
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		exitErr("export", err)
	}

	if exportOut == "" {
		fmt.Println(string(b))
		return
	}
	if err := os.WriteFile(exportOut, b, 0o600); err != nil {
		exitErr("export", err)
	}
	fmt.Printf("exported %d records, %d associations to %s\n", len(snap.Records), len(snap.Associations), exportOut)
}
