package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a JSON snapshot",
		Long:  "Import memories and associations from a snapshot produced by export. Existing records with the same id are replaced.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}
	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()

	var b []byte
	var err error
	if len(args) == 1 {
		b, err = os.ReadFile(args[0])
	} else {
		b, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("import", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		exitErr("import", fmt.Errorf("parse snapshot: %w", err))
	}

	sys, arch, err := openSystem(ctx)
	if err != nil {
		exitErr("open", err)
	}

	if err := sys.Import(ctx, &snap); err != nil {
		exitErr("import", err)
	}

	saveSystem(ctx, sys, arch)
	fmt.Printf("imported %d records, %d associations\n", len(snap.Records), len(snap.Associations))
}
