package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a memory by id",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}
	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	sys, arch, err := openSystem(ctx)
	if err != nil {
		exitErr("open", err)
	}

	mem, err := sys.Get(ctx, args[0])
	if err != nil {
		exitErr("get", err)
	}

	// Access tracking counts toward decay, so persist it.
	saveSystem(ctx, sys, arch)

	b, _ := json.MarshalIndent(mem, "", "  ")
	fmt.Println(string(b))
}
