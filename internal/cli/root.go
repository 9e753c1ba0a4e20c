// Package cli implements the engram CLI commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/crypto"
	"github.com/engramdev/engram/internal/memory"
	"github.com/engramdev/engram/internal/persist"
)

var dbPath string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Structured memory for AI agents",
	Long:  "Typed memory records, weighted associations, and multi-strategy recall. SQLite-archived, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Archive path (default: $ENGRAM_DB or ~/.engram/engram.db)")
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("ENGRAM_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".engram", "engram.db")
}

// openSystem loads the archive into a fresh in-memory system. The CLI runs
// one operation per invocation, so the consolidation loop stays off; the
// consolidate verb runs a pass explicitly.
func openSystem(ctx context.Context) (*memory.System, *persist.Archive, error) {
	var secret []byte
	var cipher *crypto.Cipher
	if env := os.Getenv("ENGRAM_SECRET"); env != "" {
		secret = []byte(env)
		var err error
		if cipher, err = crypto.New(secret); err != nil {
			return nil, nil, err
		}
	}

	sys, err := memory.New(memory.Config{EncryptionSecret: secret})
	if err != nil {
		return nil, nil, err
	}
	arch, err := persist.Open(getDBPath(), cipher)
	if err != nil {
		sys.Shutdown()
		return nil, nil, err
	}
	snap, err := arch.Load(ctx)
	if err != nil {
		arch.Close()
		sys.Shutdown()
		return nil, nil, fmt.Errorf("load archive: %w", err)
	}
	if err := sys.Import(ctx, snap); err != nil {
		arch.Close()
		sys.Shutdown()
		return nil, nil, fmt.Errorf("restore snapshot: %w", err)
	}
	return sys, arch, nil
}

// saveSystem writes the system state back to the archive and releases
// everything.
func saveSystem(ctx context.Context, sys *memory.System, arch *persist.Archive) {
	if err := arch.Save(ctx, sys.Export(ctx)); err != nil {
		exitErr("save archive", err)
	}
	arch.Close()
	sys.Shutdown()
}

// closeSystem releases without saving, for read-only verbs.
func closeSystem(sys *memory.System, arch *persist.Archive) {
	arch.Close()
	sys.Shutdown()
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
