package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ssd-technologies/crosslearn/internal/agent"
)

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create (or show) the coordinator signing key",
	Long: `Creates the Ed25519 key the coordinator signs remote agent calls with,
unless it already exists, and prints the public key. Pass the public key to
crosslearn-agent with --coordinator-key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := keygenOut
		if path == "" {
			path = cfg.Coordinator.KeyFile
		}
		if path == "" {
			path = filepath.Join(cfg.Database.DataDir, "coordinator.key")
		}
		priv, created, err := agent.LoadOrGenerateKey(path)
		if err != nil {
			return err
		}
		pub := priv.Public().(ed25519.PublicKey)
		if created {
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", path)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "coordinator id: %s\npublic key:     %s\nkey id:         %s\n",
			cfg.Coordinator.ID, hex.EncodeToString(pub), agent.KeyID(pub))
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "key file (default coordinator.key_file or <data_dir>/coordinator.key)")
}
