package main

import (
	"fmt"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/camdeck/core/internal/config"
)

var configDumpOut string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write the fully-resolved config (env > file > defaults) to a support bundle",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		out := configDumpOut
		if out == "" {
			out = filepath.Join(cfg.DataRoot, "config", "effective.yaml")
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}

		// renameio guarantees a reader of out never observes a partial
		// write, the same durability contract the stream supervisor's
		// generated HLS manifest needs (SPEC_FULL §9).
		pending, err := renameio.NewPendingFile(out)
		if err != nil {
			return fmt.Errorf("create pending file: %w", err)
		}
		defer pending.Cleanup()

		if _, err := pending.Write(data); err != nil {
			return fmt.Errorf("write config snapshot: %w", err)
		}
		if err := pending.CloseAtomicallyReplace(); err != nil {
			return fmt.Errorf("replace config snapshot: %w", err)
		}

		fmt.Println(out)
		return nil
	},
}

func init() {
	configDumpCmd.Flags().StringVar(&configDumpOut, "out", "", "output path (default: <data_root>/config/effective.yaml)")
	configCmd.AddCommand(configDumpCmd)
}
