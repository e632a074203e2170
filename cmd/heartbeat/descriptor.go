package main

import (
	"github.com/gwlsn/heartbeat/internal/config"
	"github.com/spf13/cobra"
)

func descriptorCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "descriptor",
		Short: "Print the process manager descriptor as yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDescriptorConfig(*configPath)
			if err != nil {
				return err
			}
			out, err := cfg.Descriptor()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// loadDescriptorConfig loads the config without requiring sign-in
// credentials, which the descriptor never needs.
func loadDescriptorConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path != "" {
		return nil, err
	}
	return config.Default(), nil
}
