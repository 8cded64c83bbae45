package main

import (
	"fmt"

	"github.com/brettbedarf/ephemfs"
	"github.com/brettbedarf/ephemfs/config"
	"github.com/brettbedarf/ephemfs/harness"
	"github.com/brettbedarf/ephemfs/internal/util"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	c := cobra.Command{
		Use:   "ephemfs",
		Short: "Build an in-memory filesystem from node definitions and print its tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			util.InitializeLoggerTo(cmd.ErrOrStderr(), cfg.LogLvl)
			logger := util.GetLogger("main")

			inst, err := harness.NewInstance(cfg)
			if err != nil {
				return err
			}
			defer harness.Dispose(inst)

			nodesDef, err := cmd.Flags().GetString("nodes")
			if err != nil {
				return err
			}
			if nodesDef != "" {
				dirs, files, err := inst.Seed(cmd.Context(), nodesDef)
				if err != nil {
					return err
				}
				logger.Info().Str("nodes", nodesDef).Int("dirs", dirs).Int("files", files).Msg("Loaded nodes")
			}

			out := cmd.OutOrStdout()
			return inst.Walk("/", func(info ephemfs.FileInfo) error {
				if info.IsDir {
					if info.Path != "/" {
						info.Path += "/"
					}
					_, err := fmt.Fprintf(out, "-\t%s\n", info.Path)
					return err
				}
				_, err := fmt.Fprintf(out, "%d\t%s\n", info.Size, info.Path)
				return err
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	c.Flags().StringP("nodes", "n", "", "Path to node definitions file (.json, .yaml)")
	c.Flags().StringP("config", "c", "", "Path to config override file (.json, .yaml)")
	c.Flags().IntP("verbose", "v", config.InfoVerbose, "Log verbosity level between 1 (error) and 5 (trace)")
	return &c
}

// loadConfig merges the config file, if any, onto the defaults. An explicit
// --verbose wins over the file's log level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg := config.NewDefaultConfig()
	if cfgPath != "" {
		if cfg, err = config.NewConfigFromFile(cfgPath); err != nil {
			return nil, err
		}
	}
	if cfgPath == "" || cmd.Flags().Changed("verbose") {
		verbose, err := cmd.Flags().GetInt("verbose")
		if err != nil {
			return nil, err
		}
		cfg.Merge(&config.ConfigOverride{LogLvl: &verbose})
	}
	return cfg, nil
}
