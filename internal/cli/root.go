// Package cli implements the surrealodm command: a small tool to inspect
// the records a document manager wrote, and to seed example documents.
package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/surrealdb/surrealodm"
	"github.com/surrealdb/surrealodm/pkg/logger"
	"github.com/surrealdb/surrealodm/pkg/storage"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Driver     string
	DSN        string
	Format     string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "surrealodm",
		Short: "Inspect documents stored by surrealodm",
		Long: "Inspect the records written by a surrealodm document manager.\n\n" +
			"Storage is configured by --config, the SURREALODM_* environment variables and\n" +
			"the --driver and --dsn flags, in increasing order of precedence.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "storage driver (memory|sqlite|postgres|surrealdb)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "storage DSN, file path or endpoint")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewTablesCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}

// fileConfig resolves the effective configuration.
func (o *RootOptions) fileConfig() (*surrealodm.FileConfig, error) {
	var (
		cfg *surrealodm.FileConfig
		err error
	)
	if o.ConfigPath != "" {
		if cfg, err = surrealodm.LoadFileConfig(o.ConfigPath); err != nil {
			return nil, err
		}
	} else {
		cfg = surrealodm.NewFileConfig()
		cfg.Storage.Driver = surrealodm.DriverSQLite
		cfg.ApplyEnv()
	}
	if o.Driver != "" {
		cfg.Storage.Driver = o.Driver
	}
	if o.DSN != "" {
		cfg.Storage.DSN = o.DSN
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStorage connects the configured backend. Without a log file, logs go
// to errw so that they never mix with command output.
func (o *RootOptions) openStorage(ctx context.Context, errw io.Writer) (storage.Storage, logger.Logger, func(), error) {
	cfg, err := o.fileConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	var logData *logger.LogData
	if cfg.Log.Path != "" {
		logData, err = cfg.MakeLogger()
	} else {
		level, _ := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level))
		logData, err = logger.New().FromBuffer(errw).Level(level).Make()
	}
	if err != nil {
		return nil, nil, nil, err
	}
	log := logData.Handler()
	store, err := cfg.OpenStorage(ctx, log)
	if err != nil {
		logData.Close()
		return nil, nil, nil, err
	}
	return store, log, func() {
		if c, ok := unwrap(store).(storage.Closer); ok {
			c.Close()
		}
		logData.Close()
	}, nil
}

func unwrap(store storage.Storage) storage.Storage {
	for {
		u, ok := store.(interface{ Unwrap() storage.Storage })
		if !ok {
			return store
		}
		store = u.Unwrap()
	}
}
