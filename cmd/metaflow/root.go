package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/celsiustx/metaflow/internal/config"
	"github.com/celsiustx/metaflow/internal/logging"
)

const version = "0.1.0"

// app carries the state shared by all subcommands.
type app struct {
	v          *viper.Viper
	cfgFile    string
	outputJSON bool

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "metaflow",
		Short: "Inspect flow graphs and stored runs",
		Long: `metaflow validates and describes flow graphs declared in YAML or HCL
files, and lists the runs kept in a configured store.

Examples:
  # Print the steps of a flow
  metaflow flow flows.yaml:Branching show

  # Validate the only flow of a file
  metaflow flow flows.hcl check

  # List completed runs in a SQLite store
  metaflow runs list --store-driver sqlite --status COMPLETED`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./metaflow.yaml when present)")
	flags.BoolVarP(&a.outputJSON, "json", "j", false, "print JSON instead of text")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("store-driver", "", "run store: memory, sqlite or redis")
	flags.String("store-dsn", "", "SQLite data source name")
	flags.String("redis-addr", "", "Redis address")

	for key, flag := range map[string]string{
		"log.level":        "log-level",
		"log.format":       "log-format",
		"store.driver":     "store-driver",
		"store.dsn":        "store-dsn",
		"store.redis_addr": "redis-addr",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(newFlowCmd(a), newRunsCmd(a), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("metaflow v" + version)
		},
	}
}
