package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zannhost/skiplink/config"
	"github.com/zannhost/skiplink/logging"
	"github.com/zannhost/skiplink/protocol"
)

// app carries state prepared by the root command for its subcommands
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
	sync    func()
}

// flagBindings maps command-line flags onto configuration keys
var flagBindings = map[string]string{
	"log-level": "logger.level",
	"preset":    "transport.preset",
	"proxy":     "transport.proxy",
	"timeout":   "transport.timeout",
	"lenient":   "resolver.lenient",
	"addr":      "server.addr",
	"mode":      "server.mode",
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop(), sync: func() {}}

	root := &cobra.Command{
		Use:           "skiplink",
		Short:         "Resolve tutwuri.id short links to their destination",
		Version:       protocol.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(a.cfgFile)
			if err != nil {
				return err
			}
			if err := bindFlags(v, cmd); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger, a.sync = logging.New(cfg.Logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./skiplink.yaml)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("preset", "", "fingerprint preset")
	flags.String("proxy", "", "HTTP or SOCKS5 proxy URL")
	flags.Duration("timeout", 0, "per-request timeout")

	root.AddCommand(newResolveCmd(a), newServeCmd(a), newPresetsCmd())
	return root
}

// bindFlags lets explicitly set flags override file and environment values
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagBindings {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}
