package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/asadovsky/wikiffiti/server/config"
	"github.com/asadovsky/wikiffiti/server/hub"
	"github.com/asadovsky/wikiffiti/server/logoot"
	"github.com/asadovsky/wikiffiti/server/store"
	"github.com/asadovsky/wikiffiti/server/store/pebblestore"
	"github.com/asadovsky/wikiffiti/server/store/redisstore"
)

var log = logging.Logger("main")

// openStore returns the edit log described by cfg.
func openStore(cfg config.Store) (store.Log, error) {
	switch cfg.Kind {
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StorePebble:
		return pebblestore.Open(pebblestore.Options{DataDir: cfg.Dir})
	case config.StoreRedis:
		return redisstore.Dial(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
	default:
		return nil, errors.Errorf("unknown store kind %q", cfg.Kind)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	config.FromEnv(&cfg)
	if cmd.Flags().Changed("addr") {
		cfg.Addr, _ = cmd.Flags().GetString("addr")
	}
	if cmd.Flags().Changed("store") {
		cfg.Store.Kind, _ = cmd.Flags().GetString("store")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	return cfg, cfg.Validate()
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve documents over websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := logging.SetLogLevel("*", cfg.LogLevel); err != nil {
				return errors.Wrap(err, "invalid log level")
			}
			st, err := openStore(cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()
			log.Infof("using %s store", cfg.Store.Kind)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			s := hub.New(st, hub.Options{Bias: cfg.Bias})
			return s.Serve(ctx, cfg.Addr)
		},
	}
	cmd.Flags().String("config", "", "Config file (.json or .yaml)")
	cmd.Flags().String("addr", "", "Listen address")
	cmd.Flags().String("store", "", "Store kind: memory|pebble|redis")
	cmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	return cmd
}

func parseArgs(args []string) (a, b logoot.Pos, err error) {
	if a, err = logoot.ParsePos(args[0]); err != nil {
		return nil, nil, err
	}
	if b, err = logoot.ParsePos(args[1]); err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func betweenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "between <a> <b>",
		Short: "Allocate position identifiers between a and b (dotted form, \"\" for Min)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, b, err := parseArgs(args)
			if err != nil {
				return err
			}
			bias, _ := cmd.Flags().GetFloat64("bias")
			n, _ := cmd.Flags().GetInt("n")
			var src rand.Source
			if cmd.Flags().Changed("seed") {
				seed, _ := cmd.Flags().GetUint64("seed")
				src = rand.NewPCG(seed, seed)
			}
			ps, err := logoot.NewAllocator(src, bias).Range(a, b, n)
			if err != nil {
				return err
			}
			for _, p := range ps {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().Float64("bias", logoot.DefaultBias, "Allocation bias")
	cmd.Flags().Int("n", 1, "Number of positions")
	cmd.Flags().Uint64("seed", 0, "Random seed")
	return cmd
}

func compareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <a> <b>",
		Short: "Print -1, 0 or 1 as a sorts before, equal to or after b",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, b, err := parseArgs(args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), logoot.Compare(a, b))
			return nil
		},
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wikiffiti",
		Short:         "Collaborative text editing with Logoot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), betweenCmd(), compareCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
