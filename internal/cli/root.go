package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/david/volunteer-match/internal/config"
	"github.com/david/volunteer-match/internal/db"
	"github.com/david/volunteer-match/internal/logger"
	"github.com/david/volunteer-match/internal/matching"
	"github.com/david/volunteer-match/internal/notify"
)

const app = "matchctl"

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:          app,
		Short:        "matchctl inspects and drives the volunteer matching engine",
		SilenceUsage: true,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is volunteer-match.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json output instead of tables")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")) //nolint:errcheck
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))   //nolint:errcheck
}

// env is everything a subcommand needs to talk to the database.
type env struct {
	pool   *pgxpool.Pool
	store  *db.Store
	queue  *db.Queue
	engine *matching.Engine
	log    *zap.Logger
	out    io.Writer
}

func (e *env) Close() {
	e.pool.Close()
	e.log.Sync() //nolint:errcheck
}

func openEnv(ctx context.Context, cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(config.Discover(cfgFile))
	if err != nil {
		return nil, err
	}

	// CLI logs go to stderr so tables and json on stdout stay clean.
	lg, err := logger.NewTo("stderr", false, viper.GetBool("debug"))
	if err != nil {
		return nil, fmt.Errorf("creating a logger: %w", err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	policy, err := matching.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		pool.Close()
		return nil, err
	}

	store := db.NewStore(pool)
	queue := db.NewQueue(pool)
	return &env{
		pool:   pool,
		store:  store,
		queue:  queue,
		engine: matching.NewEngine(store, notify.NewDispatcher(queue, lg), policy, lg),
		log:    lg,
		out:    cmd.OutOrStdout(),
	}, nil
}

func jsonOutput() bool {
	return viper.GetBool("json")
}
