// Command daoctl runs maintenance jobs against the DAO store.
//
//	daoctl seed                 reset the store to the demo members
//	daoctl points recompute     rewrite every member's points now
//	daoctl points recompute --user <id>
//
// It reads the same configuration as the server (config.yaml, .env,
// DAO_* variables); --db overrides the database path.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/mumbai-dao/internal/config"
	"github.com/sakif/mumbai-dao/internal/logging"
	sqliteRepo "github.com/sakif/mumbai-dao/internal/repository/sqlite"
	"github.com/sakif/mumbai-dao/internal/server"
	"github.com/sakif/mumbai-dao/internal/service"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		os.Exit(1)
	}
}

// run executes one command line and always releases the store afterwards,
// including when the command fails.
func run(args []string, out io.Writer) error {
	root, e := newRootCmd(out)
	defer e.close()

	root.SetArgs(args)
	return root.Execute()
}

// env is what every subcommand needs, built once in PersistentPreRunE.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	out    io.Writer
}

func (e *env) close() {
	if e.db != nil {
		e.db.Close()
		e.db = nil
	}
}

func newRootCmd(out io.Writer) (*cobra.Command, *env) {
	var (
		configFile string
		dbPath     string
		e          = &env{out: out}
	)

	root := &cobra.Command{
		Use:          "daoctl",
		Short:        "Maintenance commands for the Mumbai DAO API",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Database.Path = dbPath
			}

			e.cfg = cfg
			e.logger = logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, cmd.ErrOrStderr())

			db, err := server.OpenStore(cfg.Database.Path)
			if err != nil {
				return err
			}
			e.db = db
			return nil
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./config.yaml if present)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides database.path)")

	root.AddCommand(newSeedCmd(e), newPointsCmd(e))
	return root, e
}

func newPointsService(e *env) *service.PointsService {
	return service.NewPointsService(e.db, e.logger, service.PointsConfig{
		RecordTimeout: e.cfg.Points.RecordTimeout,
	})
}

func newSeedCmd(e *env) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Replace all members with the demo data set",
		Long: `Deletes every member and activity, then inserts the demo members
with points computed from their wallet age and linked accounts.

Refuses to run when server.environment is production unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if e.cfg.IsProduction() && !force {
				return fmt.Errorf("refusing to wipe a production database without --force")
			}

			seeder := service.NewSeeder(e.db, newPointsService(e), e.logger)
			n, err := seeder.Seed(cmd.Context(), service.DemoMembers)
			if err != nil {
				return err
			}

			fmt.Fprintf(e.out, "seeded %d members into %s\n", n, e.cfg.Database.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "allow seeding a production database")
	return cmd
}

func newPointsCmd(e *env) *cobra.Command {
	points := &cobra.Command{
		Use:   "points",
		Short: "Points maintenance",
	}

	var userID string
	recompute := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute members' points now",
		Long: `Runs the same job the server schedules daily: each member's points
become wallet points plus 100 per linked social account.

With --user only that member is recomputed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := newPointsService(e)
			if userID != "" {
				total, err := svc.RecomputeUser(cmd.Context(), userID)
				if err != nil {
					return err
				}
				fmt.Fprintf(e.out, "user %s now has %d points\n", userID, total)
				return nil
			}

			res, err := svc.RecomputeAll(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(e.out, "processed %d, updated %d, failed %d in %s\n",
				res.Processed, res.Updated, res.Failed, res.Duration.Round(time.Millisecond))
			if res.Failed > 0 {
				return fmt.Errorf("%d members could not be updated", res.Failed)
			}
			return nil
		},
	}
	recompute.Flags().StringVar(&userID, "user", "", "recompute only the member with this ID")

	points.AddCommand(recompute)
	return points
}
