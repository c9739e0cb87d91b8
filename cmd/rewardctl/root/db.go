package root

import (
	"fmt"

	app "github.com/glkeru/rewards/internal/app"
	db "github.com/glkeru/rewards/internal/db"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create ledger tables in postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync()
			ledger, err := db.NewLedgerDB(logger)
			if err != nil {
				return err
			}
			defer ledger.Close()
			if err := ledger.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load students, quests, rewards and rules from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := app.LoadSeed(file)
			if err != nil {
				return err
			}
			storage, logger, err := openStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer logger.Sync()
			defer storage.Close()
			if err := seed.Apply(cmd.Context(), storage); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d students, %d quests, %d rewards, %d rules\n",
				len(seed.Students), len(seed.Quests), len(seed.Rewards), len(seed.Rules))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
