package root

import (
	"context"
	"fmt"
	"os"

	app "github.com/glkeru/rewards/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const Version = "0.1.0"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rewardctl",
		Short:         "Rewards admin: storage migrations, catalog and rules",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	cmd.AddCommand(
		newMigrateCmd(),
		newSeedCmd(),
		newRulesCmd(),
	)
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		os.Exit(1)
	}
}

// хранилище по REWARDS_STORAGE
func openStorage(ctx context.Context) (*app.Storage, *zap.Logger, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, nil, err
	}
	storage, err := app.NewStorage(ctx, logger)
	if err != nil {
		return nil, nil, err
	}
	return storage, logger, nil
}
