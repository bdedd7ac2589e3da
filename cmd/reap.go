package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vetdispatch/app"
	"vetdispatch/config"
	"vetdispatch/infra/logger"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run a single expiry sweep and exit",
	RunE:  reap,
}

func init() {
	rootCmd.AddCommand(reapCmd)
}

func reap(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("reap").Errorf("service close: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := svc.Engine.ExpireDue(ctx)
	if err != nil {
		return fmt.Errorf("expiry sweep: %w", err)
	}
	logger.New("reap").Infof("expired %d overdue requests", n)
	return nil
}
