package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"eventbot/internal/app"
	"eventbot/internal/config"
	logx "eventbot/pkg/logx"
)

const stopTimeout = 10 * time.Second

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "eventbot",
	Short: "Daily event announcements for Telegram chats",
	Long: `eventbot announces the next calendar event to every subscribed chat once a day.

Examples:
  eventbot --config ./config.yaml            # run the bot
  eventbot subscriptions list                # print subscribed chat ids
  eventbot events --next                     # print the next event`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv(".env")
	},
	RunE: runBot,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot until SIGINT or SIGTERM",
	RunE:  runBot,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config file (.json, .yaml, .toml)")
	rootCmd.AddCommand(runCmd, subscriptionsCmd, eventsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, _ []string) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(cmd.Context()); err != nil {
		return err
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigs:
		reason = app.StopReasonFromSignal(sig)
	case <-a.Done():
		reason = app.StopFatalError
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = a.Stop(ctx, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

// loadConfig parses the config file for offline subcommands. No token is required.
func loadConfig() (*config.Config, error) {
	return config.NewConfigManager(cfgPath).Parse()
}

func cliLogger() logx.Logger {
	return logx.NewWriter(os.Stderr, "warn")
}
