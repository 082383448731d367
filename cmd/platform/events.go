package main

import (
	"github.com/spf13/cobra"

	"trading-platformv1/internal/bus"
	"trading-platformv1/internal/events"
	"trading-platformv1/internal/notification"
	"trading-platformv1/internal/store/sqlite"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Run the order and snapshot event handler worker",
	RunE:  runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	store, err := sqlite.New(sqlite.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		return err
	}
	defer store.Close()

	redisBus, err := bus.NewRedis(bus.RedisConfig{
		Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB,
		PublishTimeout: cfg.PublishTimeout,
	})
	if err != nil {
		return err
	}
	defer redisBus.Close()

	// Alert backends ride alongside the handler so deployment errors
	// reach an operator without a separate worker.
	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	alerter := notification.NewAlerter(redisBus, log, notifiers...)
	go func() {
		if err := alerter.Run(cmd.Context()); err != nil && cmd.Context().Err() == nil {
			log.Error("alerter", "err", err)
		}
	}()

	handler := events.New(store, redisBus, log)
	log.Info("event handler running")
	return handler.Run(cmd.Context())
}
