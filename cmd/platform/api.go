package main

import (
	"net/http"

	"github.com/spf13/cobra"

	"trading-platformv1/internal/api"
	"trading-platformv1/internal/bus"
	"trading-platformv1/internal/store/sqlite"
)

var apiFlags struct {
	addr string
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the read and control HTTP API",
	RunE:  runAPI,
}

func init() {
	apiCmd.Flags().StringVar(&apiFlags.addr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	srv := api.NewServer(store, redisBus, log)
	log.Info("api listening", "addr", apiFlags.addr)
	return http.ListenAndServe(apiFlags.addr, srv.Router())
}
