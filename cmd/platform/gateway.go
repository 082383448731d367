package main

import (
	"net/http"

	"github.com/spf13/cobra"

	"trading-platformv1/internal/bus"
	"trading-platformv1/internal/gateway"
)

var gatewayFlags struct {
	addr string
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Serve live platform events to websocket clients",
	RunE:  runGateway,
}

func init() {
	gatewayCmd.Flags().StringVar(&gatewayFlags.addr, "addr", ":8081", "listen address")
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(cmd *cobra.Command, args []string) error {
	redisBus, err := bus.NewRedis(bus.RedisConfig{
		Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB,
		PublishTimeout: cfg.PublishTimeout,
	})
	if err != nil {
		return err
	}
	defer redisBus.Close()

	hub := gateway.NewHub(redisBus, log)
	go func() {
		if err := hub.Run(cmd.Context()); err != nil && cmd.Context().Err() == nil {
			log.Error("gateway hub", "err", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)

	log.Info("gateway listening", "addr", gatewayFlags.addr)
	return http.ListenAndServe(gatewayFlags.addr, mux)
}
