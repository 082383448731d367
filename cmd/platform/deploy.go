package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"trading-platformv1/internal/broker"
	"trading-platformv1/internal/broker/alpaca"
	"trading-platformv1/internal/broker/riskgate"
	"trading-platformv1/internal/bus"
	"trading-platformv1/internal/deploy"
	"trading-platformv1/internal/model"
	"trading-platformv1/internal/ratelimit"
	"trading-platformv1/internal/store/sqlite"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Create, run, and stop live strategy deployments",
}

var deployCreateFlags struct {
	strategyID string
	symbol     string
	timeframe  string
	connection string
}

var deployCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a deployment and print its id",
	RunE:  runDeployCreate,
}

var deployRunFlags struct {
	id     string
	params []string
}

var deployRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Host a deployment until it stops",
	RunE:  runDeployRun,
}

var deployStopFlags struct {
	id string
}

var deployStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Publish a stop request for a running deployment",
	RunE:  runDeployStop,
}

func init() {
	f := deployCreateCmd.Flags()
	f.StringVar(&deployCreateFlags.strategyID, "strategy", "", "strategy id")
	f.StringVar(&deployCreateFlags.symbol, "symbol", "", "symbol")
	f.StringVar(&deployCreateFlags.timeframe, "tf", "1m", "timeframe")
	f.StringVar(&deployCreateFlags.connection, "connection", "alpaca", "broker connection id")
	deployCreateCmd.MarkFlagRequired("strategy")
	deployCreateCmd.MarkFlagRequired("symbol")

	deployRunCmd.Flags().StringVar(&deployRunFlags.id, "id", "", "deployment id")
	deployRunCmd.Flags().StringArrayVar(&deployRunFlags.params, "param", nil, "strategy parameter key=value (repeatable)")
	deployRunCmd.MarkFlagRequired("id")

	deployStopCmd.Flags().StringVar(&deployStopFlags.id, "id", "", "deployment id")
	deployStopCmd.MarkFlagRequired("id")

	deployCmd.AddCommand(deployCreateCmd, deployRunCmd, deployStopCmd)
	rootCmd.AddCommand(deployCmd)
}

func runDeployCreate(cmd *cobra.Command, args []string) error {
	tf, err := model.ParseTimeframe(deployCreateFlags.timeframe)
	if err != nil {
		return err
	}
	store, err := sqlite.New(sqlite.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		return err
	}
	defer store.Close()

	d := model.Deployment{
		DeploymentID:       uuid.NewString(),
		StrategyID:         deployCreateFlags.strategyID,
		BrokerConnectionID: deployCreateFlags.connection,
		Symbol:             deployCreateFlags.symbol,
		Timeframe:          tf,
		Status:             model.DeploymentPending,
	}
	if err := store.InsertDeployment(cmd.Context(), d); err != nil {
		return err
	}
	fmt.Println(d.DeploymentID)
	return nil
}

func runDeployRun(cmd *cobra.Command, args []string) error {
	params, err := parseParams(deployRunFlags.params)
	if err != nil {
		return err
	}
	if cfg.AlpacaAPIKey == "" || cfg.AlpacaAPISecret == "" {
		return fmt.Errorf("alpaca_api_key and alpaca_api_secret must be configured")
	}

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

	limits := riskgate.Limits{
		MaxOrderQty:      decimal.NewFromFloat(cfg.RiskMaxOrderQty),
		MaxOrderNotional: decimal.NewFromFloat(cfg.RiskMaxOrderNotional),
		MaxDrawdownPct:   cfg.RiskMaxDrawdownPct,
	}

	factory := func(_ context.Context, d *model.Deployment) (broker.Broker, error) {
		var b broker.Broker = alpaca.New(alpaca.Config{
			APIKey:    cfg.AlpacaAPIKey,
			APISecret: cfg.AlpacaAPISecret,
			BaseURL:   cfg.AlpacaBaseURL,
			Limiter:   ratelimit.NewPerWindow(cfg.RateLimitRequests, cfg.RateLimitWindow),
		}, redisBus)
		if limits.Enabled() {
			b = riskgate.New(b, limits)
		}
		return b, nil
	}

	runtime := deploy.New(store, redisBus, factory, log)
	return runtime.Run(cmd.Context(), deployRunFlags.id, params)
}

func runDeployStop(cmd *cobra.Command, args []string) error {
	redisBus, err := bus.NewRedis(bus.RedisConfig{
		Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB,
		PublishTimeout: cfg.PublishTimeout,
	})
	if err != nil {
		return err
	}
	defer redisBus.Close()

	payload, err := json.Marshal(model.DeploymentEvent{
		ID:           uuid.NewString(),
		Type:         model.EventDeploymentStop,
		DeploymentID: deployStopFlags.id,
		Timestamp:    time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	if err := redisBus.Publish(cmd.Context(), model.ChannelDeploymentEvents, payload); err != nil {
		return err
	}
	log.Info("stop requested", "deployment_id", deployStopFlags.id)
	return nil
}
