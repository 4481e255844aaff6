package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/flasharb/risk-engine/internal/engine"
	"github.com/flasharb/risk-engine/internal/logger"
	"github.com/flasharb/risk-engine/internal/providers"
	"github.com/flasharb/risk-engine/pkg/config"
	"github.com/flasharb/risk-engine/pkg/types"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to JSON configuration file")
		statusEvery  = flag.Duration("status-interval", time.Minute, "interval between console status reports (0 disables)")
		demoFixtures = flag.Bool("demo", false, "seed the simulated provider with demo market data")
	)
	flag.Parse()

	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.Setup(cfg.Logging.Level, cfg.Logging.Console)
	log.Info().
		Str("config", *configPath).
		Float64("initial_capital_usd", cfg.Engine.InitialCapitalUSD).
		Msg("starting risk engine")

	provider := providers.NewSimProvider()
	if *demoFixtures {
		seedDemoData(provider, cfg)
		log.Info().Msg("simulated provider seeded with demo market data")
	}

	manager := engine.New(cfg, provider, log)
	server := engine.NewServer(cfg.HTTP.ListenAddr, manager, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return manager.Run(gctx)
	})
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if *statusEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(*statusEvery)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					fmt.Println(engine.RenderStatus(manager.GetSystemStatus()))
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("risk engine stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("risk engine stopped")
}

// seedDemoData loads deterministic liquidity, price and network fixtures so
// the engine can run end to end without live market feeds.
func seedDemoData(provider *providers.SimProvider, cfg *config.RiskConfig) {
	for _, pair := range cfg.Market.TrackedPairs {
		tokens := strings.SplitN(pair, "/", 2)
		if len(tokens) != 2 {
			continue
		}
		for _, venue := range cfg.Market.Venues {
			provider.SetLiquidity(venue, tokens[0], tokens[1], types.Liquidity{
				TotalUSD:      2_000_000,
				Depth:         0.8,
				Concentration: 0.2,
			})
		}
	}
	provider.SetFlatPriceSeries("WETH", 3200, 48)
	provider.SetFlatPriceSeries("WBTC", 64000, 48)
	provider.SetNetworkConditions(types.NetworkConditions{Congestion: 0.2, GasVolatility: 0.15})
}
