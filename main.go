package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/dnldd/vigil/service"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Printf("loading config: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vigilCfg := service.VigilConfig{
		Symbol:             cfg.Symbol,
		CoinglassAPIKey:    cfg.CoinglassAPIKey,
		CoinglassPlan:      cfg.CoinglassActivePlan,
		DBEndpoint:         cfg.DBEndpoint,
		DBUser:             cfg.DBUser,
		DBPass:             cfg.DBPass,
		EnableCronJobs:     cfg.EnableCronJobs,
		EnableStartupCache: cfg.EnableStartupCache,
		Cancel:             cancel,
	}
	vigil, err := service.NewVigil(ctx, &vigilCfg)
	if err != nil {
		log.Printf("creating vigil service: %v", err)
		return
	}

	go handleTermination(ctx, cancel)
	vigil.Run(ctx)
}
