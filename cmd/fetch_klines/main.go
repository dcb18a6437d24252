package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"traderHive/config"
	"traderHive/internal/adapters/binanceprice"
	"traderHive/internal/adapters/logger"
	"traderHive/internal/utils"
)

func main() {
	symbol := flag.String("symbol", "BTCUSDT", "symbol to fetch")
	interval := flag.String("interval", "1h", "kline interval (1m, 5m, 1h, 1d, ...)")
	limit := flag.Int("limit", 500, "number of klines to fetch")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)

	// 3. Initialize Price Client (Binance Adapter)
	client, err := binanceprice.New(binanceprice.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance price client: %v", err)
	}

	ctx := context.Background()
	appLogger.Info(ctx, "Fetching klines", map[string]interface{}{
		"symbol":   *symbol,
		"interval": *interval,
		"limit":    *limit,
	})

	klines, err := client.FetchKlines(ctx, "binance", *symbol, *interval, *limit)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching klines")
		log.Fatalf("Error fetching klines: %v", err)
	}
	appLogger.Info(ctx, "Fetched klines", map[string]interface{}{"count": len(klines)})

	filename := fmt.Sprintf("data/%s_%s_%s.csv", *symbol, *interval, time.Now().Format("20060102"))
	if err := utils.WriteKlinesToCSV(klines, *symbol, *interval, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved klines", map[string]interface{}{"filename": filename})
}
