package utils

import (
	"encoding/csv"
	"os"
	"time"

	"traderHive/internal/ports"
)

// WriteKlinesToCSV dumps candles to a CSV file, one row per kline.
func WriteKlinesToCSV(klines []*ports.Kline, symbol, interval, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"})

	for _, k := range klines {
		writer.Write([]string{
			k.OpenTime.Format(time.RFC3339),
			k.CloseTime.Format(time.RFC3339),
			symbol,
			interval,
			k.Open.String(),
			k.High.String(),
			k.Low.String(),
			k.Close.String(),
			k.Volume.String(),
		})
	}
	return writer.Error()
}
