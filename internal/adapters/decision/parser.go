package decision

import (
	"strings"

	"github.com/shopspring/decimal"

	"traderHive/internal/ports"
)

// ParseAction turns a raw decision-engine response into a typed action.
// The grammar is deliberately forgiving about casing and separators:
//
//	open long BTCUSDT 0.5 5x
//	open short okx ETHUSDT 0.15 5
//	close 17
//	close all
//	hold
//
// Anything that cannot be understood parses as Hold; a confused engine must
// never translate into an accidental trade.
func ParseAction(raw string) ports.Action {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return ports.Hold{}
	}

	switch strings.ToLower(fields[0]) {
	case "open":
		return parseOpen(fields[1:])
	case "close", "close_position":
		return parseClose(fields[1:])
	case "close_all", "closeall":
		return ports.CloseAll{}
	case "hold", "wait", "none":
		return ports.Hold{}
	default:
		return ports.Hold{}
	}
}

// parseOpen handles: <side> [exchange] SYMBOL size [leverage]
func parseOpen(args []string) ports.Action {
	if len(args) < 3 {
		return ports.Hold{}
	}

	var side string
	switch strings.ToLower(args[0]) {
	case "long", "short":
		side = strings.ToLower(args[0])
	default:
		return ports.Hold{}
	}
	args = args[1:]

	// Optional exchange token before the symbol.
	exchange := "binance"
	if isKnownExchange(args[0]) {
		exchange = strings.ToLower(args[0])
		args = args[1:]
	}
	if len(args) < 2 {
		return ports.Hold{}
	}

	symbol := strings.ToUpper(args[0])
	size, err := decimal.NewFromString(args[1])
	if err != nil || !size.IsPositive() {
		return ports.Hold{}
	}

	leverage := decimal.Zero
	if len(args) >= 3 {
		lev, err := decimal.NewFromString(strings.TrimSuffix(strings.ToLower(args[2]), "x"))
		if err != nil || !lev.IsPositive() {
			return ports.Hold{}
		}
		leverage = lev
	}

	if side == "short" {
		return ports.OpenShort{Exchange: exchange, Symbol: symbol, Size: size, Leverage: leverage}
	}
	return ports.OpenLong{Exchange: exchange, Symbol: symbol, Size: size, Leverage: leverage}
}

// parseClose handles: all | [position] <id>
func parseClose(args []string) ports.Action {
	if len(args) == 0 {
		return ports.Hold{}
	}
	if strings.EqualFold(args[0], "all") {
		return ports.CloseAll{}
	}
	if strings.EqualFold(args[0], "position") {
		args = args[1:]
		if len(args) == 0 {
			return ports.Hold{}
		}
	}

	id, err := decimal.NewFromString(args[0])
	if err != nil || !id.IsInteger() || !id.IsPositive() {
		return ports.Hold{}
	}
	return ports.ClosePosition{PositionID: id.IntPart()}
}

func isKnownExchange(s string) bool {
	switch strings.ToLower(s) {
	case "binance", "okx", "bybit", "bitget":
		return true
	}
	return false
}
