package trading

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"findash/internal/models"
)

// Column projections returned by the snapshot endpoints, in response order.
var (
	ETFColumns = []string{
		"Date", "Type", "Trend", "Symbol", "Expiration", "PnC", "L_Strike", "H_Strike",
		"Entry", "Target", "Target%", "Stop", "Stop%", "Last", "OPrice", "Reward%",
		"adjOPrice", "AdjReward%",
	}
	StockColumns = []string{
		"Date", "Symbol", "Expiration", "PnC", "Strike", "Entry1", "Entry2", "Target",
		"Target%", "Stop", "Stop%", "Trade_Status", "Description", "OPrice", "Reward%", "Last",
	}
)

type metricRules struct {
	strikeColumn string
	// stopNeedsSingleLeg restricts Stop% to rows without a lower strike (ETF spreads).
	stopNeedsSingleLeg bool
}

var (
	etfRules   = metricRules{strikeColumn: "H_Strike", stopNeedsSingleLeg: true}
	stockRules = metricRules{strikeColumn: "Strike"}
)

// applyMetrics adds OPrice, Stop%, Target%, adjOPrice, Reward% and AdjReward% to row.
func applyMetrics(row *models.Row, rules metricRules) {
	oprice := optionPrice(*row)

	stop := interface{}(nil)
	if hasAll(*row, "Symbol", "Stop", "Last", "PnC") {
		lowStrike, _ := row.Get("L_Strike")
		if !rules.stopNeedsSingleLeg || lowStrike == nil {
			stop = stopPercent(*row)
		}
	}

	target := interface{}(nil)
	if t, ok := number(*row, "Target"); ok {
		if last, ok := number(*row, "Last"); ok && last != 0 {
			target = round2((t/last - 1) * 100)
		}
	}

	adj := interface{}(nil)
	if hasAll(*row, "Last", rules.strikeColumn, "PnC") {
		adj = adjustedPrice(*row, rules.strikeColumn, oprice)
	}

	row.Set("Stop%", stop)
	row.Set("OPrice", floatOrNil(oprice))
	row.Set("Target%", target)
	row.Set("adjOPrice", floatOrNil(adj))
	row.Set("Reward%", reward(*row, rules.strikeColumn, oprice))
	row.Set("AdjReward%", reward(*row, rules.strikeColumn, adj))
}

// optionPrice prefers a positive bid and falls back to the last option trade.
func optionPrice(row models.Row) interface{} {
	if row.Has("O_bid") {
		if bid, ok := number(row, "O_bid"); ok && bid > 0 {
			return bid
		}
	}
	if last, ok := number(row, "O_last"); ok {
		return last
	}
	return nil
}

func stopPercent(row models.Row) interface{} {
	last, ok := number(row, "Last")
	if !ok || last == 0 {
		return nil
	}
	stop, ok := number(row, "Stop")
	if !ok || stop == 0 {
		return nil
	}
	return round2((stop/last - 1) * 100)
}

// adjustedPrice lifts an OTM option price to its intrinsic value. An OTM row without
// an option price still gets the intrinsic value.
func adjustedPrice(row models.Row, strikeColumn string, oprice interface{}) interface{} {
	price, hasPrice := oprice.(float64)
	last, okLast := number(row, "Last")
	strike, okStrike := number(row, strikeColumn)
	pnc, _ := row.Get("PnC")
	side, _ := pnc.(string)
	if !okLast || !okStrike || !isOTM(last, strike, side) {
		return oprice
	}
	var intrinsic float64
	switch side {
	case "C":
		intrinsic = math.Max(last-strike, 0)
	case "P":
		intrinsic = math.Max(strike-last, 0)
	default:
		return oprice
	}
	if !hasPrice {
		return intrinsic
	}
	return math.Max(intrinsic, price)
}

func isOTM(last, strike float64, side string) bool {
	switch side {
	case "C":
		return last < strike
	case "P":
		return last > strike
	}
	return false
}

func reward(row models.Row, strikeColumn string, price interface{}) interface{} {
	p, ok := price.(float64)
	if !ok {
		return nil
	}
	strike, ok := number(row, strikeColumn)
	if !ok || strike == 0 {
		return nil
	}
	return round2(p / strike * 100)
}

func hasAll(row models.Row, columns ...string) bool {
	for _, c := range columns {
		if !row.Has(c) {
			return false
		}
	}
	return true
}

// number reads column as a finite float64. Strings are parsed so DECIMAL values
// delivered as text still participate.
func number(row models.Row, column string) (float64, bool) {
	v, ok := row.Get(column)
	if !ok {
		return 0, false
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	case uint64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func floatOrNil(v interface{}) interface{} {
	if f, ok := v.(float64); ok {
		return f
	}
	return nil
}

// round2 rounds half away from zero to two decimal places.
func round2(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
