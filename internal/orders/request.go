package orders

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/strangle_scanner/internal/models"
	"github.com/eddiefleurent/strangle_scanner/internal/util"
)

// StrategyStrangle is the only strategy the order path accepts.
const StrategyStrangle = "strangle"

var (
	validOrderTypes   = map[string]bool{"market": true, "limit": true}
	validTimeInForces = map[string]bool{"day": true, "gtc": true, "ioc": true}
	validSides        = map[string]bool{"buy": true, "sell": true}
)

// LegRequest is one option leg of a strangle order.
type LegRequest struct {
	OptionType string  `json:"option_type"`
	Expiration string  `json:"expiration"`
	Side       string  `json:"side"`
	Strike     float64 `json:"strike"`
	Price      float64 `json:"price,omitempty"`
}

// StrangleOrderRequest is the structured body of POST /api/trade.
type StrangleOrderRequest struct {
	LimitPrice  *float64     `json:"limit_price,omitempty"`
	Symbol      string       `json:"symbol"`
	Strategy    string       `json:"strategy"`
	OrderType   string       `json:"order_type"`
	TimeInForce string       `json:"time_in_force"`
	Legs        []LegRequest `json:"legs"`
	Quantity    int          `json:"quantity"`
}

// Validate reports the first problem with the request as a *models.ValidationError.
func (r StrangleOrderRequest) Validate() error {
	required := []struct {
		field string
		empty bool
	}{
		{"symbol", strings.TrimSpace(r.Symbol) == ""},
		{"strategy", strings.TrimSpace(r.Strategy) == ""},
		{"quantity", r.Quantity == 0},
		{"order_type", strings.TrimSpace(r.OrderType) == ""},
		{"time_in_force", strings.TrimSpace(r.TimeInForce) == ""},
		{"legs", len(r.Legs) == 0},
	}
	for _, f := range required {
		if f.empty {
			return &models.ValidationError{Field: f.field, Reason: "is required"}
		}
	}

	if !strings.EqualFold(r.Strategy, StrategyStrangle) {
		return &models.ValidationError{Field: "strategy", Reason: fmt.Sprintf("unsupported strategy %q", r.Strategy)}
	}
	if r.Quantity < 0 {
		return &models.ValidationError{Field: "quantity", Reason: "must be > 0"}
	}
	if len(r.Legs) != 2 {
		return &models.ValidationError{Field: "legs",
			Reason: fmt.Sprintf("strangle requires exactly 2 legs, got %d", len(r.Legs))}
	}

	calls, puts := 0, 0
	for i, leg := range r.Legs {
		switch strings.ToLower(leg.OptionType) {
		case "call":
			calls++
		case "put":
			puts++
		default:
			return &models.ValidationError{Field: fmt.Sprintf("legs[%d].option_type", i),
				Reason: fmt.Sprintf("must be call or put, got %q", leg.OptionType)}
		}
		if math.IsNaN(leg.Strike) || math.IsInf(leg.Strike, 0) || leg.Strike <= 0 {
			return &models.ValidationError{Field: fmt.Sprintf("legs[%d].strike", i), Reason: "must be > 0"}
		}
		if _, err := time.Parse(models.ExpirationLayout, leg.Expiration); err != nil {
			return &models.ValidationError{Field: fmt.Sprintf("legs[%d].expiration", i), Reason: "must be YYYY-MM-DD"}
		}
		if !validSides[strings.ToLower(leg.Side)] {
			return &models.ValidationError{Field: fmt.Sprintf("legs[%d].side", i),
				Reason: fmt.Sprintf("must be buy or sell, got %q", leg.Side)}
		}
		if math.IsNaN(leg.Price) || math.IsInf(leg.Price, 0) || leg.Price < 0 {
			return &models.ValidationError{Field: fmt.Sprintf("legs[%d].price", i), Reason: "must be >= 0"}
		}
	}
	if calls != 1 || puts != 1 {
		return &models.ValidationError{Field: "legs", Reason: "strangle requires one call and one put"}
	}

	orderType := strings.ToLower(r.OrderType)
	if !validOrderTypes[orderType] {
		return &models.ValidationError{Field: "order_type", Reason: fmt.Sprintf("invalid order type %q", r.OrderType)}
	}
	if orderType == "limit" {
		if r.LimitPrice == nil {
			return &models.ValidationError{Field: "limit_price", Reason: "is required for limit orders"}
		}
		if lp := *r.LimitPrice; math.IsNaN(lp) || math.IsInf(lp, 0) || lp <= 0 {
			return &models.ValidationError{Field: "limit_price", Reason: "must be > 0"}
		}
	} else if r.LimitPrice != nil {
		return &models.ValidationError{Field: "limit_price", Reason: "is only allowed for limit orders"}
	}

	if !validTimeInForces[strings.ToLower(r.TimeInForce)] {
		return &models.ValidationError{Field: "time_in_force", Reason: fmt.Sprintf("invalid time in force %q", r.TimeInForce)}
	}
	return nil
}

// LegDetail is a validated leg together with its OCC symbol.
type LegDetail struct {
	LegRequest
	OptionSymbol string `json:"option_symbol"`
}

// OrderDetails echoes the normalized request in a confirmation.
type OrderDetails struct {
	LimitPrice    *float64    `json:"limit_price,omitempty"`
	Symbol        string      `json:"symbol"`
	Strategy      string      `json:"strategy"`
	OrderType     string      `json:"order_type"`
	TimeInForce   string      `json:"time_in_force"`
	Legs          []LegDetail `json:"legs"`
	Quantity      int         `json:"quantity"`
	EstimatedCost float64     `json:"estimated_cost"`
}

// normalize lower-cases enums, upper-cases the ticker, rounds the limit to a
// cent and encodes each leg. Call only on a request that passed Validate.
func normalize(r StrangleOrderRequest) OrderDetails {
	symbol := strings.ToUpper(strings.TrimSpace(r.Symbol))
	d := OrderDetails{
		Symbol:      symbol,
		Strategy:    StrategyStrangle,
		Quantity:    r.Quantity,
		OrderType:   strings.ToLower(r.OrderType),
		TimeInForce: strings.ToLower(r.TimeInForce),
		Legs:        make([]LegDetail, len(r.Legs)),
	}
	if r.LimitPrice != nil {
		lp := util.RoundToTick(*r.LimitPrice, 0.01)
		d.LimitPrice = &lp
	}

	// Estimated cost is per-contract premium times 100 shares, signed so that
	// buys cost and sells collect.
	cost := decimal.Zero
	for i, leg := range r.Legs {
		leg.OptionType = strings.ToLower(leg.OptionType)
		leg.Side = strings.ToLower(leg.Side)
		exp, _ := time.Parse(models.ExpirationLayout, leg.Expiration)
		d.Legs[i] = LegDetail{
			LegRequest:   leg,
			OptionSymbol: util.OCCSymbol(symbol, exp, leg.OptionType == "call", leg.Strike),
		}
		premium := decimal.NewFromFloat(leg.Price)
		if leg.Side == "sell" {
			premium = premium.Neg()
		}
		cost = cost.Add(premium)
	}
	d.EstimatedCost, _ = cost.Mul(decimal.NewFromInt(int64(r.Quantity) * 100)).Float64()
	return d
}
