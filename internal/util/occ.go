package util

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// OCCSymbol builds the OCC option identifier: root, YYMMDD expiration, C or P,
// and the strike times 1000 zero-padded to 8 digits.
// OCCSymbol("SPY", 2025-01-17, false, 450) == "SPY250117P00450000".
func OCCSymbol(root string, expiration time.Time, isCall bool, strike float64) string {
	kind := "P"
	if isCall {
		kind = "C"
	}
	return fmt.Sprintf("%s%s%s%08d",
		strings.ToUpper(strings.TrimSpace(root)),
		expiration.Format("060102"),
		kind,
		int64(math.Round(strike*1000)))
}
