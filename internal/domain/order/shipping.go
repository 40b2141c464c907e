package order

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	FreeShippingThreshold = decimal.NewFromInt(5000)

	valleyRate = decimal.NewFromInt(100)
	hubRate    = decimal.NewFromInt(150)
	remoteRate = decimal.NewFromInt(200)
)

// Kathmandu valley districts.
var valleyDistricts = map[string]struct{}{
	"kathmandu": {},
	"lalitpur":  {},
	"bhaktapur": {},
}

// Districts served by the courier's regional hubs.
var hubDistricts = map[string]struct{}{
	"kaski":     {},
	"chitwan":   {},
	"morang":    {},
	"rupandehi": {},
	"parsa":     {},
	"sunsari":   {},
	"jhapa":     {},
	"banke":     {},
}

// ShippingCost returns the delivery charge for an order of subtotal shipped to addr.
// It is a pure function of its inputs.
func ShippingCost(addr Address, subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(FreeShippingThreshold) {
		return decimal.Zero
	}
	district := strings.ToLower(strings.TrimSpace(addr.District))
	if _, ok := valleyDistricts[district]; ok {
		return valleyRate
	}
	if _, ok := hubDistricts[district]; ok {
		return hubRate
	}
	return remoteRate
}
