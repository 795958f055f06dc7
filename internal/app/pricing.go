package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/escrow-service/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// PricingPolicy holds the platform-wide inputs to order pricing.
type PricingPolicy struct {
	FeePercent          decimal.Decimal
	DefaultDeliveryDays int
	Currency            string
}

// Quote is the priced, frozen selection used to create an order.
type Quote struct {
	Package   domain.PackageTerms
	AddOns    []domain.AddOn
	Breakdown domain.PricingBreakdown
}

// PlatformFee returns subtotal x percent / 100 rounded half-up to the cent.
func PlatformFee(subtotal int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(subtotal).Mul(percent).Div(hundred).Round(0).IntPart()
}

// QuoteOrder prices a package plus add-ons against a catalog entry. An unknown
// or negatively priced add-on rejects the whole selection.
func QuoteOrder(svc *domain.Service, tier domain.PackageTier, addOnTitles []string, policy PricingPolicy, now time.Time) (*Quote, error) {
	pkg, ok := svc.Packages[tier]
	if !ok || pkg.Price <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPackage, tier)
	}

	catalog := make(map[string]domain.AddOn, len(svc.AddOns))
	for _, a := range svc.AddOns {
		catalog[a.Title] = a
	}

	selected := make([]domain.AddOn, 0, len(addOnTitles))
	seen := make(map[string]bool, len(addOnTitles))
	var addOnsTotal int64
	extraDays := 0
	for _, title := range addOnTitles {
		if seen[title] {
			return nil, invalidField("selectedAddOnTitles", fmt.Sprintf("add-on %q selected more than once", title))
		}
		seen[title] = true

		addOn, ok := catalog[title]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAddOn, title)
		}
		if addOn.Price < 0 {
			return nil, fmt.Errorf("%w: %s has a negative price", ErrUnknownAddOn, title)
		}
		selected = append(selected, addOn)
		addOnsTotal += addOn.Price
		if addOn.DeliveryDaysExtra > 0 {
			extraDays += addOn.DeliveryDaysExtra
		}
	}

	baseDays := pkg.DeliveryDays
	if baseDays <= 0 {
		baseDays = policy.DefaultDeliveryDays
	}
	pkg.DeliveryDays = baseDays
	totalDays := baseDays + extraDays

	subtotal := pkg.Price + addOnsTotal
	if subtotal <= 0 {
		return nil, fmt.Errorf("%w: %s prices to %s", ErrInvalidPackage, tier, formatMinor(subtotal))
	}
	fee := PlatformFee(subtotal, policy.FeePercent)

	return &Quote{
		Package: pkg,
		AddOns:  selected,
		Breakdown: domain.PricingBreakdown{
			PackagePrice:      pkg.Price,
			AddOnsTotal:       addOnsTotal,
			Subtotal:          subtotal,
			PlatformFee:       fee,
			PlatformFeeRate:   policy.FeePercent.String(),
			Total:             subtotal + fee,
			Currency:          policy.Currency,
			BaseDeliveryDays:  baseDays,
			ExtraDeliveryDays: extraDays,
			TotalDeliveryDays: totalDays,
			DeliveryDueAt:     now.AddDate(0, 0, totalDays),
		},
	}, nil
}

func validateCheckout(req domain.CheckoutRequest) error {
	if !req.SelectedPackage.Valid() {
		return invalidField("selectedPackage", "must be one of basic, standard, premium")
	}
	if runeLen(req.RequirementsText) > MaxRequirementsLength {
		return invalidField("requirementsText", fmt.Sprintf("must be at most %d characters", MaxRequirementsLength))
	}
	for _, title := range req.SelectedAddOnTitles {
		if strings.TrimSpace(title) == "" {
			return invalidField("selectedAddOnTitles", "add-on titles must be non-empty")
		}
	}
	return nil
}
