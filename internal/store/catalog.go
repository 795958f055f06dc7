package store

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/transfa/escrow-service/internal/domain"
)

// catalogPackage is the stored JSON shape of one package tier. Prices are
// decimal currency units as written by the catalog service.
type catalogPackage struct {
	Title        string          `json:"title"`
	Price        decimal.Decimal `json:"price"`
	DeliveryDays int             `json:"deliveryDays"`
	Revisions    int             `json:"revisions"`
}

type catalogAddOn struct {
	Title             string          `json:"title"`
	Price             decimal.Decimal `json:"price"`
	DeliveryDaysExtra int             `json:"deliveryDaysExtra"`
}

// toMinorUnits converts a currency amount to cents, rounding half away from zero.
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// decodeCatalogPackages parses the packages JSON column. Tier keys outside the
// known set are ignored.
func decodeCatalogPackages(raw []byte) (map[domain.PackageTier]domain.PackageTerms, error) {
	packages := make(map[domain.PackageTier]domain.PackageTerms)
	if len(raw) == 0 || string(raw) == "null" {
		return packages, nil
	}

	var stored map[string]*catalogPackage
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode service packages: %w", err)
	}
	for key, pkg := range stored {
		tier := domain.PackageTier(key)
		if !tier.Valid() || pkg == nil {
			continue
		}
		packages[tier] = domain.PackageTerms{
			Title:        pkg.Title,
			Price:        toMinorUnits(pkg.Price),
			DeliveryDays: pkg.DeliveryDays,
			Revisions:    pkg.Revisions,
		}
	}
	return packages, nil
}

func decodeCatalogAddOns(raw []byte) ([]domain.AddOn, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var stored []catalogAddOn
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode service add-ons: %w", err)
	}
	addOns := make([]domain.AddOn, 0, len(stored))
	for _, a := range stored {
		addOns = append(addOns, domain.AddOn{
			Title:             a.Title,
			Price:             toMinorUnits(a.Price),
			DeliveryDaysExtra: a.DeliveryDaysExtra,
		})
	}
	return addOns, nil
}
