package app

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/escrow-service/internal/domain"
)

func pricingService() *domain.Service {
	return &domain.Service{
		ID:           uuid.New(),
		FreelancerID: uuid.New(),
		Title:        "Logo design",
		Status:       domain.ServiceStatusPublished,
		Packages: map[domain.PackageTier]domain.PackageTerms{
			domain.PackageBasic:    {Title: "Basic", Price: 5000, DeliveryDays: 3, Revisions: 1},
			domain.PackageStandard: {Title: "Standard", Price: 9999, DeliveryDays: 0, Revisions: 2},
			domain.PackagePremium:  {Title: "Premium", Price: 0, DeliveryDays: 10, Revisions: 5},
		},
		AddOns: []domain.AddOn{
			{Title: "Fast delivery", Price: 1000, DeliveryDaysExtra: 2},
			{Title: "Source files", Price: 250, DeliveryDaysExtra: 0},
		},
	}
}

func TestPlatformFee(t *testing.T) {
	tests := []struct {
		name     string
		subtotal int64
		percent  string
		want     int64
	}{
		{name: "fifteen percent of sixty dollars", subtotal: 6000, percent: "15", want: 900},
		{name: "six percent of fifty dollars", subtotal: 5000, percent: "6", want: 300},
		{name: "half cent rounds up", subtotal: 1025, percent: "6", want: 62}, // 61.5
		{name: "below half rounds down", subtotal: 1024, percent: "6", want: 61}, // 61.44
		{name: "zero percent", subtotal: 5000, percent: "0", want: 0},
		{name: "fractional percent", subtotal: 10000, percent: "2.5", want: 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlatformFee(tt.subtotal, decimal.RequireFromString(tt.percent))
			if got != tt.want {
				t.Fatalf("expected fee %d, got %d", tt.want, got)
			}
		})
	}
}

func TestQuoteOrder_PackageWithAddOn(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	policy := PricingPolicy{FeePercent: decimal.NewFromInt(15), DefaultDeliveryDays: 7, Currency: "USD"}

	quote, err := QuoteOrder(pricingService(), domain.PackageBasic, []string{"Fast delivery"}, policy, now)
	if err != nil {
		t.Fatalf("QuoteOrder returned error: %v", err)
	}

	b := quote.Breakdown
	if b.Subtotal != 6000 || b.PlatformFee != 900 || b.Total != 6900 {
		t.Fatalf("expected 6000/900/6900, got %d/%d/%d", b.Subtotal, b.PlatformFee, b.Total)
	}
	if b.Total != b.Subtotal+b.PlatformFee {
		t.Fatalf("total must equal subtotal + fee")
	}
	if b.TotalDeliveryDays != 5 || !b.DeliveryDueAt.Equal(now.AddDate(0, 0, 5)) {
		t.Fatalf("expected 5 delivery days, got %d due %s", b.TotalDeliveryDays, b.DeliveryDueAt)
	}
	if len(quote.AddOns) != 1 || quote.AddOns[0].Title != "Fast delivery" {
		t.Fatalf("expected add-on snapshot, got %+v", quote.AddOns)
	}
}

func TestQuoteOrder_DefaultsDeliveryDays(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	policy := PricingPolicy{FeePercent: decimal.NewFromInt(6), DefaultDeliveryDays: 7, Currency: "USD"}

	quote, err := QuoteOrder(pricingService(), domain.PackageStandard, nil, policy, now)
	if err != nil {
		t.Fatalf("QuoteOrder returned error: %v", err)
	}
	if quote.Package.DeliveryDays != 7 || quote.Breakdown.TotalDeliveryDays != 7 {
		t.Fatalf("expected default 7 delivery days, got %d", quote.Breakdown.TotalDeliveryDays)
	}
}

func TestQuoteOrder_Rejections(t *testing.T) {
	policy := PricingPolicy{FeePercent: decimal.NewFromInt(6), DefaultDeliveryDays: 7, Currency: "USD"}
	now := time.Now()

	tests := []struct {
		name    string
		tier    domain.PackageTier
		addOns  []string
		wantErr error
	}{
		{name: "zero priced package", tier: domain.PackagePremium, wantErr: ErrInvalidPackage},
		{name: "unknown add-on rejects whole selection", tier: domain.PackageBasic, addOns: []string{"Source files", "Gift wrap"}, wantErr: ErrUnknownAddOn},
		{name: "duplicate add-on", tier: domain.PackageBasic, addOns: []string{"Source files", "Source files"}, wantErr: ErrValidation},
		{name: "negative priced add-on", tier: domain.PackageBasic, addOns: []string{"Discount"}, wantErr: ErrUnknownAddOn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := pricingService()
			svc.AddOns = append(svc.AddOns, domain.AddOn{Title: "Discount", Price: -6000})
			_, err := QuoteOrder(svc, tt.tier, tt.addOns, policy, now)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestQuoteOrder_RejectsNonPositiveSubtotal(t *testing.T) {
	policy := PricingPolicy{FeePercent: decimal.NewFromInt(6), DefaultDeliveryDays: 7, Currency: "USD"}
	svc := pricingService()
	svc.Packages[domain.PackageBasic] = domain.PackageTerms{Title: "Basic", Price: 1, DeliveryDays: 3}
	svc.Packages[domain.PackagePremium] = domain.PackageTerms{Title: "Premium", Price: math.MaxInt64, DeliveryDays: 3}

	// An int64 overflow is the only way past the per-item sign checks.
	_, err := QuoteOrder(svc, domain.PackagePremium, []string{"Fast delivery"}, policy, time.Now())
	if !errors.Is(err, ErrInvalidPackage) {
		t.Fatalf("expected %v for an overflowing subtotal, got %v", ErrInvalidPackage, err)
	}

	quote, err := QuoteOrder(svc, domain.PackageBasic, nil, policy, time.Now())
	if err != nil {
		t.Fatalf("expected a one cent package to price, got %v", err)
	}
	if quote.Breakdown.Subtotal != 1 || quote.Breakdown.PlatformFee != 0 || quote.Breakdown.Total != 1 {
		t.Fatalf("expected 1/0/1, got %d/%d/%d", quote.Breakdown.Subtotal, quote.Breakdown.PlatformFee, quote.Breakdown.Total)
	}
}

func TestValidateCheckout(t *testing.T) {
	long := make([]rune, MaxRequirementsLength+1)
	for i := range long {
		long[i] = 'é'
	}

	if err := validateCheckout(domain.CheckoutRequest{SelectedPackage: "gold"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown tier, got %v", err)
	}
	if err := validateCheckout(domain.CheckoutRequest{SelectedPackage: domain.PackageBasic, RequirementsText: string(long)}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for long requirements, got %v", err)
	}
	if err := validateCheckout(domain.CheckoutRequest{SelectedPackage: domain.PackageBasic, RequirementsText: string(long[:MaxRequirementsLength])}); err != nil {
		t.Fatalf("expected requirements at the limit to pass, got %v", err)
	}
	if err := validateCheckout(domain.CheckoutRequest{SelectedPackage: domain.PackageBasic, SelectedAddOnTitles: []string{" "}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for blank add-on title, got %v", err)
	}
}
