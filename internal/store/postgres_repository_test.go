package store

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/escrow-service/internal/domain"
)

// stubRow hands preset column values to Scan, matching pgx's one-destination-per-column contract.
type stubRow struct {
	values []any
}

func (r stubRow) Scan(dest ...any) error {
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan got %d destinations for %d columns", len(dest), len(r.values))
	}
	for i, d := range dest {
		if r.values[i] == nil {
			continue
		}
		target := reflect.ValueOf(d).Elem()
		value := reflect.ValueOf(r.values[i])
		if !value.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("column %d: cannot scan %s into %s", i, value.Type(), target.Type())
		}
		target.Set(value)
	}
	return nil
}

// countingRow records how many destinations Scan was given.
type countingRow struct {
	got *int
}

var errCounted = errors.New("counted")

func (r countingRow) Scan(dest ...any) error {
	*r.got = len(dest)
	return errCounted
}

func columnCount(columns string) int {
	return len(strings.Split(columns, ","))
}

func TestScanDestinationsMatchColumnLists(t *testing.T) {
	tests := []struct {
		name    string
		columns string
		scan    func(row countingRow) error
	}{
		{name: "orders", columns: orderColumns, scan: func(row countingRow) error { _, err := scanOrder(row); return err }},
		{name: "reviews", columns: reviewColumns, scan: func(row countingRow) error { _, err := scanReview(row); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got int
			if err := tt.scan(countingRow{got: &got}); !errors.Is(err, errCounted) {
				t.Fatalf("expected the row error to surface, got %v", err)
			}
			if want := columnCount(tt.columns); got != want {
				t.Fatalf("expected %d scan destinations, got %d", want, got)
			}
		})
	}
}

func orderRowValues(o *domain.Order, packageJSON, addOnsJSON string) []any {
	var method *string
	if o.PaymentMethod != nil {
		m := string(*o.PaymentMethod)
		method = &m
	}
	return []any{
		o.ID, o.ServiceID, o.ClientID, o.FreelancerID, string(o.SelectedPackage), []byte(packageJSON), []byte(addOnsJSON),
		o.AmountSubtotal, o.PlatformFeeAmount, o.AmountTotal, o.Currency, o.EscrowHeldAmount, string(o.Status), o.RevisionCount,
		o.RequirementsText, method, o.PaymentReference, o.DisputeReason, o.DeliveryDueAt, o.CreatedAt, o.UpdatedAt,
		o.PaidAt, o.DeliveredAt, o.AutoReleaseAt, o.CompletedAt, o.CancelledAt, o.DisputedAt, o.RefundedAt,
	}
}

func TestEncodeOrderDocumentsRoundTripsThroughScanOrder(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	paidAt := now.Add(time.Hour)
	releaseAt := now.Add(72 * time.Hour)
	held := int64(6360)
	method := domain.PaymentMethodWallet
	reference := "wallet-debit"

	order := &domain.Order{
		ID:                uuid.New(),
		ServiceID:         uuid.New(),
		ClientID:          uuid.New(),
		FreelancerID:      uuid.New(),
		SelectedPackage:   domain.PackageBasic,
		PackageDetails:    domain.PackageTerms{Title: "Basic", Price: 5000, DeliveryDays: 3, Revisions: 1},
		AddOns:            []domain.AddOn{{Title: "Fast delivery", Price: 1000, DeliveryDaysExtra: 1}},
		AmountSubtotal:    6000,
		PlatformFeeAmount: 360,
		AmountTotal:       6360,
		Currency:          "USD",
		EscrowHeldAmount:  &held,
		Status:            domain.OrderStatusDelivered,
		RevisionCount:     1,
		RequirementsText:  "Blue and white",
		PaymentMethod:     &method,
		PaymentReference:  &reference,
		DeliveryDueAt:     now.AddDate(0, 0, 4),
		CreatedAt:         now,
		UpdatedAt:         paidAt,
		PaidAt:            &paidAt,
		DeliveredAt:       &paidAt,
		AutoReleaseAt:     &releaseAt,
	}

	packageJSON, addOnsJSON, err := encodeOrderDocuments(order)
	if err != nil {
		t.Fatalf("encodeOrderDocuments returned error: %v", err)
	}
	scanned, err := scanOrder(stubRow{values: orderRowValues(order, packageJSON, addOnsJSON)})
	if err != nil {
		t.Fatalf("scanOrder returned error: %v", err)
	}
	if !reflect.DeepEqual(order, scanned) {
		t.Fatalf("round trip changed the order:\nwant %+v\ngot  %+v", order, scanned)
	}
}

func TestEncodeOrderDocumentsStoresEmptyAddOnArray(t *testing.T) {
	order := &domain.Order{PackageDetails: domain.PackageTerms{Title: "Basic", Price: 5000}}

	_, addOnsJSON, err := encodeOrderDocuments(order)
	if err != nil {
		t.Fatalf("encodeOrderDocuments returned error: %v", err)
	}
	if addOnsJSON != "[]" {
		t.Fatalf("expected an empty json array, got %s", addOnsJSON)
	}
}

func TestScanOrderRejectsMalformedPackageDetails(t *testing.T) {
	order := &domain.Order{ID: uuid.New(), Status: domain.OrderStatusActive}
	_, err := scanOrder(stubRow{values: orderRowValues(order, "{not json", "[]")})
	if err == nil || !strings.Contains(err.Error(), "package details") {
		t.Fatalf("expected a package details decode error, got %v", err)
	}
}
