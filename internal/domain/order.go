/**
 * @description
 * This file defines the freelancer order model and its escrow lifecycle.
 * An order carries a frozen snapshot of the package and add-ons the client
 * bought so later catalog edits never change what was paid for.
 *
 * @notes
 * - Amounts are `int64` minor units (cents). `AmountTotal` is always
 *   `AmountSubtotal + PlatformFeeAmount`.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the escrow lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPendingPayment    OrderStatus = "pending_payment"
	OrderStatusActive            OrderStatus = "active"
	OrderStatusDelivered         OrderStatus = "delivered"
	OrderStatusRevisionRequested OrderStatus = "revision_requested"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusDisputed          OrderStatus = "disputed"
	OrderStatusRefunded          OrderStatus = "refunded"
)

// IsTerminal reports whether no further transition can leave the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// PackageTier names one of the three fixed package levels of a service.
type PackageTier string

const (
	PackageBasic    PackageTier = "basic"
	PackageStandard PackageTier = "standard"
	PackagePremium  PackageTier = "premium"
)

// Valid reports whether the tier is one of the known levels.
func (t PackageTier) Valid() bool {
	switch t {
	case PackageBasic, PackageStandard, PackagePremium:
		return true
	}
	return false
}

// PaymentMethod records how escrow was funded.
type PaymentMethod string

const (
	PaymentMethodWallet   PaymentMethod = "wallet"
	PaymentMethodExternal PaymentMethod = "external"
)

// PackageTerms is the snapshot of the selected package at checkout.
type PackageTerms struct {
	Title        string `json:"title"`
	Price        int64  `json:"price"` // in cents
	DeliveryDays int    `json:"deliveryDays"`
	Revisions    int    `json:"revisions"`
}

// AddOn is an optional extra sold with a service.
type AddOn struct {
	Title             string `json:"title"`
	Price             int64  `json:"price"` // in cents
	DeliveryDaysExtra int    `json:"deliveryDaysExtra"`
}

// Order represents one purchase of a freelancer service.
// This struct maps directly to the `freelancer_orders` table.
type Order struct {
	ID                uuid.UUID      `json:"id"`
	ServiceID         uuid.UUID      `json:"serviceId"`
	ClientID          uuid.UUID      `json:"clientId"`
	FreelancerID      uuid.UUID      `json:"freelancerId"`
	SelectedPackage   PackageTier    `json:"selectedPackage"`
	PackageDetails    PackageTerms   `json:"packageDetails"`
	AddOns            []AddOn        `json:"addOns"`
	AmountSubtotal    int64          `json:"amountSubtotal"`
	PlatformFeeAmount int64          `json:"platformFeeAmount"`
	AmountTotal       int64          `json:"amountTotal"`
	Currency          string         `json:"currency"`
	EscrowHeldAmount  *int64         `json:"escrowHeldAmount"`
	Status            OrderStatus    `json:"status"`
	RevisionCount     int            `json:"revisionCount"`
	RequirementsText  string         `json:"requirementsText"`
	PaymentMethod     *PaymentMethod `json:"paymentMethod,omitempty"`
	PaymentReference  *string        `json:"paymentReference,omitempty"`
	DisputeReason     *string        `json:"disputeReason,omitempty"`
	DeliveryDueAt     time.Time      `json:"deliveryDueAt"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	PaidAt            *time.Time     `json:"paidAt"`
	DeliveredAt       *time.Time     `json:"deliveredAt"`
	AutoReleaseAt     *time.Time     `json:"autoReleaseAt"`
	CompletedAt       *time.Time     `json:"completedAt"`
	CancelledAt       *time.Time     `json:"cancelledAt,omitempty"`
	DisputedAt        *time.Time     `json:"disputedAt,omitempty"`
	RefundedAt        *time.Time     `json:"refundedAt,omitempty"`
}

// RevisionsRemaining returns how many revision requests the package still allows.
func (o *Order) RevisionsRemaining() int {
	remaining := o.PackageDetails.Revisions - o.RevisionCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HeldAmount returns the escrow amount or zero when nothing is held.
func (o *Order) HeldAmount() int64 {
	if o.EscrowHeldAmount == nil {
		return 0
	}
	return *o.EscrowHeldAmount
}

// IsParty reports whether the user is the client or the freelancer of the order.
func (o *Order) IsParty(userID uuid.UUID) bool {
	return o.ClientID == userID || o.FreelancerID == userID
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.AddOns = append([]AddOn(nil), o.AddOns...)
	c.EscrowHeldAmount = clonePtr(o.EscrowHeldAmount)
	c.PaymentMethod = clonePtr(o.PaymentMethod)
	c.PaymentReference = clonePtr(o.PaymentReference)
	c.DisputeReason = clonePtr(o.DisputeReason)
	c.PaidAt = clonePtr(o.PaidAt)
	c.DeliveredAt = clonePtr(o.DeliveredAt)
	c.AutoReleaseAt = clonePtr(o.AutoReleaseAt)
	c.CompletedAt = clonePtr(o.CompletedAt)
	c.CancelledAt = clonePtr(o.CancelledAt)
	c.DisputedAt = clonePtr(o.DisputedAt)
	c.RefundedAt = clonePtr(o.RefundedAt)
	return &c
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// DeliverableFile is one attachment of a deliverable.
type DeliverableFile struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size *int64 `json:"size,omitempty"`
	Type string `json:"type,omitempty"`
}

// Deliverable is an append-only record of one delivery of work.
type Deliverable struct {
	ID         uuid.UUID         `json:"id"`
	OrderID    uuid.UUID         `json:"orderId"`
	Message    string            `json:"message"`
	Files      []DeliverableFile `json:"files"`
	IsRevision bool              `json:"isRevision"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// PricingBreakdown is returned by checkout alongside the created order.
type PricingBreakdown struct {
	PackagePrice      int64     `json:"packagePrice"`
	AddOnsTotal       int64     `json:"addOnsTotal"`
	Subtotal          int64     `json:"subtotal"`
	PlatformFee       int64     `json:"platformFee"`
	PlatformFeeRate   string    `json:"platformFeeRate"`
	Total             int64     `json:"total"`
	Currency          string    `json:"currency"`
	BaseDeliveryDays  int       `json:"baseDeliveryDays"`
	ExtraDeliveryDays int       `json:"extraDeliveryDays"`
	TotalDeliveryDays int       `json:"totalDeliveryDays"`
	DeliveryDueAt     time.Time `json:"deliveryDueAt"`
}

// EscrowRelease summarises a completed settlement.
type EscrowRelease struct {
	TotalReleased      int64 `json:"totalReleased"`
	FreelancerEarnings int64 `json:"freelancerEarnings"`
	PlatformFee        int64 `json:"platformFee"`
}

// CheckoutRequest is the DTO for creating an order from a service.
type CheckoutRequest struct {
	SelectedPackage     PackageTier `json:"selectedPackage"`
	SelectedAddOnTitles []string    `json:"selectedAddOnTitles"`
	RequirementsText    string      `json:"requirementsText"`
}

// DeliverRequest is the DTO for submitting work.
type DeliverRequest struct {
	Message string            `json:"message"`
	Files   []DeliverableFile `json:"files"`
}

// DisputeOutcome is the admin decision on a disputed order.
type DisputeOutcome string

const (
	DisputeOutcomeRelease DisputeOutcome = "release"
	DisputeOutcomeRefund  DisputeOutcome = "refund"
)
