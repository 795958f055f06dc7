package domain

import (
	"time"

	"github.com/google/uuid"
)

// ServiceStatus is the catalog publication state of a freelancer service.
type ServiceStatus string

const (
	ServiceStatusDraft     ServiceStatus = "draft"
	ServiceStatusPublished ServiceStatus = "published"
	ServiceStatusPaused    ServiceStatus = "paused"
)

// Service is the read-only catalog view an order is priced from.
type Service struct {
	ID           uuid.UUID                    `json:"id"`
	FreelancerID uuid.UUID                    `json:"freelancerId"`
	Title        string                       `json:"title"`
	Status       ServiceStatus                `json:"status"`
	Packages     map[PackageTier]PackageTerms `json:"packages"`
	AddOns       []AddOn                      `json:"addOns"`
}

// Review is a client's rating of a completed order.
type Review struct {
	ID                uuid.UUID  `json:"id"`
	OrderID           uuid.UUID  `json:"orderId"`
	ServiceID         uuid.UUID  `json:"serviceId"`
	ReviewerID        uuid.UUID  `json:"reviewerId"`
	FreelancerID      uuid.UUID  `json:"freelancerId"`
	Rating            int        `json:"rating"`
	Comment           string     `json:"comment"`
	SellerResponse    *string    `json:"sellerResponse"`
	SellerRespondedAt *time.Time `json:"sellerRespondedAt"`
	IsPublic          bool       `json:"isPublic"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// ReviewRequest is the DTO for submitting a review.
type ReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// ServiceReviews is a page of reviews plus the aggregates shown with them.
type ServiceReviews struct {
	Reviews       []Review `json:"reviews"`
	AverageRating float64  `json:"averageRating"`
	TotalReviews  int      `json:"totalReviews"`
}

// ReviewStats aggregates every public review of a service.
type ReviewStats struct {
	Count     int
	RatingSum int64
}

// Actor is the authenticated caller resolved to an internal user.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

// RoleAdmin is the role allowed to resolve disputes and issue refunds.
const RoleAdmin = "admin"

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
