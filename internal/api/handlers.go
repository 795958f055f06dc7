/**
 * @description
 * HTTP handlers for the escrow-service. Handlers resolve the caller, decode the
 * request, call the application service and translate its errors into the
 * `{error, code}` response body.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: For URL parameters.
 * - internal/app: For the escrow operations and their sentinel errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/escrow-service/internal/app"
	"github.com/transfa/escrow-service/internal/domain"
	"github.com/transfa/escrow-service/internal/store"
)

const maxRequestBodyBytes = 1 << 20

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service *app.Service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service *app.Service) *Handler {
	return &Handler{service: service}
}

type errorResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code"`
	Required          *int64 `json:"required,omitempty"`
	Available         *int64 `json:"available,omitempty"`
	Shortfall         *int64 `json:"shortfall,omitempty"`
	RetryAfterSeconds *int   `json:"retryAfterSeconds,omitempty"`
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
		}
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeServiceError maps an application error onto its status and code.
func writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var balanceErr *app.InsufficientBalanceError
	if errors.As(err, &balanceErr) {
		shortfall := balanceErr.Shortfall()
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:     balanceErr.Error(),
			Code:      "insufficient_balance",
			Required:  &balanceErr.Required,
			Available: &balanceErr.Available,
			Shortfall: &shortfall,
		})
		return
	}
	var limitErr *app.RateLimitError
	if errors.As(err, &limitErr) {
		retryAfter := limitErr.RetryAfterSeconds
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:             "Too many requests. Please wait and try again.",
			Code:              "rate_limited",
			RetryAfterSeconds: &retryAfter,
		})
		return
	}

	status, code := classifyError(err)
	if status == http.StatusInternalServerError {
		log.Printf("level=error component=api endpoint=%s outcome=failed err=%v", endpoint, err)
		writeError(w, status, code, "Internal server error")
		return
	}
	log.Printf("level=warn component=api endpoint=%s outcome=reject code=%s err=%v", endpoint, code, err)
	writeError(w, status, code, err.Error())
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, app.ErrInvalidPackage):
		return http.StatusBadRequest, "invalid_package"
	case errors.Is(err, app.ErrUnknownAddOn):
		return http.StatusBadRequest, "unknown_add_on"
	case errors.Is(err, app.ErrSelfOrder):
		return http.StatusBadRequest, "self_order"
	case errors.Is(err, app.ErrNotAwaitingPayment):
		return http.StatusBadRequest, "not_awaiting_payment"
	case errors.Is(err, app.ErrNoRevisionsRemaining):
		return http.StatusBadRequest, "no_revisions_remaining"
	case errors.Is(err, app.ErrAlreadySettled):
		return http.StatusConflict, "already_settled"
	case errors.Is(err, app.ErrAutoReleaseNotDue):
		return http.StatusBadRequest, "invalid_transition"
	case errors.Is(err, app.ErrInvalidTransition):
		return http.StatusBadRequest, "invalid_transition"
	case errors.Is(err, app.ErrAlreadyReviewed):
		return http.StatusConflict, "already_reviewed"
	case errors.Is(err, app.ErrAlreadyResponded):
		return http.StatusConflict, "already_responded"
	case errors.Is(err, app.ErrInvalidEscrow):
		return http.StatusConflict, "invalid_escrow"
	case errors.Is(err, app.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, app.ErrServiceUnavailable):
		return http.StatusNotFound, "service_unavailable"
	case errors.Is(err, store.ErrOrderNotFound), errors.Is(err, store.ErrReviewNotFound), errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, "not_found"
	}
	return http.StatusInternalServerError, "internal"
}

// actor resolves the authenticated Clerk subject to an internal user.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Could not get user ID from context")
		return domain.Actor{}, false
	}
	actor, err := h.service.ResolveActor(r.Context(), p.ClerkUserID, p.Role)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "User not found")
			return domain.Actor{}, false
		}
		log.Printf("level=error component=api msg=\"user resolution failed\" clerk_user_id=%s err=%v", p.ClerkUserID, err)
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
		return domain.Actor{}, false
	}
	return actor, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "Invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody decodes an optional JSON body; an empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil {
		return true
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "validation", "Invalid request body")
		return false
	}
	return true
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}

type orderResponse struct {
	Order *domain.Order `json:"order"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// CheckoutHandler creates a pending_payment order for a catalog service.
func (h *Handler) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	serviceID, ok := pathUUID(w, r, "serviceId")
	if !ok {
		return
	}
	var req domain.CheckoutRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.Checkout(r.Context(), actor, serviceID, req)
	if err != nil {
		writeServiceError(w, "checkout", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// PayHandler funds escrow from the client's wallet.
func (h *Handler) PayHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}

	result, err := h.service.Pay(r.Context(), actor, orderID)
	if err != nil {
		writeServiceError(w, "pay", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DeliverHandler submits work for an active order.
func (h *Handler) DeliverHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}
	var req domain.DeliverRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.Deliver(r.Context(), actor, orderID, req)
	if err != nil {
		writeServiceError(w, "deliver", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ApproveHandler accepts a delivery and releases escrow.
func (h *Handler) ApproveHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}

	result, err := h.service.Approve(r.Context(), actor, orderID)
	if err != nil {
		writeServiceError(w, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RequestRevisionHandler sends a delivery back to the freelancer.
func (h *Handler) RequestRevisionHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.RequestRevision(r.Context(), actor, orderID, req.Reason)
	if err != nil {
		writeServiceError(w, "request_revision", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CancelHandler abandons an unpaid order.
func (h *Handler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}

	order, err := h.service.Cancel(r.Context(), actor, orderID)
	if err != nil {
		writeServiceError(w, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: order})
}

// DisputeHandler freezes a funded order for admin review.
func (h *Handler) DisputeHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.service.Dispute(r.Context(), actor, orderID, req.Reason)
	if err != nil {
		writeServiceError(w, "dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: order})
}

// GetOrderHandler returns one order to its parties.
func (h *Handler) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), actor, orderID)
	if err != nil {
		writeServiceError(w, "get_order", err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: order})
}

// ListDeliverablesHandler returns the delivery history of an order.
func (h *Handler) ListDeliverablesHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}

	deliverables, err := h.service.ListDeliverables(r.Context(), actor, orderID)
	if err != nil {
		writeServiceError(w, "list_deliverables", err)
		return
	}
	if deliverables == nil {
		deliverables = []domain.Deliverable{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deliverables": deliverables})
}

// ListMyOrdersHandler returns the caller's purchases.
func (h *Handler) ListMyOrdersHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orders, err := h.service.ListClientOrders(r.Context(), actor, queryLimit(r))
	if err != nil {
		writeServiceError(w, "list_my_orders", err)
		return
	}
	writeOrders(w, orders)
}

// ListSellingOrdersHandler returns the orders the caller is fulfilling.
func (h *Handler) ListSellingOrdersHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orders, err := h.service.ListFreelancerOrders(r.Context(), actor, queryLimit(r))
	if err != nil {
		writeServiceError(w, "list_selling_orders", err)
		return
	}
	writeOrders(w, orders)
}

func writeOrders(w http.ResponseWriter, orders []domain.Order) {
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// SubmitReviewHandler rates a completed order.
func (h *Handler) SubmitReviewHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}
	var req domain.ReviewRequest
	if !decodeBody(w, r, &req) {
		return
	}

	review, err := h.service.SubmitReview(r.Context(), actor, orderID, req)
	if err != nil {
		writeServiceError(w, "submit_review", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"review": review})
}

// ListServiceReviewsHandler is public.
func (h *Handler) ListServiceReviewsHandler(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := pathUUID(w, r, "serviceId")
	if !ok {
		return
	}
	reviews, err := h.service.ListServiceReviews(r.Context(), serviceID, queryLimit(r))
	if err != nil {
		writeServiceError(w, "list_service_reviews", err)
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

// RespondToReviewHandler records the freelancer's reply.
func (h *Handler) RespondToReviewHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	reviewID, ok := pathUUID(w, r, "reviewId")
	if !ok {
		return
	}
	var req struct {
		Response string `json:"response"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	review, err := h.service.RespondToReview(r.Context(), actor, reviewID, req.Response)
	if err != nil {
		writeServiceError(w, "respond_to_review", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"review": review})
}

// WalletBalanceHandler returns the caller's wallet.
func (h *Handler) WalletBalanceHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	balance, err := h.service.GetWalletBalance(r.Context(), actor)
	if err != nil {
		writeServiceError(w, "wallet_balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// WalletTransactionsHandler returns the caller's ledger entries.
func (h *Handler) WalletTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListWalletTransactions(r.Context(), actor, queryLimit(r))
	if err != nil {
		writeServiceError(w, "wallet_transactions", err)
		return
	}
	if entries == nil {
		entries = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": entries})
}

// ResolveDisputeHandler settles or refunds a disputed order. Admin only.
func (h *Handler) ResolveDisputeHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}
	var req struct {
		Outcome domain.DisputeOutcome `json:"outcome"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.ResolveDispute(r.Context(), actor, orderID, req.Outcome)
	if err != nil {
		writeServiceError(w, "resolve_dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RefundHandler returns escrow to the client. Admin only.
func (h *Handler) RefundHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}

	order, err := h.service.Refund(r.Context(), actor, orderID)
	if err != nil {
		writeServiceError(w, "refund", err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: order})
}

// InternalCreditWalletHandler records an upstream deposit.
func (h *Handler) InternalCreditWalletHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userId")
	if !ok {
		return
	}
	var req domain.WalletCreditRequest
	if !decodeBody(w, r, &req) {
		return
	}

	balance, err := h.service.CreditWallet(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, "internal_credit_wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// InternalExternalPaymentHandler funds escrow from a gateway capture.
func (h *Handler) InternalExternalPaymentHandler(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathUUID(w, r, "orderId")
	if !ok {
		return
	}
	var req domain.ExternalPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.ConfirmExternalPayment(r.Context(), orderID, req)
	if err != nil {
		writeServiceError(w, "internal_external_payment", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// InternalRunAutoReleaseHandler runs one sweep on demand.
func (h *Handler) InternalRunAutoReleaseHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ProcessAutoReleaseOrders(r.Context())
	if err != nil {
		writeServiceError(w, "internal_auto_release", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
