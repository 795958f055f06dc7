package api

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/transfa/escrow-service/internal/app"
	"github.com/transfa/escrow-service/internal/domain"
	"github.com/transfa/escrow-service/internal/store"
)

const (
	testKID         = "test-key"
	testInternalKey = "internal-secret"
)

type apiFixture struct {
	t          *testing.T
	key        *rsa.PrivateKey
	repo       *store.MemoryRepository
	server     *httptest.Server
	svc        domain.Service
	clientID   uuid.UUID
	freelancer uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kid": testKID,
				"kty": "RSA",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(jwks.Close)

	f := &apiFixture{
		t:          t,
		key:        key,
		repo:       store.NewMemoryRepository(),
		clientID:   uuid.New(),
		freelancer: uuid.New(),
	}
	f.repo.SeedUser("user_client", f.clientID)
	f.repo.SeedUser("user_freelancer", f.freelancer)
	f.repo.SeedUser("user_admin", uuid.New())
	f.svc = domain.Service{
		ID:           uuid.New(),
		FreelancerID: f.freelancer,
		Title:        "Landing page",
		Status:       domain.ServiceStatusPublished,
		Packages: map[domain.PackageTier]domain.PackageTerms{
			domain.PackageBasic: {Title: "Basic", Price: 5000, DeliveryDays: 3, Revisions: 1},
		},
		AddOns: []domain.AddOn{{Title: "Copywriting", Price: 1000, DeliveryDaysExtra: 2}},
	}
	f.repo.SeedService(f.svc)

	service := app.NewService(f.repo, nil, app.Settings{PlatformFeePercent: 15, AutoReleaseAfter: 72 * time.Hour})
	router := NewRouter(NewHandler(service), jwks.URL, testInternalKey, service.Metrics().Handler())
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func (f *apiFixture) token(sub string, claims jwt.MapClaims) string {
	f.t.Helper()
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims["sub"] = sub
	claims["exp"] = time.Now().Add(time.Hour).Unix()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKID
	signed, err := token.SignedString(f.key)
	if err != nil {
		f.t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (f *apiFixture) do(method, path, token string, body interface{}, headers ...string) (*http.Response, map[string]interface{}) {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			f.t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		f.t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		f.t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var payload map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			f.t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp, payload
}

func (f *apiFixture) credit(userID uuid.UUID, amount int64) {
	f.t.Helper()
	resp, _ := f.do(http.MethodPost, "/internal/wallets/"+userID.String()+"/credit", "",
		map[string]interface{}{"amount": amount, "reference": "dep-" + uuid.NewString()},
		"X-Internal-API-Key", testInternalKey)
	if resp.StatusCode != http.StatusOK {
		f.t.Fatalf("expected credit to succeed, got %d", resp.StatusCode)
	}
}

func nested(t *testing.T, payload map[string]interface{}, keys ...string) interface{} {
	t.Helper()
	var current interface{} = payload
	for _, k := range keys {
		m, ok := current.(map[string]interface{})
		if !ok {
			t.Fatalf("expected object at %q in %v", k, payload)
		}
		current = m[k]
	}
	return current
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	client := f.token("user_client", nil)
	freelancer := f.token("user_freelancer", nil)

	resp, body := f.do(http.MethodPost, "/freelancer-orders/checkout/"+f.svc.ID.String(), client, map[string]interface{}{
		"selectedPackage":     "basic",
		"selectedAddOnTitles": []string{"Copywriting"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", resp.StatusCode, body)
	}
	if got := nested(t, body, "breakdown", "total"); got != float64(6900) {
		t.Fatalf("expected total 6900, got %v", got)
	}
	orderID := nested(t, body, "order", "id").(string)

	resp, body = f.do(http.MethodPost, "/freelancer-orders/"+orderID+"/pay", client, nil)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "insufficient_balance" {
		t.Fatalf("expected insufficient_balance, got %d: %v", resp.StatusCode, body)
	}
	if body["shortfall"] != float64(6900) {
		t.Fatalf("expected shortfall 6900, got %v", body["shortfall"])
	}

	f.credit(f.clientID, 10000)
	resp, body = f.do(http.MethodPost, "/freelancer-orders/"+orderID+"/pay", client, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["walletBalance"] != float64(3100) {
		t.Fatalf("expected wallet balance 3100, got %v", body["walletBalance"])
	}

	resp, body = f.do(http.MethodPost, "/freelancer-orders/"+orderID+"/deliver", freelancer, map[string]interface{}{
		"message": "Done",
		"files":   []map[string]string{{"url": "https://cdn.example.com/site.zip", "name": "site.zip"}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["autoReleaseAt"] == nil {
		t.Fatalf("expected autoReleaseAt in response: %v", body)
	}

	resp, body = f.do(http.MethodPost, "/freelancer-orders/"+orderID+"/approve", client, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	if got := nested(t, body, "escrowRelease", "freelancerEarnings"); got != float64(6000) {
		t.Fatalf("expected earnings 6000, got %v", got)
	}

	resp, body = f.do(http.MethodPost, "/freelancer-orders/"+orderID+"/approve", client, nil)
	if resp.StatusCode != http.StatusConflict || body["code"] != "already_settled" {
		t.Fatalf("expected already_settled, got %d: %v", resp.StatusCode, body)
	}

	resp, body = f.do(http.MethodGet, "/freelancer-orders/wallet/balance", freelancer, nil)
	if resp.StatusCode != http.StatusOK || body["totalEarnings"] != float64(6000) {
		t.Fatalf("expected freelancer earnings 6000, got %d: %v", resp.StatusCode, body)
	}

	resp, body = f.do(http.MethodPost, "/freelancer-orders/"+orderID+"/review", client, map[string]interface{}{"rating": 5, "comment": "Great"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", resp.StatusCode, body)
	}

	resp, body = f.do(http.MethodGet, "/freelancer-orders/services/"+f.svc.ID.String()+"/reviews", "", nil)
	if resp.StatusCode != http.StatusOK || body["totalReviews"] != float64(1) {
		t.Fatalf("expected one public review, got %d: %v", resp.StatusCode, body)
	}

	resp, body = f.do(http.MethodGet, "/freelancer-orders/my", client, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if orders := body["orders"].([]interface{}); len(orders) != 1 {
		t.Fatalf("expected one order, got %d", len(orders))
	}
}

func TestErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	client := f.token("user_client", nil)
	freelancer := f.token("user_freelancer", nil)
	checkoutPath := "/freelancer-orders/checkout/" + f.svc.ID.String()

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		status int
		code   string
	}{
		{"self order", http.MethodPost, checkoutPath, freelancer, map[string]string{"selectedPackage": "basic"}, http.StatusBadRequest, "self_order"},
		{"invalid package", http.MethodPost, checkoutPath, client, map[string]string{"selectedPackage": "premium"}, http.StatusBadRequest, "invalid_package"},
		{"bad tier", http.MethodPost, checkoutPath, client, map[string]string{"selectedPackage": "gold"}, http.StatusBadRequest, "validation"},
		{"unknown add-on", http.MethodPost, checkoutPath, client, map[string]interface{}{"selectedPackage": "basic", "selectedAddOnTitles": []string{"Logo"}}, http.StatusBadRequest, "unknown_add_on"},
		{"missing service", http.MethodPost, "/freelancer-orders/checkout/" + uuid.NewString(), client, map[string]string{"selectedPackage": "basic"}, http.StatusNotFound, "service_unavailable"},
		{"missing order", http.MethodGet, "/freelancer-orders/" + uuid.NewString(), client, nil, http.StatusNotFound, "not_found"},
		{"malformed id", http.MethodPost, "/freelancer-orders/not-a-uuid/pay", client, nil, http.StatusBadRequest, "validation"},
		{"unknown user", http.MethodGet, "/freelancer-orders/my", f.token("user_ghost", nil), nil, http.StatusNotFound, "not_found"},
		{"admin only", http.MethodPost, "/freelancer-orders/admin/" + uuid.NewString() + "/refund", client, nil, http.StatusForbidden, "forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(tt.method, tt.path, tt.token, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected status %d, got %d: %v", tt.status, resp.StatusCode, body)
			}
			if body["code"] != tt.code {
				t.Fatalf("expected code %q, got %v", tt.code, body["code"])
			}
		})
	}
}

func TestAdminRoutesHonourRoleClaim(t *testing.T) {
	f := newAPIFixture(t)
	client := f.token("user_client", nil)
	admin := f.token("user_admin", jwt.MapClaims{"metadata": map[string]interface{}{"role": "admin"}})

	_, body := f.do(http.MethodPost, "/freelancer-orders/checkout/"+f.svc.ID.String(), client, map[string]string{"selectedPackage": "basic"})
	orderID := nested(t, body, "order", "id").(string)
	f.credit(f.clientID, 5750)
	if resp, body := f.do(http.MethodPost, "/freelancer-orders/"+orderID+"/pay", client, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected pay to succeed, got %d: %v", resp.StatusCode, body)
	}

	resp, body := f.do(http.MethodPost, "/freelancer-orders/admin/"+orderID+"/refund", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	if got := nested(t, body, "order", "status"); got != string(domain.OrderStatusRefunded) {
		t.Fatalf("expected refunded, got %v", got)
	}

	_, body = f.do(http.MethodGet, "/freelancer-orders/wallet/balance", client, nil)
	if body["availableBalance"] != float64(5750) {
		t.Fatalf("expected refund to restore 5750, got %v", body["availableBalance"])
	}
}

func TestAuthentication(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(http.MethodGet, "/freelancer-orders/my", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	forged := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "user_client", "exp": time.Now().Add(time.Hour).Unix()})
	forged.Header["kid"] = testKID
	signed, err := forged.SignedString(other)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	resp, _ = f.do(http.MethodGet, "/freelancer-orders/my", signed, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", resp.StatusCode)
	}

	resp, _ = f.do(http.MethodPost, "/internal/auto-release/run", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without internal key, got %d", resp.StatusCode)
	}
	resp, body := f.do(http.MethodPost, "/internal/auto-release/run", "", nil, "X-Internal-API-Key", testInternalKey)
	if resp.StatusCode != http.StatusOK || body["processed"] != float64(0) {
		t.Fatalf("expected empty sweep, got %d: %v", resp.StatusCode, body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/metrics", nil)
	metricsResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer metricsResp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(metricsResp.Body)
	if !strings.Contains(buf.String(), "escrow_auto_release_sweep_duration_seconds") {
		t.Fatalf("expected escrow metrics in output")
	}
}

func TestRoleFromClaims(t *testing.T) {
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"top level", jwt.MapClaims{"role": "admin"}, "admin"},
		{"metadata", jwt.MapClaims{"metadata": map[string]interface{}{"role": "freelancer"}}, "freelancer"},
		{"missing", jwt.MapClaims{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := roleFromClaims(tt.claims); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
