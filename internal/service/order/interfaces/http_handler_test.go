package interfaces

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fooddelivery/internal/service/order/domain"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"
)

var testSecret = []byte("test-secret")

func init() {
	gin.SetMode(gin.TestMode)
	if err := RegisterValidators(); err != nil {
		panic(err)
	}
}

func testOrder(id int64, status domain.Status) *domain.Order {
	chat := int64(5000 + id)
	return &domain.Order{
		ID:             id,
		DisplayID:      "A-100",
		CustomerChatID: &chat,
		Status:         status,
		PaymentStatus:  domain.PaymentPending,
		TotalAmount:    decimal.RequireFromString("12.00"),
		CreatedAt:      time.Now(),
	}
}

func newTestRouter(svc StatusService) *gin.Engine {
	r := gin.New()
	NewOrderHandler(svc, noop.NewTracerProvider().Tracer("test")).RegisterRoutes(r, JWTAuth(testSecret))
	return r
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	claims := ActorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func do(r http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChangeStatusEndpoint(t *testing.T) {
	owned := testOrder(3, domain.StatusNew)
	owner := int64(55)
	owned.UserID = &owner
	svc := newFakeStatusService(testOrder(1, domain.StatusNew), testOrder(2, domain.StatusNew), owned)
	r := newTestRouter(svc)
	admin := token(t, "7", "admin")

	tests := []struct {
		name   string
		path   string
		bearer string
		body   any
		code   int
	}{
		{"accepted by admin", "/api/orders/1/status", admin, map[string]any{"status": "accepted", "comment": "ok"}, http.StatusOK},
		{"same request again is a no-op", "/api/orders/1/status", admin, map[string]any{"status": "accepted"}, http.StatusConflict},
		{"role not permitted", "/api/orders/2/status", admin, map[string]any{"status": "delivered"}, http.StatusConflict},
		{"unknown status rejected by validation", "/api/orders/2/status", admin, map[string]any{"status": "teleported"}, http.StatusBadRequest},
		{"missing order", "/api/orders/99/status", admin, map[string]any{"status": "accepted"}, http.StatusNotFound},
		{"bad id", "/api/orders/x/status", admin, map[string]any{"status": "accepted"}, http.StatusBadRequest},
		{"no token", "/api/orders/2/status", "", map[string]any{"status": "accepted"}, http.StatusUnauthorized},
		{"unknown role", "/api/orders/2/status", token(t, "7", "janitor"), map[string]any{"status": "accepted"}, http.StatusForbidden},
		{"system role is not issued to callers", "/api/orders/2/status", token(t, "7", "system"), map[string]any{"status": "cancelled"}, http.StatusForbidden},
		{"customer cannot cancel someone else's order", "/api/orders/3/status", token(t, "424242", "user"), map[string]any{"status": "cancelled"}, http.StatusForbidden},
		{"customer without subject cannot cancel", "/api/orders/3/status", token(t, "", "user"), map[string]any{"status": "cancelled"}, http.StatusForbidden},
		{"customer cancels own order", "/api/orders/3/status", token(t, "55", "user"), map[string]any{"status": "cancelled"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, tt.path, tt.bearer, tt.body)
			if w.Code != tt.code {
				t.Fatalf("code = %d, want %d, body = %s", w.Code, tt.code, w.Body.String())
			}
		})
	}

	if len(svc.calls) == 0 || svc.calls[0].ActorUserID == nil || *svc.calls[0].ActorUserID != 7 {
		t.Fatalf("actor user id was not taken from the token subject: %+v", svc.calls)
	}
	if svc.calls[0].Role != domain.RoleAdmin || svc.calls[0].Comment != "ok" {
		t.Fatalf("unexpected change context %+v", svc.calls[0])
	}
	if got := svc.orders[2].Status; got != domain.StatusNew {
		t.Fatalf("order 2 status = %s, rejected callers must not change it", got)
	}
	for _, cc := range svc.calls {
		if cc.Role == domain.RoleSystem {
			t.Fatalf("system change context reached the service: %+v", cc)
		}
	}
}

func TestCustomerSeesOnlyOwnOrder(t *testing.T) {
	o := testOrder(1, domain.StatusNew)
	owner := int64(55)
	o.UserID = &owner
	r := newTestRouter(newFakeStatusService(o))

	for _, path := range []string{"/api/orders/1/history", "/api/orders/1/transitions"} {
		if w := do(r, http.MethodGet, path, token(t, "424242", "user"), nil); w.Code != http.StatusForbidden {
			t.Fatalf("%s stranger code = %d", path, w.Code)
		}
		if w := do(r, http.MethodGet, path, token(t, "55", "user"), nil); w.Code != http.StatusOK {
			t.Fatalf("%s owner code = %d", path, w.Code)
		}
	}
}

func TestChangeStatusEndpointStorageErrorAsksForRetry(t *testing.T) {
	svc := newFakeStatusService(testOrder(1, domain.StatusNew))
	svc.err = errStorage
	w := do(newTestRouter(svc), http.MethodPost, "/api/orders/1/status", token(t, "7", "admin"), map[string]any{"status": "accepted"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", w.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["error"] != "retry" {
		t.Fatalf("body = %v", body)
	}
}

func TestHistoryAndTransitionsEndpoints(t *testing.T) {
	svc := newFakeStatusService(testOrder(1, domain.StatusNew))
	r := newTestRouter(svc)
	admin := token(t, "7", "admin")

	do(r, http.MethodPost, "/api/orders/1/status", admin, map[string]any{"status": "accepted"})
	do(r, http.MethodPost, "/api/orders/1/status", admin, map[string]any{"status": "sent_to_kitchen"})

	w := do(r, http.MethodGet, "/api/orders/1/history", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history code = %d", w.Code)
	}
	var hist struct {
		Items []struct {
			Status         string `json:"status"`
			PreviousStatus string `json:"previousStatus"`
		} `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Items) != 2 || hist.Items[0].Status != "sent_to_kitchen" || hist.Items[1].PreviousStatus != "new" {
		t.Fatalf("history = %+v", hist.Items)
	}

	w = do(r, http.MethodGet, "/api/orders/1/history?status=accepted", admin, nil)
	_ = json.Unmarshal(w.Body.Bytes(), &hist)
	if len(hist.Items) != 1 || hist.Items[0].Status != "accepted" {
		t.Fatalf("filtered history = %+v", hist.Items)
	}

	if w := do(r, http.MethodGet, "/api/orders/1/history?role=janitor", admin, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid role filter code = %d", w.Code)
	}

	w = do(r, http.MethodGet, "/api/orders/1/transitions", token(t, "9", "kitchen"), nil)
	var tr struct {
		Targets []string `json:"targets"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &tr)
	if len(tr.Targets) != 1 || tr.Targets[0] != "kitchen_accepted" {
		t.Fatalf("kitchen targets = %v", tr.Targets)
	}

	if w := do(r, http.MethodGet, "/api/orders/42/transitions", admin, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing order code = %d", w.Code)
	}
}
