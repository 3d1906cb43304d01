package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kakeibo/internal/core"
	"kakeibo/internal/services"
	"kakeibo/internal/store"
	"kakeibo/internal/store/memory"
)

var testNow = time.Date(2024, 3, 18, 9, 30, 0, 0, time.UTC)

func newTestServer(t *testing.T, cfg ServerConfig, expenses ...core.Expense) *Server {
	t.Helper()
	live, err := store.NewLive(context.Background(), memory.NewWithExpenses(expenses), nil)
	if err != nil {
		t.Fatalf("NewLive: %v", err)
	}
	parties := core.DefaultParties()
	ledger := services.NewLedgerService(live, nil, parties, nil, nil, nil)
	view := services.NewLedgerView(live, parties, nil)
	if err := view.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(view.Close)

	srv := NewServer(cfg, ledger, view, nil, nil)
	srv.now = func() time.Time { return testNow }
	t.Cleanup(srv.rateLimiter.stop)
	return srv
}

func newDegradedServer(t *testing.T) *Server {
	t.Helper()
	parties := core.DefaultParties()
	srv := NewServer(DefaultServerConfig(":0"),
		services.NewLedgerService(nil, nil, parties, nil, nil, nil),
		services.NewLedgerView(nil, parties, nil),
		nil, nil)
	t.Cleanup(srv.rateLimiter.stop)
	return srv
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func spent(date, payer, amount string, ratio int, major, sub string, purpose core.Purpose) core.Expense {
	d, err := core.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return core.Expense{
		Payer: payer, Date: d, Item: "item", Amount: decimal.RequireFromString(amount), Ratio: ratio,
		MajorCategory: major, SubCategory: sub, Purpose: purpose,
	}
}

const validExpense = `{"payer":"久喜さん","date":"2024-03-15","item":"スーパー","amount":"3000","ratio":5,"majorCategory":"食費","subCategory":"食材"}`

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, DefaultServerConfig(":0"))
	for _, path := range []string{"/healthz", "/readyz"} {
		if rr := do(t, srv, http.MethodGet, path, ""); rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	status := decode[statusResponse](t, do(t, srv, http.MethodGet, "/api/status", ""))
	if status.Degraded || !status.Loaded || status.Parties != core.DefaultParties() {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestDegradedServer(t *testing.T) {
	srv := newDegradedServer(t)

	rr := do(t, srv, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "degraded") {
		t.Fatalf("readyz: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, srv, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz should stay up while degraded, got %d", rr.Code)
	}

	status := decode[statusResponse](t, do(t, srv, http.MethodGet, "/api/status", ""))
	if !status.Degraded || status.Loaded {
		t.Fatalf("unexpected status: %+v", status)
	}

	tests := []struct {
		method, target, body string
	}{
		{http.MethodPost, "/api/expenses", validExpense},
		{http.MethodDelete, "/api/expenses", `{"ids":["a"]}`},
		{http.MethodPut, "/api/settlements/2024-03", ""},
		{http.MethodGet, "/api/inquiry", ""},
		{http.MethodGet, "/api/history", ""},
		{http.MethodGet, "/api/settlements", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rr := do(t, srv, tt.method, tt.target, tt.body)
			if rr.Code != http.StatusServiceUnavailable {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			if resp := decode[errorResponse](t, rr); resp.Error != "expense store is unavailable" {
				t.Fatalf("error = %q", resp.Error)
			}
		})
	}

	// The taxonomy and the blank form need no store.
	if rr := do(t, srv, http.MethodGet, "/api/form", ""); rr.Code != http.StatusOK {
		t.Fatalf("form while degraded: %d", rr.Code)
	}
}

func TestCreateExpense(t *testing.T) {
	srv := newTestServer(t, DefaultServerConfig(":0"))

	rr := do(t, srv, http.MethodPost, "/api/expenses", validExpense)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	created := decode[core.Expense](t, rr)
	if created.ID == "" || created.Purpose != core.PurposeConsumption || !created.Amount.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("unexpected expense: %+v", created)
	}

	inquiry := decode[services.Inquiry](t, do(t, srv, http.MethodGet, "/api/inquiry?month=2024-03", ""))
	if inquiry.Count != 1 || inquiry.Message != "真那実さん owes 久喜さん ¥1,500" {
		t.Fatalf("unexpected inquiry: count=%d message=%q", inquiry.Count, inquiry.Message)
	}
}

func TestCreateExpenseRejectsBadInput(t *testing.T) {
	srv := newTestServer(t, DefaultServerConfig(":0"))

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantField string
		wantError string
	}{
		{
			name:     "malformed json",
			body:     `{"payer":`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown field",
			body:     `{"payer":"久喜さん","purpose":"投資","ratio":5}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:      "missing ratio",
			body:      `{"payer":"久喜さん","date":"2024-03-15","item":"x","amount":"1","majorCategory":"食費","subCategory":"食材"}`,
			wantCode:  http.StatusUnprocessableEntity,
			wantField: "ratio",
			wantError: "invalid ratio: ratio is required",
		},
		{
			name:      "empty item",
			body:      strings.Replace(validExpense, "スーパー", "  ", 1),
			wantCode:  http.StatusUnprocessableEntity,
			wantField: "item",
			wantError: "invalid item: item is required",
		},
		{
			name:      "unknown payer",
			body:      strings.Replace(validExpense, "久喜さん", "someone", 1),
			wantCode:  http.StatusUnprocessableEntity,
			wantField: "payer",
		},
		{
			name:      "ratio out of range",
			body:      strings.Replace(validExpense, `"ratio":5`, `"ratio":11`, 1),
			wantCode:  http.StatusUnprocessableEntity,
			wantField: "ratio",
		},
		{
			name:      "category outside taxonomy",
			body:      strings.Replace(validExpense, "食材", "ラーメン", 1),
			wantCode:  http.StatusUnprocessableEntity,
			wantField: "subCategory",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/expenses", tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.wantCode, rr.Body.String())
			}
			resp := decode[errorResponse](t, rr)
			if resp.Field != tt.wantField {
				t.Errorf("field = %q, want %q", resp.Field, tt.wantField)
			}
			if tt.wantError != "" && resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
			if resp.RequestID == "" {
				t.Error("error response should carry the request id")
			}
		})
	}

	if len(srv.view.Expenses()) != 0 {
		t.Fatal("rejected submissions must not reach the store")
	}
}

func TestDeleteExpenses(t *testing.T) {
	p := core.DefaultParties()
	srv := newTestServer(t, DefaultServerConfig(":0"),
		spent("2024-03-05", p.B, "1000", 5, "食費", "食材", core.PurposeConsumption),
		spent("2024-03-06", p.A, "200", 5, "食費", "外食", core.PurposeWaste),
	)
	existing := srv.view.Expenses()
	if len(existing) != 2 {
		t.Fatalf("seeded %d expenses", len(existing))
	}

	rr := do(t, srv, http.MethodDelete, "/api/expenses", `{"ids":["`+existing[0].ID+`","missing"]}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("unknown id: status=%d body=%s", rr.Code, rr.Body.String())
	}
	if resp := decode[errorResponse](t, rr); resp.Error != "one or more expenses no longer exist" {
		t.Fatalf("error = %q", resp.Error)
	}
	if len(srv.view.Expenses()) != 2 {
		t.Fatal("a failed batch must not remove anything")
	}

	rr = do(t, srv, http.MethodDelete, "/api/expenses", `{"ids":["`+existing[0].ID+`","`+existing[0].ID+`"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if resp := decode[deleteExpensesResponse](t, rr); resp.Deleted != 1 {
		t.Fatalf("deleted = %d", resp.Deleted)
	}
	if got := srv.view.Expenses(); len(got) != 1 || got[0].ID != existing[1].ID {
		t.Fatalf("remaining = %+v", got)
	}

	for _, body := range []string{`{"ids":[]}`, `{"ids":[""]}`, `{}`} {
		if rr := do(t, srv, http.MethodDelete, "/api/expenses", body); rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: status=%d", body, rr.Code)
		}
	}
}

func TestMarkSettled(t *testing.T) {
	p := core.DefaultParties()
	srv := newTestServer(t, DefaultServerConfig(":0"),
		spent("2024-01-10", p.B, "1000", 5, "食費", "食材", core.PurposeConsumption),
		spent("2024-03-05", p.B, "1000", 5, "食費", "食材", core.PurposeConsumption),
	)

	rr := do(t, srv, http.MethodPut, "/api/settlements/2024-03", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if resp := decode[settledResponse](t, rr); resp.Month != "2024-03" || !resp.Settled {
		t.Fatalf("unexpected response: %+v", resp)
	}

	status := decode[core.SettlementStatus](t, do(t, srv, http.MethodGet, "/api/settlements", ""))
	if !status["2024-03"] {
		t.Fatalf("status = %v", status)
	}

	history := decode[services.History](t, do(t, srv, http.MethodGet, "/api/history?startYear=2024&startMonth=1&endYear=2024&endMonth=12", ""))
	if len(history.UnsettledMonths) != 1 || history.UnsettledMonths[0] != "2024-01" {
		t.Fatalf("unsettled months = %v", history.UnsettledMonths)
	}
	if len(history.Expenses) != 2 {
		t.Fatalf("history expenses = %d", len(history.Expenses))
	}

	if rr := do(t, srv, http.MethodPut, "/api/settlements/2024-13", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad month: status=%d", rr.Code)
	}
}

func TestPeriodQuery(t *testing.T) {
	p := core.DefaultParties()
	srv := newTestServer(t, DefaultServerConfig(":0"),
		spent("2024-03-05", p.B, "1000", 5, "食費", "食材", core.PurposeConsumption),
		spent("2024-05-20", p.B, "600", 10, "娯楽", "交通費", core.PurposeWaste),
	)

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
		wantField string
	}{
		{name: "explicit range", query: "startYear=2024&startMonth=3&endYear=2024&endMonth=5", wantCode: 200, wantCount: 2},
		{name: "start after end is clamped", query: "startYear=2024&startMonth=5&endYear=2024&endMonth=3", wantCode: 200, wantCount: 1},
		{name: "single month", query: "month=2024-03", wantCode: 200, wantCount: 1},
		{name: "month out of range", query: "startMonth=13", wantCode: 422, wantField: "startMonth"},
		{name: "not a number", query: "endYear=soon", wantCode: 422, wantField: "endYear"},
		{name: "bad month key", query: "month=March", wantCode: 422, wantField: "month"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodGet, "/api/inquiry?"+tt.query, "")
			if rr.Code != tt.wantCode {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				if resp := decode[errorResponse](t, rr); resp.Field != tt.wantField {
					t.Fatalf("field = %q, want %q", resp.Field, tt.wantField)
				}
				return
			}
			if inq := decode[services.Inquiry](t, rr); inq.Count != tt.wantCount {
				t.Fatalf("count = %d, want %d", inq.Count, tt.wantCount)
			}
		})
	}

	clamped := decode[services.Inquiry](t, do(t, srv, http.MethodGet, "/api/inquiry?startYear=2024&startMonth=5&endYear=2024&endMonth=3", ""))
	if clamped.Period.EndMonth != 5 {
		t.Fatalf("clamped period = %+v", clamped.Period)
	}
}

func TestFormEndpoints(t *testing.T) {
	srv := newTestServer(t, DefaultServerConfig(":0"))

	form := decode[core.FormState](t, do(t, srv, http.MethodGet, "/api/form", ""))
	if form.Payer != "久喜さん" || form.Date != "2024-03-18" || form.Ratio != core.DefaultRatio {
		t.Fatalf("unexpected form: %+v", form)
	}
	if form.MajorCategory != "食費" || form.SubCategory != "食材" || form.Purpose != core.PurposeConsumption {
		t.Fatalf("unexpected categories: %+v", form)
	}

	body, _ := json.Marshal(map[string]any{"state": form, "field": "majorCategory", "value": "娯楽"})
	rr := do(t, srv, http.MethodPost, "/api/form/reduce", string(body))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	next := decode[core.FormState](t, rr)
	if next.MajorCategory != "娯楽" || next.SubCategory != "交通費" || next.Purpose != core.PurposeWaste {
		t.Fatalf("unexpected reduced form: %+v", next)
	}

	rr = do(t, srv, http.MethodPost, "/api/form/reduce", `{"field":"purpose","value":"投資"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown field: status=%d", rr.Code)
	}

	taxonomy := decode[[]core.Category](t, do(t, srv, http.MethodGet, "/api/taxonomy", ""))
	if len(taxonomy) != 5 || taxonomy[0].Name != "食費" {
		t.Fatalf("unexpected taxonomy: %+v", taxonomy)
	}
}

func TestMiddleware(t *testing.T) {
	cfg := DefaultServerConfig(":0")
	cfg.RateLimit = 2
	srv := newTestServer(t, cfg)

	rr := do(t, srv, http.MethodGet, "/api/status", "")
	for _, h := range []string{"X-Request-ID", "X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy"} {
		if rr.Header().Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}

	for i := 0; i < 2; i++ {
		if rr := do(t, srv, http.MethodPut, "/api/settlements/2024-03", ""); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status=%d", i, rr.Code)
		}
	}
	rr = do(t, srv, http.MethodPut, "/api/settlements/2024-03", "")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rr.Code)
	}
	for i := 0; i < 5; i++ {
		if rr := do(t, srv, http.MethodPost, "/api/form/reduce", `{"field":"reset"}`); rr.Code != http.StatusOK {
			t.Fatalf("form reduce %d: status=%d", i, rr.Code)
		}
	}
	if rr := do(t, srv, http.MethodGet, "/api/status", ""); rr.Code != http.StatusOK {
		t.Fatalf("reads are not rate limited, got %d", rr.Code)
	}

	if rr := do(t, srv, http.MethodGet, "/api/expenses", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/nope", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestShutdownTwice(t *testing.T) {
	srv := newTestServer(t, DefaultServerConfig(":0"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}
