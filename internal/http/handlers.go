package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kakeibo/internal/core"
	"kakeibo/internal/store"
)

type (
	statusResponse struct {
		Degraded bool         `json:"degraded"`
		Loaded   bool         `json:"loaded"`
		Parties  core.Parties `json:"parties"`
	}

	createExpenseRequest struct {
		Payer  string `json:"payer" validate:"max=64"`
		Date   string `json:"date" validate:"max=10"`
		Item   string `json:"item"`
		Amount string `json:"amount" validate:"max=32"`
		// Ratio is a pointer so an omitted ratio is told apart from 0.
		Ratio         *int   `json:"ratio" validate:"required"`
		MajorCategory string `json:"majorCategory" validate:"max=64"`
		SubCategory   string `json:"subCategory" validate:"max=64"`
	}

	deleteExpensesRequest struct {
		IDs []string `json:"ids" validate:"required,min=1,max=500,dive,required,max=64"`
	}

	deleteExpensesResponse struct {
		Deleted int `json:"deleted"`
	}

	reduceFormRequest struct {
		State core.FormState `json:"state"`
		Field string         `json:"field" validate:"required,oneof=payer date item amount ratio majorCategory subCategory reset"`
		Value string         `json:"value" validate:"max=200"`
	}

	settledResponse struct {
		Month   string `json:"month"`
		Settled bool   `json:"settled"`
	}

	periodQuery struct {
		StartYear  int `json:"startYear" validate:"min=1,max=9999"`
		StartMonth int `json:"startMonth" validate:"min=1,max=12"`
		EndYear    int `json:"endYear" validate:"min=1,max=9999"`
		EndMonth   int `json:"endMonth" validate:"min=1,max=12"`
	}

	monthQuery struct {
		Month string `json:"month" validate:"month_key"`
	}
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady fails while the store is unavailable so the instance is taken out of rotation.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Degraded() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Degraded: s.Degraded(),
		Loaded:   s.view.Loaded(),
		Parties:  s.ledger.Parties(),
	})
}

func (s *Server) handleTaxonomy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Taxonomy().Categories())
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Taxonomy().DefaultFormState(s.ledger.Parties(), s.now()))
}

func (s *Server) handleReduceForm(w http.ResponseWriter, r *http.Request) {
	var req reduceFormRequest
	if err := s.decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	action := core.FormAction{Field: core.FormField(req.Field), Value: sanitizeInput(req.Value)}
	state := s.ledger.Taxonomy().Reduce(req.State, action, s.ledger.Parties(), s.now())
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req createExpenseRequest
	if err := s.decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.ledger.CreateExpense(r.Context(), core.ExpenseInput{
		Payer:         sanitizeInput(req.Payer),
		Date:          sanitizeInput(req.Date),
		Item:          sanitizeInput(req.Item),
		Amount:        sanitizeInput(req.Amount),
		Ratio:         *req.Ratio,
		MajorCategory: sanitizeInput(req.MajorCategory),
		SubCategory:   sanitizeInput(req.SubCategory),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteExpenses(w http.ResponseWriter, r *http.Request) {
	var req deleteExpensesRequest
	if err := s.decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	deleted, err := s.ledger.DeleteExpenses(r.Context(), req.IDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteExpensesResponse{Deleted: deleted})
}

func (s *Server) handleInquiry(w http.ResponseWriter, r *http.Request) {
	p, err := s.parsePeriod(r, s.view.DefaultInquiryPeriod())
	if err != nil {
		writeError(w, r, err)
		return
	}
	inquiry, err := s.view.Inquiry(p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inquiry)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	p, err := s.parsePeriod(r, s.view.DefaultHistoryPeriod())
	if err != nil {
		writeError(w, r, err)
		return
	}
	history, err := s.view.History(p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	if s.view.Degraded() {
		writeError(w, r, store.ErrUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.view.Status())
}

func (s *Server) handleMarkSettled(w http.ResponseWriter, r *http.Request) {
	month := strings.TrimSpace(r.PathValue("month"))
	if err := s.ledger.MarkSettled(r.Context(), month); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settledResponse{Month: month, Settled: true})
}

// decodeAndValidate decodes the JSON body into dst and applies its tag rules.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := decodeJSON(w, r, dst); err != nil {
		return err
	}
	return s.check(dst)
}

func (s *Server) check(dst any) error {
	err := validateStruct(s.validate, dst)
	if ve, ok := err.(*core.ValidationError); ok {
		s.metrics.ValidationFailed(ve.Field)
	}
	return err
}

// parsePeriod reads startYear/startMonth/endYear/endMonth from the query,
// filling gaps from def, or a single month=YYYY-MM. A start after the end
// drags the end up to the start.
func (s *Server) parsePeriod(r *http.Request, def core.Period) (core.Period, error) {
	q := r.URL.Query()

	if raw := strings.TrimSpace(q.Get("month")); raw != "" {
		if err := s.check(monthQuery{Month: raw}); err != nil {
			return core.Period{}, err
		}
		t, _ := time.Parse(core.MonthKeyLayout, raw)
		return core.Period{StartYear: t.Year(), StartMonth: int(t.Month()), EndYear: t.Year(), EndMonth: int(t.Month())}, nil
	}

	pq := periodQuery{
		StartYear:  def.StartYear,
		StartMonth: def.StartMonth,
		EndYear:    def.EndYear,
		EndMonth:   def.EndMonth,
	}
	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"startYear", &pq.StartYear},
		{"startMonth", &pq.StartMonth},
		{"endYear", &pq.EndYear},
		{"endMonth", &pq.EndMonth},
	} {
		raw := strings.TrimSpace(q.Get(f.name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return core.Period{}, &core.ValidationError{Field: f.name, Reason: fmt.Sprintf("%q is not a number", raw)}
		}
		*f.dst = n
	}
	if err := s.check(pq); err != nil {
		return core.Period{}, err
	}

	p := core.Period{StartYear: pq.StartYear, StartMonth: pq.StartMonth, EndYear: pq.EndYear, EndMonth: pq.EndMonth}
	return p.Clamp(), nil
}
