package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kakeibo/internal/core"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// fakeSheets implements the handful of Sheets REST calls the client makes.
type fakeSheets struct {
	mu     sync.Mutex
	ids    map[string]int64
	data   map[string][][]any
	writes int
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{
		ids:  map[string]int64{"Expenses": 0, "Settlements": 7},
		data: map[string][][]any{},
	}
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case strings.Contains(path, "/values/") && r.Method == http.MethodGet:
		sheet, _, _ := strings.Cut(path[strings.Index(path, "/values/")+len("/values/"):], "!")
		var col [][]any
		for _, row := range f.data[sheet] {
			if len(row) == 0 {
				col = append(col, []any{})
				continue
			}
			col = append(col, []any{row[0]})
		}
		writeJSON(w, map[string]any{"values": col})

	case strings.Contains(path, "/values/") && r.Method == http.MethodPut:
		rng := path[strings.Index(path, "/values/")+len("/values/"):]
		sheet, cells, _ := strings.Cut(rng, "!")
		start, _, _ := strings.Cut(cells, ":")
		row, _ := strconv.Atoi(strings.TrimPrefix(start, "A"))
		var vr gsheet.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for len(f.data[sheet]) < row {
			f.data[sheet] = append(f.data[sheet], []any{})
		}
		f.data[sheet][row-1] = vr.Values[0]
		f.writes++
		writeJSON(w, map[string]any{"updatedRows": 1})

	case strings.HasSuffix(path, ":batchUpdate"):
		var req gsheet.BatchUpdateSpreadsheetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, q := range req.Requests {
			dr := q.DeleteDimension.Range
			for title, id := range f.ids {
				if id == dr.SheetId {
					f.data[title] = slices.Delete(f.data[title], int(dr.StartIndex), int(dr.EndIndex))
				}
			}
		}
		writeJSON(w, map[string]any{})

	case r.Method == http.MethodGet:
		var sheets []map[string]any
		for title, id := range f.ids {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"sheetId": id, "title": title}})
		}
		writeJSON(w, map[string]any{"sheets": sheets})

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeSheets) rows(sheet string) [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.data[sheet])
}

func (f *fakeSheets) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// slowReads holds each key-column read for delay before answering, widening
// the gap between a read and the write that follows it.
type slowReads struct {
	next  http.Handler
	delay time.Duration
}

func (s slowReads) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := httptest.NewRecorder()
	s.next.ServeHTTP(rec, r)
	if r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/values/") {
		time.Sleep(s.delay)
	}
	for k, v := range rec.Header() {
		w.Header()[k] = v
	}
	w.WriteHeader(rec.Code)
	w.Write(rec.Body.Bytes())
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	return newTestClientWith(t, fake)
}

func newTestClientWith(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return newClient(svc, Config{SpreadsheetID: "sheet-1"}, nil)
}

func expense(id string) core.Expense {
	return core.Expense{
		ID: id, Payer: "久喜さん", Date: core.NewDate(2024, 3, 15), Item: "スーパー",
		Amount: decimal.NewFromInt(3000), Ratio: 5, MajorCategory: "食費", SubCategory: "食材",
		Purpose: core.PurposeConsumption,
	}
}

func TestAppendExpenseSkipsExistingRows(t *testing.T) {
	fake := newFakeSheets()
	fake.data["Expenses"] = [][]any{{"id", "date"}}
	c := newTestClient(t, fake)
	ctx := context.Background()

	ref, err := c.AppendExpense(ctx, expense("a"))
	if err != nil {
		t.Fatalf("AppendExpense: %v", err)
	}
	if ref != "Expenses!A2:I2" {
		t.Fatalf("ref = %q", ref)
	}
	ref, err = c.AppendExpense(ctx, expense("a"))
	if err != nil || ref != "Expenses!A2:I2" {
		t.Fatalf("repeat append: ref=%q err=%v", ref, err)
	}
	if n := fake.writeCount(); n != 1 {
		t.Fatalf("writes = %d, want 1", n)
	}

	row := fake.rows("Expenses")[1]
	want := []string{"a", "2024-03-15", "久喜さん", "スーパー", "3000", "5", "食費", "食材", "消費"}
	for i, w := range want {
		if got := fmt.Sprint(row[i]); got != w {
			t.Errorf("column %d = %q, want %q", i, got, w)
		}
	}
}

func TestConcurrentAppendsKeepEveryRow(t *testing.T) {
	fake := newFakeSheets()
	fake.data["Expenses"] = [][]any{{"id", "date"}}
	c := newTestClientWith(t, slowReads{next: fake, delay: 20 * time.Millisecond})

	ids := []string{"a", "b", "c", "d", "e", "f"}
	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.AppendExpense(context.Background(), expense(id)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("AppendExpense: %v", err)
	}

	got := firstColumn(fake.rows("Expenses"))[1:]
	slices.Sort(got)
	if !slices.Equal(got, ids) {
		t.Fatalf("mirrored ids = %v, want %v", got, ids)
	}
}

func TestDeleteExpensesRemovesMatchingRows(t *testing.T) {
	fake := newFakeSheets()
	fake.data["Expenses"] = [][]any{{"id"}, {"a"}, {"b"}, {"c"}, {"d"}}
	c := newTestClient(t, fake)

	n, err := c.DeleteExpenses(context.Background(), []string{"b", "d", "gone"})
	if err != nil {
		t.Fatalf("DeleteExpenses: %v", err)
	}
	if n != 2 {
		t.Fatalf("removed = %d, want 2", n)
	}
	got := firstColumn(fake.rows("Expenses"))
	if !slices.Equal(got, []string{"id", "a", "c"}) {
		t.Fatalf("remaining rows = %v", got)
	}

	n, err = c.DeleteExpenses(context.Background(), []string{"b"})
	if err != nil || n != 0 {
		t.Fatalf("repeat delete: n=%d err=%v", n, err)
	}
}

func TestUpsertSettlement(t *testing.T) {
	fake := newFakeSheets()
	fake.data["Settlements"] = [][]any{{"month", "settled", "timestamp"}, {"2024-02", true, "x"}}
	c := newTestClient(t, fake)
	ctx := context.Background()
	at := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

	if err := c.UpsertSettlement(ctx, "2024-03", true, at); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := c.UpsertSettlement(ctx, "2024-02", false, at); err != nil {
		t.Fatalf("update: %v", err)
	}

	rows := fake.rows("Settlements")
	if len(rows) != 3 {
		t.Fatalf("rows = %v", rows)
	}
	if fmt.Sprint(rows[1]...) != fmt.Sprint("2024-02", false, "2024-04-01T09:00:00Z") {
		t.Errorf("updated row = %v", rows[1])
	}
	if fmt.Sprint(rows[2][0]) != "2024-03" {
		t.Errorf("appended row = %v", rows[2])
	}
}

func TestNewRequiresSpreadsheetAndCredentials(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Config{}, nil); err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := New(ctx, Config{SpreadsheetID: "x"}, nil)
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = New(ctx, Config{SpreadsheetID: "x", CredentialsFile: filepath.Join(t.TempDir(), "none.json")}, nil)
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadCredentialsPrefersInlineJSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(file, []byte(`{"from":"file"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := loadCredentials(Config{CredentialsJSON: `{"from":"env"}`, CredentialsFile: file})
	if err != nil || string(b) != `{"from":"env"}` {
		t.Fatalf("got %s, %v", b, err)
	}
	b, err = loadCredentials(Config{CredentialsFile: file})
	if err != nil || string(b) != `{"from":"file"}` {
		t.Fatalf("got %s, %v", b, err)
	}
}

func TestDefaultSheetNames(t *testing.T) {
	c := newClient(nil, Config{SpreadsheetID: " id "}, nil)
	if c.expensesSheet != "Expenses" || c.settlementsSheet != "Settlements" || c.spreadsheetID != "id" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if _, err := c.AppendExpense(context.Background(), expense("a")); err == nil {
		t.Fatal("expected error without a service")
	}
}
