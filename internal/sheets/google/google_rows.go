package google

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"kakeibo/internal/core"

	gsheet "google.golang.org/api/sheets/v4"
)

// Column letters of the last cell written per row.
const (
	expenseColumns    = "I"
	settlementColumns = "C"
)

// expenseRow lays e out as id, date, payer, item, amount, ratio, major, sub, purpose.
func expenseRow(e core.Expense) []any {
	return []any{
		e.ID,
		e.Date.String(),
		e.Payer,
		e.Item,
		e.Amount.String(),
		e.Ratio,
		e.MajorCategory,
		e.SubCategory,
		string(e.Purpose),
	}
}

func settlementRow(month string, settled bool, at time.Time) []any {
	return []any{month, settled, at.UTC().Format(time.RFC3339)}
}

func rowRange(sheetName string, row int, lastColumn string) string {
	return fmt.Sprintf("%s!A%d:%s%d", sheetName, row, lastColumn, row)
}

func firstColumn(values [][]any) []string {
	out := make([]string, len(values))
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		out[i] = strings.TrimSpace(fmt.Sprint(row[0]))
	}
	return out
}

func indexOfKey(keys []string, key string) int {
	key = strings.TrimSpace(key)
	if key == "" {
		return -1
	}
	return slices.Index(keys, key)
}

// matchingRows returns the zero-based indexes of keys found in ids, highest first.
func matchingRows(keys, ids []string) []int {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			want[id] = struct{}{}
		}
	}
	var rows []int
	for i, k := range keys {
		if _, ok := want[k]; ok {
			rows = append(rows, i)
		}
	}
	slices.Reverse(rows)
	return rows
}

// deleteRowRequests expects rows highest first so earlier deletions do not
// shift the indexes of later ones.
func deleteRowRequests(sheetID int64, rows []int) []*gsheet.Request {
	reqs := make([]*gsheet.Request, 0, len(rows))
	for _, r := range rows {
		reqs = append(reqs, &gsheet.Request{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(r),
					EndIndex:   int64(r + 1),
				},
			},
		})
	}
	return reqs
}
