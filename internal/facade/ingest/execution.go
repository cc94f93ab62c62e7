package ingest

import (
	"fmt"
	"strconv"
	"strings"
)

// ExecutionRecord is a derived, executed-trade view over an order_placed or
// order-placed-like execution_result event.
type ExecutionRecord struct {
	TraceID     string
	WorkflowID  string
	SourceBot   string
	Ticker      string
	Side        string
	Action      string
	PriceCents  *int
	Count       *int
	FeeCentsEst *int
	Status      string
	Summary     string
	TS          string
}

// completeResultStatuses are the execution_result payload statuses counted
// as an executed trade alongside a direct order_placed event.
var completeResultStatuses = map[string]bool{
	"complete_fill":              true,
	"partial_fill_unwound":       true,
	"partial_fill_unwind_failed": true,
}

// ExtractExecution reports whether e represents an executed trade and, if
// so, the derived record. kind == "order_placed" always qualifies;
// kind == "execution_result" qualifies only when its payload status is
// order_placed or one of the complete-result statuses.
func ExtractExecution(e Event) (*ExecutionRecord, bool) {
	switch e.Kind {
	case "order_placed":
	case "execution_result":
		status, _ := e.Raw["status"].(string)
		result, _ := e.Raw["result"].(string)
		if status != "order_placed" && !completeResultStatuses[result] {
			return nil, false
		}
	default:
		return nil, false
	}

	ticker, _ := e.Raw["ticker"].(string)
	side, _ := e.Raw["side"].(string)
	action, _ := e.Raw["action"].(string)
	status, _ := e.Raw["status"].(string)

	rec := &ExecutionRecord{
		TraceID:     e.TraceID,
		WorkflowID:  e.WorkflowID,
		SourceBot:   e.Bot,
		Ticker:      ticker,
		Side:        side,
		Action:      action,
		PriceCents:  safeInt(e.Raw["price_cents"]),
		Count:       safeInt(e.Raw["count"]),
		FeeCentsEst: safeInt(e.Raw["fee_cents_est"]),
		Status:      status,
		TS:          e.TS.Format("2006-01-02T15:04:05Z07:00"),
	}
	rec.Summary = summarize(rec)
	return rec, true
}

func summarize(r *ExecutionRecord) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(strings.Join([]string{r.Side, r.Ticker}, " ")))
	if r.PriceCents != nil {
		fmt.Fprintf(&b, " @ %d¢", *r.PriceCents)
	}
	if r.Count != nil {
		fmt.Fprintf(&b, " x%d", *r.Count)
	}
	return strings.TrimSpace(b.String())
}

// safeInt accepts a JSON number, a numeric string, or nil/anything else
// (returning nil for the latter) — trade journals sometimes quote numeric
// fields.
func safeInt(v any) *int {
	switch n := v.(type) {
	case float64:
		i := int(n)
		return &i
	case string:
		n = strings.TrimSpace(n)
		if n == "" {
			return nil
		}
		i, err := strconv.Atoi(n)
		if err != nil {
			return nil
		}
		return &i
	default:
		return nil
	}
}
