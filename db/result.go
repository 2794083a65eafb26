package db

import (
	"fmt"
	"strings"
)

// QueryResult is the uniform outcome of executing one statement through the
// Service. Statement-level backend failures are reported here rather than as
// Go errors, so interactive callers always get timing and type information.
type QueryResult struct {
	QueryType QueryType
	Success   bool

	// Rows and Columns are populated only for result-set statements.
	Rows    [][]any
	Columns []string

	// AffectedRows is -1 when the statement has no applicable count.
	AffectedRows int64

	ExecutionTimeSec float64

	// Error holds the failure text when Success is false.
	Error string
}

// RowCount returns the number of buffered rows.
func (r QueryResult) RowCount() int {
	return len(r.Rows)
}

// ExecutionTime renders the execution time in human-readable form.
func (r QueryResult) ExecutionTime() string {
	return formatDuration(r.ExecutionTimeSec)
}

// formatDuration formats a duration in human-readable form
func formatDuration(secs float64) string {
	if secs < 0.001 {
		return "<1ms"
	} else if secs < 0.01 {
		return fmt.Sprintf("%dms", int(secs*1000))
	} else if secs < 1 {
		ms := secs * 1000
		if ms < 10 {
			return fmt.Sprintf("%.1fms", ms)
		}
		return fmt.Sprintf("%dms", int(ms))
	} else if secs < 60 {
		if secs < 10 {
			return fmt.Sprintf("%.1fs", secs)
		}
		return fmt.Sprintf("%ds", int(secs))
	} else {
		mins := int(secs / 60)
		remainSecs := int(secs) % 60
		if remainSecs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm%ds", mins, remainSecs)
	}
}

// QueryStatus marks a LastQueryContext as succeeded or failed.
type QueryStatus string

const (
	QueryStatusSuccess QueryStatus = "success"
	QueryStatusError   QueryStatus = "error"
)

// Row and cell bounds for context snapshots handed to an agent.
const (
	maxContextRows    = 100
	maxDisplayRows    = 50
	maxCellDisplayLen = 50
)

// LastQueryContext is a bounded snapshot of the most recent statement,
// retained so an agent can be briefed on what the user just ran.
type LastQueryContext struct {
	SQL              string
	Status           QueryStatus
	Columns          []string
	Rows             [][]any
	RowCount         int
	AffectedRows     int64
	ExecutionTimeSec float64
	ErrorMessage     string
}

func newLastQueryContext(sql string, result QueryResult) *LastQueryContext {
	ctx := &LastQueryContext{
		SQL:              sql,
		Columns:          result.Columns,
		RowCount:         result.RowCount(),
		AffectedRows:     result.AffectedRows,
		ExecutionTimeSec: result.ExecutionTimeSec,
	}
	if result.Success {
		ctx.Status = QueryStatusSuccess
	} else {
		ctx.Status = QueryStatusError
		ctx.ErrorMessage = result.Error
	}
	rows := result.Rows
	if len(rows) > maxContextRows {
		rows = rows[:maxContextRows]
	}
	ctx.Rows = rows
	return ctx
}

// FormatForAgent renders the snapshot as markdown: the statement, its status
// and timing, then up to 50 rows with cells truncated at 50 characters.
func (c *LastQueryContext) FormatForAgent() string {
	var b strings.Builder

	b.WriteString("Last executed query:\n")
	b.WriteString("```sql\n")
	b.WriteString(c.SQL)
	b.WriteString("\n```\n")

	if c.Status == QueryStatusError {
		fmt.Fprintf(&b, "Status: failed (%s)\n", formatDuration(c.ExecutionTimeSec))
		fmt.Fprintf(&b, "Error: %s\n", c.ErrorMessage)
		return b.String()
	}

	fmt.Fprintf(&b, "Status: succeeded (%s)\n", formatDuration(c.ExecutionTimeSec))
	if c.AffectedRows >= 0 {
		fmt.Fprintf(&b, "Affected rows: %d\n", c.AffectedRows)
	}

	if len(c.Columns) == 0 {
		return b.String()
	}

	fmt.Fprintf(&b, "Result: %d row(s)\n\n", c.RowCount)
	b.WriteString("| " + strings.Join(c.Columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(c.Columns)) + "\n")

	display := c.Rows
	if len(display) > maxDisplayRows {
		display = display[:maxDisplayRows]
	}
	for _, row := range display {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatContextCell(v)
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	if len(c.Rows) > maxDisplayRows {
		fmt.Fprintf(&b, "\n... %d more row(s) not shown\n", len(c.Rows)-maxDisplayRows)
	}
	return b.String()
}

func formatContextCell(v any) string {
	if v == nil {
		return "NULL"
	}
	s := fmt.Sprintf("%v", v)
	if len(s) > maxCellDisplayLen {
		s = s[:maxCellDisplayLen] + "..."
	}
	return s
}
