package console

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"periodic/internal/probe"
	"periodic/internal/storage"
	"periodic/internal/task/scheduler"
)

func renderTasks(w io.Writer, tasks []scheduler.TaskInfo, now time.Time) {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(t.UID), 10),
			t.Name,
			t.Interval.String(),
			t.NextDue.Format("15:04:05") + " (" + humanize.RelTime(t.NextDue, now, "ago", "from now") + ")",
		})
	}
	renderTable(w, []string{"UID", "Task Name", "Interval", "Next Due"}, rows)
}

func renderJobs(w io.Writer, rows []probe.TaskStats) {
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		last := "-"
		if r.Runs > r.Errors {
			last = probe.Format(r.Metric, r.Last)
		}
		cells = append(cells, []string{
			r.Task,
			r.Probe,
			humanize.Comma(int64(r.Runs)),
			humanize.Comma(int64(r.Errors)),
			last,
		})
	}
	renderTable(w, []string{"Task Name", "Probe", "Runs", "Errors", "Last Sample"}, cells)
}

// WriteAggregates renders aggs as a boxed table.
func WriteAggregates(w io.Writer, aggs []storage.Aggregate) { renderAggregates(w, aggs) }

func renderAggregates(w io.Writer, aggs []storage.Aggregate) {
	rows := make([][]string, 0, len(aggs))
	for _, a := range aggs {
		rows = append(rows, []string{
			a.Category,
			probe.Format(a.Category, a.Average),
			probe.Format(a.Category, a.Minimum),
			probe.Format(a.Category, a.Maximum),
			humanize.Comma(a.Count),
			humanize.Time(a.UpdatedAt),
		})
	}
	renderTable(w, []string{"Category", "Average", "Minimum", "Maximum", "Samples", "Updated"}, rows)
}

// renderTable draws a boxed table:
//
//	+-----+-----------+
//	| UID | Task Name |
//	+-----+-----------+
//	| 1   | ram       |
//	+-----+-----------+
func renderTable(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, r := range rows {
		for i, cell := range r {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var sep strings.Builder
	sep.WriteByte('+')
	for _, n := range widths {
		sep.WriteString(strings.Repeat("-", n+2))
		sep.WriteByte('+')
	}
	rule := sep.String()

	line := func(cells []string) {
		var b strings.Builder
		b.WriteByte('|')
		for i, cell := range cells {
			b.WriteByte(' ')
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell)+1))
			b.WriteByte('|')
		}
		fmt.Fprintln(w, b.String())
	}

	fmt.Fprintln(w, rule)
	line(header)
	fmt.Fprintln(w, rule)
	for _, r := range rows {
		line(r)
	}
	fmt.Fprintln(w, rule)
}
