package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"

	"hdv-bca/db/clickhouse"
	"hdv-bca/decision/fleet"
	"hdv-bca/decision/pipeline"
	"hdv-bca/decision/summary"
	"hdv-bca/pkg/units"
)

// reportFields are the cost totals shown in run reports, in column order.
var reportFields = []string{
	fleet.FieldDirectCost,
	fleet.FieldIndirectCost,
	fleet.FieldTechCost,
	fleet.FieldOperatingCost,
	fleet.FieldTechAndOperatingCost,
}

// Report is the cumulative view of a run: present and annualized values over
// the whole analysis period, in millions of dollars.
type Report struct {
	RunID   string      `json:"run_id"`
	RunName string      `json:"run_name"`
	Through int         `json:"through_year"`
	Fields  []string    `json:"fields"`
	Rows    []ReportRow `json:"rows"`
}

// ReportRow is one option at one discount rate.
type ReportRow struct {
	Series     string            `json:"series"`
	OptionID   int               `json:"option_id"`
	OptionName string            `json:"option_name"`
	Rate       float64           `json:"rate"`
	Millions   map[string]string `json:"millions"`
}

func buildReport(res *pipeline.Result) Report {
	years := res.Fleet.CalendarYears()
	r := Report{RunID: res.RunID.String(), RunName: res.RunName, Fields: reportFields}
	if len(years) == 0 {
		return r
	}
	r.Through = years[len(years)-1]

	for _, series := range []summary.Series{summary.PresentValue, summary.AnnualizedValue} {
		for _, rec := range res.Summary.Series(series) {
			if rec.Key.CalendarYear != r.Through {
				continue
			}
			r.Rows = append(r.Rows, newReportRow(string(series), rec.Key.OptionID, rec.OptionName, rec.Key.Rate, rec.Values))
		}
	}
	sortReport(&r)
	return r
}

// storedReport rebuilds the report of a stored run from its final-year
// summary rows.
func storedReport(run *clickhouse.RunRow, rows []clickhouse.SummaryRow) Report {
	r := Report{RunID: run.ID.String(), RunName: run.Name, Fields: reportFields}

	type rowKey struct {
		series string
		option int32
		rate   float64
	}
	values := make(map[rowKey]map[string]float64)
	names := make(map[rowKey]string)
	var order []rowKey
	for _, row := range rows {
		r.Through = int(row.CalendarYear)
		k := rowKey{row.Series, row.OptionID, row.Rate}
		if _, ok := values[k]; !ok {
			values[k] = make(map[string]float64)
			names[k] = row.OptionName
			order = append(order, k)
		}
		values[k][row.Field] = row.Value
	}
	for _, k := range order {
		r.Rows = append(r.Rows, newReportRow(k.series, int(k.option), names[k], k.rate, values[k]))
	}
	sortReport(&r)
	return r
}

func newReportRow(series string, option int, name string, rate float64, values map[string]float64) ReportRow {
	row := ReportRow{
		Series:     series,
		OptionID:   option,
		OptionName: name,
		Rate:       rate,
		Millions:   make(map[string]string, len(reportFields)),
	}
	for _, f := range reportFields {
		row.Millions[f] = units.Millions(values[f], 2)
	}
	return row
}

// sortReport orders rows present values first, then by rate and option.
func sortReport(r *Report) {
	sort.SliceStable(r.Rows, func(i, j int) bool {
		a, b := r.Rows[i], r.Rows[j]
		if a.Series != b.Series {
			return a.Series == string(summary.PresentValue)
		}
		if a.Rate != b.Rate {
			return a.Rate < b.Rate
		}
		return a.OptionID < b.OptionID
	})
}

func writeReport(w io.Writer, format string, r Report) error {
	switch format {
	case "json":
		return outputJSON(w, r)
	case "markdown":
		return outputMarkdown(w, r)
	case "table", "":
		return outputTable(w, r)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func outputJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func outputTable(w io.Writer, r Report) error {
	fmt.Fprintf(w, "Run %s (%s), cumulative through %d, $ millions\n\n", r.RunName, r.RunID, r.Through)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Series\tRate\tOption\t%s\t\n", strings.Join(r.Fields, "\t"))
	for _, row := range r.Rows {
		cells := make([]string, len(r.Fields))
		for i, f := range r.Fields {
			cells[i] = row.Millions[f]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", row.Series, rateLabel(row.Rate), row.OptionName, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func outputMarkdown(w io.Writer, r Report) error {
	fmt.Fprintf(w, "## %s\n\n", r.RunName)
	fmt.Fprintf(w, "Cumulative through %d, $ millions. Run `%s`.\n\n", r.Through, r.RunID)
	fmt.Fprintf(w, "| Series | Rate | Option | %s |\n", strings.Join(r.Fields, " | "))
	fmt.Fprintf(w, "|%s\n", strings.Repeat("---|", len(r.Fields)+3))
	for _, row := range r.Rows {
		cells := make([]string, len(r.Fields))
		for i, f := range r.Fields {
			cells[i] = row.Millions[f]
		}
		fmt.Fprintf(w, "| %s | %s | %s | %s |\n", row.Series, rateLabel(row.Rate), row.OptionName, strings.Join(cells, " | "))
	}
	return nil
}

func rateLabel(rate float64) string {
	if rate == 0 {
		return "nominal"
	}
	return fmt.Sprintf("%g%%", math.Round(rate*10000)/100)
}
