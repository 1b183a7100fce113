// Package templates renders the HTMX fragments of the import UI.
//
// Components are written in progress.templ; run `templ generate` after
// editing it.
package templates

import "github.com/JonMunkholm/erpimport/internal/core"

type planItem struct {
	label string
	value int
}

// planItems lists the ready plan. "Rows in file" is the file's row count;
// "Records to apply" is what the progress counter runs up to once duplicate
// keys are dropped.
func planItems(p core.ImportProgress) []planItem {
	plan := p.Plan
	return []planItem{
		{"Rows in file", plan.TotalRows},
		{"Records to apply", p.Total},
		{"To insert", plan.ToInsert},
		{"To update", plan.ToUpdate},
		{"To delete", plan.ToDelete},
		{"Preserved", plan.Preserved},
		{"Duplicates", plan.Duplicates},
		{"Missing key", plan.MissingKey},
	}
}

// hiddenFailures counts row failures beyond the reported ones.
func hiddenFailures(stats *core.ExecutionStats) int {
	return stats.Failed - len(stats.Errors)
}
