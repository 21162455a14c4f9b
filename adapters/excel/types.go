package excel

// Sheet names in a cross-validation workbook.
const (
	SheetSummary   = "Summary"
	SheetGrid      = "Grid"
	SheetConfusion = "Confusion"
)
