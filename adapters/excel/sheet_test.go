package excel

import (
	"github.com/xuri/excelize/v2"
)

// sheetData is one sheet of a workbook with rows keyed by header.
type sheetData struct {
	Headers []string
	Rows    []map[string]string
}

// readSheet reads one sheet, taking the first row as headers. Short rows
// are padded with empty strings.
func readSheet(path, sheet string) (*sheetData, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &sheetData{}, nil
	}

	data := &sheetData{Headers: rows[0]}
	for _, row := range rows[1:] {
		rec := make(map[string]string, len(data.Headers))
		for i, h := range data.Headers {
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		data.Rows = append(data.Rows, rec)
	}
	return data, nil
}
