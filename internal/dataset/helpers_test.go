package dataset

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// writeWorkbook saves rows to dir/name as the first sheet of a new workbook.
func writeWorkbook(t *testing.T, dir, name string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	path := filepath.Join(dir, name)
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	return path
}

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := ParseSchema([]byte(`
columns:
  - {name: Age, type: numeric}
  - {name: BMI, type: numeric}
  - {name: ICD code, type: text}
`))
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	return s
}
