package dataset

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const templateSheet = "Patients"

// WriteTemplate writes a workbook whose header row lists the schema columns.
func WriteTemplate(w io.Writer, schema *Schema) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", templateSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	header := make([]any, len(schema.Columns))
	for i, c := range schema.Columns {
		header[i] = c.Name
	}
	if err := f.SetSheetRow(templateSheet, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := f.SetPanes(templateSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freezing header: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
