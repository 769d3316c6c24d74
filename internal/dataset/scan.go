package dataset

// TypeIssue records a column whose values do not match the schema type.
type TypeIssue struct {
	Column       string `json:"column"`
	ExpectedType string `json:"expectedType"`
	ReceivedType string `json:"receivedType"`
}

// Report is the outcome of scanning a dataset against a schema.
type Report struct {
	Columns    []string
	RowCount   int
	Missing    []string
	TypeIssues []TypeIssue
}

// Valid reports whether the dataset passed every check.
func (r *Report) Valid() bool {
	return len(r.Missing) == 0 && len(r.TypeIssues) == 0
}

// Scan checks the dataset at path against schema using DefaultLimits.
func Scan(path string, schema *Schema) (*Report, error) {
	return DefaultLimits.Scan(path, schema)
}

// Scan reads the dataset at path once and checks it against schema.
// Missing columns are listed in schema order; type issues are distinct
// (column, expected, received) tuples in first-seen order.
func (l Limits) Scan(path string, schema *Schema) (*Report, error) {
	report := &Report{}
	var numeric []string
	seen := make(map[TypeIssue]bool)

	onHeader := func(cols []string) {
		report.Columns = cols
		present := make(map[string]bool, len(cols))
		for _, c := range cols {
			present[c] = true
		}
		for _, c := range schema.Columns {
			if !present[c.Name] {
				report.Missing = append(report.Missing, c.Name)
				continue
			}
			if c.Type == Numeric {
				numeric = append(numeric, c.Name)
			}
		}
	}

	onRow := func(_ int, row Row) error {
		report.RowCount++
		for _, name := range numeric {
			v := row[name]
			if v == nil {
				continue
			}
			if _, ok := v.(float64); ok {
				continue
			}
			issue := TypeIssue{Column: name, ExpectedType: string(Numeric), ReceivedType: observedType(v)}
			if !seen[issue] {
				seen[issue] = true
				report.TypeIssues = append(report.TypeIssues, issue)
			}
		}
		return nil
	}

	if err := l.walk(path, onHeader, onRow); err != nil {
		return nil, err
	}
	return report, nil
}
