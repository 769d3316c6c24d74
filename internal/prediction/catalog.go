package prediction

// ExampleURL links to a spreadsheet with the expected layout.
const ExampleURL = "/examples/example.xlsx"

// Info is the user-facing description of a failure kind.
type Info struct {
	Title      string `json:"title"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

var catalog = map[Kind]Info{
	MissingColumns: {
		Title:      "Missing Required Columns",
		Message:    "Some required columns are missing from your Excel file.",
		Suggestion: "Check your file and ensure all required columns are included.",
	},
	InvalidDataType: {
		Title:      "Invalid Data Types",
		Message:    "Some columns contain incorrect data types.",
		Suggestion: "Ensure all numerical fields contain only valid numbers.",
	},
	FileFormatError: {
		Title:      "Invalid File Format",
		Message:    "The uploaded Excel file could not be read.",
		Suggestion: "Please re-save your file as a .xlsx and try again.",
	},
	ModelError: {
		Title:      "Model Prediction Failed",
		Message:    "The model encountered an error processing your input.",
		Suggestion: "Ensure the input structure matches the format expected by the model.",
	},
	ProcessError: {
		Title:      "Prediction Service Unavailable",
		Message:    "The prediction process could not complete.",
		Suggestion: "Check that the scoring runtime and model are installed, then try again.",
	},
	UnknownError: {
		Title:      "Unexpected Error",
		Message:    "An unknown error occurred during prediction.",
		Suggestion: "Try again or contact support if the issue persists.",
	},
}

// Describe returns the catalog entry for k. Unrecognized kinds describe
// UnknownError.
func Describe(k Kind) Info {
	if info, ok := catalog[k]; ok {
		return info
	}
	return catalog[UnknownError]
}
