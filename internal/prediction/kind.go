// Package prediction classifies scoring outcomes into a closed set of
// failure kinds and shapes results for presentation.
package prediction

// Kind is the closed set of prediction failure categories. The string value
// is the wire code.
type Kind string

const (
	MissingColumns  Kind = "MISSING_COLUMNS"
	InvalidDataType Kind = "INVALID_DATA_TYPE"
	FileFormatError Kind = "FILE_FORMAT_ERROR"
	ModelError      Kind = "MODEL_ERROR"
	ProcessError    Kind = "PROCESS_ERROR"
	UnknownError    Kind = "UNKNOWN_ERROR"
)

// legacyProcessCode is the code older scoring scripts emit for ProcessError.
const legacyProcessCode = "PYTHON_ERROR"

// Kinds returns every kind in presentation order.
func Kinds() []Kind {
	return []Kind{MissingColumns, InvalidDataType, FileFormatError, ModelError, ProcessError, UnknownError}
}

// ParseKind maps a wire code to a Kind.
func ParseKind(code string) (Kind, bool) {
	if code == legacyProcessCode {
		return ProcessError, true
	}
	for _, k := range Kinds() {
		if string(k) == code {
			return k, true
		}
	}
	return UnknownError, false
}
