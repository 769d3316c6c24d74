package prediction

import (
	"fmt"
	"strings"

	"github.com/kalambet/strokeinsight/internal/dataset"
	"github.com/kalambet/strokeinsight/internal/scoring"
)

// Outcome is either *Success or *Failure.
type Outcome interface {
	isOutcome()
}

// Success holds one prediction and one result per input row.
type Success struct {
	Predictions []string
	Results     []Result
}

func (*Success) isOutcome() {}

// Detail carries the kind-specific payload of a Failure.
type Detail interface {
	kind() Kind
}

// MissingColumnsDetail lists required columns absent from the dataset.
type MissingColumnsDetail struct {
	Columns []string
}

// DataTypeDetail lists columns whose values have the wrong type.
type DataTypeDetail struct {
	Issues []dataset.TypeIssue
}

// ProcessDetail describes how the scoring process failed.
type ProcessDetail struct {
	Cause    scoring.Cause
	ExitCode int
}

func (MissingColumnsDetail) kind() Kind { return MissingColumns }
func (DataTypeDetail) kind() Kind       { return InvalidDataType }
func (ProcessDetail) kind() Kind        { return ProcessError }

// Failure is a classified prediction failure. Use the New* constructors;
// they pair each Kind with its Detail.
type Failure struct {
	Kind    Kind
	Message string
	Detail  Detail
	// Err is the signal the failure was classified from, if any.
	Err error
}

func (*Failure) isOutcome() {}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

func (f *Failure) Unwrap() error { return f.Err }

func orDefault(message string, kind Kind) string {
	if message = strings.TrimSpace(message); message != "" {
		return message
	}
	return Describe(kind).Message
}

// NewMissingColumns reports absent columns. An empty message is derived from
// the column names.
func NewMissingColumns(columns []string, message string) *Failure {
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Missing required columns: %s", strings.Join(columns, ", "))
	}
	return &Failure{
		Kind:    MissingColumns,
		Message: message,
		Detail:  MissingColumnsDetail{Columns: columns},
	}
}

// NewInvalidDataType reports type mismatches.
func NewInvalidDataType(issues []dataset.TypeIssue, message string) *Failure {
	if strings.TrimSpace(message) == "" {
		cols := make([]string, 0, len(issues))
		for _, is := range issues {
			cols = append(cols, is.Column)
		}
		message = fmt.Sprintf("Invalid data types in columns: %s", strings.Join(dedupe(cols), ", "))
	}
	return &Failure{
		Kind:    InvalidDataType,
		Message: message,
		Detail:  DataTypeDetail{Issues: issues},
	}
}

func NewFileFormat(message string) *Failure {
	return &Failure{Kind: FileFormatError, Message: orDefault(message, FileFormatError)}
}

func NewModelError(message string) *Failure {
	return &Failure{Kind: ModelError, Message: orDefault(message, ModelError)}
}

// NewProcessError reports a failure of the scoring process itself.
func NewProcessError(cause scoring.Cause, exitCode int, message string) *Failure {
	return &Failure{
		Kind:    ProcessError,
		Message: orDefault(message, ProcessError),
		Detail:  ProcessDetail{Cause: cause, ExitCode: exitCode},
	}
}

func NewUnknown(message string) *Failure {
	return &Failure{Kind: UnknownError, Message: orDefault(message, UnknownError)}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
