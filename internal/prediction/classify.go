package prediction

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/kalambet/strokeinsight/internal/dataset"
	"github.com/kalambet/strokeinsight/internal/scoring"
)

// CheckReport turns a dataset scan into a validation failure. Missing columns
// take precedence over type issues. It returns nil for a valid dataset.
func CheckReport(report *dataset.Report) *Failure {
	switch {
	case len(report.Missing) > 0:
		return NewMissingColumns(report.Missing, "")
	case len(report.TypeIssues) > 0:
		return NewInvalidDataType(report.TypeIssues, "")
	}
	return nil
}

// Classify maps a failure signal to exactly one Kind. A nil error yields nil.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		f = NewFileFormat(fmt.Sprintf("File exceeds the %s upload limit.", humanize.IBytes(uint64(tooLarge.Limit))))
		f.Err = err
		return f
	}

	if errors.Is(err, dataset.ErrFileFormat) {
		f = NewFileFormat(err.Error())
		f.Err = err
		return f
	}

	var se *scoring.Error
	if errors.As(err, &se) {
		if se.Response != nil && se.Response.ErrorCode != "" {
			f = fromFailureDocument(se.Response)
		} else {
			f = NewProcessError(se.Cause, se.ExitCode, processMessage(se))
		}
		f.Err = err
		return f
	}

	f = NewUnknown(err.Error())
	f.Err = err
	return f
}

func processMessage(se *scoring.Error) string {
	switch se.Cause {
	case scoring.CauseExit:
		if se.Stderr != "" {
			return se.Stderr
		}
		return fmt.Sprintf("Scoring process exited with code %d.", se.ExitCode)
	case scoring.CauseUnavailable:
		return fmt.Sprintf("Scoring capability is not available: %v", se.Err)
	case scoring.CauseOutput:
		return fmt.Sprintf("Failed to parse prediction results: %v", se.Err)
	case scoring.CauseTimeout:
		return fmt.Sprintf("Prediction timed out: %v", se.Err)
	case scoring.CauseCanceled:
		return "Prediction was canceled."
	}
	return se.Error()
}

// FromResponse turns a scoring document into an Outcome. A success document
// must carry exactly rowCount predictions, and either no results or exactly
// rowCount results.
func FromResponse(resp *scoring.Response, rowCount int) Outcome {
	if resp == nil {
		return NewProcessError(scoring.CauseOutput, 0, "Scoring process returned no result.")
	}
	if !resp.Success {
		return fromFailureDocument(resp)
	}
	if len(resp.Predictions) != rowCount {
		return mismatch("predictions", len(resp.Predictions), rowCount)
	}

	results := make([]Result, rowCount)
	switch len(resp.Results) {
	case 0:
		for i, p := range resp.Predictions {
			results[i] = Result{Index: i + 1, Prediction: p}
		}
	case rowCount:
		for i, m := range resp.Results {
			r, err := decodeResult(m)
			if err != nil {
				return NewProcessError(scoring.CauseOutput, 0, fmt.Sprintf("Failed to parse prediction results: result %d: %v", i+1, err))
			}
			if r.Index == 0 {
				r.Index = i + 1
			}
			if r.Prediction == "" {
				r.Prediction = resp.Predictions[i]
			}
			results[i] = r
		}
	default:
		return mismatch("results", len(resp.Results), rowCount)
	}

	predictions := resp.Predictions
	if predictions == nil {
		predictions = []string{}
	}
	return &Success{Predictions: predictions, Results: results}
}

func mismatch(what string, got, want int) *Failure {
	return NewProcessError(scoring.CauseOutput, 0,
		fmt.Sprintf("Failed to parse prediction results: %d %s for %d rows.", got, what, want))
}

func fromFailureDocument(resp *scoring.Response) *Failure {
	kind, _ := ParseKind(resp.ErrorCode)
	switch kind {
	case MissingColumns:
		return NewMissingColumns(resp.MissingColumns, resp.Error)
	case InvalidDataType:
		return NewInvalidDataType(resp.DataTypeIssues, resp.Error)
	case FileFormatError:
		return NewFileFormat(resp.Error)
	case ModelError:
		return NewModelError(resp.Error)
	case ProcessError:
		return NewProcessError(scoring.CauseExit, 0, resp.Error)
	default:
		return NewUnknown(resp.Error)
	}
}
