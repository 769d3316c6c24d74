package prediction

import (
	"fmt"

	"github.com/kalambet/strokeinsight/internal/dataset"
	"github.com/kalambet/strokeinsight/internal/summary"
)

// Response is the presentation shape of an Outcome.
type Response struct {
	Success        bool                `json:"success"`
	Predictions    []string            `json:"predictions"`
	Results        []Result            `json:"results,omitempty"`
	Summary        *summary.Summary    `json:"summary,omitempty"`
	Error          string              `json:"error,omitempty"`
	ErrorCode      Kind                `json:"errorCode,omitempty"`
	Cause          string              `json:"cause,omitempty"`
	MissingColumns []string            `json:"missingColumns,omitempty"`
	DataTypeIssues []dataset.TypeIssue `json:"dataTypeIssues,omitempty"`
}

// NewResponse renders an Outcome. Successful outcomes carry their summary.
func NewResponse(o Outcome) Response {
	switch o := o.(type) {
	case *Success:
		s := summary.Summarize(o.Predictions)
		return Response{
			Success:     true,
			Predictions: o.Predictions,
			Results:     o.Results,
			Summary:     &s,
		}
	case *Failure:
		resp := Response{
			Predictions: []string{},
			Error:       o.Message,
			ErrorCode:   o.Kind,
		}
		switch d := o.Detail.(type) {
		case MissingColumnsDetail:
			resp.MissingColumns = d.Columns
		case DataTypeDetail:
			resp.DataTypeIssues = d.Issues
		case ProcessDetail:
			resp.Cause = string(d.Cause)
		case nil:
		default:
			panic(fmt.Sprintf("prediction: unexpected detail %T", d))
		}
		return resp
	default:
		panic(fmt.Sprintf("prediction: unexpected outcome %T", o))
	}
}
