package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/strokeinsight/internal/prediction"
	"github.com/kalambet/strokeinsight/internal/scoring"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// outcomeStatus maps a prediction outcome to an HTTP status code.
func outcomeStatus(out prediction.Outcome) int {
	f, ok := out.(*prediction.Failure)
	if !ok {
		return http.StatusOK
	}

	var tooLarge *http.MaxBytesError
	if errors.As(f, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}

	switch f.Kind {
	case prediction.MissingColumns, prediction.InvalidDataType, prediction.FileFormatError, prediction.ModelError:
		return http.StatusUnprocessableEntity
	case prediction.ProcessError:
		if d, ok := f.Detail.(prediction.ProcessDetail); ok && d.Cause == scoring.CauseTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeOutcome(w http.ResponseWriter, code int, out prediction.Outcome) {
	writeJSON(w, code, prediction.NewResponse(out))
}
