package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/strokeinsight/internal/dataset"
	"github.com/kalambet/strokeinsight/internal/prediction"
	"github.com/kalambet/strokeinsight/internal/session"
	"github.com/kalambet/strokeinsight/internal/storage"
	"github.com/kalambet/strokeinsight/internal/summary"
)

// DefaultMaxUploadBytes is the upload ceiling when none is configured.
const DefaultMaxUploadBytes = 25 << 20

const maxLoginBodySize = 1 << 10

// Predictor scores one uploaded spreadsheet. Implemented by
// pipeline.Predictor.
type Predictor interface {
	Predict(ctx context.Context, r io.Reader, fileName, username string) prediction.Outcome
}

// RunReader reads the run log. Implemented by storage.Store.
type RunReader interface {
	ListRuns() ([]storage.Run, error)
	GetRunByTimestamp(ts string) (storage.Run, error)
}

// SessionManager issues and resolves sessions. Implemented by
// session.Manager.
type SessionManager interface {
	Login(username, userID string) (session.Session, error)
	Resolve(token string) (session.Session, error)
}

type AppDeps struct {
	Predictor      Predictor
	Runs           RunReader
	Sessions       SessionManager
	Schema         *dataset.Schema
	MaxUploadBytes int64
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Post("/login", handleLogin(deps))
	r.Get("/error-codes", handleErrorCodes)
	r.Get(prediction.ExampleURL, handleExample(deps))

	r.Group(func(r chi.Router) {
		r.Use(SessionAuth(deps.Sessions))
		r.Post("/predict", handlePredict(deps))
		r.Get("/analysis", handleListRuns(deps))
		r.Get("/analysis/{timestamp}", handleGetRun(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Username string `json:"username"`
	ID       string `json:"id"`
}

func handleLogin(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxLoginBodySize)
		defer r.Body.Close()

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		sess, err := deps.Sessions.Login(req.Username, req.ID)
		if errors.Is(err, session.ErrUnauthorized) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Unauthorized"})
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "login failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handlePredict(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes)
		defer r.Body.Close()

		mr, err := r.MultipartReader()
		if err != nil {
			writeOutcome(w, http.StatusBadRequest, prediction.NewUnknown("Expected a multipart/form-data upload with a \"file\" field."))
			return
		}

		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				writeOutcome(w, http.StatusBadRequest, prediction.NewUnknown("No file uploaded"))
				return
			}
			if err != nil {
				f := prediction.Classify(err)
				code := outcomeStatus(f)
				if code != http.StatusRequestEntityTooLarge {
					code = http.StatusBadRequest
				}
				writeOutcome(w, code, f)
				return
			}
			if part.FormName() != "file" {
				continue
			}

			sess, _ := session.FromContext(r.Context())
			out := deps.Predictor.Predict(r.Context(), part, part.FileName(), sess.Username)
			part.Close()
			writeOutcome(w, outcomeStatus(out), out)
			return
		}
	}
}

// runView is a stored run with its summary.
type runView struct {
	ID        string              `json:"id"`
	Timestamp string              `json:"timestamp"`
	FileName  string              `json:"fileName"`
	Username  string              `json:"username"`
	Results   []prediction.Result `json:"results"`
	Summary   summary.Summary     `json:"summary"`
}

func newRunView(r storage.Run) runView {
	results := r.Results
	if results == nil {
		results = []prediction.Result{}
	}
	return runView{
		ID:        r.ID,
		Timestamp: r.Key(),
		FileName:  r.FileName,
		Username:  r.Username,
		Results:   results,
		Summary:   summary.Summarize(r.Predictions()),
	}
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := deps.Runs.ListRuns()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		views := make([]runView, len(runs))
		for i, run := range runs {
			views[i] = newRunView(run)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ts := chi.URLParam(r, "timestamp")
		run, err := deps.Runs.GetRunByTimestamp(ts)
		if err == storage.ErrNotFound {
			httpError(w, http.StatusNotFound, "not_found", "no run at %s", ts)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, newRunView(run))
	}
}

type errorCodeView struct {
	Code prediction.Kind `json:"code"`
	prediction.Info
}

func handleErrorCodes(w http.ResponseWriter, r *http.Request) {
	kinds := prediction.Kinds()
	codes := make([]errorCodeView, len(kinds))
	for i, k := range kinds {
		codes[i] = errorCodeView{Code: k, Info: prediction.Describe(k)}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exampleUrl": prediction.ExampleURL,
		"codes":      codes,
	})
}

func handleExample(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Schema == nil {
			httpError(w, http.StatusNotFound, "not_found", "no schema configured")
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="example.xlsx"`)
		if err := dataset.WriteTemplate(w, deps.Schema); err != nil {
			slog.Error("writing example workbook failed", "error", err)
		}
	}
}
