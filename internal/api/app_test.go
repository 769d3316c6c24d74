package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/strokeinsight/internal/dataset"
	"github.com/kalambet/strokeinsight/internal/prediction"
	"github.com/kalambet/strokeinsight/internal/scoring"
	"github.com/kalambet/strokeinsight/internal/session"
	"github.com/kalambet/strokeinsight/internal/storage"
)

type fakePredictor struct {
	out      prediction.Outcome
	fileName string
	username string
	body     []byte
	calls    int
}

func (f *fakePredictor) Predict(_ context.Context, r io.Reader, fileName, username string) prediction.Outcome {
	f.calls++
	f.fileName = fileName
	f.username = username
	data, err := io.ReadAll(r)
	if err != nil {
		return prediction.Classify(err)
	}
	f.body = data
	return f.out
}

type testApp struct {
	handler   http.Handler
	predictor *fakePredictor
	store     *storage.Store
	token     string
}

func newTestApp(t *testing.T, maxUpload int64) *testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sessions := session.NewManager(store, session.Credentials{Username: "clinician", UserID: "DOC-0001", Role: "Doctor"}, time.Hour)
	sess, err := sessions.Login("clinician", "DOC-0001")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	schema, err := dataset.DefaultSchema()
	if err != nil {
		t.Fatalf("DefaultSchema: %v", err)
	}

	p := &fakePredictor{}
	return &testApp{
		handler: NewAppHandler(AppDeps{
			Predictor:      p,
			Runs:           store,
			Sessions:       sessions,
			Schema:         schema,
			MaxUploadBytes: maxUpload,
		}),
		predictor: p,
		store:     store,
		token:     sess.Token,
	}
}

func (a *testApp) do(t *testing.T, req *http.Request, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	if auth {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, field, fileName string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("note", "ward 3"); err != nil {
		t.Fatal(err)
	}
	fw, err := mw.CreateFormFile(field, fileName)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/predict", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, 0)
	rec := app.do(t, httptest.NewRequest(http.MethodGet, "/health", nil), false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeResponse(t, rec)["status"]; got != "ok" {
		t.Errorf("status field = %v", got)
	}
}

func TestLogin(t *testing.T) {
	app := newTestApp(t, 0)

	rec := app.do(t, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"clinician","id":"DOC-0001"}`)), false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decodeResponse(t, rec)
	if body["role"] != "Doctor" || body["username"] != "clinician" || body["id"] != "DOC-0001" {
		t.Errorf("body = %v", body)
	}
	if tok, _ := body["token"].(string); tok == "" {
		t.Error("no token in login response")
	}

	rec = app.do(t, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"clinician","id":"nope"}`)), false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	body = decodeResponse(t, rec)
	if body["success"] != false || body["error"] != "Unauthorized" {
		t.Errorf("body = %v", body)
	}

	rec = app.do(t, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{`)), false)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	app := newTestApp(t, 0)
	for _, req := range []*http.Request{
		uploadRequest(t, "file", "a.xlsx", []byte("x")),
		httptest.NewRequest(http.MethodGet, "/analysis", nil),
		httptest.NewRequest(http.MethodGet, "/analysis/2025-01-01T00:00:00Z", nil),
	} {
		rec := app.do(t, req, false)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", req.Method, req.URL.Path, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/analysis", nil)
	req.Header.Set("Authorization", "Bearer not-a-session")
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bogus token: status = %d, want 401", rec.Code)
	}
	if app.predictor.calls != 0 {
		t.Errorf("predictor called %d times without a session", app.predictor.calls)
	}
}

func TestPredict_Success(t *testing.T) {
	app := newTestApp(t, 0)
	app.predictor.out = &prediction.Success{
		Predictions: []string{"Stroke", "No Stroke", "No Stroke"},
		Results: []prediction.Result{
			{Index: 1, Prediction: "Stroke", Features: dataset.Row{"Age": 80.0}},
			{Index: 2, Prediction: "No Stroke"},
			{Index: 3, Prediction: "No Stroke"},
		},
	}

	rec := app.do(t, uploadRequest(t, "file", "ward.xlsx", []byte("workbook bytes")), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if app.predictor.fileName != "ward.xlsx" || app.predictor.username != "clinician" {
		t.Errorf("predictor saw file %q user %q", app.predictor.fileName, app.predictor.username)
	}
	if string(app.predictor.body) != "workbook bytes" {
		t.Errorf("predictor body = %q", app.predictor.body)
	}

	body := decodeResponse(t, rec)
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
	sum := body["summary"].(map[string]any)
	if sum["strokeCount"] != 1.0 || sum["noStrokeCount"] != 2.0 || sum["totalCount"] != 3.0 {
		t.Errorf("summary = %v", sum)
	}
	first := body["results"].([]any)[0].(map[string]any)
	if first["Age"] != 80.0 || first["index"] != 1.0 {
		t.Errorf("first result = %v", first)
	}
}

func TestPredict_NoFileField(t *testing.T) {
	app := newTestApp(t, 0)
	rec := app.do(t, uploadRequest(t, "attachment", "ward.xlsx", []byte("x")), true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeResponse(t, rec)
	if body["errorCode"] != "UNKNOWN_ERROR" || body["error"] != "No file uploaded" {
		t.Errorf("body = %v", body)
	}
	if app.predictor.calls != 0 {
		t.Error("predictor called without a file")
	}

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	if rec := app.do(t, req, true); rec.Code != http.StatusBadRequest {
		t.Errorf("non-multipart status = %d, want 400", rec.Code)
	}
}

func TestPredict_TooLarge(t *testing.T) {
	app := newTestApp(t, 512)
	rec := app.do(t, uploadRequest(t, "file", "ward.xlsx", bytes.Repeat([]byte("x"), 4096)), true)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413 (body %s)", rec.Code, rec.Body)
	}
	if got := decodeResponse(t, rec)["errorCode"]; got != "FILE_FORMAT_ERROR" {
		t.Errorf("errorCode = %v", got)
	}
}

func TestPredict_FailureStatus(t *testing.T) {
	cases := []struct {
		out  *prediction.Failure
		code int
	}{
		{prediction.NewMissingColumns([]string{"BMI"}, ""), http.StatusUnprocessableEntity},
		{prediction.NewInvalidDataType(nil, "bad"), http.StatusUnprocessableEntity},
		{prediction.NewFileFormat(""), http.StatusUnprocessableEntity},
		{prediction.NewModelError(""), http.StatusUnprocessableEntity},
		{prediction.NewProcessError(scoring.CauseExit, 1, "ValueError: bad input"), http.StatusInternalServerError},
		{prediction.NewProcessError(scoring.CauseUnavailable, 0, ""), http.StatusInternalServerError},
		{prediction.NewProcessError(scoring.CauseTimeout, 0, ""), http.StatusGatewayTimeout},
		{prediction.NewUnknown(""), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		app := newTestApp(t, 0)
		app.predictor.out = tc.out
		rec := app.do(t, uploadRequest(t, "file", "ward.xlsx", []byte("x")), true)
		if rec.Code != tc.code {
			t.Errorf("%s/%v: status = %d, want %d", tc.out.Kind, tc.out.Detail, rec.Code, tc.code)
		}
		body := decodeResponse(t, rec)
		if body["success"] != false || body["errorCode"] != string(tc.out.Kind) {
			t.Errorf("%s: body = %v", tc.out.Kind, body)
		}
		if preds, ok := body["predictions"].([]any); !ok || len(preds) != 0 {
			t.Errorf("%s: predictions = %v, want []", tc.out.Kind, body["predictions"])
		}
	}
}

func TestPredict_MissingColumnsPayload(t *testing.T) {
	app := newTestApp(t, 0)
	app.predictor.out = prediction.NewMissingColumns([]string{"BMI"}, "")
	rec := app.do(t, uploadRequest(t, "file", "ward.xlsx", []byte("x")), true)
	body := decodeResponse(t, rec)
	cols, _ := body["missingColumns"].([]any)
	if len(cols) != 1 || cols[0] != "BMI" {
		t.Errorf("missingColumns = %v", body["missingColumns"])
	}
}

func TestOutcomeStatus_WrappedTooLarge(t *testing.T) {
	f := prediction.Classify(errors.Join(errors.New("writing upload"), &http.MaxBytesError{Limit: 10}))
	if got := outcomeStatus(f); got != http.StatusRequestEntityTooLarge {
		t.Errorf("outcomeStatus = %d, want 413", got)
	}
}

func TestAnalysis(t *testing.T) {
	app := newTestApp(t, 0)

	rec := app.do(t, httptest.NewRequest(http.MethodGet, "/analysis", nil), true)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty log: status %d body %s", rec.Code, rec.Body)
	}

	ts := time.Date(2025, 8, 1, 14, 0, 0, 0, time.UTC)
	for i, labels := range [][]string{{"Stroke", "No Stroke"}, {"No Stroke"}} {
		results := make([]prediction.Result, len(labels))
		for j, l := range labels {
			results[j] = prediction.Result{Index: j + 1, Prediction: l}
		}
		run := storage.Run{ID: string(rune('a' + i)), Timestamp: ts.Add(time.Duration(i) * time.Minute), FileName: "ward.xlsx", Username: "clinician", Results: results}
		if err := app.store.AppendRun(run); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}

	rec = app.do(t, httptest.NewRequest(http.MethodGet, "/analysis", nil), true)
	var runs []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decoding runs: %v", err)
	}
	if len(runs) != 2 || runs[0]["id"] != "a" || runs[1]["id"] != "b" {
		t.Fatalf("runs = %v", runs)
	}
	sum := runs[0]["summary"].(map[string]any)
	if sum["strokePercentage"] != 50.0 || sum["risk"] != "High" {
		t.Errorf("summary = %v", sum)
	}

	key := runs[1]["timestamp"].(string)
	rec = app.do(t, httptest.NewRequest(http.MethodGet, "/analysis/"+key, nil), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("get run: status %d body %s", rec.Code, rec.Body)
	}
	if got := decodeResponse(t, rec)["id"]; got != "b" {
		t.Errorf("id = %v, want b", got)
	}

	rec = app.do(t, httptest.NewRequest(http.MethodGet, "/analysis/2020-01-01T00:00:00Z", nil), true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing run: status = %d, want 404", rec.Code)
	}
	rec = app.do(t, httptest.NewRequest(http.MethodGet, "/analysis/last-tuesday", nil), true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed timestamp: status = %d, want 400", rec.Code)
	}
}

func TestErrorCodes(t *testing.T) {
	app := newTestApp(t, 0)
	rec := app.do(t, httptest.NewRequest(http.MethodGet, "/error-codes", nil), false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		ExampleURL string `json:"exampleUrl"`
		Codes      []struct {
			Code       string `json:"code"`
			Title      string `json:"title"`
			Suggestion string `json:"suggestion"`
		} `json:"codes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body.ExampleURL != prediction.ExampleURL {
		t.Errorf("exampleUrl = %q", body.ExampleURL)
	}
	if len(body.Codes) != len(prediction.Kinds()) {
		t.Fatalf("got %d codes, want %d", len(body.Codes), len(prediction.Kinds()))
	}
	if body.Codes[0].Code != "MISSING_COLUMNS" || body.Codes[0].Title != "Missing Required Columns" {
		t.Errorf("first code = %+v", body.Codes[0])
	}
}

func TestExampleWorkbook(t *testing.T) {
	app := newTestApp(t, 0)
	rec := app.do(t, httptest.NewRequest(http.MethodGet, prediction.ExampleURL, nil), false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Error("example is not a zip-based workbook")
	}
}
