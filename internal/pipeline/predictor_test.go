package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/kalambet/strokeinsight/internal/dataset"
	"github.com/kalambet/strokeinsight/internal/prediction"
	"github.com/kalambet/strokeinsight/internal/scoring"
	"github.com/kalambet/strokeinsight/internal/storage"
)

type fakeScorer struct {
	resp  *scoring.Response
	err   error
	calls int
	paths []string
}

func (f *fakeScorer) Run(_ context.Context, path string) (*scoring.Response, error) {
	f.calls++
	f.paths = append(f.paths, path)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return f.resp, f.err
}

type failingAppender struct{}

func (failingAppender) AppendRun(storage.Run) error { return errors.New("disk I/O error") }

type recordingArchiver struct {
	runs []storage.Run
	err  error
}

func (a *recordingArchiver) Archive(_ context.Context, r storage.Run) error {
	a.runs = append(a.runs, r)
	return a.err
}

type harness struct {
	predictor *Predictor
	schema    *dataset.Schema
	scorer    *fakeScorer
	store     *storage.Store
	archiver  *recordingArchiver
	intakeDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	intakeDir := filepath.Join(t.TempDir(), "intake")
	in, err := dataset.NewIntake(intakeDir)
	require.NoError(t, err)
	schema, err := dataset.ParseSchema([]byte("columns:\n  - {name: Age}\n  - {name: BMI}\n"))
	require.NoError(t, err)
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{schema: schema, scorer: &fakeScorer{}, store: store, archiver: &recordingArchiver{}, intakeDir: intakeDir}
	h.predictor = NewPredictor(in, schema, h.scorer, store, h.archiver)
	return h
}

// assertIntakeEmpty checks that no upload outlived its request.
func (h *harness) assertIntakeEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.intakeDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "uploads left behind")
}

func workbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

var threePatients = [][]any{
	{"Age", "BMI", "Sex"},
	{71, 24.5, 1},
	{64, "NA", 0},
	{80, 31.2, 1},
}

func TestPredict_Success(t *testing.T) {
	h := newHarness(t)
	h.scorer.resp = &scoring.Response{Success: true, Predictions: []string{"Stroke", "No Stroke", "No Stroke"}}

	out := h.predictor.Predict(context.Background(), bytes.NewReader(workbook(t, threePatients)), "ward.xlsx", "clinician")

	s, ok := out.(*prediction.Success)
	require.True(t, ok, "outcome = %#v", out)
	require.Len(t, s.Predictions, 3)
	require.Len(t, s.Results, 3)
	assert.Equal(t, 1, h.scorer.calls)
	assert.Equal(t, 2, s.Results[1].Index)
	assert.Equal(t, "No Stroke", s.Results[1].Prediction)
	assert.Equal(t, dataset.Row{"Age": 64.0, "BMI": nil, "Sex": 0.0}, s.Results[1].Features)

	runs, err := h.store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "ward.xlsx", runs[0].FileName)
	assert.Equal(t, "clinician", runs[0].Username)
	assert.Equal(t, []string{"Stroke", "No Stroke", "No Stroke"}, runs[0].Predictions())
	require.Len(t, h.archiver.runs, 1)
	assert.Equal(t, runs[0].ID, h.archiver.runs[0].ID)

	h.assertIntakeEmpty(t)
}

func TestPredict_MissingColumnNeverScores(t *testing.T) {
	h := newHarness(t)
	data := workbook(t, [][]any{{"Age", "Sex"}, {71, 1}})

	out := h.predictor.Predict(context.Background(), bytes.NewReader(data), "ward.xlsx", "clinician")

	f, ok := out.(*prediction.Failure)
	require.True(t, ok)
	assert.Equal(t, prediction.MissingColumns, f.Kind)
	assert.Equal(t, prediction.MissingColumnsDetail{Columns: []string{"BMI"}}, f.Detail)
	assert.Zero(t, h.scorer.calls)
	h.assertIntakeEmpty(t)

	n, err := h.store.CountRuns()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPredict_TypeIssues(t *testing.T) {
	h := newHarness(t)
	data := workbook(t, [][]any{{"Age", "BMI"}, {"seventy", 22}, {"sixty", "TRUE"}})

	out := h.predictor.Predict(context.Background(), bytes.NewReader(data), "ward.xlsx", "clinician")

	f, ok := out.(*prediction.Failure)
	require.True(t, ok)
	assert.Equal(t, prediction.InvalidDataType, f.Kind)
	d := f.Detail.(prediction.DataTypeDetail)
	assert.Len(t, d.Issues, 2)
	assert.Zero(t, h.scorer.calls)
	h.assertIntakeEmpty(t)
}

func TestPredict_RejectedUploads(t *testing.T) {
	h := newHarness(t)

	out := h.predictor.Predict(context.Background(), strings.NewReader("Age,BMI"), "ward.csv", "clinician")
	assert.Equal(t, prediction.FileFormatError, out.(*prediction.Failure).Kind)

	out = h.predictor.Predict(context.Background(), strings.NewReader("not a workbook"), "ward.xlsx", "clinician")
	assert.Equal(t, prediction.FileFormatError, out.(*prediction.Failure).Kind)

	assert.Zero(t, h.scorer.calls)
	h.assertIntakeEmpty(t)
}

func TestPredict_ProcessFailures(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		cause scoring.Cause
		msg   string
	}{
		{"exit", &scoring.Error{Cause: scoring.CauseExit, ExitCode: 1, Stderr: "ValueError: bad input"}, scoring.CauseExit, "ValueError: bad input"},
		{"unavailable", &scoring.Error{Cause: scoring.CauseUnavailable, Err: scoring.ErrNoRuntime}, scoring.CauseUnavailable, ""},
		{"timeout", &scoring.Error{Cause: scoring.CauseTimeout, Err: errors.New("no result after 2m0s")}, scoring.CauseTimeout, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.scorer.err = tc.err

			out := h.predictor.Predict(context.Background(), bytes.NewReader(workbook(t, threePatients)), "ward.xlsx", "clinician")

			f, ok := out.(*prediction.Failure)
			require.True(t, ok)
			assert.Equal(t, prediction.ProcessError, f.Kind)
			assert.Equal(t, tc.cause, f.Detail.(prediction.ProcessDetail).Cause)
			if tc.msg != "" {
				assert.Equal(t, tc.msg, f.Message)
			}
			h.assertIntakeEmpty(t)
		})
	}
}

func TestPredict_LengthMismatchIsProcessError(t *testing.T) {
	h := newHarness(t)
	h.scorer.resp = &scoring.Response{Success: true, Predictions: []string{"Stroke"}}

	out := h.predictor.Predict(context.Background(), bytes.NewReader(workbook(t, threePatients)), "ward.xlsx", "clinician")

	f, ok := out.(*prediction.Failure)
	require.True(t, ok)
	assert.Equal(t, prediction.ProcessError, f.Kind)
	n, err := h.store.CountRuns()
	require.NoError(t, err)
	assert.Zero(t, n)
	h.assertIntakeEmpty(t)
}

func TestPredict_ModelFailureDocument(t *testing.T) {
	h := newHarness(t)
	h.scorer.resp = &scoring.Response{ErrorCode: "MODEL_ERROR", Error: "feature mismatch"}

	out := h.predictor.Predict(context.Background(), bytes.NewReader(workbook(t, threePatients)), "ward.xlsx", "clinician")

	f := out.(*prediction.Failure)
	assert.Equal(t, prediction.ModelError, f.Kind)
	assert.Equal(t, "feature mismatch", f.Message)
	h.assertIntakeEmpty(t)
}

func TestPredict_StoreFailureIsNotSuccess(t *testing.T) {
	h := newHarness(t)
	h.predictor.runs = failingAppender{}
	h.scorer.resp = &scoring.Response{Success: true, Predictions: []string{"Stroke", "No Stroke", "No Stroke"}}

	out := h.predictor.Predict(context.Background(), bytes.NewReader(workbook(t, threePatients)), "ward.xlsx", "clinician")

	f, ok := out.(*prediction.Failure)
	require.True(t, ok)
	assert.Equal(t, prediction.UnknownError, f.Kind)
	assert.Empty(t, h.archiver.runs)
	h.assertIntakeEmpty(t)
}

func TestPredict_ArchiveFailureIsLoggedOnly(t *testing.T) {
	h := newHarness(t)
	h.archiver.err = errors.New("bucket unreachable")
	h.scorer.resp = &scoring.Response{Success: true, Predictions: []string{"Stroke", "No Stroke", "No Stroke"}}

	out := h.predictor.Predict(context.Background(), bytes.NewReader(workbook(t, threePatients)), "ward.xlsx", "clinician")

	_, ok := out.(*prediction.Success)
	assert.True(t, ok)
}

func TestPredictFile(t *testing.T) {
	h := newHarness(t)
	h.scorer.resp = &scoring.Response{Success: true, Predictions: []string{"Stroke", "No Stroke", "No Stroke"}}
	path := filepath.Join(t.TempDir(), "ward.xlsx")
	require.NoError(t, os.WriteFile(path, workbook(t, threePatients), 0o600))

	_, ok := h.predictor.PredictFile(context.Background(), path, "mcp").(*prediction.Success)
	assert.True(t, ok)
	_, err := os.Stat(path)
	assert.NoError(t, err, "caller's file must be kept")
	assert.NotEqual(t, path, h.scorer.paths[0])
	h.assertIntakeEmpty(t)

	f := h.predictor.PredictFile(context.Background(), filepath.Join(t.TempDir(), "gone.xlsx"), "mcp").(*prediction.Failure)
	assert.Equal(t, prediction.FileFormatError, f.Kind)
}

func TestPredictFile_OverSizeLimit(t *testing.T) {
	h := newHarness(t)
	h.scorer.resp = &scoring.Response{Success: true, Predictions: []string{"Stroke", "No Stroke", "No Stroke"}}
	path := filepath.Join(t.TempDir(), "ward.xlsx")
	require.NoError(t, os.WriteFile(path, workbook(t, threePatients), 0o600))

	lim := dataset.DefaultLimits
	lim.MaxFileBytes = 1 << 10
	h.predictor.WithLimits(lim)

	f, ok := h.predictor.PredictFile(context.Background(), path, "mcp").(*prediction.Failure)
	require.True(t, ok)
	assert.Equal(t, prediction.FileFormatError, f.Kind)
	assert.Equal(t, "File exceeds the 1.0 KiB upload limit.", f.Message)
	assert.Zero(t, h.scorer.calls)
	h.assertIntakeEmpty(t)
}

func TestCheck_UnzipLimit(t *testing.T) {
	h := newHarness(t)
	rows := [][]any{{"Age", "BMI"}}
	for i := range 1000 {
		rows = append(rows, []any{i, strings.Repeat("y", 200)})
	}
	path := filepath.Join(t.TempDir(), "ward.xlsx")
	require.NoError(t, os.WriteFile(path, workbook(t, rows), 0o600))

	report, f := Check(path, h.schema, dataset.Limits{MaxFileBytes: 25 << 20, MaxUnzipBytes: 32 << 10, MaxXMLBytes: 8 << 10})
	assert.Nil(t, report)
	require.NotNil(t, f)
	assert.Equal(t, prediction.FileFormatError, f.Kind)
}

func TestCheck(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "ward.xlsx")
	require.NoError(t, os.WriteFile(path, workbook(t, [][]any{{"Age"}, {1}}), 0o600))

	report, f := Check(path, h.schema, dataset.DefaultLimits)
	require.NotNil(t, report)
	require.NotNil(t, f)
	assert.Equal(t, prediction.MissingColumns, f.Kind)
	assert.Equal(t, 1, report.RowCount)

	report, f = Check(filepath.Join(t.TempDir(), "notes.txt"), h.schema, dataset.DefaultLimits)
	assert.Nil(t, report)
	require.NotNil(t, f)
	assert.Equal(t, prediction.FileFormatError, f.Kind)
}
