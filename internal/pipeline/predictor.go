package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/kalambet/strokeinsight/internal/dataset"
	"github.com/kalambet/strokeinsight/internal/prediction"
	"github.com/kalambet/strokeinsight/internal/scoring"
	"github.com/kalambet/strokeinsight/internal/storage"
)

// Intake stores an uploaded dataset for the duration of one request.
type Intake interface {
	Ingest(ctx context.Context, r io.Reader, fileName string) (*dataset.Upload, error)
}

// Scorer runs the model over a stored dataset.
type Scorer interface {
	Run(ctx context.Context, datasetPath string) (*scoring.Response, error)
}

// RunAppender persists completed runs. Implemented by storage.Store.
type RunAppender interface {
	AppendRun(r storage.Run) error
}

// Archiver keeps an extra copy of completed runs.
type Archiver interface {
	Archive(ctx context.Context, r storage.Run) error
}

// Predictor runs one spreadsheet through validation, scoring, and the run
// log. Requests share nothing but the run store.
type Predictor struct {
	intake   Intake
	schema   *dataset.Schema
	scorer   Scorer
	runs     RunAppender
	archiver Archiver
	limits   dataset.Limits
	now      func() time.Time
	logger   *slog.Logger
}

// NewPredictor creates a Predictor. archiver may be nil.
func NewPredictor(intake Intake, schema *dataset.Schema, scorer Scorer, runs RunAppender, archiver Archiver) *Predictor {
	return &Predictor{
		intake:   intake,
		schema:   schema,
		scorer:   scorer,
		runs:     runs,
		archiver: archiver,
		limits:   dataset.DefaultLimits,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// WithLimits sets the workbook size limits applied when reading datasets.
func (p *Predictor) WithLimits(lim dataset.Limits) *Predictor {
	p.limits = lim
	return p
}

// Predict scores the spreadsheet read from r. The uploaded file is removed
// before Predict returns, whatever the outcome.
func (p *Predictor) Predict(ctx context.Context, r io.Reader, fileName, username string) prediction.Outcome {
	start := time.Now()
	logger := p.logger.With("file", fileName, "user", username)

	up, err := p.intake.Ingest(ctx, r, fileName)
	if err != nil {
		f := prediction.Classify(err)
		logger.Warn("upload rejected", "kind", f.Kind, "error", err)
		return f
	}
	defer up.Close()
	logger = logger.With("bytes", up.Size)

	out := p.score(ctx, up.Path, logger)
	s, ok := out.(*prediction.Success)
	if !ok {
		return out
	}

	run := storage.Run{
		ID:        uuid.NewString(),
		Timestamp: p.now().UTC(),
		FileName:  fileName,
		Username:  username,
		Results:   s.Results,
	}
	if err := p.runs.AppendRun(run); err != nil {
		logger.Error("storing run failed", "error", err)
		return prediction.NewUnknown(fmt.Sprintf("Prediction succeeded but the run could not be saved: %v", err))
	}
	if p.archiver != nil {
		if err := p.archiver.Archive(ctx, run); err != nil {
			logger.Warn("archiving run failed", "run_id", run.ID, "error", err)
		}
	}

	logger.Info("prediction complete",
		"run_id", run.ID,
		"rows", len(s.Results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return s
}

// PredictFile scores a spreadsheet already on disk. The file is copied into
// the intake directory first, so the caller's file is never modified.
func (p *Predictor) PredictFile(ctx context.Context, path, username string) prediction.Outcome {
	f, err := os.Open(path)
	if err != nil {
		return prediction.NewFileFormat(fmt.Sprintf("Cannot open %s: %v", path, err))
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return prediction.NewFileFormat(fmt.Sprintf("Cannot read %s: %v", path, err))
	}
	if limit := p.limits.MaxFileBytes; limit > 0 && info.Size() > limit {
		p.logger.Warn("upload rejected", "file", filepath.Base(path), "user", username,
			"kind", prediction.FileFormatError, "bytes", info.Size())
		return prediction.NewFileFormat(fmt.Sprintf("File exceeds the %s upload limit.", humanize.IBytes(uint64(limit))))
	}
	return p.Predict(ctx, f, filepath.Base(path), username)
}

// Check validates a spreadsheet against schema without scoring it. The
// report is nil when the file could not be read at all.
func Check(path string, schema *dataset.Schema, lim dataset.Limits) (*dataset.Report, *prediction.Failure) {
	report, err := lim.Scan(path, schema)
	if err != nil {
		return nil, prediction.Classify(err)
	}
	return report, prediction.CheckReport(report)
}

func (p *Predictor) score(ctx context.Context, path string, logger *slog.Logger) prediction.Outcome {
	report, f := Check(path, p.schema, p.limits)
	if report == nil {
		logger.Warn("dataset unreadable", "error", f.Err)
		return f
	}
	if f != nil {
		logger.Info("dataset failed validation", "kind", f.Kind,
			"missing", len(report.Missing), "type_issues", len(report.TypeIssues))
		return f
	}
	logger.Debug("dataset valid", "rows", report.RowCount)

	resp, err := p.scorer.Run(ctx, path)
	if err != nil {
		f := prediction.Classify(err)
		logger.Warn("scoring failed", "kind", f.Kind, "error", err)
		return f
	}

	out := prediction.FromResponse(resp, report.RowCount)
	switch o := out.(type) {
	case *prediction.Success:
		p.attachFeatures(path, o.Results, logger)
	case *prediction.Failure:
		logger.Info("scoring reported failure", "kind", o.Kind, "message", o.Message)
	}
	return out
}

// attachFeatures copies each row's cells into results that do not already
// carry them. Results keep their predictions if the file cannot be re-read.
func (p *Predictor) attachFeatures(path string, results []prediction.Result, logger *slog.Logger) {
	err := p.limits.Each(path, func(i int, row dataset.Row) error {
		if i > len(results) {
			return fmt.Errorf("dataset has more rows than results")
		}
		if results[i-1].Features == nil {
			results[i-1].Features = row
		}
		return nil
	})
	if err != nil {
		logger.Warn("attaching features failed", "error", err)
	}
}
