package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxNameLen = 100

// Upload is a dataset written to the intake directory for one request.
type Upload struct {
	Path   string
	Name   string
	Size   int64
	logger *slog.Logger
}

// Close deletes the upload's file. A failed deletion is logged; the janitor
// removes whatever is left behind.
func (u *Upload) Close() {
	if err := os.Remove(u.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		u.logger.Warn("removing upload failed", "path", u.Path, "error", err)
	}
}

// Intake stores uploaded spreadsheets in a private directory.
type Intake struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// NewIntake creates the intake directory if needed.
func NewIntake(dir string) (*Intake, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating intake directory: %w", err)
	}
	return &Intake{dir: dir, now: time.Now, logger: slog.Default()}, nil
}

// Dir returns the intake directory.
func (in *Intake) Dir() string { return in.dir }

// Ingest streams r into a uniquely named file. Files with an unsupported
// extension are rejected before anything is written.
func (in *Intake) Ingest(ctx context.Context, r io.Reader, fileName string) (*Upload, error) {
	if !SupportedExtension(fileName) {
		return nil, fmt.Errorf("%w: unsupported file type %q, upload an .xlsx or .xls file", ErrFileFormat, filepath.Ext(fileName))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := sanitizeName(fileName)
	path := filepath.Join(in.dir, strconv.FormatInt(in.now().UnixNano(), 10)+"-"+uuid.NewString()[:8]+"-"+name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating upload file: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing upload: %w", err)
	}
	if n == 0 {
		os.Remove(path)
		return nil, fmt.Errorf("%w: file is empty", ErrFileFormat)
	}

	in.logger.Debug("upload stored", "path", path, "bytes", n)
	return &Upload{Path: path, Name: fileName, Size: n, logger: in.logger}, nil
}

// sanitizeName keeps the base name of an uploaded file with characters that
// are safe in a path.
func sanitizeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if len(s) > maxNameLen {
		ext := filepath.Ext(s)
		s = s[:maxNameLen-len(ext)] + ext
	}
	return s
}
