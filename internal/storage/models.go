package storage

import (
	"errors"
	"time"

	"github.com/kalambet/strokeinsight/internal/prediction"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// TimestampLayout is the fixed-width form timestamps are stored and keyed in.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one completed analysis. Runs are never modified after they are
// appended.
type Run struct {
	ID        string              `json:"id"`
	Timestamp time.Time           `json:"timestamp"`
	FileName  string              `json:"fileName"`
	Username  string              `json:"username"`
	Results   []prediction.Result `json:"results"`
}

// Key returns the timestamp key the run is retrieved by.
func (r Run) Key() string {
	return r.Timestamp.UTC().Format(TimestampLayout)
}

// Predictions returns the prediction label of every result, in order.
func (r Run) Predictions() []string {
	labels := make([]string, len(r.Results))
	for i, res := range r.Results {
		labels[i] = res.Prediction
	}
	return labels
}

// Session is a login token issued to a user.
type Session struct {
	Token     string
	UserID    string
	Username  string
	Role      string
	CreatedAt time.Time
	ExpiresAt time.Time
}
