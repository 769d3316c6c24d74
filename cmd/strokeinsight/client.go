package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kalambet/strokeinsight/internal/config"
	"github.com/kalambet/strokeinsight/internal/prediction"
	"github.com/kalambet/strokeinsight/internal/session"
	"github.com/kalambet/strokeinsight/internal/summary"
)

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// newAPIClient builds a client for the local server. A missing session
// token is not an error here; protected endpoints answer 401 instead.
var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	token, err := config.LoadSessionToken()
	if err != nil {
		slog.Debug("no stored session", "error", err)
	}

	// Long enough for a scoring run that hits the server-side timeout.
	timeout := config.Duration(cfg.Scoring.Timeout) + 30*time.Second

	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *apiClient) send(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is strokeinsight running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req)
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// upload streams filePath as the multipart field "file".
func (c *apiClient) upload(ctx context.Context, path, filePath string) (*http.Response, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filePath, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		part, err := mw.CreateFormFile("file", filepath.Base(filePath))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.send(req)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("server returned 401: session missing or expired, run `strokeinsight login`")
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// runRecord mirrors a run as the server returns it.
type runRecord struct {
	ID        string              `json:"id"`
	Timestamp string              `json:"timestamp"`
	FileName  string              `json:"fileName"`
	Username  string              `json:"username"`
	Results   []prediction.Result `json:"results"`
	Summary   summary.Summary     `json:"summary"`
}

func (c *apiClient) login(ctx context.Context, username, id string) (session.Session, error) {
	resp, err := c.post(ctx, "/login", map[string]string{"username": username, "id": id})
	if err != nil {
		return session.Session{}, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return session.Session{}, fmt.Errorf("wrong ID or username")
	}
	var sess session.Session
	if err := decodeJSON(resp, &sess); err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

// predict uploads a spreadsheet. Failed predictions come back as a
// Response with ErrorCode set and a nil error; err is reserved for
// transport and server faults.
func (c *apiClient) predict(ctx context.Context, filePath string) (prediction.Response, error) {
	resp, err := c.upload(ctx, "/predict", filePath)
	if err != nil {
		return prediction.Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return prediction.Response{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return prediction.Response{}, fmt.Errorf("session missing or expired, run `strokeinsight login`")
	}

	var out prediction.Response
	if err := json.Unmarshal(body, &out); err != nil || (!out.Success && out.ErrorCode == "") {
		return prediction.Response{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return out, nil
}

func (c *apiClient) listRuns(ctx context.Context) ([]runRecord, error) {
	resp, err := c.get(ctx, "/analysis")
	if err != nil {
		return nil, err
	}
	var runs []runRecord
	if err := decodeJSON(resp, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (c *apiClient) getRun(ctx context.Context, timestamp string) (runRecord, error) {
	resp, err := c.get(ctx, "/analysis/"+url.PathEscape(timestamp))
	if err != nil {
		return runRecord{}, err
	}
	var run runRecord
	if err := decodeJSON(resp, &run); err != nil {
		return runRecord{}, err
	}
	return run, nil
}
