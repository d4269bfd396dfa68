package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sprite-ai/crev/internal/model"
)

// HTTP sends each file to a remote analysis service. Requests are not
// retried.
type HTTP struct {
	endpoint string
	client   *http.Client
}

type analyzeRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type analyzeResponse struct {
	Findings []wireFinding `json:"findings"`
}

// wireFinding shadows the embedded severity so an omitted one is detectable.
type wireFinding struct {
	model.RawFinding
	Severity *model.Severity `json:"severity"`
}

// NewHTTP returns a client for the service at baseURL. A zero timeout
// leaves requests bounded only by the caller's context.
func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	baseURL = strings.TrimRight(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/analyze")
	return &HTTP{
		endpoint: baseURL + "/analyze",
		client:   &http.Client{Timeout: timeout},
	}
}

func (h *HTTP) AnalyzeFile(ctx context.Context, path, content string) ([]model.RawFinding, error) {
	payload, err := json.Marshal(analyzeRequest{Path: path, Content: content})
	if err != nil {
		return nil, &BackendError{Backend: "http", Path: path, Err: fmt.Errorf("marshaling request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &BackendError{Backend: "http", Path: path, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &BackendError{Backend: "http", Path: path, Err: fmt.Errorf("sending request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &BackendError{Backend: "http", Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &BackendError{
			Backend:    "http",
			Path:       path,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("API error: %s", strings.TrimSpace(string(body))),
		}
	}

	var result analyzeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &BackendError{Backend: "http", Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("parsing response: %w", err)}
	}
	findings := make([]model.RawFinding, 0, len(result.Findings))
	for i, wf := range result.Findings {
		if wf.Severity == nil {
			return nil, &BackendError{Backend: "http", Path: path, StatusCode: resp.StatusCode,
				Err: fmt.Errorf("finding %d (%s) has no severity", i, wf.RuleID)}
		}
		f := wf.RawFinding
		f.RawSeverity = *wf.Severity
		findings = append(findings, f)
	}
	return findings, nil
}
