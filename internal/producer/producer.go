package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"caseline/internal/domain"
)

// Producer drafts content for one stage of one case. The current artifact is
// nil on the first run and carries the latest version on re-entry.
type Producer interface {
	Generate(ctx context.Context, caseID, stage string, current *domain.Artifact) (string, error)
}

// Template is the built-in producer: it emits a placeholder draft so the
// pipeline runs end-to-end without any external generation service.
type Template struct{}

func (Template) Generate(_ context.Context, caseID, stage string, current *domain.Artifact) (string, error) {
	version := 1
	if current != nil {
		version = current.Version + 1
	}
	return fmt.Sprintf("# %s draft (v%d)\n\nGenerated for case %s. Replace with reviewed content.\n",
		strings.ReplaceAll(stage, "_", " "), version, caseID), nil
}

const defaultHTTPTimeout = 10 * time.Second

// HTTP posts the generation request to an external producer endpoint and
// expects a JSON body with the drafted content back.
type HTTP struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

type httpRequest struct {
	CaseID   string           `json:"case_id"`
	Stage    string           `json:"stage"`
	Artifact *domain.Artifact `json:"artifact,omitempty"`
}

type httpResponse struct {
	Content string `json:"content"`
}

func (p HTTP) Generate(ctx context.Context, caseID, stage string, current *domain.Artifact) (string, error) {
	body, err := json.Marshal(httpRequest{CaseID: caseID, Stage: stage, Artifact: current})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caseline-Stage", stage)
	req.Header.Set("X-Caseline-Case", caseID)
	client := p.Client
	if client == nil {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", fmt.Errorf("producer %s: status %d: %s", p.URL, res.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out httpResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("producer %s: decode response: %w", p.URL, err)
	}
	return out.Content, nil
}
