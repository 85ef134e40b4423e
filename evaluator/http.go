package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"codebundle-score/logger"
	"codebundle-score/rules"
)

// HTTPConfig configures the LLM explain endpoint.
type HTTPConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// HTTPEvaluator posts {"prompt": ...} to an explain endpoint and reads the
// verdict JSON out of the "explanation" field of the response.
type HTTPEvaluator struct {
	url        string
	token      string
	httpClient *http.Client
	refs       []Reference
	log        logger.Logger
}

func NewHTTPEvaluator(cfg HTTPConfig, refs []Reference, log logger.Logger) *HTTPEvaluator {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEvaluator{
		url:        cfg.URL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		refs:       refs,
		log:        log,
	}
}

func (h *HTTPEvaluator) Name() string { return "http" }

func (h *HTTPEvaluator) EvaluateTitle(ctx context.Context, req *rules.TitleRequest) (*rules.TitleVerdict, error) {
	body, err := json.Marshal(map[string]string{"prompt": BuildTitlePrompt(req, h.refs)})
	if err != nil {
		return nil, fmt.Errorf("marshal prompt: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.token)
	}

	start := time.Now()
	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("post %s: %w", h.url, err)}
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()

	h.log.Debug("evaluator.http.response",
		logger.Int("status", resp.StatusCode),
		logger.Duration("elapsed", time.Since(start)),
		logger.String("title", req.Title),
	)

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("explain endpoint returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, &TransientError{Err: err}
		}
		return nil, err
	}

	var out struct {
		Explanation string `json:"explanation"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode explain response: %w", err)
	}
	return ParseVerdict(out.Explanation, h.Name())
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
