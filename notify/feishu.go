package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"codebundle-score/clierr"
	"codebundle-score/logger"
)

// FeishuNotifier sends run summaries to Feishu (Lark) via webhook.
type FeishuNotifier struct {
	webhook    string
	signKey    string
	httpClient *http.Client
	log        logger.Logger
	retryCount int
	retryDelay time.Duration
}

// FeishuConfig holds Feishu webhook configuration.
type FeishuConfig struct {
	Webhook    string        `yaml:"webhook" validate:"omitempty,url"`
	SignKey    string        `yaml:"sign_key"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count" validate:"gte=0"`
}

// NewFeishuNotifier creates a Feishu notifier.
func NewFeishuNotifier(cfg FeishuConfig, log logger.Logger) *FeishuNotifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	retryCount := cfg.RetryCount
	if retryCount == 0 {
		retryCount = 3
	}
	return &FeishuNotifier{
		webhook:    cfg.Webhook,
		signKey:    cfg.SignKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		retryCount: retryCount,
		retryDelay: time.Second,
	}
}

// Notify posts the summary card.
func (f *FeishuNotifier) Notify(ctx context.Context, s *Summary) error {
	if f.webhook == "" {
		return clierr.New(clierr.InvalidConfig, "no feishu webhook configured")
	}

	payload := map[string]any{
		"msg_type": "interactive",
		"card":     buildCard(s),
	}
	if f.signKey != "" {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		payload["timestamp"] = ts
		payload["sign"] = f.genSign(ts)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for i := 0; i < f.retryCount; i++ {
		if i > 0 {
			delay := time.NewTimer(time.Duration(i) * f.retryDelay)
			select {
			case <-ctx.Done():
				delay.Stop()
				return ctx.Err()
			case <-delay.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhook, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.httpClient.Do(req)
		if err != nil {
			lastErr = err
			f.log.Warn("notify.feishu.retry", logger.Int("attempt", i+1), logger.Err(err))
			continue
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			// Feishu answers 200 on logical errors too.
			var feishuResp struct {
				Code int    `json:"code"`
				Msg  string `json:"msg"`
			}
			if jsonErr := json.Unmarshal(respBody, &feishuResp); jsonErr == nil && feishuResp.Code != 0 {
				lastErr = fmt.Errorf("feishu error code %d: %s", feishuResp.Code, feishuResp.Msg)
				f.log.Warn("notify.feishu.api_error", logger.Int("code", feishuResp.Code), logger.String("msg", feishuResp.Msg))
				continue
			}
			f.log.Info("notify.feishu.sent", logger.String("run_id", s.RunID))
			return nil
		}

		lastErr = fmt.Errorf("feishu returned status %d: %s", resp.StatusCode, string(respBody))
		f.log.Warn("notify.feishu.retry", logger.Int("attempt", i+1), logger.Err(lastErr))
	}

	return clierr.Wrap(clierr.CollaboratorError,
		fmt.Errorf("after %d attempts: %w", f.retryCount, lastErr), "feishu notification failed")
}

func buildCard(s *Summary) map[string]any {
	var template, prefix string
	switch {
	case s.Conflicts > 0 || s.Errors > 0:
		template = "red"
		prefix = "🔴 Codebundle score needs attention"
	case s.OverallScore != nil && *s.OverallScore < 0.8:
		template = "orange"
		prefix = "🟠 Codebundle score below target"
	default:
		template = "green"
		prefix = "🟢 Codebundle score"
	}

	overall := "n/a"
	if s.OverallScore != nil {
		overall = fmt.Sprintf("%.2f", *s.OverallScore)
	}

	elements := []map[string]any{
		markdown(fmt.Sprintf(
			"**Source**: %s\n**Overall score**: %s\n**Files**: %d | **Findings**: %d | **Errors**: %d",
			s.Source, overall, s.Files, s.Findings, s.Errors)),
	}

	if len(s.Worst) > 0 {
		var b strings.Builder
		b.WriteString("**Lowest scoring files**")
		for _, w := range s.Worst {
			fmt.Fprintf(&b, "\n• `%s` %.2f (%d findings)", w.Path, w.Score, w.Findings)
		}
		elements = append(elements, map[string]any{"tag": "hr"}, markdown(b.String()))
	}

	if len(s.Modified) > 0 || s.Conflicts > 0 {
		elements = append(elements, map[string]any{"tag": "hr"},
			markdown(fmt.Sprintf("**Patched files**: %d | **Conflicts**: %d", len(s.Modified), s.Conflicts)))
	}

	if s.PRURL != "" {
		elements = append(elements,
			map[string]any{"tag": "hr"},
			map[string]any{
				"tag": "action",
				"actions": []map[string]any{{
					"tag":  "button",
					"text": map[string]any{"tag": "plain_text", "content": "📋 Review pull request"},
					"type": "primary",
					"url":  s.PRURL,
				}},
			},
		)
	}

	return map[string]any{
		"header": map[string]any{
			"title":    map[string]any{"tag": "plain_text", "content": prefix},
			"template": template,
		},
		"elements": elements,
	}
}

func markdown(content string) map[string]any {
	return map[string]any{
		"tag":  "div",
		"text": map[string]any{"tag": "lark_md", "content": content},
	}
}

func (f *FeishuNotifier) genSign(timestamp string) string {
	stringToSign := timestamp + "\n" + f.signKey
	h := hmac.New(sha256.New, []byte(stringToSign))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
