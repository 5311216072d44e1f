package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/qs3c/kanchana_server/config"
)

const externalHistoryMax = 10

// External 自建的 Kanchana 对话服务
type External struct {
	endpoint     string
	apiKey       string
	clientSecret string
	httpClient   *http.Client
}

func NewExternal(cfg *config.ExternalConfig, httpClient *http.Client) *External {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "/v1/chat"
	}
	return &External{
		endpoint:     strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/"),
		apiKey:       cfg.APIKey,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
	}
}

type externalTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type externalRequest struct {
	Message      string                 `json:"message"`
	History      []externalTurn         `json:"history"`
	Context      map[string]interface{} `json:"context"`
	SystemPrompt string                 `json:"systemPrompt,omitempty"`
}

type externalResponse struct {
	Reply   string `json:"reply"`
	Message string `json:"message"`
	Text    string `json:"text"`
}

func (e *External) Name() string { return NameExternal }

func (e *External) Configured() bool {
	return e.apiKey != "" && e.clientSecret != ""
}

func (e *External) Generate(ctx context.Context, req Request) Result {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return fail(NameExternal, http.StatusBadRequest, "empty_input", "Message text is required.")
	}
	if !e.Configured() {
		return fail(NameExternal, http.StatusServiceUnavailable, "missing_credentials", UnavailableMessage)
	}

	history := make([]externalTurn, 0, externalHistoryMax)
	for _, turn := range lastTurns(req.History, externalHistoryMax) {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		role := RoleUser
		if turn.Role == RoleAssistant {
			role = RoleAssistant
		}
		history = append(history, externalTurn{Role: role, Content: text})
	}

	ctxPayload := req.Context
	if ctxPayload == nil {
		ctxPayload = map[string]interface{}{}
	}
	body, err := json.Marshal(externalRequest{
		Message:      input,
		History:      history,
		Context:      ctxPayload,
		SystemPrompt: strings.TrimSpace(req.SystemPrompt),
	})
	if err != nil {
		return fail(NameExternal, http.StatusServiceUnavailable, "request_failed", UnavailableMessage)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fail(NameExternal, http.StatusServiceUnavailable, "request_failed", UnavailableMessage)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", e.apiKey)
	httpReq.Header.Set("x-client-secret", e.clientSecret)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return transportFailure(ctx, NameExternal, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportFailure(ctx, NameExternal, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res := fail(NameExternal, http.StatusServiceUnavailable, "upstream_non_ok", UnavailableMessage)
		res.Failure.UpstreamStatus = resp.StatusCode
		if resp.StatusCode == http.StatusTooManyRequests {
			res.Failure.StatusCode = http.StatusTooManyRequests
			res.Failure.Reason = "rate_limited"
			res.Failure.RetryAfter = parseRetryHint(string(raw))
		}
		return res
	}

	var payload externalResponse
	_ = json.Unmarshal(raw, &payload)
	reply := strings.TrimSpace(firstNonEmpty(payload.Reply, payload.Message, payload.Text))
	if reply == "" {
		return fail(NameExternal, http.StatusServiceUnavailable, "empty_reply", UnavailableMessage)
	}
	return success(reply)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
