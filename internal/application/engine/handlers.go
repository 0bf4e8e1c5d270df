package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

// httpResponseLimit caps how much of an action:http response body is
// captured into the step result.
const httpResponseLimit = 1 << 20 // 1 MiB

// TriggerHandler is the entry-point handler shared by all trigger kinds:
// its step simply surfaces the normalized trigger data as the node output
// so downstream bindings can reference it.
type TriggerHandler struct {
	kind domain.NodeKind
}

// NewTriggerHandler creates the handler for one trigger kind.
func NewTriggerHandler(kind domain.NodeKind) *TriggerHandler {
	return &TriggerHandler{kind: kind}
}

func (h *TriggerHandler) Kind() domain.NodeKind { return h.kind }
func (h *TriggerHandler) ErrorTolerant() bool   { return false }

func (h *TriggerHandler) Execute(ctx context.Context, in NodeInput) (*NodeResult, error) {
	return &NodeResult{Output: in.Trigger.Data}, nil
}

// EchoHandler returns its configured payload, or the trigger data when no
// payload is configured.
type EchoHandler struct{}

func (EchoHandler) Kind() domain.NodeKind { return domain.NodeActionEcho }
func (EchoHandler) ErrorTolerant() bool   { return false }

func (EchoHandler) Execute(ctx context.Context, in NodeInput) (*NodeResult, error) {
	if payload, ok := in.Config["payload"].(map[string]any); ok {
		return &NodeResult{Output: payload}, nil
	}
	return &NodeResult{Output: in.Trigger.Data}, nil
}

// ConditionHandler evaluates a comparison and selects the "true" or
// "false" branch handle. Config: left, operator (eq|ne|gt|lt|contains|
// exists), right.
type ConditionHandler struct{}

func (ConditionHandler) Kind() domain.NodeKind { return domain.NodeActionCondition }
func (ConditionHandler) ErrorTolerant() bool   { return false }

func (ConditionHandler) Execute(ctx context.Context, in NodeInput) (*NodeResult, error) {
	operator, _ := in.Config["operator"].(string)
	if operator == "" {
		operator = "eq"
	}
	left := in.Config["left"]
	right := in.Config["right"]

	matched, err := evaluateCondition(left, operator, right)
	if err != nil {
		return nil, err
	}

	branch := "false"
	if matched {
		branch = "true"
	}
	return &NodeResult{
		Output:   map[string]any{"matched": matched, "branch": branch},
		Branches: []string{branch},
	}, nil
}

func evaluateCondition(left any, operator string, right any) (bool, error) {
	switch operator {
	case "exists":
		return left != nil && asString(left) != "", nil
	case "eq":
		return asString(left) == asString(right), nil
	case "ne":
		return asString(left) != asString(right), nil
	case "contains":
		return strings.Contains(asString(left), asString(right)), nil
	case "gt", "lt":
		l, lerr := asNumber(left)
		r, rerr := asNumber(right)
		if lerr != nil || rerr != nil {
			return false, fmt.Errorf("operator %q requires numeric operands", operator)
		}
		if operator == "gt" {
			return l > r, nil
		}
		return l < r, nil
	default:
		return false, fmt.Errorf("unknown condition operator %q", operator)
	}
}

func asString(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(tv)
	default:
		data, err := json.Marshal(tv)
		if err != nil {
			return fmt.Sprintf("%v", tv)
		}
		return string(data)
	}
}

func asNumber(v any) (float64, error) {
	switch tv := v.(type) {
	case float64:
		return tv, nil
	case int:
		return float64(tv), nil
	case int64:
		return float64(tv), nil
	case string:
		return strconv.ParseFloat(tv, 64)
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

// DelayHandler pauses the branch for a configured duration. Config:
// duration (Go duration string, e.g. "5s") or seconds (number).
type DelayHandler struct{}

func (DelayHandler) Kind() domain.NodeKind { return domain.NodeActionDelay }
func (DelayHandler) ErrorTolerant() bool   { return false }

func (DelayHandler) Execute(ctx context.Context, in NodeInput) (*NodeResult, error) {
	var d time.Duration
	if s, ok := in.Config["duration"].(string); ok {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid delay duration %q: %w", s, err)
		}
		d = parsed
	} else if secs, err := asNumber(in.Config["seconds"]); err == nil {
		d = time.Duration(secs * float64(time.Second))
	}
	if d < 0 {
		return nil, fmt.Errorf("delay duration must not be negative")
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &NodeResult{Output: map[string]any{"delayed_ms": d.Milliseconds()}}, nil
}

// HTTPHandler performs an outbound HTTP request. Config: url, method,
// headers (map), body (any JSON value).
type HTTPHandler struct {
	client *http.Client
}

// NewHTTPHandler creates the action:http handler. A nil client uses a
// default with a conservative timeout; per-node timeouts still apply
// through the execution context.
func NewHTTPHandler(client *http.Client) *HTTPHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPHandler{client: client}
}

func (h *HTTPHandler) Kind() domain.NodeKind { return domain.NodeActionHTTP }
func (h *HTTPHandler) ErrorTolerant() bool   { return false }

func (h *HTTPHandler) Execute(ctx context.Context, in NodeInput) (*NodeResult, error) {
	url, _ := in.Config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http node requires a url")
	}
	method, _ := in.Config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if raw, ok := in.Config["body"]; ok && raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := in.Config["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, asString(v))
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, httpResponseLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	output := map[string]any{
		"status": resp.StatusCode,
	}
	var parsed any
	if json.Unmarshal(respBody, &parsed) == nil {
		output["body"] = parsed
	} else {
		output["body"] = string(respBody)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return &NodeResult{Output: output}, nil
}

// TransformHandler reshapes data: its config "fields" map arrives with all
// template bindings already resolved, so the handler just surfaces it.
type TransformHandler struct{}

func (TransformHandler) Kind() domain.NodeKind { return domain.NodeActionTransform }
func (TransformHandler) ErrorTolerant() bool   { return true }

func (TransformHandler) Execute(ctx context.Context, in NodeInput) (*NodeResult, error) {
	fields, ok := in.Config["fields"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("transform node requires a fields map")
	}
	return &NodeResult{Output: fields}, nil
}

// LLMHandler runs a completion against the configured LLM provider.
// Config: prompt (required), system, model, max_tokens.
type LLMHandler struct {
	client       ports.LLMClient
	defaultModel string
	maxTokens    int
}

// NewLLMHandler creates the action:llm handler.
func NewLLMHandler(client ports.LLMClient, defaultModel string, maxTokens int) *LLMHandler {
	return &LLMHandler{client: client, defaultModel: defaultModel, maxTokens: maxTokens}
}

func (h *LLMHandler) Kind() domain.NodeKind { return domain.NodeActionLLM }
func (h *LLMHandler) ErrorTolerant() bool   { return false }

func (h *LLMHandler) Execute(ctx context.Context, in NodeInput) (*NodeResult, error) {
	prompt, _ := in.Config["prompt"].(string)
	if prompt == "" {
		return nil, fmt.Errorf("llm node requires a prompt")
	}

	req := &ports.LLMRequest{
		Model:     h.defaultModel,
		Prompt:    prompt,
		MaxTokens: h.maxTokens,
	}
	if model, ok := in.Config["model"].(string); ok && model != "" {
		req.Model = model
	}
	if system, ok := in.Config["system"].(string); ok {
		req.System = system
	}
	if mt, err := asNumber(in.Config["max_tokens"]); err == nil && mt > 0 {
		req.MaxTokens = int(mt)
	}

	resp, err := h.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm completion failed: %w", err)
	}

	return &NodeResult{Output: map[string]any{
		"content":       resp.Content,
		"model":         resp.Model,
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
	}}, nil
}

// BuiltinHandlers returns the standard handler set. The llm handler is
// included only when a client is configured.
func BuiltinHandlers(llmClient ports.LLMClient, llmModel string, llmMaxTokens int) []Handler {
	handlers := []Handler{
		NewTriggerHandler(domain.NodeTriggerForm),
		NewTriggerHandler(domain.NodeTriggerFile),
		NewTriggerHandler(domain.NodeTriggerEmail),
		NewTriggerHandler(domain.NodeTriggerDatabase),
		NewTriggerHandler(domain.NodeTriggerSchedule),
		EchoHandler{},
		ConditionHandler{},
		DelayHandler{},
		NewHTTPHandler(nil),
		TransformHandler{},
	}
	if llmClient != nil {
		handlers = append(handlers, NewLLMHandler(llmClient, llmModel, llmMaxTokens))
	}
	return handlers
}
