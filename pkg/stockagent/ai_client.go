package stockagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	defaultAIBaseURL     = "https://api.deepseek.com"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	aiRequestTimeout      = 60 * time.Second
	maxAIResponseBodySize = 2 << 20
	aiMaxOutputTokens     = 2000

	defaultMaxAttempts = 3
)

// Call profiles per call site. Report generation tolerates slower upstreams
// and backs off longer; intent parsing stays snappy and deterministic.
var (
	reportCallOptions = CallOptions{Temperature: 0.7, BaseDelay: 2 * time.Second}
	parseCallOptions  = CallOptions{Temperature: 0.3, BaseDelay: 1 * time.Second}
)

// HTTPDoer is an interface for making HTTP requests. It enables dependency
// injection for testing without network calls.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// CallOptions tune one Complete invocation.
type CallOptions struct {
	Temperature float64
	BaseDelay   time.Duration
	MaxAttempts int
	MaxTokens   int
}

func (o CallOptions) withDefaults() CallOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = aiMaxOutputTokens
	}
	return o
}

// AIClientOptions controls AIClient construction.
type AIClientOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	Logger     *slog.Logger
	HTTPClient HTTPDoer
	Timeout    time.Duration
}

// AIClient sends chat-completion requests to a hosted model endpoint and
// retries transient failures with exponential backoff. Error classification
// is explicit: each attempt yields a coded *Error and the retry loop decides
// retry-vs-fatal from the code alone.
type AIClient struct {
	baseURL string
	apiKey  string
	model   string
	logger  *slog.Logger
	client  HTTPDoer
	sleep   func(time.Duration)
}

// NewAIClient builds an AIClient. The credential is validated lazily at call
// time so that a server without a key can still serve data-only tools.
func NewAIClient(opts AIClientOptions) *AIClient {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = aiRequestTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = defaultAIBaseURL
	}
	return &AIClient{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(opts.APIKey),
		model:   strings.TrimSpace(opts.Model),
		logger:  logger,
		client:  client,
		sleep:   time.Sleep,
	}
}

// Model returns the configured model name.
func (c *AIClient) Model() string {
	return c.model
}

// retryableCode reports whether an attempt failure is transient. Timeouts,
// rate limits and generic transport failures are retried; configuration,
// authentication, malformed-response and unexpected-status failures are not.
func retryableCode(code ErrorCode) bool {
	switch code {
	case ErrCodeTimeout, ErrCodeRateLimited, ErrCodeUpstream:
		return true
	}
	return false
}

// Complete sends the prompt (plus optional system instruction) and returns
// the first choice's message content. Up to MaxAttempts attempts are made;
// the delay before each retry doubles, starting at BaseDelay.
func (c *AIClient) Complete(ctx context.Context, prompt, systemPrompt string, opts CallOptions) (string, error) {
	if c.apiKey == "" {
		return "", NewError(ErrCodeConfig, "API密钥未设置")
	}
	opts = opts.withDefaults()

	delay := opts.BaseDelay
	var last *Error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		content, aerr := c.attempt(ctx, prompt, systemPrompt, opts)
		if aerr == nil {
			return content, nil
		}
		last = aerr
		if !retryableCode(aerr.Code) {
			return "", aerr
		}
		if attempt == opts.MaxAttempts {
			break
		}
		c.logger.Warn("ai request retry",
			"attempt", attempt,
			"cause", string(aerr.Code),
			"delay", delay.String(),
		)
		c.sleep(delay)
		delay *= 2
	}

	switch last.Code {
	case ErrCodeTimeout:
		return "", WrapError(ErrCodeTimeout, "API请求超时，请稍后重试", last.Err)
	case ErrCodeRateLimited:
		return "", WrapError(ErrCodeRateLimited, "API请求频率过高，请稍后重试", last.Err)
	default:
		return "", WrapError(last.Code, "调用模型接口失败", last)
	}
}

// attempt performs a single request and classifies any failure.
func (c *AIClient) attempt(ctx context.Context, prompt, systemPrompt string, opts CallOptions) (string, *Error) {
	if isGeminiModel(c.baseURL, c.model) {
		return c.attemptGemini(ctx, prompt, systemPrompt, opts)
	}

	endpoint, err := buildCompletionsEndpoint(c.baseURL)
	if err != nil {
		return "", WrapError(ErrCodeConfig, "无效的接口地址", err)
	}

	messages := make([]map[string]string, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})

	payload := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": opts.Temperature,
		"stream":      false,
		"max_tokens":  opts.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", WrapError(ErrCodeInternal, "序列化请求失败", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", WrapError(ErrCodeInternal, "构造请求失败", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if isTimeoutError(err) {
			return "", WrapError(ErrCodeTimeout, "请求超时", err)
		}
		return "", WrapError(ErrCodeUpstream, "请求失败", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAIResponseBodySize))
	if err != nil {
		return "", WrapError(ErrCodeUpstream, "读取响应失败", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", NewError(ErrCodeAuth, "API密钥无效，请检查配置")
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", NewError(ErrCodeRateLimited, "请求频率过高")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		message := fmt.Sprintf("API请求失败: HTTP %d", resp.StatusCode)
		if detail := parseAIErrorMessage(respBody); detail != "" {
			message += ": " + detail
		}
		return "", NewError(ErrCodeHTTP, message)
	}

	content, aerr := decodeChoicesContent(respBody)
	if aerr != nil {
		return "", aerr
	}
	return content, nil
}

// attemptGemini uses the Gemini-native API for gemini models. Failures map
// onto the same error kinds as the OpenAI-compatible path.
func (c *AIClient) attemptGemini(ctx context.Context, prompt, systemPrompt string, opts CallOptions) (string, *Error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: geminiBaseURL(c.baseURL),
		},
	})
	if err != nil {
		return "", WrapError(ErrCodeConfig, "创建Gemini客户端失败", err)
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(opts.Temperature)),
		MaxOutputTokens: int32(opts.MaxTokens),
	}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	response, err := client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), config)
	if err != nil {
		if isTimeoutError(err) {
			return "", WrapError(ErrCodeTimeout, "请求超时", err)
		}
		return "", WrapError(ErrCodeUpstream, "Gemini请求失败", err)
	}
	content := strings.TrimSpace(response.Text())
	if content == "" {
		return "", NewError(ErrCodeMalformedResponse, "模型返回内容为空")
	}
	return content, nil
}

func geminiBaseURL(baseURL string) string {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" || trimmed == defaultAIBaseURL {
		return defaultGeminiBaseURL
	}
	return trimmed
}

func isGeminiModel(baseURL, model string) bool {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gemini") {
		return true
	}
	return strings.Contains(strings.ToLower(baseURL), "generativelanguage.googleapis.com")
}

// buildCompletionsEndpoint normalizes a base URL into a chat-completions
// endpoint, tolerating bases with or without a scheme or /v1 suffix.
func buildCompletionsEndpoint(baseURL string) (string, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		trimmed = defaultAIBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	trimmed = strings.TrimRight(trimmed, "/")
	lower := strings.ToLower(trimmed)

	endpoint := ""
	switch {
	case strings.HasSuffix(lower, "/chat/completions"):
		endpoint = trimmed
	case strings.HasSuffix(lower, "/v1"):
		endpoint = trimmed + "/chat/completions"
	default:
		endpoint = trimmed + "/v1/chat/completions"
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("invalid base url scheme: %s", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid base url host")
	}
	return endpoint, nil
}

// decodeChoicesContent extracts the first choice's message content. An empty
// or missing choices list is a malformed response, not a transient failure.
func decodeChoicesContent(body []byte) (string, *Error) {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", WrapError(ErrCodeMalformedResponse, "API返回格式异常", err)
	}
	if len(parsed.Choices) == 0 {
		return "", NewError(ErrCodeMalformedResponse, "API返回格式异常")
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", NewError(ErrCodeMalformedResponse, "模型返回内容为空")
	}
	return content, nil
}

func parseAIErrorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if strings.TrimSpace(payload.Error.Message) != "" {
		return strings.TrimSpace(payload.Error.Message)
	}
	return strings.TrimSpace(payload.Message)
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "context deadline exceeded") || strings.Contains(message, "timeout")
}

// cleanupModelJSON strips a fenced code block and surrounding prose from a
// model response, keeping the outermost JSON object.
func cleanupModelJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		lines := strings.Split(trimmed, "\n")
		if len(lines) >= 2 {
			lines = lines[1:]
			if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
				lines = lines[:len(lines)-1]
			}
			trimmed = strings.Join(lines, "\n")
		}
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		trimmed = trimmed[start : end+1]
	}
	return strings.TrimSpace(trimmed)
}
