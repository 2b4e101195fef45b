// Package usage runs provider usage-query scripts. A script is a
// JavaScript expression evaluating to an object with a `request`
// descriptor and an `extractor(response)` function.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dop251/goja"

	"github.com/lkarlslund/ccswitch/pkg/logutil"
	"github.com/lkarlslund/ccswitch/pkg/version"
)

const (
	PlaceholderAPIKey  = "{{apiKey}}"
	PlaceholderBaseURL = "{{baseUrl}}"

	errorPreviewLimit = 200
	maxResponseBytes  = 4 << 20
)

type Stage string

const (
	StageRuntime      Stage = "runtime"
	StageEval         Stage = "eval"
	StageMissingField Stage = "missing-field"
	StageHTTP         Stage = "http"
	StageSerialize    Stage = "serialize"
	StageValidate     Stage = "validate"
)

// SandboxError is the single failure type Execute returns.
type SandboxError struct {
	Stage Stage
	Err   error
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("usage script %s: %v", e.Stage, e.Err)
}

func (e *SandboxError) Unwrap() error { return e.Err }

func fail(stage Stage, format string, args ...any) error {
	return &SandboxError{Stage: stage, Err: fmt.Errorf(format, args...)}
}

// RequestDescriptor is the `request` field of a script, as read in the
// first pass.
type RequestDescriptor struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    *string           `json:"body"`
}

var logger = logutil.For("usage")

// Execute substitutes the placeholders, then evaluates script twice in
// separate interpreters: once to read the request, and once after the
// HTTP call to run the extractor over the decoded response. The returned
// value has passed ValidateResult.
func Execute(ctx context.Context, script, apiKey, baseURL string, timeout time.Duration) (any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	src := strings.NewReplacer(PlaceholderAPIKey, apiKey, PlaceholderBaseURL, baseURL).Replace(script)

	desc, err := readRequest(ctx, src)
	if err != nil {
		return nil, err
	}
	body, err := sendRequest(ctx, desc, timeout)
	if err != nil {
		return nil, err
	}
	result, err := runExtractor(ctx, src, body)
	if err != nil {
		return nil, err
	}
	if err := ValidateResult(result); err != nil {
		return nil, &SandboxError{Stage: StageValidate, Err: err}
	}
	return result, nil
}

func readRequest(ctx context.Context, src string) (RequestDescriptor, error) {
	var desc RequestDescriptor
	err := evaluate(ctx, src, func(vm *goja.Runtime, cfg *goja.Object) error {
		request := cfg.Get("request")
		if request == nil || goja.IsUndefined(request) || goja.IsNull(request) {
			return fail(StageMissingField, "script has no request")
		}
		raw, err := stringify(vm, request)
		if err != nil {
			return fail(StageSerialize, "request: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &desc); err != nil {
			return fail(StageSerialize, "request: %w", err)
		}
		return nil
	})
	if err != nil {
		return RequestDescriptor{}, err
	}
	if strings.TrimSpace(desc.URL) == "" {
		return RequestDescriptor{}, fail(StageSerialize, "request.url is required")
	}
	desc.Method = normalizeMethod(desc.Method)
	return desc, nil
}

func runExtractor(ctx context.Context, src string, body []byte) (any, error) {
	var result any
	err := evaluate(ctx, src, func(vm *goja.Runtime, cfg *goja.Object) error {
		extractor, ok := goja.AssertFunction(cfg.Get("extractor"))
		if !ok {
			return fail(StageMissingField, "script has no extractor function")
		}
		response, err := parseJSON(vm, string(body))
		if err != nil {
			return fail(StageSerialize, "response is not JSON: %w", err)
		}
		out, err := extractor(goja.Undefined(), response)
		if err != nil {
			return evalError(ctx, err)
		}
		raw, err := stringify(vm, out)
		if err != nil {
			return fail(StageSerialize, "extractor result: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return fail(StageSerialize, "extractor result: %w", err)
		}
		return nil
	})
	return result, err
}

// evaluate runs src in a fresh runtime and hands its completion value to
// fn. The runtime is dropped on return.
func evaluate(ctx context.Context, src string, fn func(vm *goja.Runtime, cfg *goja.Object) error) error {
	if err := ctx.Err(); err != nil {
		return &SandboxError{Stage: StageRuntime, Err: err}
	}
	vm := goja.New()
	if err := installConsole(vm); err != nil {
		return &SandboxError{Stage: StageRuntime, Err: err}
	}
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	v, err := vm.RunString(src)
	if err != nil {
		return evalError(ctx, err)
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return fail(StageEval, "script must evaluate to an object")
	}
	cfg, ok := v.(*goja.Object)
	if !ok {
		return fail(StageEval, "script must evaluate to an object, got %s", v.ExportType())
	}
	return fn(vm, cfg)
}

func evalError(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &SandboxError{Stage: StageRuntime, Err: fmt.Errorf("script interrupted: %w", ctxErr)}
		}
		return &SandboxError{Stage: StageRuntime, Err: err}
	}
	return &SandboxError{Stage: StageEval, Err: err}
}

func installConsole(vm *goja.Runtime) error {
	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.String())
			}
			logger.Debug("script console", "level", level, "msg", strings.Join(parts, " "))
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

func stringify(vm *goja.Runtime, v goja.Value) (string, error) {
	fn, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return "", errors.New("JSON.stringify unavailable")
	}
	out, err := fn(goja.Undefined(), v)
	if err != nil {
		return "", err
	}
	if out == nil || goja.IsUndefined(out) {
		return "", errors.New("value is not serialisable")
	}
	return out.String(), nil
}

func parseJSON(vm *goja.Runtime, text string) (goja.Value, error) {
	fn, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse unavailable")
	}
	return fn(goja.Undefined(), vm.ToValue(text))
}

// normalizeMethod upper-cases the method; anything that is not a plain
// token falls back to GET.
func normalizeMethod(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" || strings.IndexFunc(m, func(r rune) bool { return r < 'A' || r > 'Z' }) >= 0 {
		return http.MethodGet
	}
	return m
}

func sendRequest(ctx context.Context, desc RequestDescriptor, timeout time.Duration) ([]byte, error) {
	var body io.Reader
	if desc.Body != nil {
		body = strings.NewReader(*desc.Body)
	}
	req, err := http.NewRequestWithContext(ctx, desc.Method, desc.URL, body)
	if err != nil {
		return nil, fail(StageHTTP, "build request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	for k, v := range desc.Headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fail(StageHTTP, "request failed: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fail(StageHTTP, "read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fail(StageHTTP, "HTTP %s : %s", resp.Status, preview(string(b)))
	}
	if len(b) > maxResponseBytes {
		return nil, fail(StageHTTP, "response exceeds %d bytes", maxResponseBytes)
	}
	return b, nil
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= errorPreviewLimit {
		return text
	}
	return string([]rune(text)[:errorPreviewLimit]) + "..."
}
