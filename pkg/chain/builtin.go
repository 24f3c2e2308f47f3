package chain

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// runWithTimeout runs fn in its own goroutine and races it against ctx
// (bounded by timeout, when positive), so a leaf executor can honour
// cancellation even when fn itself ignores ctx internally. Grounded on
// the tool-call cancellation pattern: spawn, then select on ctx.Done()
// versus a buffered result channel so the goroutine never leaks even if
// the caller stops waiting.
func runWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) (map[string]Value, error)) StepResult {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		outputs map[string]Value
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		outputs, err := fn(runCtx)
		done <- outcome{outputs, err}
	}()

	select {
	case <-runCtx.Done():
		if runCtx.Err() == context.DeadlineExceeded {
			return StepResult{}.WithError(newErr(ErrTimeout, "step exceeded timeout of %v", timeout))
		}
		return StepResult{}.WithError(wrapErr(ErrTimeout, "", runCtx.Err(), "step execution cancelled"))
	case result := <-done:
		if result.err != nil {
			return StepResult{}.WithError(result.err)
		}
		return StepResult{}.WithOutputs(result.outputs)
	}
}

// NewBuiltinRegistry returns a Registry pre-populated with small reference
// executors (echo, upper, sleep as FunctionCall handlers; http as a
// ToolUse handler) exercising the scenarios named in SPEC_FULL §4.3.1.
// Embedding systems register their real LLM/function/tool executors
// alongside or instead of these; they exist so a chain can be exercised
// end to end without a full router/tool catalogue wired in.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.RegisterHandler("echo", StepExecutorFunc(executeEcho))
	r.RegisterHandler("upper", StepExecutorFunc(executeUpper))
	r.RegisterHandler("sleep", StepExecutorFunc(executeSleep))
	r.RegisterHandler("http", StepExecutorFunc(executeHTTP))
	return r
}

// executeEcho implements the FunctionCall "echo" handler used by S1: it
// copies its "message" argument to a "msg" output verbatim.
func executeEcho(ctx context.Context, step *Step, execCtx *ExecutionContext, inputs map[string]Value) StepResult {
	msg, ok := inputs["message"]
	if !ok {
		return StepResult{}.WithError(varErr(ErrVariableNotFound, "message", "echo step %q requires a %q input", step.ID, "message"))
	}
	return StepResult{}.WithOutputs(map[string]Value{"msg": msg})
}

// executeUpper implements the FunctionCall "upper" handler used by S1: it
// upper-cases its "value" argument into an "upper" output.
func executeUpper(ctx context.Context, step *Step, execCtx *ExecutionContext, inputs map[string]Value) StepResult {
	val, ok := inputs["value"]
	if !ok {
		return StepResult{}.WithError(varErr(ErrVariableNotFound, "value", "upper step %q requires a %q input", step.ID, "value"))
	}
	return StepResult{}.WithOutputs(map[string]Value{"upper": NewString(strings.ToUpper(val.String()))})
}

// executeSleep implements a FunctionCall "sleep" handler: it blocks for
// its "duration_ms" argument, honouring ctx cancellation; a step.Timeout
// shorter than that makes it fail with a Timeout error — used to exercise the
// Parallel/timeout scenarios (S3) without a real external dependency.
func executeSleep(ctx context.Context, step *Step, execCtx *ExecutionContext, inputs map[string]Value) StepResult {
	durMS := 0.0
	if v, ok := inputs["duration_ms"]; ok {
		durMS, _ = v.AsFloat64()
	}
	return runWithTimeout(ctx, step.Timeout, func(runCtx context.Context) (map[string]Value, error) {
		timer := time.NewTimer(time.Duration(durMS) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-runCtx.Done():
			return nil, runCtx.Err()
		case <-timer.C:
			return map[string]Value{"slept_ms": NewNumber(durMS)}, nil
		}
	})
}

// executeHTTP implements a minimal ToolUse "http" handler: GET/POST a URL
// with an optional body, returning the response status and body text.
// Real deployments register a richer tool catalogue (§6.5); this exists
// to exercise the ToolUse leaf type end to end.
func executeHTTP(ctx context.Context, step *Step, execCtx *ExecutionContext, inputs map[string]Value) StepResult {
	urlVal, ok := inputs["url"]
	if !ok {
		return StepResult{}.WithError(varErr(ErrVariableNotFound, "url", "http step %q requires a %q input", step.ID, "url"))
	}
	method := "GET"
	if m, ok := inputs["method"]; ok {
		method = strings.ToUpper(m.String())
	}
	var body io.Reader
	if b, ok := inputs["body"]; ok {
		body = strings.NewReader(b.String())
	}

	return runWithTimeout(ctx, step.Timeout, func(runCtx context.Context) (map[string]Value, error) {
		req, err := http.NewRequestWithContext(runCtx, method, urlVal.String(), body)
		if err != nil {
			return nil, wrapErr(ErrStepExecution, step.ID, err, "failed to build http request")
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, wrapErr(ErrStepExecution, step.ID, err, "http request failed")
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, wrapErr(ErrStepExecution, step.ID, err, "failed to read http response body")
		}
		return map[string]Value{
			"status": NewNumber(float64(resp.StatusCode)),
			"body":   NewString(string(respBody)),
		}, nil
	})
}
