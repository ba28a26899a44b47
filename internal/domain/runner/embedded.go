package runner

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/dop251/goja"
)

// runEmbedded evaluates javascript in an isolated goja VM. Console output is
// split into stdout (log, info) and stderr (warn, error).
func (r *Runner) runEmbedded(ctx context.Context, text string) Result {
	stdout := newCapture(r.maxOutput)
	stderr := newCapture(r.maxOutput)

	vm := goja.New()
	vm.SetMaxCallStackSize(1024)
	setupGlobals(vm, stdout, stderr)

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt("execution timeout exceeded")
	})
	defer stop()

	_, err := vm.RunString(text)

	if ctx.Err() != nil {
		out, _ := render(stdout)
		errOut, _ := render(stderr)
		return r.deadlineResult(ctx, out, errOut)
	}

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return r.deadlineResult(ctx, "", "")
		}
		errOut, trunc := render(stderr)
		detail := err.Error()
		if strings.TrimSpace(errOut) != "" {
			detail = errOut + "\n" + detail
		}
		return Result{
			Output:    "Runtime error:\n" + detail,
			IsError:   true,
			Kind:      KindRuntime,
			Truncated: trunc,
		}
	}

	output, truncated := render(stdout)
	if strings.TrimSpace(output) == "" && !truncated {
		output = NoOutput
	}
	return Result{Output: output, Kind: KindSuccess, Truncated: truncated}
}

func setupGlobals(vm *goja.Runtime, stdout, stderr io.Writer) {
	// Remove host access
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())

	console := vm.NewObject()
	console.Set("log", consoleFunc(stdout))
	console.Set("info", consoleFunc(stdout))
	console.Set("debug", consoleFunc(stdout))
	console.Set("warn", consoleFunc(stderr))
	console.Set("error", consoleFunc(stderr))
	vm.Set("console", console)

	// Timers are not supported without an event loop
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	vm.Set("setTimeout", noop)
	vm.Set("setInterval", noop)
}

func consoleFunc(w io.Writer) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		io.WriteString(w, strings.Join(parts, " ")+"\n")
		return goja.Undefined()
	}
}
