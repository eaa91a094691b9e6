package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardgate/internal/core"
	"boardgate/internal/executor"
	"boardgate/internal/observability"
)

// fakeRunner это подменяемый исполнитель со счетчиком вызовов.
type fakeRunner struct {
	calls atomic.Int32
	run   func(argv []string) (core.Outcome, error)
}

func (f *fakeRunner) Run(ctx context.Context, argv []string) (core.Outcome, error) {
	f.calls.Add(1)
	if f.run == nil {
		return core.Outcome{Succeeded: true}, nil
	}
	return f.run(argv)
}

func succeedWith(stdout string) *fakeRunner {
	return &fakeRunner{run: func([]string) (core.Outcome, error) {
		return core.Outcome{Succeeded: true, Stdout: stdout, Stderr: "ignored warning"}, nil
	}}
}

func newTestService(t *testing.T, runner core.Runner, opts ...func(*Options)) *Service {
	t.Helper()
	registry, err := NewRegistry()
	require.NoError(t, err)
	o := Options{Runner: runner, Logger: zerolog.Nop()}
	for _, fn := range opts {
		fn(&o)
	}
	return NewService(registry, o)
}

func TestExecuteSuccessForEveryOperation(t *testing.T) {
	cases := []struct {
		op      string
		payload string
		command string
		args    []string
	}{
		{OpListBoards, ``, "board", []string{"listall", "--format", "json"}},
		{OpListConnectedBoards, `null`, "board", []string{"list", "--format", "json"}},
		{OpListCores, `{}`, "core", []string{"list", "--format", "json"}},
		{OpInstallCore, `{"core_name":"arduino:avr"}`, "core", []string{"install", "arduino:avr"}},
		{OpCompileSketch, `{"sketch_path":"./blink"}`, "compile", []string{"./blink"}},
		{OpCompileSketch, `{"sketch_path":"./blink","fqbn":"arduino:avr:uno"}`, "compile", []string{"--fqbn", "arduino:avr:uno", "./blink"}},
		{OpUploadSketch, `{"sketch_path":"./blink","port":"/dev/ttyUSB0","fqbn":"arduino:avr:uno"}`, "upload",
			[]string{"--port", "/dev/ttyUSB0", "--fqbn", "arduino:avr:uno", "./blink"}},
	}

	for _, tc := range cases {
		t.Run(tc.op, func(t *testing.T) {
			var gotArgv []string
			runner := &fakeRunner{run: func(argv []string) (core.Outcome, error) {
				gotArgv = argv
				return core.Outcome{Succeeded: true, Stdout: "S", Stderr: "noise"}, nil
			}}
			svc := newTestService(t, runner)

			resp := svc.Execute(context.Background(), "test", tc.op, json.RawMessage(tc.payload))

			assert.True(t, resp.Success)
			assert.Equal(t, "S", resp.Output)
			assert.Nil(t, resp.Error)
			assert.Equal(t, tc.command, resp.Command)
			assert.Equal(t, tc.args, resp.Args)
			assert.Equal(t, append([]string{tc.command}, tc.args...), gotArgv)
			assert.EqualValues(t, 1, runner.calls.Load())
		})
	}
}

func TestExecuteMissingFieldNeverSpawns(t *testing.T) {
	cases := []struct {
		op      string
		payload string
		message string
		command string
		args    []string
	}{
		{OpInstallCore, `{}`, "Missing core name", "core", []string{"install"}},
		{OpInstallCore, `{"core_name":42}`, "Missing core name", "core", []string{"install"}},
		{OpCompileSketch, `{}`, "Missing sketch path", "compile", []string{}},
		{OpCompileSketch, `{"fqbn":"arduino:avr:uno"}`, "Missing sketch path", "compile", []string{}},
		{OpUploadSketch, `{"port":"/dev/ttyUSB0","fqbn":"arduino:avr:uno"}`, "Missing sketch path", "upload", []string{}},
		{OpUploadSketch, `{"sketch_path":"./blink","fqbn":"arduino:avr:uno"}`, "Missing port", "upload", []string{}},
		{OpUploadSketch, `{"sketch_path":"./blink","port":"/dev/ttyUSB0"}`, "Missing FQBN", "upload", []string{}},
		{OpUploadSketch, `{"sketch_path":"./blink","port":null,"fqbn":"x"}`, "Missing port", "upload", []string{}},
		{OpUploadSketch, `"not an object"`, "Missing sketch path", "upload", []string{}},
	}

	for _, tc := range cases {
		t.Run(tc.op+"/"+tc.message, func(t *testing.T) {
			runner := &fakeRunner{}
			svc := newTestService(t, runner)

			resp := svc.Execute(context.Background(), "test", tc.op, json.RawMessage(tc.payload))

			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.message, *resp.Error)
			assert.Equal(t, tc.command, resp.Command)
			assert.Equal(t, tc.args, resp.Args)
			assert.Empty(t, resp.Output)
			assert.Zero(t, runner.calls.Load(), "executor must not be invoked")
		})
	}
}

func TestExecuteEmptyStringFieldsReachExecutor(t *testing.T) {
	cases := []struct {
		op      string
		payload string
		argv    []string
	}{
		{OpInstallCore, `{"core_name":""}`, []string{"core", "install", ""}},
		{OpCompileSketch, `{"sketch_path":"./b","fqbn":""}`, []string{"compile", "--fqbn", "", "./b"}},
	}

	for _, tc := range cases {
		t.Run(tc.op, func(t *testing.T) {
			var gotArgv []string
			runner := &fakeRunner{run: func(argv []string) (core.Outcome, error) {
				gotArgv = argv
				return core.Outcome{Succeeded: false, Stderr: "Error: invalid argument"}, nil
			}}
			svc := newTestService(t, runner)

			resp := svc.Execute(context.Background(), "test", tc.op, json.RawMessage(tc.payload))

			assert.EqualValues(t, 1, runner.calls.Load())
			assert.Equal(t, tc.argv, gotArgv)
			assert.False(t, resp.Success)
			assert.Equal(t, "Error: invalid argument", resp.ErrorText())
		})
	}
}

func TestExecuteUnknownOperation(t *testing.T) {
	runner := &fakeRunner{}
	svc := newTestService(t, runner)

	resp := svc.Execute(context.Background(), "test", "flash-bootloader", nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "unknown operation flash-bootloader", resp.ErrorText())
	assert.Equal(t, "flash-bootloader", resp.Command)
	assert.Zero(t, runner.calls.Load())
}

func TestExecuteMalformedPayload(t *testing.T) {
	runner := &fakeRunner{}
	svc := newTestService(t, runner)

	resp := svc.Execute(context.Background(), "test", OpCompileSketch, json.RawMessage(`{"sketch_path":`))
	assert.False(t, resp.Success)
	assert.Equal(t, ErrMalformedPayload.Error(), resp.ErrorText())
	assert.Zero(t, runner.calls.Load())
}

func TestExecuteCommandFailure(t *testing.T) {
	runner := &fakeRunner{run: func([]string) (core.Outcome, error) {
		return core.Outcome{Stderr: "avrdude: stk500_recv(): programmer is not responding"}, nil
	}}
	svc := newTestService(t, runner)

	resp := svc.Execute(context.Background(), "test", OpUploadSketch,
		json.RawMessage(`{"sketch_path":"./blink","port":"/dev/ttyUSB0","fqbn":"arduino:avr:uno"}`))

	assert.False(t, resp.Success)
	assert.Equal(t, "", resp.Output)
	assert.Equal(t, "avrdude: stk500_recv(): programmer is not responding", resp.ErrorText())
	assert.Equal(t, "upload", resp.Command)
}

func TestExecuteCommandFailureKeepsStdout(t *testing.T) {
	runner := &fakeRunner{run: func([]string) (core.Outcome, error) {
		return core.Outcome{Stdout: "Downloading index...", Stderr: "E"}, nil
	}}
	resp := newTestService(t, runner).Execute(context.Background(), "test", OpListCores, nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "Downloading index...", resp.Output)
	assert.Equal(t, "E", resp.ErrorText())
}

func TestExecuteSpawnFailure(t *testing.T) {
	runner := &fakeRunner{run: func([]string) (core.Outcome, error) {
		return core.Outcome{}, &executor.SpawnError{Path: "/opt/arduino-cli", Err: errors.New("permission denied")}
	}}
	resp := newTestService(t, runner).Execute(context.Background(), "test", OpListBoards, nil)

	assert.False(t, resp.Success)
	assert.Empty(t, resp.Output)
	assert.Equal(t, "failed to start /opt/arduino-cli: permission denied", resp.ErrorText())
	assert.Equal(t, "board", resp.Command)
	assert.Equal(t, []string{"listall", "--format", "json"}, resp.Args)
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	runner := &fakeRunner{run: func([]string) (core.Outcome, error) { panic("boom") }}
	svc := newTestService(t, runner)

	resp := svc.Execute(context.Background(), "test", OpListCores, nil)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.ErrorText(), "boom")
	assert.Zero(t, svc.InFlight())

	// следующий запрос обслуживается как обычно
	runner.run = nil
	assert.True(t, svc.Execute(context.Background(), "test", OpListCores, nil).Success)
}

func TestExecuteConcurrentRequestsDoNotMix(t *testing.T) {
	runner := &fakeRunner{run: func(argv []string) (core.Outcome, error) {
		time.Sleep(time.Millisecond)
		return core.Outcome{Succeeded: true, Stdout: strings.Join(argv, " ")}, nil
	}}
	svc := newTestService(t, runner)

	const n = 64
	var wg sync.WaitGroup
	responses := make([]core.Response, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := fmt.Sprintf(`{"core_name":"vendor:arch%d"}`, i)
			responses[i] = svc.Execute(context.Background(), "test", OpInstallCore, json.RawMessage(payload))
		}(i)
	}
	wg.Wait()

	for i, resp := range responses {
		want := []string{"install", fmt.Sprintf("vendor:arch%d", i)}
		require.True(t, resp.Success)
		assert.Equal(t, "core", resp.Command)
		assert.Equal(t, want, resp.Args)
		assert.Equal(t, "core "+strings.Join(want, " "), resp.Output)
	}
	assert.EqualValues(t, n, runner.calls.Load())
}

func TestExecuteSerializesUploadsToSamePort(t *testing.T) {
	var active, maxActive atomic.Int32
	runner := &fakeRunner{run: func(argv []string) (core.Outcome, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return core.Outcome{Succeeded: true}, nil
	}}
	svc := newTestService(t, runner, func(o *Options) { o.Locks = executor.NewPortLocks() })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Execute(context.Background(), "test", OpUploadSketch,
				json.RawMessage(`{"sketch_path":"./blink","port":"/dev/ttyUSB0","fqbn":"arduino:avr:uno"}`))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxActive.Load())
}

func TestExecuteRateLimited(t *testing.T) {
	runner := &fakeRunner{}
	svc := newTestService(t, runner, func(o *Options) { o.Limiter = NewRateLimiter(1, time.Minute) })

	throttled := executionCount(t, OpListCores, observability.ResultThrottled)
	rejected := executionCount(t, OpListCores, observability.ResultRejected)

	assert.True(t, svc.Execute(context.Background(), "10.0.0.1", OpListCores, nil).Success)
	resp := svc.Execute(context.Background(), "10.0.0.1", OpListCores, nil)
	assert.False(t, resp.Success)
	assert.Equal(t, msgRateLimited, resp.ErrorText())
	assert.Equal(t, throttled+1, executionCount(t, OpListCores, observability.ResultThrottled))
	assert.Equal(t, rejected, executionCount(t, OpListCores, observability.ResultRejected))
	assert.True(t, svc.Execute(context.Background(), "10.0.0.2", OpListCores, nil).Success)
	assert.EqualValues(t, 2, runner.calls.Load())
}

func TestExecuteIgnoresCallerCancellation(t *testing.T) {
	var sawCancel atomic.Bool
	runner := &fakeRunner{}
	runner.run = func([]string) (core.Outcome, error) { return core.Outcome{Succeeded: true}, nil }
	svc := newTestService(t, &ctxRunner{inner: runner, sawCancel: &sawCancel})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := svc.Execute(ctx, "test", OpListBoards, nil)
	assert.True(t, resp.Success)
	assert.False(t, sawCancel.Load())
}

type ctxRunner struct {
	inner     core.Runner
	sawCancel *atomic.Bool
}

func (c *ctxRunner) Run(ctx context.Context, argv []string) (core.Outcome, error) {
	if ctx.Err() != nil {
		c.sawCancel.Store(true)
	}
	return c.inner.Run(ctx, argv)
}

func TestScenarioInstallCore(t *testing.T) {
	resp := newTestService(t, succeedWith("Downloading index…")).
		Execute(context.Background(), "test", OpInstallCore, json.RawMessage(`{"core_name":"arduino:avr"}`))

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"output":"Downloading index…","error":null,"command":"core","args":["install","arduino:avr"]}`, string(raw))
}

func TestScenarioCompileWithoutSketchPath(t *testing.T) {
	runner := &fakeRunner{}
	resp := newTestService(t, runner).Execute(context.Background(), "test", OpCompileSketch, json.RawMessage(`{}`))

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"output":"","error":"Missing sketch path","command":"compile","args":[]}`, string(raw))
	assert.Zero(t, runner.calls.Load())
}

// executionCount читает boardgate_executions_total из реестра по умолчанию.
func executionCount(t *testing.T, operation, result string) float64 {
	t.Helper()
	observability.RegisterMetrics()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "boardgate_executions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["operation"] == operation && labels["result"] == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
