package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"boardgate/internal/binary"
	"boardgate/internal/core"
)

// SpawnError сообщает, что бинарник не удалось запустить; stdout/stderr отсутствуют.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExecRunner запускает разрешенный бинарник без shell: каждый элемент argv передается отдельным аргументом.
type ExecRunner struct {
	path      binary.Path
	timeout   time.Duration
	waitDelay time.Duration
}

// defaultWaitDelay ограничивает ожидание вывода после выхода процесса:
// потомки могут удерживать stdout/stderr открытыми.
const defaultWaitDelay = 5 * time.Second

var _ core.Runner = (*ExecRunner)(nil)

// NewExecRunner создает runner; timeout <= 0 отключает ограничение длительности.
func NewExecRunner(path binary.Path, timeout time.Duration) *ExecRunner {
	return &ExecRunner{path: path, timeout: timeout, waitDelay: defaultWaitDelay}
}

// Path возвращает путь, с которым был создан runner.
func (r *ExecRunner) Path() binary.Path { return r.path }

// Run блокирует только вызывающую горутину до завершения процесса.
func (r *ExecRunner) Run(ctx context.Context, argv []string) (core.Outcome, error) {
	if r.path.IsZero() {
		return core.Outcome{}, &SpawnError{Path: binary.DefaultName, Err: binary.ErrNotResolved}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.path.String(), argv...)
	cmd.WaitDelay = r.waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return core.Outcome{}, &SpawnError{Path: r.path.String(), Err: err}
	}
	waitErr := cmd.Wait()

	// Успех определяется только статусом выхода самого процесса.
	out := core.Outcome{
		Succeeded: cmd.ProcessState != nil && cmd.ProcessState.Success(),
		Stdout:    Decode(stdout.Bytes()),
		Stderr:    Decode(stderr.Bytes()),
	}
	if waitErr == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(waitErr, exec.ErrWaitDelay):
		out.Stderr = appendLine(out.Stderr, "output closed early: "+waitErr.Error())
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		out.Stderr = appendLine(out.Stderr, fmt.Sprintf("process killed: deadline of %s exceeded", r.timeout))
	case !errors.As(waitErr, &exitErr):
		out.Stderr = appendLine(out.Stderr, waitErr.Error())
	}
	return out, nil
}

// Decode превращает байты в текст, заменяя невалидные UTF-8 последовательности на U+FFFD.
func Decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

func appendLine(s, line string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s + line
	}
	return s + "\n" + line
}
