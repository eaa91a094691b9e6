// Package binary разрешает путь к внешнему arduino-cli один раз за жизнь процесса
// и проверяет его пробным запуском до старта транспортов.
package binary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"boardgate/internal/core"
)

// DefaultName задает имя бинарника для поиска в PATH.
const DefaultName = "arduino-cli"

var (
	// ErrNotResolved возвращается, если бинарник не найден или не исполняемый.
	ErrNotResolved = errors.New("external binary not resolved")
	// ErrProbeFailed возвращается, если пробный запуск завершился неуспешно.
	ErrProbeFailed = errors.New("external binary probe failed")
)

// Path хранит разрешенный абсолютный путь к бинарнику. Неизменяем.
type Path struct {
	value string
}

// NewPath оборачивает уже проверенный путь.
func NewPath(p string) Path { return Path{value: p} }

func (p Path) String() string { return p.value }

// IsZero сообщает, что путь не разрешен.
func (p Path) IsZero() bool { return p.value == "" }

// Resolver выполняет разрешение пути ровно один раз.
type Resolver struct {
	configured string
	lookPath   func(string) (string, error)

	once sync.Once
	path Path
	err  error
}

// NewResolver создает resolver; пустой configured означает поиск DefaultName в PATH.
func NewResolver(configured string) *Resolver {
	return &Resolver{configured: strings.TrimSpace(configured), lookPath: exec.LookPath}
}

// Resolve возвращает один и тот же результат при любом числе конкурентных вызовов.
func (r *Resolver) Resolve() (Path, error) {
	r.once.Do(func() {
		r.path, r.err = r.resolve()
	})
	return r.path, r.err
}

func (r *Resolver) resolve() (Path, error) {
	candidate := r.configured
	if candidate == "" {
		found, err := r.lookPath(DefaultName)
		if err != nil {
			return Path{}, fmt.Errorf("look up %s: %v: %w", DefaultName, err, ErrNotResolved)
		}
		candidate = found
	}

	abs, err := filepath.Abs(candidate)
	if err != nil {
		return Path{}, fmt.Errorf("absolute path %s: %v: %w", candidate, err, ErrNotResolved)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Path{}, fmt.Errorf("stat %s: %v: %w", abs, err, ErrNotResolved)
	}
	if info.IsDir() {
		return Path{}, fmt.Errorf("%s is a directory: %w", abs, ErrNotResolved)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return Path{}, fmt.Errorf("%s is not executable: %w", abs, ErrNotResolved)
	}
	return Path{value: abs}, nil
}

// Probe запускает бинарник с безобидными аргументами и возвращает его вывод.
func Probe(ctx context.Context, runner core.Runner, args []string) (string, error) {
	if len(args) == 0 {
		args = []string{"version"}
	}
	out, err := runner.Run(ctx, args)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrProbeFailed)
	}
	if !out.Succeeded {
		detail := strings.TrimSpace(out.Stderr)
		if detail == "" {
			detail = "non-zero exit status"
		}
		return "", fmt.Errorf("%s %s: %s: %w", DefaultName, strings.Join(args, " "), detail, ErrProbeFailed)
	}
	return strings.TrimSpace(out.Stdout), nil
}
