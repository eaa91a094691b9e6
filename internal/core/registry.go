package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	errOperationExists  = errors.New("operation already registered")
	errInvalidArguments = errors.New("invalid arguments")

	// ErrUnknownOperation возвращается для операций вне каталога.
	ErrUnknownOperation = errors.New("unknown operation")
)

// Operation описывает одну операцию каталога.
type Operation struct {
	// Name задает имя операции на транспорте, например "install-core".
	Name string
	// Command задает имя подкоманды внешнего инструмента, например "core".
	Command string
	// New создает пустую схему запроса; поля заполняются декодером.
	New func() Request
	// FailureArgs попадают в ответ при ошибке валидации.
	FailureArgs []string
}

// Registry хранит каталог операций.
type Registry struct {
	mu         sync.RWMutex
	operations map[string]Operation
}

// NewRegistry создает пустой каталог.
func NewRegistry() *Registry {
	return &Registry{operations: make(map[string]Operation)}
}

// Register добавляет операцию; имя должно быть уникальным.
func (r *Registry) Register(op Operation) error {
	if op.Name == "" || op.Command == "" {
		return fmt.Errorf("operation name or command is empty: %w", errInvalidArguments)
	}
	if op.New == nil {
		return fmt.Errorf("%s: request factory is nil: %w", op.Name, errInvalidArguments)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.operations[op.Name]; exists {
		return fmt.Errorf("%s: %w", op.Name, errOperationExists)
	}
	r.operations[op.Name] = op
	return nil
}

// Lookup возвращает операцию по имени.
func (r *Registry) Lookup(name string) (Operation, error) {
	r.mu.RLock()
	op, ok := r.operations[name]
	r.mu.RUnlock()
	if !ok {
		return Operation{}, fmt.Errorf("%s: %w", name, ErrUnknownOperation)
	}
	return op, nil
}

// Operations возвращает отсортированный список операций.
func (r *Registry) Operations() []Operation {
	r.mu.RLock()
	ops := make([]Operation, 0, len(r.operations))
	for _, op := range r.operations {
		ops = append(ops, op)
	}
	r.mu.RUnlock()

	sort.Slice(ops, func(i, j int) bool { return ops[i].Name < ops[j].Name })
	return ops
}
