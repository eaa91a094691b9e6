package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errTransportExists = errors.New("transport already registered")

// TransportAdapter определяет жизненный цикл входного транспорта.
type TransportAdapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// TransportManager запускает транспорты в порядке регистрации и останавливает в обратном.
type TransportManager struct {
	mu         sync.Mutex
	transports []TransportAdapter
	started    int
}

// NewTransportManager создает пустой менеджер транспортов.
func NewTransportManager() *TransportManager {
	return &TransportManager{}
}

// Register добавляет транспорт; имена должны быть уникальны.
func (m *TransportManager) Register(adapter TransportAdapter) error {
	if adapter == nil {
		return fmt.Errorf("transport is nil: %w", errInvalidArguments)
	}
	name := adapter.Name()
	if name == "" {
		return fmt.Errorf("transport name is empty: %w", errInvalidArguments)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tr := range m.transports {
		if tr.Name() == name {
			return fmt.Errorf("%s: %w", name, errTransportExists)
		}
	}
	m.transports = append(m.transports, adapter)
	return nil
}

// Names возвращает имена транспортов в порядке регистрации.
func (m *TransportManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.transports))
	for _, tr := range m.transports {
		names = append(names, tr.Name())
	}
	return names
}

// StartAll запускает все транспорты. При ошибке уже запущенные останавливаются.
func (m *TransportManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	list := append([]TransportAdapter(nil), m.transports...)
	m.mu.Unlock()

	for i, tr := range list {
		if err := tr.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = list[j].Stop(ctx)
			}
			return fmt.Errorf("start transport %s: %w", tr.Name(), err)
		}
		m.mu.Lock()
		m.started = i + 1
		m.mu.Unlock()
	}
	return nil
}

// StopAll останавливает запущенные транспорты в обратном порядке и возвращает все ошибки.
func (m *TransportManager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	list := append([]TransportAdapter(nil), m.transports[:m.started]...)
	m.started = 0
	m.mu.Unlock()

	var errs []error
	for i := len(list) - 1; i >= 0; i-- {
		if err := list[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop transport %s: %w", list[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}
