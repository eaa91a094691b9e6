package executor

import "sync"

// PortLocks сериализует операции над одним физическим ресурсом (портом).
// Разные ключи не блокируют друг друга.
type PortLocks struct {
	mu    sync.Mutex
	locks map[string]*portLock
}

type portLock struct {
	mu   sync.Mutex
	refs int
}

// NewPortLocks создает пустой набор блокировок.
func NewPortLocks() *PortLocks {
	return &PortLocks{locks: make(map[string]*portLock)}
}

// Lock захватывает ключ и возвращает функцию освобождения.
func (p *PortLocks) Lock(key string) (unlock func()) {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &portLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

// Held возвращает число ключей, которые сейчас захвачены или ожидаются.
func (p *PortLocks) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
