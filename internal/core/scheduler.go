package core

import (
	"context"
	"sync"
	"time"
)

// Job описывает периодическую задачу.
type Job func(ctx context.Context) error

// Scheduler запускает задачи с фиксированным интервалом.
type Scheduler struct {
	interval time.Duration
	jobs     []Job
	onError  func(error)
	wg       sync.WaitGroup
}

// NewScheduler создает scheduler с заданным интервалом; onError может быть nil.
func NewScheduler(interval time.Duration, onError func(error)) *Scheduler {
	if onError == nil {
		onError = func(error) {}
	}
	return &Scheduler{interval: interval, onError: onError}
}

// Add добавляет задачу в расписание.
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start блокируется до отмены контекста и ждет завершения запущенных задач.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			for _, job := range s.jobs {
				job := job
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					if err := job(ctx); err != nil {
						s.onError(err)
					}
				}()
			}
		}
	}
}
