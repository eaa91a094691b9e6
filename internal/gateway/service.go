// Package gateway связывает три шага обработки запроса: валидация, запуск процесса,
// построение ответа. Транспорты вызывают только Service.Execute.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"boardgate/internal/core"
	"boardgate/internal/executor"
	"boardgate/internal/observability"
)

const msgRateLimited = "rate limit exceeded"

// Options задает зависимости пайплайна. Нулевые Locks и Limiter отключают соответствующую функцию.
type Options struct {
	Runner  core.Runner
	Locks   *executor.PortLocks
	Limiter *RateLimiter
	Logger  zerolog.Logger
}

// Service выполняет пайплайн validate -> execute -> build.
type Service struct {
	registry  *core.Registry
	validator *Validator
	runner    core.Runner
	locks     *executor.PortLocks
	limiter   *RateLimiter
	logger    zerolog.Logger
	inFlight  atomic.Int64
	now       func() time.Time
}

// NewService создает пайплайн над каталогом операций.
func NewService(registry *core.Registry, opts Options) *Service {
	return &Service{
		registry:  registry,
		validator: NewValidator(registry),
		runner:    opts.Runner,
		locks:     opts.Locks,
		limiter:   opts.Limiter,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// Registry возвращает каталог операций.
func (s *Service) Registry() *core.Registry { return s.registry }

// InFlight возвращает число запущенных сейчас процессов.
func (s *Service) InFlight() int64 { return s.inFlight.Load() }

// Execute никогда не возвращает ошибку: любой сбой одного запроса превращается в Response.
// Отмена ctx клиентом не прерывает уже запущенный процесс.
func (s *Service) Execute(ctx context.Context, client, operation string, payload json.RawMessage) (resp core.Response) {
	ctx = context.WithoutCancel(ctx)
	start := s.now()
	log := s.logger.With().Str("operation", operation).Str("client", client).Logger()

	if !s.limiter.Allow(client, start) {
		observability.RecordRateLimited(operation)
		log.Warn().Msg("request rate limited")
		return Reject(operation, nil, msgRateLimited)
	}

	op, req, err := s.validator.Validate(operation, payload)
	if err != nil {
		observability.RecordValidationFailure(operation)
		resp = s.rejection(operation, op, err)
		log.Warn().Str("error", resp.ErrorText()).Msg("request rejected")
		return resp
	}

	cmd := core.Command{Name: op.Command, Args: req.Args()}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Strs("args", cmd.Args).Msg("pipeline panicked")
			observability.RecordExecution(operation, observability.ResultFailure, s.now().Sub(start))
			resp = Reject(cmd.Name, cmd.Args, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if ex, ok := req.(core.Exclusive); ok && s.locks != nil && ex.Resource() != "" {
		unlock := s.locks.Lock(ex.Resource())
		defer unlock()
	}

	outcome, runErr := s.run(ctx, cmd)

	resp = Build(cmd, outcome, runErr)
	elapsed := s.now().Sub(start)
	result := observability.ResultSuccess
	event := log.Debug()
	switch {
	case runErr != nil:
		result = observability.ResultSpawn
		event = log.Error().Err(runErr)
	case !resp.Success:
		result = observability.ResultFailure
		event = log.Warn()
	}
	observability.RecordExecution(operation, result, elapsed)
	event.Str("command", cmd.Name).Strs("args", cmd.Args).Bool("success", resp.Success).Dur("duration", elapsed).Msg("command finished")
	return resp
}

func (s *Service) run(ctx context.Context, cmd core.Command) (core.Outcome, error) {
	done := observability.ExecutionStarted()
	s.inFlight.Add(1)
	defer func() {
		s.inFlight.Add(-1)
		done()
	}()
	return s.runner.Run(ctx, cmd.Argv())
}

func (s *Service) rejection(operation string, op core.Operation, err error) core.Response {
	if errors.Is(err, core.ErrUnknownOperation) {
		return Reject(operation, nil, fmt.Sprintf("unknown operation %s", operation))
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return Reject(op.Command, op.FailureArgs, ve.Message)
	}
	return Reject(op.Command, op.FailureArgs, err.Error())
}
