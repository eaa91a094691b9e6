package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/asaskevich/govalidator"

	"boardgate/internal/core"
)

// ErrMalformedPayload означает, что полезная нагрузка не является JSON (ошибка транспорта).
var ErrMalformedPayload = errors.New("malformed payload")

// ValidationError сообщает, что обязательное поле отсутствует или не является строкой.
// Пустая строка считается переданным значением.
type ValidationError struct {
	Operation string
	Field     string
	Message   string
}

func (e *ValidationError) Error() string { return e.Message }

// Validator превращает полезную нагрузку транспорта в Command.
type Validator struct {
	registry *core.Registry
}

// NewValidator создает валидатор поверх каталога.
func NewValidator(registry *core.Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate проверяет только структуру: наличие и строковый тип полей.
// Файловая система и устройства не проверяются.
func (v *Validator) Validate(name string, payload json.RawMessage) (core.Operation, core.Request, error) {
	op, err := v.registry.Lookup(name)
	if err != nil {
		return core.Operation{}, nil, err
	}
	fields, err := stringFields(payload)
	if err != nil {
		return op, nil, err
	}
	if err := checkPresence(name, op, fields); err != nil {
		return op, nil, err
	}

	req := op.New()
	if err := bind(fields, req); err != nil {
		return op, nil, fmt.Errorf("bind %s request: %w", name, err)
	}
	return op, req, nil
}

// presentMark подставляется вместо значения каждого переданного поля.
const presentMark = "present"

// checkPresence проверяет обязательность по наличию ключа, а не по значению:
// "" является допустимым значением. govalidator проверяет копию запроса,
// в которой каждое переданное строковое поле заменено на presentMark.
func checkPresence(name string, op core.Operation, fields map[string]string) error {
	marks := make(map[string]string, len(fields))
	for key := range fields {
		marks[key] = presentMark
	}
	shadow := op.New()
	if err := bind(marks, shadow); err != nil {
		return fmt.Errorf("bind %s request: %w", name, err)
	}
	if _, err := govalidator.ValidateStruct(shadow); err != nil {
		ve := &ValidationError{Operation: name, Message: err.Error()}
		if fe, ok := firstFieldError(err); ok {
			ve.Field = fe.Name
			ve.Message = fe.Err.Error()
		}
		return ve
	}
	return nil
}

// bind переносит строковые поля в типизированный запрос; нестроковые значения
// к этому моменту уже отброшены и считаются отсутствующими.
func bind(fields map[string]string, req core.Request) error {
	if len(fields) == 0 {
		return nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	return json.Unmarshal(raw, req)
}

// stringFields оставляет только строковые поля JSON-объекта.
// Пустая нагрузка, null и не-объекты дают пустой набор.
func stringFields(payload json.RawMessage) (map[string]string, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if !json.Valid(trimmed) {
		return nil, ErrMalformedPayload
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, nil
	}
	fields := make(map[string]string, len(obj))
	for key, raw := range obj {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			fields[key] = s
		}
	}
	return fields, nil
}

func firstFieldError(err error) (govalidator.Error, bool) {
	switch e := err.(type) {
	case govalidator.Error:
		return e, true
	case govalidator.Errors:
		for _, inner := range e {
			if fe, ok := firstFieldError(inner); ok {
				return fe, true
			}
		}
	}
	return govalidator.Error{}, false
}
