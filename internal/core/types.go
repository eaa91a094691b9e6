package core

import "context"

// Command описывает одну операцию внешнего инструмента: имя и точный вектор аргументов.
type Command struct {
	Name string
	Args []string
}

// Argv возвращает полный вектор аргументов процесса: имя команды, затем аргументы.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Name)
	return append(argv, c.Args...)
}

// Outcome хранит сырой результат завершившегося процесса.
type Outcome struct {
	Succeeded bool
	Stdout    string
	Stderr    string
}

// Response описывает унифицированный ответ для всех транспортов.
type Response struct {
	Success bool     `json:"success"`
	Output  string   `json:"output"`
	Error   *string  `json:"error"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// ErrorText возвращает текст ошибки или пустую строку.
func (r Response) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// Request описывает типизированную схему запроса одной операции.
type Request interface {
	Args() []string
}

// Exclusive реализуется запросами, которые захватывают физический ресурс (порт).
type Exclusive interface {
	Resource() string
}

// Runner запускает внешний бинарник с заданным вектором аргументов.
type Runner interface {
	Run(ctx context.Context, argv []string) (Outcome, error)
}
