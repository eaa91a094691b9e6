package gateway

import (
	"fmt"

	"boardgate/internal/core"
)

// Имена операций каталога.
const (
	OpListBoards          = "list-boards"
	OpListConnectedBoards = "list-connected-boards"
	OpListCores           = "list-cores"
	OpInstallCore         = "install-core"
	OpCompileSketch       = "compile-sketch"
	OpUploadSketch        = "upload-sketch"
)

// fixedArgs описывает запрос без полей с заранее известными аргументами.
type fixedArgs struct {
	args []string
}

func (f *fixedArgs) Args() []string { return append([]string(nil), f.args...) }

// InstallCoreRequest описывает установку платформы.
type InstallCoreRequest struct {
	CoreName string `json:"core_name" valid:"required~Missing core name"`
}

func (r *InstallCoreRequest) Args() []string {
	return []string{"install", r.CoreName}
}

// CompileSketchRequest описывает компиляцию скетча; fqbn необязателен.
// nil FQBN означает, что поле не передано; пустая строка передается как есть.
type CompileSketchRequest struct {
	SketchPath string  `json:"sketch_path" valid:"required~Missing sketch path"`
	FQBN       *string `json:"fqbn,omitempty" valid:"-"`
}

func (r *CompileSketchRequest) Args() []string {
	args := make([]string, 0, 3)
	if r.FQBN != nil {
		args = append(args, "--fqbn", *r.FQBN)
	}
	return append(args, r.SketchPath)
}

// UploadSketchRequest описывает загрузку скетча в устройство.
type UploadSketchRequest struct {
	SketchPath string `json:"sketch_path" valid:"required~Missing sketch path"`
	Port       string `json:"port" valid:"required~Missing port"`
	FQBN       string `json:"fqbn" valid:"required~Missing FQBN"`
}

func (r *UploadSketchRequest) Args() []string {
	return []string{"--port", r.Port, "--fqbn", r.FQBN, r.SketchPath}
}

// Resource возвращает порт: загрузки на один порт сериализуются.
func (r *UploadSketchRequest) Resource() string { return r.Port }

func fixed(args ...string) func() core.Request {
	return func() core.Request { return &fixedArgs{args: args} }
}

// Catalogue возвращает операции, поддерживаемые шлюзом.
func Catalogue() []core.Operation {
	return []core.Operation{
		{Name: OpListBoards, Command: "board", New: fixed("listall", "--format", "json")},
		{Name: OpListConnectedBoards, Command: "board", New: fixed("list", "--format", "json")},
		{Name: OpListCores, Command: "core", New: fixed("list", "--format", "json")},
		{
			Name:        OpInstallCore,
			Command:     "core",
			New:         func() core.Request { return &InstallCoreRequest{} },
			FailureArgs: []string{"install"},
		},
		{Name: OpCompileSketch, Command: "compile", New: func() core.Request { return &CompileSketchRequest{} }},
		{Name: OpUploadSketch, Command: "upload", New: func() core.Request { return &UploadSketchRequest{} }},
	}
}

// NewRegistry регистрирует весь каталог.
func NewRegistry() (*core.Registry, error) {
	r := core.NewRegistry()
	for _, op := range Catalogue() {
		if err := r.Register(op); err != nil {
			return nil, fmt.Errorf("register %s: %w", op.Name, err)
		}
	}
	return r, nil
}
