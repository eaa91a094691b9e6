package gateway

import (
	"boardgate/internal/core"
)

// Build является единственным местом, где формируется каноничный Response.
// spawnErr != nil означает, что процесс не был запущен и outcome игнорируется.
func Build(cmd core.Command, outcome core.Outcome, spawnErr error) core.Response {
	resp := core.Response{
		Command: cmd.Name,
		Args:    cloneArgs(cmd.Args),
	}
	switch {
	case spawnErr != nil:
		resp.Error = strPtr(spawnErr.Error())
	case outcome.Succeeded:
		// stderr успешного запуска не попадает в ответ.
		resp.Success = true
		resp.Output = outcome.Stdout
	default:
		resp.Output = outcome.Stdout
		if outcome.Stderr != "" {
			resp.Error = strPtr(outcome.Stderr)
		}
	}
	return resp
}

// Reject строит ответ для запроса, который не дошел до процесса.
func Reject(command string, args []string, message string) core.Response {
	return core.Response{
		Error:   strPtr(message),
		Command: command,
		Args:    cloneArgs(args),
	}
}

func cloneArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	return out
}

func strPtr(s string) *string { return &s }
