package events

import (
	"encoding/json"

	"boardgate/internal/gateway"
)

// inbound описывает кадр клиента. Наличие ID означает, что клиент ждет ack.
type inbound struct {
	Event string          `json:"event"`
	ID    *int64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ackFrame struct {
	Ack  int64 `json:"ack"`
	Data any   `json:"data"`
}

type emitFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type errorData struct {
	Error string `json:"error"`
}

// Служебные события.
const (
	EventAuth           = "auth"
	EventMessage        = "message"
	EventMessageBack    = "message-back"
	EventMessageWithAck = "message-with-ack"
	EventError          = "error"
)

// eventOperations сопоставляет имя события операции каталога.
var eventOperations = map[string]string{
	"list-boards":    gateway.OpListBoards,
	"list-connected": gateway.OpListConnectedBoards,
	"list-cores":     gateway.OpListCores,
	"install-core":   gateway.OpInstallCore,
	"compile-sketch": gateway.OpCompileSketch,
	"upload-sketch":  gateway.OpUploadSketch,
}

// payloadAliases хранит имена полей событийного протокола, отличные от имен схемы.
var payloadAliases = map[string]map[string]string{
	gateway.OpInstallCore: {"core": "core_name"},
}

// adaptPayload переименовывает поля-синонимы. Явно заданное каноничное поле важнее синонима.
// Все, что не является объектом, передается без изменений и разбирается валидатором.
func adaptPayload(operation string, payload json.RawMessage) json.RawMessage {
	aliases, ok := payloadAliases[operation]
	if !ok || len(payload) == 0 {
		return payload
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return payload
	}
	changed := false
	for alias, canonical := range aliases {
		v, ok := fields[alias]
		if !ok {
			continue
		}
		if _, exists := fields[canonical]; !exists {
			fields[canonical] = v
		}
		delete(fields, alias)
		changed = true
	}
	if !changed {
		return payload
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return payload
	}
	return out
}
