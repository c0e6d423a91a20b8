package controlchannel

import (
	"encoding/json"
	"fmt"
	"kiosk-agent/internal/model"
)

// Wire events exchanged with the dispatcher.
const (
	EventRegister              = "register"
	EventRegistered            = "registered"
	EventCommand               = "command"
	EventCommandResponse       = "command_response"
	EventSystemMetrics         = "system_metrics"
	EventSystemMetricsResponse = "system_metrics_response"
)

// Command types understood by the kiosk.
const (
	CommandShutdown = "shutdown"
	CommandRestart  = "restart"
	CommandLogout   = "logout"
)

const errNotRegistered = "kiosk is not registered"

// Envelope is one JSON text frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RegisterPayload announces the kiosk by machine id.
type RegisterPayload struct {
	MachineID string `json:"machineId"`
}

// RegisteredPayload is the dispatcher's answer to a registration.
type RegisteredPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CommandPayload is a dispatcher command. Fields beyond type are kept raw.
type CommandPayload struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// CommandResponsePayload reports the outcome of a command.
type CommandResponsePayload struct {
	Success  bool   `json:"success"`
	Type     string `json:"type"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// SystemMetricsResponsePayload carries a specs snapshot, or the error that
// prevented collecting one.
type SystemMetricsResponsePayload struct {
	Success bool         `json:"success"`
	Data    *model.Specs `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// inbound is the closed set of messages the dispatcher may push.
type inbound interface {
	inbound()
}

type registeredMsg RegisteredPayload
type commandMsg CommandPayload
type systemMetricsMsg struct{}
type unknownMsg struct{ event string }

func (registeredMsg) inbound()    {}
func (commandMsg) inbound()       {}
func (systemMetricsMsg) inbound() {}
func (unknownMsg) inbound()       {}

// decode parses a text frame into one inbound message.
func decode(frame []byte) (inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	switch env.Event {
	case EventRegistered:
		var p RegisteredPayload
		if err := unmarshalData(env.Data, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Event, err)
		}
		return registeredMsg(p), nil
	case EventCommand:
		var p CommandPayload
		if err := unmarshalData(env.Data, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", env.Event, err)
		}
		p.Raw = env.Data
		return commandMsg(p), nil
	case EventSystemMetrics:
		return systemMetricsMsg{}, nil
	default:
		return unknownMsg{event: env.Event}, nil
	}
}

func encode(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

func unmarshalData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
