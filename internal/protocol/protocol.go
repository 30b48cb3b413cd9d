package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// CommandType enumerates all supported client -> server commands.
type CommandType string

const (
	CommandStartRun  CommandType = "start_run"
	CommandCancelRun CommandType = "cancel_run"
	CommandGetRun    CommandType = "get_run"
	CommandPing      CommandType = "ping"
)

// Command is a marker interface implemented by all protocol commands.
type Command interface {
	GetType() CommandType
}

// StartRunCommand asks the server to start a new run.
type StartRunCommand struct {
	Type           CommandType `json:"type"`
	RequestID      string      `json:"request_id,omitempty"`
	Prompt         string      `json:"prompt"`
	MaxAttempts    int         `json:"max_attempts,omitempty"`
	TimeoutSeconds int         `json:"timeout_seconds,omitempty"`
}

// GetType implements Command.
func (c StartRunCommand) GetType() CommandType { return CommandStartRun }

// CancelRunCommand cancels an active run.
type CancelRunCommand struct {
	Type  CommandType `json:"type"`
	RunID string      `json:"run_id"`
}

// GetType implements Command.
func (c CancelRunCommand) GetType() CommandType { return CommandCancelRun }

// GetRunCommand requests a snapshot of an active or stored run.
type GetRunCommand struct {
	Type  CommandType `json:"type"`
	RunID string      `json:"run_id"`
}

// GetType implements Command.
func (c GetRunCommand) GetType() CommandType { return CommandGetRun }

// PingCommand checks the server is alive.
type PingCommand struct {
	Type      CommandType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
}

// GetType implements Command.
func (c PingCommand) GetType() CommandType { return CommandPing }

var commandSchemas = map[CommandType]string{
	CommandStartRun: `{
		"type": "object",
		"required": ["type", "prompt"],
		"properties": {
			"type": {"const": "start_run"},
			"request_id": {"type": "string"},
			"prompt": {"type": "string", "minLength": 1},
			"max_attempts": {"type": "integer"},
			"timeout_seconds": {"type": "integer"}
		},
		"additionalProperties": false
	}`,
	CommandCancelRun: `{
		"type": "object",
		"required": ["type", "run_id"],
		"properties": {
			"type": {"const": "cancel_run"},
			"run_id": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`,
	CommandGetRun: `{
		"type": "object",
		"required": ["type", "run_id"],
		"properties": {
			"type": {"const": "get_run"},
			"run_id": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`,
	CommandPing: `{
		"type": "object",
		"required": ["type"],
		"properties": {
			"type": {"const": "ping"},
			"request_id": {"type": "string"}
		},
		"additionalProperties": false
	}`,
}

// ValidationError lists the schema violations of a rejected command.
type ValidationError struct {
	Command CommandType
	Errors  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s command: %s", e.Command, strings.Join(e.Errors, "; "))
}

func validateCommand(t CommandType, data []byte) error {
	schema, ok := commandSchemas[t]
	if !ok {
		return fmt.Errorf("unknown command type: %s", t)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &ValidationError{Command: t, Errors: msgs}
	}
	return nil
}

type rawCommand struct {
	Type CommandType `json:"type"`
}

// DecodeCommand converts raw JSON into a strongly typed command.
func DecodeCommand(data []byte) (Command, error) {
	var base rawCommand
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	if base.Type == "" {
		return nil, errors.New("command requires type")
	}
	if err := validateCommand(base.Type, data); err != nil {
		return nil, err
	}

	switch base.Type {
	case CommandStartRun:
		var cmd StartRunCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode start_run: %w", err)
		}
		if cmd.RequestID == "" {
			cmd.RequestID = NewRequestID()
		}
		return cmd, nil
	case CommandCancelRun:
		var cmd CancelRunCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode cancel_run: %w", err)
		}
		return cmd, nil
	case CommandGetRun:
		var cmd GetRunCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode get_run: %w", err)
		}
		return cmd, nil
	case CommandPing:
		var cmd PingCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode ping: %w", err)
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("unknown command type: %s", base.Type)
	}
}

// NewRequestID generates a new opaque request identifier.
func NewRequestID() string {
	return uuid.NewString()
}
