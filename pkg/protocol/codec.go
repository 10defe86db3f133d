package protocol

import (
	"encoding/json"
	"fmt"
)

// envelope is the wire form of a Message.
type envelope struct {
	Type    Type            `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes a message to its JSON wire form.
func Encode(msg *Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("cannot encode nil message")
	}

	var raw json.RawMessage
	if msg.Payload != nil {
		data, err := json.Marshal(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msg.Type, err)
		}
		raw = data
	}

	return json.Marshal(envelope{Type: msg.Type, ID: msg.ID, Payload: raw})
}

// Decode parses a JSON wire message back into its tagged variant. Malformed
// input fails with CodeParseError; a tag outside the closed set fails with
// CodeMethodNotFound.
func Decode(data []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, Errorf(CodeParseError, "malformed message: %v", err)
	}

	payload, err := decodePayload(env.Type, env.Payload)
	if err != nil {
		return nil, err
	}

	return &Message{Type: env.Type, ID: env.ID, Payload: payload}, nil
}

func decodePayload(t Type, raw json.RawMessage) (Payload, error) {
	switch t {
	case TypeInitialize:
		return decodeAs[InitializeParams](raw, t)
	case TypeInitializeResult:
		return decodeAs[InitializeResult](raw, t)
	case TypeListResources:
		return decodeAs[ListResourcesParams](raw, t)
	case TypeListResourcesResult:
		return decodeAs[ListResourcesResult](raw, t)
	case TypeReadResource:
		return decodeAs[ReadResourceParams](raw, t)
	case TypeReadResourceResult:
		return decodeAs[ReadResourceResult](raw, t)
	case TypeCallTool:
		return decodeAs[CallToolParams](raw, t)
	case TypeCallToolResult:
		return decodeAs[CallToolResult](raw, t)
	case TypeSpawnAgent:
		return decodeAs[SpawnAgentParams](raw, t)
	case TypeAgentSpawned:
		return decodeAs[AgentSpawned](raw, t)
	case TypeSendMessage:
		return decodeAs[SendMessageParams](raw, t)
	case TypeMessageReceived:
		return decodeAs[MessageReceived](raw, t)
	case TypeStartWorkflow:
		return decodeAs[StartWorkflowParams](raw, t)
	case TypeWorkflowStarted:
		return decodeAs[WorkflowStarted](raw, t)
	case TypeError:
		return decodeAs[ErrorPayload](raw, t)
	case TypeNotification:
		return decodeAs[NotificationParams](raw, t)
	default:
		return nil, Errorf(CodeMethodNotFound, "unknown message type: %s", t)
	}
}

func decodeAs[P Payload](raw json.RawMessage, t Type) (Payload, error) {
	var v P
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, Errorf(CodeParseError, "malformed %s payload: %v", t, err)
	}
	return v, nil
}
