package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	// ErrMalformedMessage is returned for frames that are not a recognizable JSON message.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownExtensionMessage is returned for extension frames with an unrecognized method.
	ErrUnknownExtensionMessage = errors.New("unknown extension message")
)

// Client -> relay

// clientMessage is a CDP command as sent by a client. ID is kept raw so it
// is echoed back exactly as the client wrote it.
type clientMessage struct {
	ID        json.RawMessage `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

func (m *clientMessage) hasID() bool {
	return len(m.ID) > 0 && string(m.ID) != "null"
}

// forwardParams is the payload of a forwardCDPCommand envelope, both as
// sent by legacy clients and as sent to the extension.
type forwardParams struct {
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// Relay -> extension

type extensionCommand struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type pingMessage struct {
	Method string `json:"method"`
}

// Relay -> client

type cdpResponse struct {
	ID        json.RawMessage `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Result    any             `json:"result,omitempty"`
	Error     any             `json:"error,omitempty"`
}

type cdpError struct {
	Message string `json:"message"`
}

type cdpEvent struct {
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

func newEvent(method string, params json.RawMessage, sessionID string) *cdpEvent {
	evt := &cdpEvent{Method: method, SessionID: sessionID}
	if len(params) > 0 {
		evt.Params = params
	}
	return evt
}

// Extension -> relay. The set is closed: parseExtensionMessage returns one
// of the four variants below or an error.

type extensionMessage interface {
	extensionMessage()
}

type pongMessage struct{}

type logMessage struct {
	Level string
	Args  []any
}

type eventMessage struct {
	Method    string
	SessionID string
	Params    json.RawMessage
}

type responseMessage struct {
	ID     int64
	Result json.RawMessage
	Error  json.RawMessage
}

func (pongMessage) extensionMessage()     {}
func (logMessage) extensionMessage()      {}
func (eventMessage) extensionMessage()    {}
func (responseMessage) extensionMessage() {}

// parseExtensionMessage classifies an extension frame by the presence of
// "method" and "id", then decodes only the variant it found.
func parseExtensionMessage(data []byte) (extensionMessage, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformedMessage
	}

	method := gjson.GetBytes(data, "method")
	if method.Exists() && method.Type != gjson.Null {
		if method.Type != gjson.String {
			return nil, fmt.Errorf("%w: method is %s", ErrMalformedMessage, method.Type)
		}
		switch method.Str {
		case methodPong:
			return pongMessage{}, nil
		case methodLog:
			return parseLogMessage(data)
		case methodForwardEvent:
			return parseEventMessage(data)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownExtensionMessage, method.Str)
		}
	}

	id := gjson.GetBytes(data, "id")
	if !id.Exists() {
		return nil, fmt.Errorf("%w: neither method nor id", ErrMalformedMessage)
	}
	if id.Type != gjson.Number {
		return nil, fmt.Errorf("%w: id is %s", ErrMalformedMessage, id.Type)
	}
	if id.Num != float64(id.Int()) {
		return nil, fmt.Errorf("%w: id %s is not an integer", ErrMalformedMessage, id.Raw)
	}

	resp := responseMessage{ID: id.Int()}
	if result := gjson.GetBytes(data, "result"); result.Exists() {
		resp.Result = json.RawMessage(result.Raw)
	}
	if e := gjson.GetBytes(data, "error"); e.Exists() && e.Type != gjson.Null {
		// An empty error string means success.
		if !(e.Type == gjson.String && e.Str == "") {
			resp.Error = json.RawMessage(e.Raw)
		}
	}
	return resp, nil
}

func parseLogMessage(data []byte) (extensionMessage, error) {
	var raw struct {
		Params struct {
			Level string `json:"level"`
			Args  []any  `json:"args"`
		} `json:"params"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: log: %v", ErrMalformedMessage, err)
	}
	return logMessage{Level: raw.Params.Level, Args: raw.Params.Args}, nil
}

func parseEventMessage(data []byte) (extensionMessage, error) {
	var raw struct {
		Params *forwardParams `json:"params"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: forwardCDPEvent: %v", ErrMalformedMessage, err)
	}
	if raw.Params == nil || raw.Params.Method == "" {
		return nil, fmt.Errorf("%w: forwardCDPEvent without method", ErrMalformedMessage)
	}
	return eventMessage{
		Method:    raw.Params.Method,
		SessionID: raw.Params.SessionID,
		Params:    raw.Params.Params,
	}, nil
}

// clientError converts an extension error payload into the CDP error object
// delivered to clients. Strings become {message}; objects pass through.
func clientError(raw json.RawMessage) any {
	if r := gjson.ParseBytes(raw); r.Type == gjson.String {
		return &cdpError{Message: r.Str}
	}
	return raw
}
