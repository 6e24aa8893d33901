package core

import "encoding/json"

// Envelope types on the signaling connection.
const (
	TypeRequest      = "request"
	TypeResponse     = "response"
	TypeNotification = "notification"
)

// Notification methods.
const (
	NotifyNewProducer    = "newProducer"
	NotifyProducerClosed = "producerClosed"
)

type Request struct {
	Type   string          `json:"type"`
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Response struct {
	Type  string     `json:"type"`
	ID    uint64     `json:"id"`
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

type Notification struct {
	Type   string `json:"type"`
	Method string `json:"method"`
	Data   any    `json:"data,omitempty"`
}

type ProducerEvent struct {
	ProducerID string `json:"producerId"`
}

// NewNotification encodes a server-initiated message.
func NewNotification(method string, data any) Frame {
	b, err := json.Marshal(Notification{Type: TypeNotification, Method: method, Data: data})
	if err != nil {
		return nil
	}
	return b
}

// OKResponse encodes a successful reply. A nil payload becomes {}.
func OKResponse(id uint64, data any) Frame {
	if data == nil {
		data = struct{}{}
	}
	b, _ := json.Marshal(Response{Type: TypeResponse, ID: id, OK: true, Data: data})
	return b
}

// ErrorResponse encodes err as an error reply using its wire code.
func ErrorResponse(id uint64, err error) Frame {
	b, _ := json.Marshal(Response{
		Type:  TypeResponse,
		ID:    id,
		OK:    false,
		Error: &ErrorBody{Code: CodeOf(err), Message: err.Error()},
	})
	return b
}
