// Package proto defines the wire contract shared by the hub and its plugins:
// the message document exchanged on every endpoint, the routing envelope used
// on the command path, and the validator both sides run before acting on a
// message.
//
// Every message is a single JSON document:
//
//	{
//	  "header":        {msg_id, session, date, source, target, msg_type, version},
//	  "parent_header": <header of the message this one answers, if any>,
//	  "metadata":      <free-form, not interpreted here>,
//	  "content":       <shape depends on msg_type>
//	}
//
// Recognized msg_type values are connect_request, connect_reply,
// execute_request and execute_reply. Anything else fails validation.
package proto

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the protocol revision stamped into every header. Receivers
// reject any other value instead of attempting best-effort interpretation.
const Version = "0.2"

// MsgType discriminates the four message kinds.
type MsgType string

const (
	MsgTypeConnectRequest MsgType = "connect_request"
	MsgTypeConnectReply   MsgType = "connect_reply"
	MsgTypeExecuteRequest MsgType = "execute_request"
	MsgTypeExecuteReply   MsgType = "execute_reply"
)

// Status reports the outcome of an executed command.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
	StatusAbort Status = "abort"
)

// Header identifies a message and how it should be routed. Session is shared
// between an execute_request and its execute_reply across hub relay hops and
// is the correlation key for reply callbacks.
type Header struct {
	MsgID   string  `json:"msg_id"`
	Session string  `json:"session"`
	Date    string  `json:"date"`
	Source  string  `json:"source"`
	Target  string  `json:"target"`
	MsgType MsgType `json:"msg_type"`
	Version string  `json:"version"`
}

// Message is the unit of wire exchange on the query, command and publish
// endpoints. Content holds the typed variant matching Header.MsgType.
type Message struct {
	Header       Header         `json:"header"`
	ParentHeader *Header        `json:"parent_header,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Content      Content        `json:"content"`
}

// Content is the closed union of per-type message bodies. The four content
// types below are the only implementations.
type Content interface {
	contentType() MsgType
}

// ConnectRequestContent carries no fields; a connect_request is identified by
// its header alone.
type ConnectRequestContent struct{}

// ConnectReplyContent advertises the endpoints the requester must connect to
// next: the hub's command endpoint (with the hub's routing name) and its
// publish endpoint.
type ConnectReplyContent struct {
	Command EndpointInfo `json:"command"`
	Publish EndpointInfo `json:"publish"`
}

// EndpointInfo describes one hub endpoint. Name is set only on the command
// endpoint and is the identity peers address the hub by. The URI may carry
// the hub's bind host (such as "*"); peers dial Port at whatever address
// they already know the hub by.
type EndpointInfo struct {
	URI  string `json:"uri"`
	Port int    `json:"port"`
	Name string `json:"name,omitempty"`
}

// ExecuteRequestContent asks the target to run a named command. Data carries
// caller-supplied keyword arguments and is passed to the handler untouched.
type ExecuteRequestContent struct {
	Command     string         `json:"command"`
	Silent      bool           `json:"silent"`
	StopOnError bool           `json:"stop_on_error"`
	Data        map[string]any `json:"data,omitempty"`
}

// ExecuteReplyContent reports the outcome of an execute_request. Error is set
// when Status is "error". Data holds the handler result under the "result"
// key; use ReplyResult to extract it.
type ExecuteReplyContent struct {
	Status         Status         `json:"status"`
	ExecutionCount int            `json:"execution_count"`
	Error          *ErrorInfo     `json:"error,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// ErrorInfo describes a failed command execution.
type ErrorInfo struct {
	Ename     string   `json:"ename"`
	Evalue    string   `json:"evalue,omitempty"`
	Traceback []string `json:"traceback,omitempty"`
}

func (*ConnectRequestContent) contentType() MsgType { return MsgTypeConnectRequest }
func (*ConnectReplyContent) contentType() MsgType   { return MsgTypeConnectReply }
func (*ExecuteRequestContent) contentType() MsgType { return MsgTypeExecuteRequest }
func (*ExecuteReplyContent) contentType() MsgType   { return MsgTypeExecuteReply }

// UnmarshalJSON decodes the content variant selected by header.msg_type. An
// unknown msg_type yields a *SchemaError; there is no way to interpret the
// content of such a message.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Header       Header          `json:"header"`
		ParentHeader *Header         `json:"parent_header"`
		Metadata     map[string]any  `json:"metadata"`
		Content      json.RawMessage `json:"content"`
	}
	if err := Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Header = raw.Header
	m.ParentHeader = raw.ParentHeader
	m.Metadata = raw.Metadata
	m.Content = nil

	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		return nil // caught by Validate: content is required
	}

	content, err := newContent(raw.Header.MsgType)
	if err != nil {
		return &SchemaError{Constraint: fmt.Sprintf("header.msg_type: unknown value %q", raw.Header.MsgType), Message: m}
	}
	if err := Unmarshal(raw.Content, content); err != nil {
		return fmt.Errorf("decode %s content: %w", raw.Header.MsgType, err)
	}
	m.Content = content
	return nil
}

func newContent(t MsgType) (Content, error) {
	switch t {
	case MsgTypeConnectRequest:
		return &ConnectRequestContent{}, nil
	case MsgTypeConnectReply:
		return &ConnectReplyContent{}, nil
	case MsgTypeExecuteRequest:
		return &ExecuteRequestContent{}, nil
	case MsgTypeExecuteReply:
		return &ExecuteReplyContent{}, nil
	default:
		return nil, fmt.Errorf("unknown msg_type %q", t)
	}
}

// DecodeMessage parses a single wire document. Structural violations surface
// as *SchemaError; malformed JSON as a plain error.
func DecodeMessage(data []byte) (*Message, error) {
	m := &Message{}
	if err := Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeMessage serializes a message to its wire form.
func EncodeMessage(m *Message) ([]byte, error) {
	return Marshal(m)
}

// ReplyResult extracts content.data.result from an execute_reply. A reply
// whose status is not "ok" is converted into an error built from its
// ErrorInfo, mirroring how the remote handler failed.
func ReplyResult(m *Message) (any, error) {
	reply, ok := m.Content.(*ExecuteReplyContent)
	if !ok {
		return nil, fmt.Errorf("reply result: %s is not an execute_reply", m.Header.MsgType)
	}
	if reply.Status != StatusOK {
		if reply.Error != nil {
			return nil, fmt.Errorf("remote %s: %s", reply.Error.Ename, reply.Error.Evalue)
		}
		return nil, fmt.Errorf("remote status %q", reply.Status)
	}
	if reply.Data == nil {
		return nil, nil
	}
	return reply.Data["result"], nil
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
