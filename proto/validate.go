package proto

import "fmt"

// contentChecks is the closed per-type validation table, built once at
// package init. Each entry returns the violated constraint or "".
var contentChecks = map[MsgType]func(Content) string{
	MsgTypeConnectRequest: checkConnectRequest,
	MsgTypeConnectReply:   checkConnectReply,
	MsgTypeExecuteRequest: checkExecuteRequest,
	MsgTypeExecuteReply:   checkExecuteReply,
}

// Validate runs the two validation tiers on a decoded or freshly built
// message: first the header contract shared by every msg_type, then the
// content rules for the specific type. Both sides validate inbound messages
// before acting on them and outbound messages before sending, so a message
// failing either tier is never partially processed. Violations surface as
// *SchemaError.
func Validate(m *Message) error {
	if c := checkHeader(m); c != "" {
		return &SchemaError{Constraint: c, Message: m}
	}
	if c := contentChecks[m.Header.MsgType](m.Content); c != "" {
		return &SchemaError{Constraint: c, Message: m}
	}
	return nil
}

func checkHeader(m *Message) string {
	h := m.Header
	switch {
	case h.MsgID == "":
		return "header.msg_id: required"
	case h.Session == "":
		return "header.session: required"
	case h.Date == "":
		return "header.date: required"
	case h.Source == "":
		return "header.source: required"
	case h.Target == "":
		return "header.target: required"
	}
	if _, ok := contentChecks[h.MsgType]; !ok {
		return fmt.Sprintf("header.msg_type: unknown value %q", h.MsgType)
	}
	if h.Version != Version {
		return fmt.Sprintf("header.version: unsupported value %q", h.Version)
	}
	if m.Content == nil {
		return "content: required"
	}
	if got := m.Content.contentType(); got != h.MsgType {
		return fmt.Sprintf("content: %s body on %s message", got, h.MsgType)
	}
	return ""
}

func checkConnectRequest(Content) string { return "" }

func checkConnectReply(c Content) string {
	reply := c.(*ConnectReplyContent)
	switch {
	case reply.Command.URI == "":
		return "content.command.uri: required"
	case reply.Command.Port <= 0:
		return "content.command.port: required"
	case reply.Publish.URI == "":
		return "content.publish.uri: required"
	case reply.Publish.Port <= 0:
		return "content.publish.port: required"
	}
	return ""
}

func checkExecuteRequest(c Content) string {
	if c.(*ExecuteRequestContent).Command == "" {
		return "content.command: required"
	}
	return ""
}

func checkExecuteReply(c Content) string {
	reply := c.(*ExecuteReplyContent)
	switch reply.Status {
	case StatusOK, StatusError, StatusAbort:
	default:
		return fmt.Sprintf("content.status: unknown value %q", reply.Status)
	}
	if reply.ExecutionCount < 1 {
		return "content.execution_count: must be positive"
	}
	if reply.Status == StatusError && (reply.Error == nil || reply.Error.Ename == "") {
		return "content.error.ename: required when status is error"
	}
	return ""
}
