package proto

import "errors"

func newHeader(msgType MsgType, source, target, session string) Header {
	return Header{
		MsgID:   NewMessageID(),
		Session: session,
		Date:    nowStamp(),
		Source:  source,
		Target:  target,
		MsgType: msgType,
		Version: Version,
	}
}

// NewConnectRequest builds the first message a peer ever sends: a query-path
// request for the hub's endpoint descriptions. It opens a fresh session.
func NewConnectRequest(source, target string) *Message {
	return &Message{
		Header:  newHeader(MsgTypeConnectRequest, source, target, NewSessionID()),
		Content: &ConnectRequestContent{},
	}
}

// NewConnectReply answers a connect_request with the hub's command and
// publish endpoint descriptions.
func NewConnectReply(req *Message, command, publish EndpointInfo) *Message {
	return &Message{
		Header:       newHeader(MsgTypeConnectReply, req.Header.Target, req.Header.Source, req.Header.Session),
		ParentHeader: headerCopy(req.Header),
		Content:      &ConnectReplyContent{Command: command, Publish: publish},
	}
}

// NewExecuteRequest builds a command invocation addressed to target. The
// request opens a fresh session; its execute_reply carries the same session
// back, which is how callers correlate the two.
func NewExecuteRequest(source, target, command string, data map[string]any) *Message {
	return &Message{
		Header:  newHeader(MsgTypeExecuteRequest, source, target, NewSessionID()),
		Content: &ExecuteRequestContent{Command: command, Data: data},
	}
}

// NewExecuteReply answers an execute_request with status ok. A non-nil result
// is placed under content.data.result, where ReplyResult finds it.
func NewExecuteReply(req *Message, count int, result any) *Message {
	content := &ExecuteReplyContent{Status: StatusOK, ExecutionCount: count}
	if result != nil {
		content.Data = map[string]any{"result": result}
	}
	return &Message{
		Header:       newHeader(MsgTypeExecuteReply, req.Header.Target, req.Header.Source, req.Header.Session),
		ParentHeader: headerCopy(req.Header),
		Content:      content,
	}
}

// NewErrorReply answers an execute_request with status error, translating err
// into the wire ErrorInfo shape.
func NewErrorReply(req *Message, count int, err error) *Message {
	return &Message{
		Header:       newHeader(MsgTypeExecuteReply, req.Header.Target, req.Header.Source, req.Header.Session),
		ParentHeader: headerCopy(req.Header),
		Content: &ExecuteReplyContent{
			Status:         StatusError,
			ExecutionCount: count,
			Error:          NewErrorInfo(err),
		},
	}
}

// NewErrorInfo classifies err into the wire error taxonomy.
func NewErrorInfo(err error) *ErrorInfo {
	var unknown *UnknownCommandError
	if errors.As(err, &unknown) {
		return &ErrorInfo{Ename: "UnrecognizedCommand", Evalue: unknown.Command}
	}
	var schema *SchemaError
	if errors.As(err, &schema) {
		return &ErrorInfo{Ename: "SchemaError", Evalue: schema.Constraint}
	}
	return &ErrorInfo{Ename: "HandlerError", Evalue: err.Error()}
}

func headerCopy(h Header) *Header {
	return &h
}
