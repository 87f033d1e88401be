package proto

import "fmt"

// SchemaError reports a message that violated the wire contract. Constraint
// names the failed check; Message carries the offending document when it
// decoded far enough to inspect.
type SchemaError struct {
	Constraint string
	Message    *Message
}

func (e *SchemaError) Error() string {
	return "schema: " + e.Constraint
}

// EnvelopeError reports a command-path envelope with the wrong frame count.
type EnvelopeError struct {
	Arity int
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("envelope: expected %d frames, got %d", EnvelopeArity, e.Arity)
}

// UnknownCommandError reports an execute_request naming a command the target
// has no handler for.
type UnknownCommandError struct {
	Command string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unrecognized command %q", e.Command)
}
