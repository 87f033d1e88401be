package proto

// EnvelopeArity is the exact frame count of a command-path envelope:
// [sender, target, delimiter, correlation, payload].
const EnvelopeArity = 5

// Frames is a command-path envelope. On the wire it is a JSON array of
// strings, one array per transport message; the payload frame holds an
// encoded Message document.
type Frames []string

// NewFrames assembles an envelope addressed from sender to target. The
// correlation frame carries the payload's session, so a reply envelope lines
// up with the request it answers.
func NewFrames(sender, target, correlation string, payload []byte) Frames {
	return Frames{sender, target, "", correlation, string(payload)}
}

// DecodeFrames parses one wire array. The arity is not checked here; callers
// run Check so a bad envelope is rejected at the point that decides its fate.
func DecodeFrames(data []byte) (Frames, error) {
	var f Frames
	if err := Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f, nil
}

// Encode serializes the envelope to its wire array.
func (f Frames) Encode() ([]byte, error) {
	return Marshal(f)
}

// Check verifies the envelope arity, returning *EnvelopeError on mismatch.
func (f Frames) Check() error {
	if len(f) != EnvelopeArity {
		return &EnvelopeError{Arity: len(f)}
	}
	return nil
}

// Accessors assume Check has passed.

func (f Frames) Sender() string      { return f[0] }
func (f Frames) Target() string      { return f[1] }
func (f Frames) Correlation() string { return f[3] }
func (f Frames) Payload() []byte     { return []byte(f[4]) }

// Swap returns a relay copy of the envelope: sender and target frames
// exchanged, every other frame byte-identical.
func (f Frames) Swap() Frames {
	out := make(Frames, len(f))
	copy(out, f)
	out[0], out[1] = f[1], f[0]
	return out
}
