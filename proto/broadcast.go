package proto

import "encoding/json"

// Tap kinds published on the hub's publish endpoint. Every document crossing
// the query or command endpoint is re-broadcast under one of these, tagged by
// direction as seen from the hub.
const (
	TapQueryIn    = "query_in"
	TapQueryOut   = "query_out"
	TapCommandIn  = "command_in"
	TapCommandOut = "command_out"
)

// Broadcast is the observability document fanned out to subscribers. Data
// holds the raw traffic: a Message document for query taps, an envelope array
// for command taps.
type Broadcast struct {
	MsgType string          `json:"msg_type"`
	Data    json.RawMessage `json:"data"`
}

// NewBroadcast wraps already-encoded traffic in a tap document.
func NewBroadcast(kind string, data []byte) *Broadcast {
	return &Broadcast{MsgType: kind, Data: json.RawMessage(data)}
}

// DecodeBroadcast parses a tap document received on a subscribe endpoint.
func DecodeBroadcast(data []byte) (*Broadcast, error) {
	var b Broadcast
	if err := Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
