package web

import (
	"net/http"

	"github.com/mkdryden/zmq-plugin/proto"
)

// healthView answers /healthz.
type healthView struct {
	Status string `json:"status"`
	Hub    string `json:"hub"`
}

// registryView answers /registry. Registered holds the registry snapshot in
// registration order; Connected lists the identities with a live command
// link, which can lag behind the registry when a plugin has dropped off.
type registryView struct {
	Registered     []string `json:"registered"`
	Connected      []string `json:"connected"`
	Subscribers    int      `json:"subscribers"`
	ExecutionCount int      `json:"execution_count"`
}

// endpointsView answers /endpoints with the hub's resolved addresses, in the
// same shape a connect_reply advertises them.
type endpointsView struct {
	Query   string             `json:"query"`
	Command proto.EndpointInfo `json:"command"`
	Publish proto.EndpointInfo `json:"publish"`
}

// HandleHealth reports liveness and the hub's name.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, healthView{Status: "ok", Hub: s.status.Name()})
}

// HandleRegistry reports the registry snapshot and link state.
func (s *Server) HandleRegistry(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, registryView{
		Registered:     orEmpty(s.status.Plugins()),
		Connected:      orEmpty(s.status.CommandPeers()),
		Subscribers:    s.status.Subscribers(),
		ExecutionCount: s.status.ExecutionCount(),
	})
}

// HandleEndpoints reports where the hub's three endpoints are bound.
func (s *Server) HandleEndpoints(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, endpointsView{
		Query:   s.status.QueryURI(),
		Command: s.status.CommandInfo(),
		Publish: s.status.PublishInfo(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	data, err := proto.Marshal(v)
	if err != nil {
		s.log.Error("status response encode failed", "error", err)
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(data)
}

// orEmpty keeps empty snapshots rendering as [] rather than null.
func orEmpty(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
