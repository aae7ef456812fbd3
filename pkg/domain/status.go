package domain

import "time"

// AttributeRef describes a connected attribute entity in a status snapshot.
type AttributeRef struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Address string `json:"address"`
}

// ParentRef describes an entity's parent in a status snapshot.
type ParentRef struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Address string `json:"address"`
}

// Status is the snapshot pushed to subscribed clients. Timestamp lets clients
// discard stale snapshots, since delivery order over the socket is not
// guaranteed to match production order.
type Status struct {
	Name       string         `json:"name"`
	Label      string         `json:"label"`
	Address    string         `json:"address"`
	Connected  bool           `json:"connected"`
	Complete   bool           `json:"complete"`
	Empty      bool           `json:"empty"`
	Created    time.Time      `json:"created"`
	Updated    time.Time      `json:"updated"`
	Traits     []string       `json:"traits"`
	Actions    []string       `json:"actions"`
	Parent     *ParentRef     `json:"parent,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	History    []Atom         `json:"history"`
	State      any            `json:"state"`
	Attributes []AttributeRef `json:"attributes"`
}
