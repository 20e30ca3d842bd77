package ir

import (
	"fmt"
	"strings"
)

// Record is one normalized entity: a stable id plus its field map.
type Record struct {
	ID     string   `json:"id"`
	Fields IRObject `json:"fields"`
}

// Edge is one element of a connection.
//
// Node is the id of the target record. Cursor is pagination metadata from the
// server. Key is the client correlation key carried by optimistic inserts so
// reconciliation can find the placeholder edge to replace.
type Edge struct {
	Node   string `json:"node"`
	Cursor string `json:"cursor,omitempty"`
	Key    string `json:"key,omitempty"`
}

// ConnKey identifies a connection: the owning record and the connection name.
type ConnKey struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// String renders the key as "owner.name".
func (k ConnKey) String() string {
	return fmt.Sprintf("%s.%s", k.Owner, k.Name)
}

// Conn is a shorthand constructor for ConnKey.
func Conn(owner, name string) ConnKey {
	return ConnKey{Owner: owner, Name: name}
}

// ParseConn parses "owner.name". The name is everything after the last dot.
func ParseConn(s string) (ConnKey, error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return ConnKey{}, fmt.Errorf("connection %q: want owner.name", s)
	}
	return ConnKey{Owner: s[:i], Name: s[i+1:]}, nil
}

// Viewer is the explicit per-dispatch context (current user and team) handed
// to projections. There is no process-wide "current viewer".
type Viewer struct {
	CurrentUser string `json:"current_user,omitempty"`
	CurrentTeam string `json:"current_team,omitempty"`
}
