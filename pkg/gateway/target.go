package gateway

import (
	"encoding/json"
	"fmt"
)

// TargetKind selects how a Target's ID is interpreted.
type TargetKind uint8

const (
	TargetSession TargetKind = iota + 1 // One session by session ID
	TargetUser                          // Every session of a principal ID
	TargetGroup                         // Every session subscribed to a group
	TargetAll                           // Every registered session
)

// String returns the string representation of the target kind.
func (k TargetKind) String() string {
	switch k {
	case TargetSession:
		return "session"
	case TargetUser:
		return "user"
	case TargetGroup:
		return "group"
	case TargetAll:
		return "all"
	default:
		return "unknown"
	}
}

// Target addresses the sessions an application event is dispatched to.
type Target struct {
	Kind TargetKind
	ID   string
}

// ToSession addresses one session.
func ToSession(sessionID string) Target { return Target{Kind: TargetSession, ID: sessionID} }

// ToUser addresses every session of a user.
func ToUser(userID string) Target { return Target{Kind: TargetUser, ID: userID} }

// ToGroup addresses every session subscribed to group.
func ToGroup(group string) Target { return Target{Kind: TargetGroup, ID: group} }

// ToAll addresses every session.
func ToAll() Target { return Target{Kind: TargetAll} }

// String returns "kind:id".
func (t Target) String() string {
	if t.Kind == TargetAll {
		return "all"
	}
	return t.Kind.String() + ":" + t.ID
}

// Validate reports whether t is well formed.
func (t Target) Validate() error {
	switch t.Kind {
	case TargetSession, TargetUser, TargetGroup:
		if t.ID == "" {
			return fmt.Errorf("gateway: %s target requires an id", t.Kind)
		}
		return nil
	case TargetAll:
		return nil
	default:
		return fmt.Errorf("gateway: invalid target kind %d", t.Kind)
	}
}

type targetJSON struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

// MarshalJSON encodes t as {"kind":"user","id":"..."}.
func (t Target) MarshalJSON() ([]byte, error) {
	return json.Marshal(targetJSON{Kind: t.Kind.String(), ID: t.ID})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Target) UnmarshalJSON(data []byte) error {
	var v targetJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v.Kind {
	case "session":
		t.Kind = TargetSession
	case "user":
		t.Kind = TargetUser
	case "group":
		t.Kind = TargetGroup
	case "all":
		t.Kind = TargetAll
	default:
		return fmt.Errorf("gateway: unknown target kind %q", v.Kind)
	}
	t.ID = v.ID
	return t.Validate()
}
