package domain

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

type AgentType string

const (
	AgentUser   AgentType = "user"
	AgentSystem AgentType = "system"
	AgentClient AgentType = "client"
)

// Agent is the party responsible for an event: a person, a process acting
// on its own authority, or an API client.
type Agent struct {
	Type         AgentType `json:"agent_type" enum:"user,system,client"`
	NativeID     string    `json:"native_id"`
	Email        string    `json:"email,omitempty"`
	Forename     string    `json:"forename,omitempty"`
	Surname      string    `json:"surname,omitempty"`
	Endorsements []string  `json:"endorsements,omitempty"`
}

func User(nativeID, email string, endorsements ...string) Agent {
	return Agent{Type: AgentUser, NativeID: nativeID, Email: email, Endorsements: endorsements}
}

func System(name string) Agent {
	return Agent{Type: AgentSystem, NativeID: name}
}

func Client(nativeID string) Agent {
	return Agent{Type: AgentClient, NativeID: nativeID}
}

// Identifier is a stable digest of the agent type and native id.
func (a Agent) Identifier() string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(string(a.Type)+":"+a.NativeID)).String()
}

func (a Agent) Equal(b Agent) bool {
	return a.Type == b.Type && a.Identifier() == b.Identifier()
}

func (a Agent) IsSystem() bool { return a.Type == AgentSystem }

func (a Agent) IsZero() bool { return a.Type == "" && a.NativeID == "" }

func (a Agent) String() string {
	return string(a.Type) + ":" + a.NativeID
}

// EndorsedFor reports whether the agent may classify into category. An
// endorsement may name the category, its archive wildcard (cs.*), or *.*.
func (a Agent) EndorsedFor(category string) bool {
	archive := category
	if i := strings.Index(category, "."); i >= 0 {
		archive = category[:i]
	}
	for _, e := range a.Endorsements {
		switch e {
		case category, archive + ".*", "*.*":
			return true
		}
	}
	return false
}

func (a Agent) clone() Agent {
	out := a
	if a.Endorsements != nil {
		out.Endorsements = append([]string(nil), a.Endorsements...)
	}
	return out
}

type agentJSON struct {
	Type         AgentType `json:"agent_type"`
	NativeID     string    `json:"native_id"`
	Identifier   string    `json:"agent_identifier,omitempty"`
	Email        string    `json:"email,omitempty"`
	Forename     string    `json:"forename,omitempty"`
	Surname      string    `json:"surname,omitempty"`
	Endorsements []string  `json:"endorsements,omitempty"`
}

// MarshalJSON includes the derived identifier so downstream consumers do not
// have to recompute it. It is ignored on the way back in.
func (a Agent) MarshalJSON() ([]byte, error) {
	return json.Marshal(agentJSON{
		Type:         a.Type,
		NativeID:     a.NativeID,
		Identifier:   a.Identifier(),
		Email:        a.Email,
		Forename:     a.Forename,
		Surname:      a.Surname,
		Endorsements: a.Endorsements,
	})
}

func (a *Agent) UnmarshalJSON(data []byte) error {
	var raw agentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case AgentUser, AgentSystem, AgentClient:
	default:
		return &UnknownAgentTypeError{Type: string(raw.Type)}
	}
	*a = Agent{
		Type:         raw.Type,
		NativeID:     raw.NativeID,
		Email:        raw.Email,
		Forename:     raw.Forename,
		Surname:      raw.Surname,
		Endorsements: raw.Endorsements,
	}
	return nil
}

type UnknownAgentTypeError struct {
	Type string
}

func (e *UnknownAgentTypeError) Error() string {
	return "unknown agent type " + strings.TrimSpace(e.Type)
}
