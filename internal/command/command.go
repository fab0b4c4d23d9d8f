// Package command defines the closed command surface the bridge exposes
// and its dispatch onto the engine service.
package command

import (
	"encoding/json"
	"fmt"

	"github.com/PEZ/epupp/schema"
)

// Command is the closed set of bridge operations. Every implementation
// lives in this package; Handler dispatches exhaustively.
type Command interface {
	isCommand()
}

// Save persists a script (fs op "save!").
type Save struct {
	Code    string
	Name    schema.ScriptName
	Force   bool
	Enabled *bool
}

// Remove deletes scripts by name (fs op "rm!").
type Remove struct {
	Names []schema.ScriptName
	Force bool
}

// Move renames a script (fs op "mv!").
type Move struct {
	From  schema.ScriptName
	To    schema.ScriptName
	Force bool
}

// List lists scripts (fs op "ls").
type List struct {
	Hidden bool
}

// Show returns raw script code (fs op "show").
type Show struct {
	Names []schema.ScriptName
}

// ConnectTab opens a bridge connection for a browser tab.
type ConnectTab struct {
	TabID schema.TabID
	Port  schema.Port
	Title string
}

// DisconnectTab closes a tab's bridge connection.
type DisconnectTab struct {
	TabID schema.TabID
}

// GetConnections lists active tab connections.
type GetConnections struct{}

// GetConfirmations lists pending fs confirmations.
type GetConfirmations struct{}

// Confirm approves a pending confirmation by source name.
type Confirm struct {
	Name schema.ScriptName
}

// Cancel discards a pending confirmation by source name.
type Cancel struct {
	Name schema.ScriptName
}

// GetEvents lists logged engine events, optionally filtered by name.
type GetEvents struct {
	Name schema.EventName
}

func (Save) isCommand()             {}
func (Remove) isCommand()           {}
func (Move) isCommand()             {}
func (List) isCommand()             {}
func (Show) isCommand()             {}
func (ConnectTab) isCommand()       {}
func (DisconnectTab) isCommand()    {}
func (GetConnections) isCommand()   {}
func (GetConfirmations) isCommand() {}
func (Confirm) isCommand()          {}
func (Cancel) isCommand()           {}
func (GetEvents) isCommand()        {}

// envelope is the wire shape of every command payload.
type envelope struct {
	Op      string            `json:"op"`
	Code    string            `json:"code,omitempty"`
	Name    schema.ScriptName `json:"name,omitempty"`
	Names   []string          `json:"names,omitempty"`
	From    schema.ScriptName `json:"from,omitempty"`
	To      schema.ScriptName `json:"to,omitempty"`
	Force   bool              `json:"force,omitempty"`
	Enabled *bool             `json:"enabled,omitempty"`
	Hidden  bool              `json:"ls-hidden,omitempty"`
	TabID   int               `json:"tab-id,omitempty"`
	WSPort  int               `json:"ws-port,omitempty"`
	Title   string            `json:"title,omitempty"`
	Event   string            `json:"event,omitempty"`
}

// Parse decodes a JSON command payload into its Command.
func Parse(payload []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err)
	}
	switch env.Op {
	case "save!":
		return Save{Code: env.Code, Name: env.Name, Force: env.Force, Enabled: env.Enabled}, nil
	case "rm!":
		return Remove{Names: scriptNames(env.Names), Force: env.Force}, nil
	case "mv!":
		return Move{From: env.From, To: env.To, Force: env.Force}, nil
	case "ls":
		return List{Hidden: env.Hidden}, nil
	case "show":
		return Show{Names: scriptNames(env.Names)}, nil
	case "connect-tab":
		return ConnectTab{TabID: schema.TabID(env.TabID), Port: schema.Port(env.WSPort), Title: env.Title}, nil
	case "disconnect-tab":
		return DisconnectTab{TabID: schema.TabID(env.TabID)}, nil
	case "get-connections":
		return GetConnections{}, nil
	case "get-fs-confirmations":
		return GetConfirmations{}, nil
	case "confirm!":
		return Confirm{Name: env.Name}, nil
	case "cancel!":
		return Cancel{Name: env.Name}, nil
	case "get-events":
		return GetEvents{Name: schema.EventName(env.Event)}, nil
	case "":
		return nil, fmt.Errorf("%w: missing op", schema.ErrInvalidRequest)
	default:
		return nil, fmt.Errorf("%w: unknown op %q", schema.ErrInvalidRequest, env.Op)
	}
}

func scriptNames(raw []string) []schema.ScriptName {
	if len(raw) == 0 {
		return nil
	}
	names := make([]schema.ScriptName, 0, len(raw))
	for _, name := range raw {
		names = append(names, schema.ScriptName(name))
	}
	return names
}
