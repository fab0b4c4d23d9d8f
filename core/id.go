package core

import (
	"github.com/PEZ/epupp/schema"
	"github.com/google/uuid"
)

func newScriptID() schema.ScriptID {
	return schema.ScriptID(uuid.NewString())
}
