package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://citybuilder.ai/schemas/"

var ErrUnknownType = errors.New("unknown message type")

// schemaFiles maps a message type to its schema file.
var schemaFiles = map[string]string{
	TypeSubscribe:       "subscribe.schema.json",
	TypeActionComplete:  "action_complete.schema.json",
	TypeSetSpeed:        "set_speed.schema.json",
	TypeRequestDecision: "request_decision.schema.json",
	TypeReset:           "reset.schema.json",
	TypeRequestState:    "request_state.schema.json",
	TypeSyncState:       "sync_state.schema.json",
	TypeAdminBuild:      "admin_build.schema.json",
	TypeAdminRemove:     "admin_remove.schema.json",

	TypeBuildStarted:    "build_started.schema.json",
	TypeBuildCompleted:  "build_completed.schema.json",
	TypeNarrativeLogged: "narrative_logged.schema.json",
	TypeWorldState:      "world_state.schema.json",
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020

		ents, err := schemaFS.ReadDir("schemas")
		if err != nil {
			schemasErr = err
			return
		}
		for _, e := range ents {
			b, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(b)); err != nil {
				schemasErr = fmt.Errorf("schema %s: %w", e.Name(), err)
				return
			}
		}

		out := make(map[string]*jsonschema.Schema, len(schemaFiles))
		for typ, name := range schemaFiles {
			s, err := c.Compile(schemaBaseURL + name)
			if err != nil {
				schemasErr = fmt.Errorf("compile %s: %w", name, err)
				return
			}
			out[typ] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// SchemaFor returns the compiled schema for a message type.
func SchemaFor(typ string) (*jsonschema.Schema, error) {
	all, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	s, ok := all[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return s, nil
}

// Validate routes a raw JSON message by type and checks it against the type's schema.
// The returned base is populated whenever the envelope itself could be decoded.
func Validate(raw []byte) (BaseMessage, error) {
	base, err := DecodeBase(raw)
	if err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	s, err := SchemaFor(strings.TrimSpace(base.Type))
	if err != nil {
		return base, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return base, fmt.Errorf("%s: %w", base.Type, err)
	}
	return base, nil
}

// ValidateValue marshals an outbound message and validates it.
func ValidateValue(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = Validate(b)
	return err
}
