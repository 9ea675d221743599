package models

import (
	"encoding/json"
	"fmt"
)

// partEnvelope wraps a part with its kind discriminator for storage and
// wire encoding.
type partEnvelope struct {
	Type PartKind        `json:"type"`
	Part json.RawMessage `json:"part"`
}

// MarshalPart encodes a part with its kind discriminator.
func MarshalPart(p Part) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("marshal part: nil part")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(partEnvelope{Type: p.Kind(), Part: raw})
}

// UnmarshalPart decodes a part previously encoded by MarshalPart.
func UnmarshalPart(data []byte) (Part, error) {
	var env partEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	var p Part
	switch env.Type {
	case PartText:
		p = &TextPart{}
	case PartReasoning:
		p = &ReasoningPart{}
	case PartTool:
		p = &ToolPart{}
	case PartStepStart:
		p = &StepStartPart{}
	case PartStepFinish:
		p = &StepFinishPart{}
	default:
		return nil, fmt.Errorf("unmarshal part: unknown kind %q", env.Type)
	}
	if err := json.Unmarshal(env.Part, p); err != nil {
		return nil, err
	}
	return p, nil
}
