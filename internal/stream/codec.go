package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// wireEvent is the JSONL form of an Event. Err is flattened to a message
// string for transport.
type wireEvent struct {
	Type      EventType         `json:"type"`
	Text      *TextPayload      `json:"text,omitempty"`
	Reasoning *ReasoningPayload `json:"reasoning,omitempty"`
	Tool      *ToolPayload      `json:"tool,omitempty"`
	Step      *StepPayload      `json:"step,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Encoder writes events as JSON lines.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one event as a JSON line.
func (e *Encoder) Encode(ev Event) error {
	we := wireEvent{
		Type:      ev.Type,
		Text:      ev.Text,
		Reasoning: ev.Reasoning,
		Tool:      ev.Tool,
		Step:      ev.Step,
	}
	if ev.Err != nil {
		we.Error = ev.Err.Error()
	}
	data, err := json.Marshal(we)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	return e.w.Flush()
}

// Decoder reads events from JSON lines, skipping blank lines.
type Decoder struct {
	s    *bufio.Scanner
	line int
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Decoder{s: s}
}

// Decode reads the next event. It returns io.EOF when the input is
// exhausted.
func (d *Decoder) Decode() (Event, error) {
	for d.s.Scan() {
		d.line++
		text := strings.TrimSpace(d.s.Text())
		if text == "" {
			continue
		}
		var we wireEvent
		if err := json.Unmarshal([]byte(text), &we); err != nil {
			return Event{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		if we.Type == "" {
			return Event{}, fmt.Errorf("line %d: missing event type", d.line)
		}
		ev := Event{
			Type:      we.Type,
			Text:      we.Text,
			Reasoning: we.Reasoning,
			Tool:      we.Tool,
			Step:      we.Step,
		}
		if we.Error != "" {
			ev.Err = errors.New(we.Error)
		}
		return ev, nil
	}
	if err := d.s.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// ReadAll decodes every event from r.
func ReadAll(r io.Reader) ([]Event, error) {
	d := NewDecoder(r)
	var events []Event
	for {
		ev, err := d.Decode()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
}
