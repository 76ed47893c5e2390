package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Event is the shared shape of every gateway webhook body. Per-event extras
// (utterance text, answer type) are pulled out when present; the full body
// survives in Raw for message metadata.
type Event struct {
	DialogID      string
	Callback      string
	ProjectToken  string
	ResellerToken string

	// Text is the spoken utterance on /message events.
	Text string
	// TypeName is the answer type on /answer events.
	TypeName string

	Raw map[string]any
}

var requiredFields = []string{"dialogId", "callback", "projectContext"}

// ParseEvent validates the body contract shared by all webhook endpoints:
// valid JSON with dialogId, callback and projectContext present and non-null.
func ParseEvent(r io.Reader) (*Event, error) {
	var raw map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.New("body is not valid json")
	}

	for _, field := range requiredFields {
		if v, ok := raw[field]; !ok || v == nil {
			return nil, fmt.Errorf("%s is required", field)
		}
	}

	ev := &Event{Raw: raw}
	ev.DialogID, _ = raw["dialogId"].(string)
	ev.Callback, _ = raw["callback"].(string)
	if pc, ok := raw["projectContext"].(map[string]any); ok {
		ev.ProjectToken, _ = pc["projectToken"].(string)
		ev.ResellerToken, _ = pc["resellerToken"].(string)
	}
	ev.Text, _ = raw["text"].(string)
	if typ, ok := raw["type"].(map[string]any); ok {
		ev.TypeName, _ = typ["name"].(string)
	}
	return ev, nil
}
