package cvg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"cvg-connector/internal/channel"
	"cvg-connector/internal/correlation"
)

// MessageFunc re-injects a synthesized message into the inbound pipeline,
// closing the loop between an outbound operation and its asynchronous result.
type MessageFunc func(ctx context.Context, msg *channel.UserMessage) error

// resultMode selects how an operation's HTTP response is interpreted.
type resultMode int

const (
	// resultIgnore: the response carries no dialogue-relevant signal.
	resultIgnore resultMode = iota
	// resultOutbound: on 2xx the body's status field drives a synthetic
	// success/failure intent; non-2xx is logged only.
	resultOutbound
	// resultRefer: a 2xx ends the matter; non-2xx synthesizes a failure
	// intent so the dialogue can react to the lost hand-off.
	resultRefer
)

type operation struct {
	method string
	mode   resultMode

	// injectDialogID adds the decoded dialog id to the request body when
	// the engine did not supply one.
	injectDialogID bool

	path func(rec correlation.Recipient) string
}

func callPath(p string) func(correlation.Recipient) string {
	return func(correlation.Recipient) string { return "/call/" + p }
}

// operations is the closed set of engine-addressable gateway operations.
// Unknown names are skipped with a log entry, never surfaced as errors.
var operations = map[string]operation{
	"call_say":             {method: http.MethodPost, injectDialogID: true, path: callPath("say")},
	"call_drop":            {method: http.MethodPost, injectDialogID: true, path: callPath("drop")},
	"call_play":            {method: http.MethodPost, injectDialogID: true, path: callPath("play")},
	"call_recording_start": {method: http.MethodPost, injectDialogID: true, path: callPath("recording/start")},
	"call_recording_stop":  {method: http.MethodPost, injectDialogID: true, path: callPath("recording/stop")},
	"call_forward":         {method: http.MethodPost, injectDialogID: true, mode: resultOutbound, path: callPath("forward")},
	"call_bridge":          {method: http.MethodPost, injectDialogID: true, mode: resultOutbound, path: callPath("bridge")},
	"call_refer":           {method: http.MethodPost, injectDialogID: true, mode: resultRefer, path: callPath("refer")},
	"dialog_delete": {method: http.MethodDelete, path: func(rec correlation.Recipient) string {
		return fmt.Sprintf("/dialog/%s/%s", rec.ResellerToken, rec.DialogID)
	}},
	"dialog_data": {method: http.MethodPost, path: func(rec correlation.Recipient) string {
		return fmt.Sprintf("/dialog/%s/%s/data", rec.ResellerToken, rec.DialogID)
	}},
}

// Output executes engine-requested operations against the gateway for one
// reply channel, and feeds selected results back into the dialogue as
// inbound messages.
type Output struct {
	client    *Client
	reply     channel.ReplyChannel
	onMessage MessageFunc
	log       *slog.Logger
}

func NewOutput(reply channel.ReplyChannel, onMessage MessageFunc, log *slog.Logger) (*Output, error) {
	client, err := NewClient(reply.CallbackURL, reply.Proxy, log)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Output{client: client, reply: reply, onMessage: onMessage, log: log}, nil
}

// Say speaks plain dialogue text into the active call.
func (o *Output) Say(ctx context.Context, recipientID, text string) error {
	rec, err := correlation.Decode(recipientID)
	if err != nil {
		return err
	}

	o.log.Info("sending text to dialog", "dialog_id", rec.DialogID)
	_, _, err = o.client.Execute(ctx, "/call/say", http.MethodPost, map[string]any{
		channel.DialogIDField: rec.DialogID,
		"text":                text,
	})
	return err
}

// SendOperations runs every marker-prefixed operation in the payload, in the
// order the engine wrote them. Keys without the marker, or with a doubled
// marker, are skipped. A malformed recipient token aborts the whole payload
// before any gateway call is made.
func (o *Output) SendOperations(ctx context.Context, recipientID string, payload json.RawMessage) error {
	rec, err := correlation.Decode(recipientID)
	if err != nil {
		return fmt.Errorf("cvg: dispatch aborted: %w", err)
	}

	// Walk the object token by token so the engine's write order survives;
	// a plain map would shuffle the operations.
	dec := json.NewDecoder(bytes.NewReader(payload))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("cvg: invalid operation payload: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("cvg: operation payload must be a json object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("cvg: invalid operation payload: %w", err)
		}
		key := keyTok.(string)

		var body map[string]any
		if err := dec.Decode(&body); err != nil {
			return fmt.Errorf("cvg: invalid body for %q: %w", key, err)
		}

		name, ok := strings.CutPrefix(key, channel.OperationPrefix)
		if !ok {
			o.log.Info("ignoring payload key without operation marker", "key", key)
			continue
		}
		if strings.HasPrefix(name, channel.OperationPrefix) {
			o.log.Info("ignoring payload key with doubled operation marker", "key", key)
			continue
		}

		if err := o.run(ctx, name, body, rec, recipientID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Output) run(ctx context.Context, name string, body map[string]any, rec correlation.Recipient, recipientID string) error {
	op, ok := operations[name]
	if !ok {
		o.log.Error("operation not implemented, skipping", "operation", name)
		return nil
	}

	reqBody := map[string]any{}
	for k, v := range body {
		reqBody[k] = v
	}
	if op.injectDialogID {
		if _, ok := reqBody[channel.DialogIDField]; !ok {
			reqBody[channel.DialogIDField] = rec.DialogID
		}
	}

	status, respBody, err := o.client.Execute(ctx, op.path(rec), op.method, reqBody)
	if err != nil {
		return fmt.Errorf("cvg: operation %s: %w", name, err)
	}

	switch op.mode {
	case resultOutbound:
		if err := o.handleOutboundResult(ctx, status, respBody, recipientID); err != nil {
			return err
		}
	case resultRefer:
		if err := o.handleReferResult(ctx, status, respBody, recipientID); err != nil {
			return err
		}
	}

	o.log.Info("ran operation", "operation", name, "status", status)
	return nil
}

// handleOutboundResult interprets forward/bridge responses. The gateway
// reports the outcome of the attempted outbound leg in the body's status
// field; the dialogue gets told about both outcomes.
func (o *Output) handleOutboundResult(ctx context.Context, status int, result map[string]any, recipientID string) error {
	if status < 200 || status >= 300 {
		o.log.Info("outbound call request failed", "status", status, "body", result)
		return nil
	}

	var text string
	switch result["status"] {
	case "Success":
		text = channel.IntentOutboundSuccess
	case "Failure":
		text = channel.IntentOutboundFailure
	default:
		o.log.Info("unexpected outbound call result", "result_status", result["status"])
		return nil
	}
	return o.inject(ctx, text, recipientID, result)
}

// handleReferResult interprets refer responses. A successful refer ends the
// connector's involvement with the call, so only failures are surfaced to
// the dialogue.
func (o *Output) handleReferResult(ctx context.Context, status int, result map[string]any, recipientID string) error {
	if status >= 200 && status < 300 {
		o.log.Info("refer request succeeded", "status", status)
		return nil
	}
	return o.inject(ctx, channel.IntentReferFailure, recipientID, result)
}

func (o *Output) inject(ctx context.Context, text, recipientID string, result map[string]any) error {
	if o.onMessage == nil {
		o.log.Error("no inbound pipeline configured, dropping synthesized message", "text", text)
		return nil
	}

	msg := channel.NewUserMessage(text, recipientID, channel.Metadata(result), o.reply)
	o.log.Info("injecting synthesized message", "text", msg.Text, "sender_id", msg.SenderID)
	return o.onMessage(ctx, msg)
}
