package channel

import "strings"

// Name is the channel identifier shared between the connector and the
// dialogue engine.
const Name = "vier-cvg"

// OperationPrefix marks keys in an engine action payload that address the
// gateway. Keys without the marker are ignored by the dispatcher.
const OperationPrefix = "cvg_"

// DialogIDField is the gateway's JSON field carrying the dialog identifier.
const DialogIDField = "dialogId"

// MetadataKey wraps the original webhook body inside message metadata, so
// the engine can inspect the raw event without the connector committing to
// its schema.
const MetadataKey = "cvg_body"

// Synthetic intents injected into the dialogue for call lifecycle events
// and asynchronous operation results.
const (
	DefaultStartIntent    = "/cvg_session"
	IntentInactivity      = "/cvg_inactivity"
	IntentTerminated      = "/cvg_terminated"
	IntentRecording       = "/cvg_recording"
	IntentOutboundSuccess = "/cvg_outbound_success"
	IntentOutboundFailure = "/cvg_outbound_failure"
	IntentReferFailure    = "/cvg_refer_failure"

	// AnswerIntentPrefix is completed with the lowercased answer type name.
	AnswerIntentPrefix = "/cvg_answer_"
)

// ReplyChannel captures where responses for one message must be sent: the
// per-dialog callback base URL announced by the gateway, plus an optional
// egress proxy. It is derived fresh from every webhook and never shared
// across dialogs.
type ReplyChannel struct {
	CallbackURL string `json:"callback_url"`
	Proxy       string `json:"proxy,omitempty"`
}

// NewReplyChannel normalizes the callback URL announced in a webhook body.
func NewReplyChannel(callbackURL, proxy string) ReplyChannel {
	return ReplyChannel{
		CallbackURL: strings.TrimRight(callbackURL, "/"),
		Proxy:       proxy,
	}
}

// UserMessage is the single normalized message shape handed to the engine,
// regardless of which webhook event produced it.
type UserMessage struct {
	Text     string         `json:"text"`
	SenderID string         `json:"sender_id"`
	Channel  string         `json:"channel"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Reply    ReplyChannel   `json:"reply"`
}

// NewUserMessage builds a normalized message. A single trailing period is
// stripped from the text: speech transcription tends to close utterances
// with one, and intent matching must not see it.
func NewUserMessage(text, senderID string, metadata map[string]any, reply ReplyChannel) *UserMessage {
	if strings.HasSuffix(text, ".") {
		text = text[:len(text)-1]
	}
	return &UserMessage{
		Text:     text,
		SenderID: senderID,
		Channel:  Name,
		Metadata: metadata,
		Reply:    reply,
	}
}

// Metadata wraps a webhook or response body under the channel metadata key.
func Metadata(body any) map[string]any {
	return map[string]any{MetadataKey: body}
}
