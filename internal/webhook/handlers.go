package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"cvg-connector/internal/channel"
	"cvg-connector/internal/correlation"
	"cvg-connector/internal/cvg"
	"cvg-connector/internal/engine"
	"cvg-connector/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handler serves the gateway webhook surface and owns the loop between
// inbound events, engine delivery and outbound operation execution.
//
// Delivery semantics: the session endpoint always waits for the engine
// before answering; the other endpoints wait only when Blocking is set,
// otherwise the delivery detaches and the 204 races ahead of engine
// processing. Failures past the validation gate are logged, never surfaced
// to the gateway caller.
type Handler struct {
	Engine engine.Handler

	// StartIntent is injected as the message text on session events.
	StartIntent string
	// Proxy routes outbound gateway calls when set.
	Proxy string
	// Blocking forces every endpoint to wait for engine delivery.
	Blocking bool
}

func (h *Handler) Session(c *gin.Context) {
	if ev := eventFrom(c); ev != nil {
		h.process(c, ev, h.StartIntent, true)
	}
	c.JSON(http.StatusOK, gin.H{"action": "ACCEPT"})
}

func (h *Handler) Message(c *gin.Context) {
	if ev := eventFrom(c); ev != nil {
		h.process(c, ev, ev.Text, false)
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Answer(c *gin.Context) {
	if ev := eventFrom(c); ev != nil {
		h.process(c, ev, channel.AnswerIntentPrefix+strings.ToLower(ev.TypeName), false)
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Inactivity(c *gin.Context) {
	if ev := eventFrom(c); ev != nil {
		h.process(c, ev, channel.IntentInactivity, false)
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Terminated(c *gin.Context) {
	if ev := eventFrom(c); ev != nil {
		h.process(c, ev, channel.IntentTerminated, false)
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Recording(c *gin.Context) {
	if ev := eventFrom(c); ev != nil {
		h.process(c, ev, channel.IntentRecording, false)
	}
	c.Status(http.StatusNoContent)
}

// process normalizes the validated event into a message and hands it to the
// engine, either synchronously or on a detached goroutine.
func (h *Handler) process(c *gin.Context, ev *Event, text string, mustBlock bool) {
	log := logger.FromGin(c)

	sender := correlation.Encode(ev.DialogID, ev.ProjectToken, ev.ResellerToken)
	reply := channel.NewReplyChannel(ev.Callback, h.Proxy)
	msg := channel.NewUserMessage(text, sender, channel.Metadata(ev.Raw), reply)

	log.Info("normalized webhook event",
		"text", msg.Text,
		"dialog_id", ev.DialogID,
		"blocking", h.Blocking || mustBlock,
	)

	if h.Blocking || mustBlock {
		h.deliver(c.Request.Context(), msg, log)
		return
	}

	// Detached: the task outlives the HTTP exchange, so it must not die
	// with the request context. The log line is its only observer.
	go h.deliver(context.WithoutCancel(c.Request.Context()), msg, log)
}

// deliver runs the engine round trip and executes whatever responses come
// back. All failures end here: the webhook contract never turns an internal
// error into a 5xx.
func (h *Handler) deliver(ctx context.Context, msg *channel.UserMessage, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while handling webhook message",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := h.Dispatch(ctx, msg, log); err != nil {
		log.Error("webhook message handling failed", "text", msg.Text, "err", err)
	}
}

// Dispatch delivers one message to the engine and executes the returned
// actions on the message's reply channel. Synthesized result messages are
// routed back through Dispatch itself, so an operation result can drive
// further dialogue turns.
func (h *Handler) Dispatch(ctx context.Context, msg *channel.UserMessage, log *slog.Logger) error {
	responses, err := h.Engine.Deliver(ctx, msg)
	if err != nil {
		return err
	}
	if len(responses) == 0 {
		return nil
	}

	out, err := cvg.NewOutput(msg.Reply, func(ctx context.Context, injected *channel.UserMessage) error {
		return h.Dispatch(ctx, injected, log)
	}, log)
	if err != nil {
		return err
	}

	for _, resp := range responses {
		if resp.Text != "" {
			if err := out.Say(ctx, msg.SenderID, resp.Text); err != nil {
				return err
			}
		}
		if len(resp.Custom) > 0 {
			if err := out.SendOperations(ctx, msg.SenderID, resp.Custom); err != nil {
				return err
			}
		}
	}
	return nil
}
