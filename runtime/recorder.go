package runtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/randalmurphal/threadrelay/event"
	"github.com/randalmurphal/threadrelay/relaycontract"
	"github.com/randalmurphal/threadrelay/store"
)

// Recorder projects events into the transcript. Failures are logged and
// never reach the event source.
type Recorder struct {
	store   Store
	log     *zap.Logger
	timeout time.Duration
}

// NewRecorder creates a recorder writing to st.
func NewRecorder(st Store, log *zap.Logger, timeout time.Duration) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{store: st, log: log, timeout: timeout}
}

// Record persists ev if it projects to a message.
func (r *Recorder) Record(ev event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	log := r.log.With(zap.String("thread_id", ev.ThreadID), zap.String("kind", string(ev.Kind)))

	if mc, ok := ev.Payload.(event.ModelChange); ok {
		if err := r.store.UpdateThreadModel(ctx, ev.ThreadID, mc.NewModel); err != nil {
			log.Warn("record model change", zap.Error(err))
		}
		return
	}

	msg, ok := Project(ev)
	if !ok {
		return
	}
	payload, err := ev.PayloadJSON()
	if err != nil {
		log.Warn("encode event payload", zap.Error(err))
	}
	msg.PayloadJSON = payload

	written, err := r.store.AppendMessage(ctx, msg)
	if err != nil {
		log.Warn("record message", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}
	if !written {
		log.Debug("message already recorded", zap.String("event_id", ev.ID))
		return
	}
	if ev.Kind == event.KindUserMessage || ev.Kind == event.KindAssistantMessage {
		if err := r.store.TouchThread(ctx, ev.ThreadID); err != nil {
			log.Debug("touch thread", zap.Error(err))
		}
	}
}

// Project maps ev to the message it persists as. Deltas, idle, abort and
// model changes persist no message.
func Project(ev event.Event) (store.Message, bool) {
	msg := store.Message{
		ID:        ev.ID,
		ThreadID:  ev.ThreadID,
		EventType: string(ev.Kind),
		CreatedAt: ev.Timestamp,
	}

	switch p := ev.Payload.(type) {
	case event.UserMessage:
		msg.Role, msg.Content = relaycontract.RoleUser, p.Content
	case event.AssistantMessage:
		msg.Role, msg.Content = relaycontract.RoleAssistant, p.Content
		msg.MessageKey = p.MessageID
	case event.ToolStart:
		name := p.ToolName
		if name == "" {
			name = "tool"
		}
		msg.Role, msg.Content = relaycontract.RoleTool, "Running "+name+"..."
	case event.ToolProgress:
		content := p.ProgressMessage
		if content == "" {
			content = "Tool running..."
		}
		msg.Role, msg.Content = relaycontract.RoleTool, content
	case event.ToolComplete:
		content := "Tool execution complete"
		if !p.Success {
			content = "Tool execution failed"
			if p.Error != nil && p.Error.Message != "" {
				content = p.Error.Message
			}
		}
		msg.Role, msg.Content = relaycontract.RoleTool, content
	case event.SessionError:
		content := p.Message
		if content == "" {
			content = "Session error"
		}
		msg.Role, msg.Content = relaycontract.RoleSystem, content
	default:
		return store.Message{}, false
	}
	return msg, true
}
