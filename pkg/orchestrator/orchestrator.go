// Package orchestrator bridges the channel/bus transport layer to the
// pipeline engine: it drains bus.InboundMessage off the message bus,
// converts each into a pipeline.Message, drives it through a pipeline.Runner,
// and dispatches the resulting intents back out through the channel
// manager, the memory capturer, or the metrics log.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lattice-run/lattice/pkg/bus"
	"github.com/lattice-run/lattice/pkg/channels"
	"github.com/lattice-run/lattice/pkg/logger"
	"github.com/lattice-run/lattice/pkg/memory"
	"github.com/lattice-run/lattice/pkg/pipeline"
)

// Orchestrator owns the bus-consume loop. One Orchestrator drives every
// channel uniformly; channel-specific behavior lives entirely in the
// channel adapters that publish onto the bus.
type Orchestrator struct {
	bus      *bus.MessageBus
	runner   *pipeline.Runner
	channels *channels.Manager
	capturer *memory.Capturer
}

// New builds an Orchestrator. capturer may be nil if memory capture is
// disabled; MemoryCapture intents are then dropped without logging.
func New(msgBus *bus.MessageBus, runner *pipeline.Runner, mgr *channels.Manager, capturer *memory.Capturer) *Orchestrator {
	return &Orchestrator{bus: msgBus, runner: runner, channels: mgr, capturer: capturer}
}

// Run drains the inbound bus until ctx is cancelled. Each message is
// processed in its own recovered closure so a panic building or dispatching
// one message never kills the loop for the rest.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		inbound, ok := o.bus.ConsumeInbound(ctx)
		if !ok {
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorCF("orchestrator", "panic processing message", map[string]any{
						"error": fmt.Sprintf("%v", r), "channel": inbound.Channel, "chat_id": inbound.ChatID,
					})
				}
			}()

			msg := toPipelineMessage(inbound)
			intents := o.runner.Run(ctx, msg)
			o.dispatch(ctx, intents)
		}()
	}
}

// toPipelineMessage converts one bus.InboundMessage into the immutable
// pipeline.Message envelope. Mention/reply-to-bot detection happens in the
// channel adapter (platform-specific) and is surfaced here via well-known
// metadata keys rather than recomputed.
func toPipelineMessage(in bus.InboundMessage) pipeline.Message {
	blocks := []pipeline.ContentBlock{}
	if in.Content != "" {
		blocks = append(blocks, pipeline.ContentBlock{Kind: pipeline.ContentText, Text: in.Content})
	}
	for _, ref := range in.Media {
		blocks = append(blocks, classifyMediaBlock(ref))
	}

	anyMeta := make(map[string]any, len(in.Metadata))
	for k, v := range in.Metadata {
		anyMeta[k] = v
	}

	msg := pipeline.Message{
		ID:           firstNonEmpty(in.MessageID, uuid.NewString()),
		Channel:      in.Channel,
		ChatID:       in.ChatID,
		Sender:       identityFrom(in),
		Content:      blocks,
		IsGroup:      in.Peer.Kind == "group" || in.Peer.Kind == "channel" || metaBool(in.Metadata, "is_group"),
		MentionedBot: metaBool(in.Metadata, "mentioned_bot"),
		ReplyToBot:   metaBool(in.Metadata, "reply_to_bot"),
		Metadata:     anyMeta,
	}

	if replyID := in.Metadata["reply_to_message_id"]; replyID != "" {
		msg.ReplyTo = &pipeline.ReplyRef{MessageID: replyID}
	}

	return msg
}

func identityFrom(in bus.InboundMessage) pipeline.Identity {
	id := in.SenderID
	if id == "" {
		id = in.Sender.CanonicalID
	}
	return pipeline.Identity{
		ID:          id,
		DisplayName: in.Sender.DisplayName,
		Handle:      in.Sender.Username,
	}
}

func metaBool(meta map[string]string, key string) bool {
	v, ok := meta[key]
	if !ok {
		return false
	}
	b, _ := strconv.ParseBool(v)
	return b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var mediaExtKind = map[string]pipeline.ContentKind{
	".jpg": pipeline.ContentImage, ".jpeg": pipeline.ContentImage, ".png": pipeline.ContentImage, ".gif": pipeline.ContentImage, ".webp": pipeline.ContentImage,
	".mp3": pipeline.ContentAudio, ".wav": pipeline.ContentAudio, ".ogg": pipeline.ContentAudio, ".m4a": pipeline.ContentAudio, ".opus": pipeline.ContentAudio,
	".mp4": pipeline.ContentVideo, ".mov": pipeline.ContentVideo, ".webm": pipeline.ContentVideo,
}

func mediaTypeFromMime(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return "image"
	case strings.HasPrefix(mime, "audio/"):
		return "audio"
	case strings.HasPrefix(mime, "video/"):
		return "video"
	default:
		return "file"
	}
}

func classifyMediaBlock(ref string) pipeline.ContentBlock {
	lower := strings.ToLower(ref)
	for ext, kind := range mediaExtKind {
		if strings.HasSuffix(lower, ext) {
			return pipeline.ContentBlock{Kind: kind, Path: ref}
		}
	}
	return pipeline.ContentBlock{Kind: pipeline.ContentFile, Path: ref}
}

// dispatch routes each intent the pipeline produced to its collaborator:
// bus publish for text/media, a direct Manager call for reaction/typing
// (the bus has no channel for either), the memory capturer, or the log.
func (o *Orchestrator) dispatch(ctx context.Context, intents []pipeline.Intent) {
	for _, intent := range intents {
		switch v := intent.(type) {
		case pipeline.OutboundText:
			if err := o.bus.PublishOutbound(ctx, bus.OutboundMessage{Channel: v.Channel, ChatID: v.ChatID, Content: v.Text}); err != nil {
				logger.WarnCF("orchestrator", "publish outbound failed", map[string]any{"error": err.Error()})
			}

		case pipeline.OutboundMedia:
			part := bus.MediaPart{Type: mediaTypeFromMime(v.MimeType), Ref: v.MediaRef, ContentType: v.MimeType, Caption: v.Caption}
			if err := o.bus.PublishOutboundMedia(ctx, bus.OutboundMediaMessage{Channel: v.Channel, ChatID: v.ChatID, Parts: []bus.MediaPart{part}}); err != nil {
				logger.WarnCF("orchestrator", "publish outbound media failed", map[string]any{"error": err.Error()})
			}

		case pipeline.Reaction:
			o.reactTo(ctx, v)

		case pipeline.Typing:
			o.setTyping(ctx, v)

		case pipeline.MemoryCapture:
			o.captureMemory(v)

		case pipeline.MetricEvent:
			logger.DebugCF("orchestrator", v.Name, map[string]any{"labels": v.Labels, "value": v.Value})
		}
	}
}

func (o *Orchestrator) reactTo(ctx context.Context, r pipeline.Reaction) {
	ch, ok := o.channels.GetChannel(r.Channel)
	if !ok {
		return
	}
	rc, ok := ch.(channels.ReactionCapable)
	if !ok || r.MessageID == "" {
		return
	}
	if _, err := rc.ReactToMessage(ctx, r.ChatID, r.MessageID); err != nil {
		logger.WarnCF("orchestrator", "reaction failed", map[string]any{"channel": r.Channel, "error": err.Error()})
	}
}

func (o *Orchestrator) setTyping(ctx context.Context, t pipeline.Typing) {
	if t.State != pipeline.TypingOn {
		return
	}
	ch, ok := o.channels.GetChannel(t.Channel)
	if !ok {
		return
	}
	tc, ok := ch.(channels.TypingCapable)
	if !ok {
		return
	}
	if _, err := tc.StartTyping(ctx, t.ChatID); err != nil {
		logger.WarnCF("orchestrator", "typing indicator failed", map[string]any{"channel": t.Channel, "error": err.Error()})
	}
}

func (o *Orchestrator) captureMemory(m pipeline.MemoryCapture) {
	if o.capturer == nil {
		return
	}
	o.capturer.Submit(memory.CaptureRequest{
		Channel:     m.SourceChannel,
		ChatID:      m.SourceChatID,
		SenderID:    m.SourceSenderID,
		MessageID:   m.SourceMsgID,
		IsAssistant: m.SourceSenderID == "assistant",
		Text:        m.Text,
	})
}
