package orchestrator

import (
	"testing"

	"github.com/lattice-run/lattice/pkg/bus"
	"github.com/lattice-run/lattice/pkg/pipeline"
)

func TestToPipelineMessage_TextAndMetadata(t *testing.T) {
	in := bus.InboundMessage{
		Channel:   "telegram",
		SenderID:  "telegram:123",
		ChatID:    "456",
		Content:   "hello there",
		MessageID: "m1",
		Peer:      bus.Peer{Kind: "group"},
		Sender:    bus.SenderInfo{CanonicalID: "telegram:123", DisplayName: "Alice", Username: "alice"},
		Metadata:  map[string]string{"mentioned_bot": "true", "reply_to_bot": "false"},
	}

	msg := toPipelineMessage(in)

	if msg.ID != "m1" {
		t.Fatalf("expected id m1, got %q", msg.ID)
	}
	if !msg.IsGroup {
		t.Fatal("expected IsGroup true for group peer")
	}
	if !msg.MentionedBot {
		t.Fatal("expected MentionedBot true")
	}
	if msg.ReplyToBot {
		t.Fatal("expected ReplyToBot false")
	}
	if got := msg.Text(); got != "hello there" {
		t.Fatalf("expected text 'hello there', got %q", got)
	}
	if msg.Sender.DisplayName != "Alice" {
		t.Fatalf("expected sender display name Alice, got %q", msg.Sender.DisplayName)
	}
}

func TestToPipelineMessage_GeneratesIDWhenMissing(t *testing.T) {
	in := bus.InboundMessage{Channel: "cli", ChatID: "1", Content: "hi"}
	msg := toPipelineMessage(in)
	if msg.ID == "" {
		t.Fatal("expected a generated id when MessageID is empty")
	}
}

func TestToPipelineMessage_ReplyToFromMetadata(t *testing.T) {
	in := bus.InboundMessage{
		Channel:  "onebot",
		ChatID:   "1",
		Content:  "reply",
		Metadata: map[string]string{"reply_to_message_id": "orig-1"},
	}
	msg := toPipelineMessage(in)
	if msg.ReplyTo == nil || msg.ReplyTo.MessageID != "orig-1" {
		t.Fatalf("expected ReplyTo.MessageID 'orig-1', got %+v", msg.ReplyTo)
	}
}

func TestClassifyMediaBlock(t *testing.T) {
	cases := map[string]pipeline.ContentKind{
		"media://abc.jpg":  pipeline.ContentImage,
		"media://abc.mp3":  pipeline.ContentAudio,
		"media://abc.mp4":  pipeline.ContentVideo,
		"media://abc.pdf":  pipeline.ContentFile,
	}
	for ref, want := range cases {
		got := classifyMediaBlock(ref)
		if got.Kind != want {
			t.Fatalf("classifyMediaBlock(%q) = %v, want %v", ref, got.Kind, want)
		}
	}
}

func TestMediaTypeFromMime(t *testing.T) {
	if mediaTypeFromMime("image/png") != "image" {
		t.Fatal("expected image")
	}
	if mediaTypeFromMime("audio/ogg") != "audio" {
		t.Fatal("expected audio")
	}
	if mediaTypeFromMime("application/pdf") != "file" {
		t.Fatal("expected file")
	}
}
