// Package pipeline implements the inbound orchestration pipeline: a static,
// explicitly-sequenced middleware chain that normalizes, deduplicates,
// archives, enriches, evaluates policy against, and responds to one inbound
// Message, emitting a list of Intent values for downstream dispatch.
package pipeline

import "time"

// ContentKind tags the variant of a ContentBlock.
type ContentKind string

const (
	ContentText    ContentKind = "text"
	ContentImage   ContentKind = "image"
	ContentAudio   ContentKind = "audio"
	ContentVideo   ContentKind = "video"
	ContentSticker ContentKind = "sticker"
	ContentFile    ContentKind = "file"
)

// ContentBlock is one ordered piece of a Message's content.
type ContentBlock struct {
	Kind        ContentKind `json:"kind"`
	Text        string      `json:"text,omitempty"`
	Path        string      `json:"path,omitempty"`
	MimeType    string      `json:"mime_type,omitempty"`
	SizeBytes   int64       `json:"size_bytes,omitempty"`
	Transcript  string      `json:"transcript,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Identity identifies a message sender.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Handle      string `json:"handle,omitempty"`
}

// ReplyRef points at the message a Message is replying to.
type ReplyRef struct {
	MessageID string    `json:"message_id"`
	Text      string    `json:"text,omitempty"`
	Sender    *Identity `json:"sender,omitempty"`
}

// Message is the immutable inbound envelope produced by a channel adapter.
type Message struct {
	ID            string         `json:"id"`
	Channel       string         `json:"channel"`
	ChatID        string         `json:"chat_id"`
	Sender        Identity       `json:"sender"`
	Content       []ContentBlock `json:"content"`
	ReplyTo       *ReplyRef      `json:"reply_to,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	IsGroup       bool           `json:"is_group"`
	MentionedBot  bool           `json:"mentioned_bot"`
	ReplyToBot    bool           `json:"reply_to_bot"`
	Participant   string         `json:"participant,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Text returns the concatenated text of every text ContentBlock, in order.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Kind == ContentText && b.Text != "" {
			if out != "" {
				out += " "
			}
			out += b.Text
		}
	}
	return out
}

// HasVoiceNote reports whether the message carries an audio block, the
// signal used by whenToReply's wake-phrase exemption.
func (m Message) HasVoiceNote() (ContentBlock, bool) {
	for _, b := range m.Content {
		if b.Kind == ContentAudio {
			return b, true
		}
	}
	return ContentBlock{}, false
}
