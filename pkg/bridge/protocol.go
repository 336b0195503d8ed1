// Package bridge implements the loopback-only WhatsApp bridge: the
// process that speaks whatsmeow directly and exposes the v2 WebSocket
// wire protocol (Command in, Event out). pkg/channels/whatsapp does not
// speak this envelope: it sends and reads flat JSON frames with no
// version or token.
package bridge

import "time"

// ProtocolVersion is the only wire version this bridge speaks.
const ProtocolVersion = 2

// Per-connection limits. A command over MaxCommandBytes, or one arriving
// while MaxInFlightCommands are already running, is rejected before it
// reaches Session; an outbound event that would push a client's unsent
// bytes past MaxOutboundBufBytes is dropped.
const (
	MaxInFlightCommands = 20
	MaxOutboundBufBytes  = 2 << 20   // 2MB
	MaxCommandBytes      = 256 << 10 // 256KB
)

// Command is one client->bridge envelope.
type Command struct {
	Version   int            `json:"version"`
	Type      CommandType    `json:"type"`
	Token     string         `json:"token"`
	RequestID string         `json:"requestId,omitempty"`
	AccountID string         `json:"accountId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// CommandType enumerates the commands the bridge accepts.
type CommandType string

const (
	CommandSendText       CommandType = "send_text"
	CommandSendMedia      CommandType = "send_media"
	CommandSendPoll       CommandType = "send_poll"
	CommandReact          CommandType = "react"
	CommandPresenceUpdate CommandType = "presence_update"
	CommandListGroups     CommandType = "list_groups"
	CommandLoginStart     CommandType = "login_start"
	CommandLoginWait      CommandType = "login_wait"
	CommandLogout         CommandType = "logout"
	CommandHealth         CommandType = "health"
)

// Event is one bridge->client envelope.
type Event struct {
	Version   int            `json:"version"`
	Type      EventType      `json:"type"`
	Ts        time.Time      `json:"ts"`
	AccountID string         `json:"accountId,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventType enumerates the events the bridge emits.
type EventType string

const (
	EventMessage    EventType = "message"
	EventAck        EventType = "ack"
	EventError      EventType = "error"
	EventHealth     EventType = "health"
	EventQR         EventType = "qr"
	EventConnection EventType = "connection"
)

// ErrorKind is the bridge's protocol-level error taxonomy. Each kind
// carries a fixed retryability the client can act on without parsing text.
type ErrorKind string

const (
	ErrProtocolVersion  ErrorKind = "ERR_PROTOCOL_VERSION"   // retryable=false, client speaks the wrong wire version
	ErrSchema           ErrorKind = "ERR_SCHEMA"             // retryable=false, payload failed validation
	ErrAuth             ErrorKind = "ERR_AUTH"               // retryable=false, socket is closed
	ErrUnsupported      ErrorKind = "ERR_UNSUPPORTED"        // retryable=false, unknown command type
	ErrPayloadTooLarge  ErrorKind = "ERR_PAYLOAD_TOO_LARGE"  // retryable=false, command exceeds MaxCommandBytes
	ErrQueueOverflow    ErrorKind = "ERR_QUEUE_OVERFLOW"     // retryable=true, MaxInFlightCommands exceeded
	ErrInternal         ErrorKind = "ERR_INTERNAL"           // retryable=true

	// ErrNotConnected and ErrSendFailed are not part of the wire taxonomy;
	// they annotate Session-returned errors and are mapped to ErrInternal
	// (or ErrSchema, for bad chat ids) before being sent on the wire.
	ErrNotConnected ErrorKind = "ERR_NOT_CONNECTED"
	ErrSendFailed   ErrorKind = "ERR_SEND_FAILED"
	ErrBadRequest   ErrorKind = "ERR_BAD_REQUEST"
)

// Retryable reports whether a client should retry a command that failed
// with this error kind.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrQueueOverflow, ErrInternal, ErrNotConnected, ErrSendFailed:
		return true
	default:
		return false
	}
}

// HealthReport is the payload shape for the "health" event/response.
type HealthReport struct {
	Version         int    `json:"version"`
	ProtocolVersion int    `json:"protocolVersion"`
	BridgeVersion   string `json:"bridgeVersion"`
	BuildID         string `json:"buildId"`
	AccountID       string `json:"accountId"`
	WhatsApp        struct {
		Connected                bool       `json:"connected"`
		Running                  bool       `json:"running"`
		ReconnectAttempts        int        `json:"reconnectAttempts"`
		LastDisconnectStatus     string     `json:"lastDisconnectStatus,omitempty"`
		LastError                string     `json:"lastError,omitempty"`
		LastMessageAt            *time.Time `json:"lastMessageAt,omitempty"`
		DroppedInboundDuplicates int64      `json:"droppedInboundDuplicates"`
		DedupeCacheSize          int        `json:"dedupeCacheSize"`
	} `json:"whatsapp"`
	Queue struct {
		Clients  int `json:"clients"`
		Inflight int `json:"inflight"`
		Dropped  int `json:"dropped"`
	} `json:"queue"`
	Dedupe struct {
		DroppedInboundDuplicates int64 `json:"droppedInboundDuplicates"`
		DedupeCacheSize          int   `json:"dedupeCacheSize"`
	} `json:"dedupe"`
}
