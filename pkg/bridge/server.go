package bridge

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lattice-run/lattice/pkg/logger"
)

// BuildID and BridgeVersion are stamped at link time via -ldflags; zero
// values are fine defaults for a locally-built binary.
var (
	BuildID       = "dev"
	BridgeVersion = "dev"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // loopback enforcement happens on the raw connection, not Origin
}

// tokenPattern redacts anything that looks like a bearer credential out of
// error messages before they reach the wire (spec.md §4.5, error-message
// token sanitization).
var tokenPattern = regexp.MustCompile(`(?i)(token|key|secret|bearer)[=:"\s]{1,3}[A-Za-z0-9_\-./+]{8,}`)

func sanitizeErrorMessage(msg string) string {
	return tokenPattern.ReplaceAllString(msg, "***")
}

// connState tracks per-connection limits: in-flight command count and the
// outbound buffer the client has not yet drained.
type connState struct {
	inFlight    atomic.Int32
	outboundBuf atomic.Int64
}

// Server is the loopback-only WebSocket listener speaking the v2 envelope
// protocol. Binding is enforced twice: callers are expected to pass a
// loopback host to net.Listen, and every accepted connection's remote
// address is checked again before the handshake is allowed to proceed.
type Server struct {
	Token   string
	Session *Session

	mu           sync.Mutex
	clients      map[*websocket.Conn]*connState
	queueDropped int
}

// NewServer wires a Server to a Session. token must be non-empty; the
// server refuses every command on an empty-token deployment at ListenAndServe time.
func NewServer(token string, session *Session) *Server {
	s := &Server{Token: token, Session: session, clients: map[*websocket.Conn]*connState{}}
	session.onEvent = s.broadcast
	return s
}

// ListenAndServe binds host:port, which MUST resolve to a loopback address,
// and serves the bridge WebSocket endpoint. It blocks until the HTTP
// listener returns an error.
func (s *Server) ListenAndServe(host string, port int) error {
	if s.Token == "" {
		return fmt.Errorf("bridge: BRIDGE_TOKEN must be set")
	}
	if !isLoopbackHost(host) {
		return fmt.Errorf("bridge: refusing to bind non-loopback host %q", host)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	addr := fmt.Sprintf("%s:%d", host, port)
	logger.InfoCF("bridge", "listening", map[string]any{"addr": addr})
	return http.ListenAndServe(addr, mux)
}

// tokenMatches compares cmd.Token against the server's configured token in
// constant time (spec.md §8, "Token constant-time compare"), avoiding the
// length/content timing side-channel a plain != comparison leaks.
func (s *Server) tokenMatches(token string) bool {
	return hmac.Equal([]byte(token), []byte(s.Token))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackAddr(r.RemoteAddr) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("bridge", "upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	state := &connState{}
	s.mu.Lock()
	s.clients[conn] = state
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if len(raw) > MaxCommandBytes {
			s.sendError(conn, state, "", ErrPayloadTooLarge, "command exceeds max size")
			continue
		}

		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			s.sendError(conn, state, "", ErrSchema, "malformed command")
			continue
		}

		if cmd.Version != ProtocolVersion {
			s.sendError(conn, state, cmd.RequestID, ErrProtocolVersion, fmt.Sprintf("server speaks protocol version %d", ProtocolVersion))
			continue
		}

		if !s.tokenMatches(cmd.Token) {
			s.sendError(conn, state, cmd.RequestID, ErrAuth, "invalid token")
			conn.Close()
			return
		}

		if state.inFlight.Load() >= MaxInFlightCommands {
			s.sendError(conn, state, cmd.RequestID, ErrQueueOverflow, "too many in-flight commands")
			continue
		}

		state.inFlight.Add(1)
		go func(cmd Command) {
			defer state.inFlight.Add(-1)
			s.dispatch(conn, state, cmd)
		}(cmd)
	}
}

func (s *Server) dispatch(conn *websocket.Conn, state *connState, cmd Command) {
	switch cmd.Type {
	case CommandHealth:
		s.sendEvent(conn, state, EventHealth, cmd.RequestID, s.healthPayload())

	case CommandSendText:
		s.dispatchSendText(conn, state, cmd)

	case CommandSendMedia:
		s.dispatchSendMedia(conn, state, cmd)

	case CommandSendPoll:
		s.dispatchSendPoll(conn, state, cmd)

	case CommandReact:
		s.dispatchReact(conn, state, cmd)

	case CommandPresenceUpdate:
		s.dispatchPresenceUpdate(conn, state, cmd)

	case CommandListGroups:
		s.dispatchListGroups(conn, state, cmd)

	case CommandLoginStart:
		s.dispatchLoginStart(conn, state, cmd)

	case CommandLoginWait:
		s.dispatchLoginWait(conn, state, cmd)

	case CommandLogout:
		s.Session.Stop()
		s.sendEvent(conn, state, EventAck, cmd.RequestID, nil)

	default:
		s.sendError(conn, state, cmd.RequestID, ErrUnsupported, fmt.Sprintf("unknown command type %q", cmd.Type))
	}
}

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key].(string)
	return v, ok
}

func (s *Server) dispatchSendText(conn *websocket.Conn, state *connState, cmd Command) {
	chatID, ok := stringField(cmd.Payload, "chat")
	if !ok || chatID == "" {
		s.sendError(conn, state, cmd.RequestID, ErrSchema, "chat is required")
		return
	}
	text, ok := stringField(cmd.Payload, "content")
	if !ok || text == "" {
		s.sendError(conn, state, cmd.RequestID, ErrSchema, "content is required")
		return
	}
	replyTo, _ := stringField(cmd.Payload, "reply_to")

	id, err := s.Session.Send(context.Background(), chatID, text, replyTo)
	if err != nil {
		s.sendError(conn, state, cmd.RequestID, classifySendError(err), err.Error())
		return
	}
	s.sendEvent(conn, state, EventAck, cmd.RequestID, map[string]any{"message_id": id})
}

func (s *Server) dispatchSendMedia(conn *websocket.Conn, state *connState, cmd Command) {
	chatID, ok := stringField(cmd.Payload, "chat")
	if !ok || chatID == "" {
		s.sendError(conn, state, cmd.RequestID, ErrSchema, "chat is required")
		return
	}
	mediaPath, ok := stringField(cmd.Payload, "media_path")
	if !ok || mediaPath == "" {
		s.sendError(conn, state, cmd.RequestID, ErrSchema, "media_path is required")
		return
	}
	mimeType, _ := stringField(cmd.Payload, "mime_type")
	caption, _ := stringField(cmd.Payload, "caption")

	id, err := s.Session.SendMedia(context.Background(), chatID, mediaPath, mimeType, caption)
	if err != nil {
		s.sendError(conn, state, cmd.RequestID, classifySendError(err), err.Error())
		return
	}
	s.sendEvent(conn, state, EventAck, cmd.RequestID, map[string]any{"message_id": id})
}

func (s *Server) dispatchSendPoll(conn *websocket.Conn, state *connState, cmd Command) {
	chatID, ok := stringField(cmd.Payload, "chat")
	if !ok || chatID == "" {
		s.sendError(conn, state, cmd.RequestID, ErrSchema, "chat is required")
		return
	}
	question, ok := stringField(cmd.Payload, "question")
	if !ok || question == "" {
		s.sendError(conn, state, cmd.RequestID, ErrSchema, "question is required")
		return
	}
	rawOptions, ok := cmd.Payload["options"].([]any)
	if !ok || len(rawOptions) < 2 {
		s.sendError(conn, state, cmd.RequestID, ErrSchema, "options must be an array of at least 2 strings")
		return
	}
	options := make([]string, 0, len(rawOptions))
	for _, o := range rawOptions {
		str, ok := o.(string)
		if !ok || str == "" {
			s.sendError(conn, state, cmd.RequestID, ErrSchema, "options must be non-empty strings")
			return
		}
		options = append(options, str)
	}

	id, err := s.Session.SendPoll(context.Background(), chatID, question, options)
	if err != nil {
		s.sendError(conn, state, cmd.RequestID, classifySendError(err), err.Error())
		return
	}
	s.sendEvent(conn, state, EventAck, cmd.RequestID, map[string]any{"message_id": id})
}

func (s *Server) dispatchReact(conn *websocket.Conn, state *connState, cmd Command) {
	chatID, ok := stringField(cmd.Payload, "chat")
	if !ok || chatID == "" {
		s.sendError(conn, state, cmd.RequestID, ErrSchema, "chat is required")
		return
	}
	messageID, ok := stringField(cmd.Payload, "message_id")
	if !ok || messageID == "" {
		s.sendError(conn, state, cmd.RequestID, ErrSchema, "message_id is required")
		return
	}
	emoji, _ := stringField(cmd.Payload, "emoji") // empty emoji removes the reaction

	if err := s.Session.React(context.Background(), chatID, messageID, emoji); err != nil {
		s.sendError(conn, state, cmd.RequestID, classifySendError(err), err.Error())
		return
	}
	s.sendEvent(conn, state, EventAck, cmd.RequestID, nil)
}

func (s *Server) dispatchPresenceUpdate(conn *websocket.Conn, state *connState, cmd Command) {
	presence, ok := stringField(cmd.Payload, "presence")
	if !ok || (presence != "available" && presence != "unavailable") {
		s.sendError(conn, state, cmd.RequestID, ErrSchema, "presence must be \"available\" or \"unavailable\"")
		return
	}

	if err := s.Session.SetPresence(context.Background(), presence); err != nil {
		s.sendError(conn, state, cmd.RequestID, ErrInternal, err.Error())
		return
	}
	s.sendEvent(conn, state, EventAck, cmd.RequestID, nil)
}

func (s *Server) dispatchListGroups(conn *websocket.Conn, state *connState, cmd Command) {
	groups, err := s.Session.ListGroups(context.Background())
	if err != nil {
		s.sendError(conn, state, cmd.RequestID, ErrInternal, err.Error())
		return
	}
	s.sendEvent(conn, state, EventAck, cmd.RequestID, map[string]any{"groups": groups})
}

func (s *Server) dispatchLoginStart(conn *websocket.Conn, state *connState, cmd Command) {
	if err := s.Session.Start(context.Background()); err != nil {
		s.sendError(conn, state, cmd.RequestID, ErrInternal, err.Error())
		return
	}
	s.sendEvent(conn, state, EventAck, cmd.RequestID, nil)
}

func (s *Server) dispatchLoginWait(conn *websocket.Conn, state *connState, cmd Command) {
	timeout := 60 * time.Second
	if ms, ok := cmd.Payload["timeout_ms"].(float64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	connected := s.Session.WaitForConnection(ctx)
	s.sendEvent(conn, state, EventAck, cmd.RequestID, map[string]any{"connected": connected})
}

// classifySendError maps a Session error (tagged with a sentinel ErrorKind
// prefix in its message, see session.go) to the wire taxonomy.
func classifySendError(err error) ErrorKind {
	msg := err.Error()
	switch {
	case len(msg) >= len(ErrBadRequest) && msg[:len(ErrBadRequest)] == string(ErrBadRequest):
		return ErrSchema
	case len(msg) >= len(ErrNotConnected) && msg[:len(ErrNotConnected)] == string(ErrNotConnected):
		return ErrInternal
	default:
		return ErrInternal
	}
}

func (s *Server) healthPayload() map[string]any {
	report := HealthReport{Version: 1, ProtocolVersion: ProtocolVersion, BridgeVersion: BridgeVersion, BuildID: BuildID}
	s.Session.Health(&report)
	s.mu.Lock()
	report.Queue.Clients = len(s.clients)
	report.Queue.Dropped = s.queueDropped
	s.mu.Unlock()

	var out map[string]any
	data, _ := json.Marshal(report)
	json.Unmarshal(data, &out)
	return out
}

func (s *Server) sendEvent(conn *websocket.Conn, state *connState, t EventType, requestID string, payload map[string]any) {
	evt := Event{Version: ProtocolVersion, Type: t, Ts: time.Now().UTC(), RequestID: requestID, Payload: payload}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	s.writeToConn(conn, state, data)
}

func (s *Server) sendError(conn *websocket.Conn, state *connState, requestID string, kind ErrorKind, message string) {
	s.sendEvent(conn, state, EventError, requestID, map[string]any{
		"kind": string(kind), "message": sanitizeErrorMessage(message), "retryable": kind.Retryable(),
	})
}

// writeToConn serializes writes to a single connection (gorilla/websocket
// forbids concurrent writers) and enforces the per-connection outbound
// buffer cap by dropping the message when the client isn't draining fast
// enough.
func (s *Server) writeToConn(conn *websocket.Conn, state *connState, data []byte) {
	if state.outboundBuf.Load()+int64(len(data)) > MaxOutboundBufBytes {
		s.mu.Lock()
		s.queueDropped++
		s.mu.Unlock()
		return
	}

	state.outboundBuf.Add(int64(len(data)))
	defer state.outboundBuf.Add(-int64(len(data)))

	s.mu.Lock()
	defer s.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	conn.WriteMessage(websocket.TextMessage, data)
}

// broadcast fans an Event produced by the Session out to every connected
// client; it is wired as the Session's onEvent callback.
func (s *Server) broadcast(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	s.mu.Lock()
	clients := make(map[*websocket.Conn]*connState, len(s.clients))
	for c, st := range s.clients {
		clients[c] = st
	}
	s.mu.Unlock()

	for conn, state := range clients {
		s.writeToConn(conn, state, data)
	}
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func isLoopbackAddr(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
