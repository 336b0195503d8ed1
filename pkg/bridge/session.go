package bridge

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/lattice-run/lattice/pkg/cache"
	"github.com/lattice-run/lattice/pkg/fileutil"
	"github.com/lattice-run/lattice/pkg/logger"
)

const (
	dedupeTTL   = 20 * time.Minute
	dedupeMax   = 5000
	quoteTTL    = 20 * time.Minute
	quoteMax    = 2000
	selfEchoTTL = 10 * time.Minute
	selfEchoMax = 5000

	reconnectInitial    = 5 * time.Second
	reconnectMax        = 5 * time.Minute
	reconnectMultiplier = 2.0

	maxUnwrapDepth = 6

	mediaDownloadRetries = 3
	mediaDownloadBackoff = 500 * time.Millisecond

	defaultIncomingRoot = "bridge/incoming"
)

// mentionPattern matches a bare "@<digits>" mention written directly into
// message text (as opposed to one recorded in contextInfo.mentionedJid).
var mentionPattern = regexp.MustCompile(`@(\d{5,})`)

// quotedMessage is what the quote cache stores so an outbound reply can be
// sent as a proper quoted reply rather than a plain message.
type quotedMessage struct {
	chatJID   types.JID
	senderJID types.JID
	stanzaID  string
	text      string
}

// Session owns one WhatsApp account's live whatsmeow connection plus the
// three bridge-side caches: dedup, quote, and outbound-self-echo.
type Session struct {
	AccountID    string
	AcceptFromMe bool
	storePath    string
	incomingRoot string

	client    *whatsmeow.Client
	container *sqlstore.Container

	dedupe   *cache.TTLCache
	quotes   *cache.TTLCache
	selfEcho *cache.TTLCache

	onEvent func(Event)

	mu           sync.Mutex
	runCtx       context.Context
	runCancel    context.CancelFunc
	reconnecting bool

	reconnectAttempts        atomic.Int64
	droppedInboundDuplicates atomic.Int64
	lastError                atomic.Pointer[string]
	lastMessageAt            atomic.Pointer[time.Time]
}

// NewSession builds a Session. storePath is the directory holding the
// whatsmeow SQLite device store; incomingRoot is the directory inbound
// media is persisted under (as incomingRoot/YYYY/MM/DD/<file>); onEvent is
// called for every Event the session produces (inbound messages, QR codes,
// connection state).
func NewSession(accountID, storePath, incomingRoot string, acceptFromMe bool, onEvent func(Event)) *Session {
	if incomingRoot == "" {
		incomingRoot = defaultIncomingRoot
	}
	return &Session{
		AccountID:    accountID,
		AcceptFromMe: acceptFromMe,
		storePath:    storePath,
		incomingRoot: incomingRoot,
		dedupe:       cache.New(dedupeTTL, dedupeMax),
		quotes:       cache.New(quoteTTL, quoteMax),
		selfEcho:     cache.New(selfEchoTTL, selfEchoMax),
		onEvent:      onEvent,
	}
}

// Start opens the device store, connects, and (for a fresh device) prints
// a QR code to the terminal and emits EventQR for each code. Calling Start
// again on an already-connected session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.client != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := os.MkdirAll(s.storePath, 0o700); err != nil {
		return fmt.Errorf("bridge: create session store dir: %w", err)
	}

	dbPath := filepath.Join(s.storePath, "store.db")
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("bridge: open session store: %w", err)
	}
	db.SetMaxOpenConns(1)

	waLogger := waLog.Stdout("WhatsApp", "WARN", true)
	container := sqlstore.NewWithDB(db, "sqlite", waLogger)
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return fmt.Errorf("bridge: upgrade session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return fmt.Errorf("bridge: get device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLogger)
	client.AddEventHandler(s.handleEvent)

	s.mu.Lock()
	s.container = container
	s.client = client
	s.mu.Unlock()

	s.runCtx, s.runCancel = context.WithCancel(ctx)

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			container.Close()
			return fmt.Errorf("bridge: qr channel: %w", err)
		}
		if err := client.Connect(); err != nil {
			container.Close()
			return fmt.Errorf("bridge: connect: %w", err)
		}
		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					qrterminal.GenerateWithConfig(evt.Code, qrterminal.Config{
						Level: qrterminal.L, Writer: os.Stdout, HalfBlocks: true,
					})
					s.emit(EventQR, map[string]any{"code": evt.Code})
				}
			}
		}()
	} else if err := client.Connect(); err != nil {
		container.Close()
		return fmt.Errorf("bridge: connect: %w", err)
	}

	s.emit(EventConnection, map[string]any{"connected": true})
	return nil
}

// Stop disconnects the session and releases the device store.
func (s *Session) Stop() {
	if s.runCancel != nil {
		s.runCancel()
	}
	s.mu.Lock()
	client, container := s.client, s.container
	s.client, s.container = nil, nil
	s.mu.Unlock()
	if client != nil {
		client.Disconnect()
	}
	if container != nil {
		container.Close()
	}
}

// Connected reports whether the underlying whatsmeow client is connected.
func (s *Session) Connected() bool {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	return client != nil && client.IsConnected()
}

// WaitForConnection blocks until the session is connected or ctx expires,
// polling at a short fixed interval. It backs login_wait.
func (s *Session) WaitForConnection(ctx context.Context) bool {
	if s.Connected() {
		return true
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return s.Connected()
		case <-ticker.C:
			if s.Connected() {
				return true
			}
		}
	}
}

func (s *Session) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Message:
		s.handleIncoming(e)
	case *events.Disconnected:
		s.scheduleReconnect()
	}
}

// unwrapMessage peels off envelope layers (ephemeral, view-once in all its
// historical variants, document-with-caption) to reach the payload
// message, bounded to maxUnwrapDepth to guard against malformed or
// adversarial nesting.
func unwrapMessage(msg *waE2E.Message) *waE2E.Message {
	for depth := 0; depth < maxUnwrapDepth && msg != nil; depth++ {
		switch {
		case msg.GetEphemeralMessage() != nil:
			msg = msg.GetEphemeralMessage().GetMessage()
		case msg.GetViewOnceMessage() != nil:
			msg = msg.GetViewOnceMessage().GetMessage()
		case msg.GetViewOnceMessageV2() != nil:
			msg = msg.GetViewOnceMessageV2().GetMessage()
		case msg.GetViewOnceMessageV2Extension() != nil:
			msg = msg.GetViewOnceMessageV2Extension().GetMessage()
		case msg.GetDocumentWithCaptionMessage() != nil:
			msg = msg.GetDocumentWithCaptionMessage().GetMessage()
		default:
			return msg
		}
	}
	return msg
}

func (s *Session) handleIncoming(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	// Step 1: drop status broadcasts outright, they are not addressable chats.
	if evt.Info.Chat == types.StatusBroadcastJID {
		return
	}

	// Step 2: dedup on account+chat+stanza id.
	dedupeKey := s.AccountID + "/" + evt.Info.Chat.String() + "/" + evt.Info.ID
	if s.dedupe.Seen(dedupeKey) {
		s.droppedInboundDuplicates.Add(1)
		return
	}

	// Step 3: fromMe gate. Platform-flagged self-sends are dropped unless
	// acceptFromMe is on AND this bridge did not itself send the message
	// (i.e. it came from another linked device on the same account).
	if evt.Info.IsFromMe {
		if !s.AcceptFromMe {
			return
		}
		if _, sentByUs := s.selfEcho.Get(evt.Info.ID); sentByUs {
			return
		}
	}

	// Step 4: unwrap nested envelopes before inspecting content.
	msg := unwrapMessage(evt.Message)
	if msg == nil {
		return
	}

	// Step 5: extract text.
	text := msg.GetConversation()
	if text == "" && msg.GetExtendedTextMessage() != nil {
		text = msg.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		text = captionOf(msg)
	}

	// Step 6: extract + persist media.
	mediaPath, mediaErr := s.persistMedia(msg, evt.Info.ID)
	if mediaErr != nil {
		logger.WarnCF("bridge", "media download failed", map[string]any{
			"error": mediaErr.Error(), "message_id": evt.Info.ID,
		})
	}

	// Step 7: mention extraction, both structured and @digits scan.
	mentions := extractMentions(msg, text)
	botMentioned := s.isBotMentioned(mentions)

	// Step 8: reply metadata, beyond a bare stanza id.
	replyTo, replyParticipant, replyText := replyMeta(msg)

	// Step 9: quote cache, now carrying the sender JID for quoted replies.
	s.quotes.Put(evt.Info.Chat.String()+"/"+evt.Info.ID, quotedMessage{
		chatJID: evt.Info.Chat, senderJID: evt.Info.Sender, stanzaID: evt.Info.ID, text: text,
	})

	// Step 10: toggle read receipts for the chat this message belongs to.
	s.markRead(evt)

	now := time.Now().UTC()
	s.lastMessageAt.Store(&now)

	payload := map[string]any{
		"id":                evt.Info.ID,
		"chat":              evt.Info.Chat.String(),
		"from":              evt.Info.Sender.String(),
		"from_name":         evt.Info.PushName,
		"content":           text,
		"is_group":          evt.Info.Chat.Server == types.GroupServer,
		"reply_to":          replyTo,
		"reply_participant": replyParticipant,
		"reply_text":        replyText,
		"mentions":          mentions,
		"bot_mentioned":     botMentioned,
	}
	if mediaPath != "" {
		payload["media_path"] = mediaPath
	}

	s.emit(EventMessage, payload)
}

// captionOf returns the caption text carried by any media submessage, or
// empty if msg is not a captioned media message.
func captionOf(msg *waE2E.Message) string {
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	default:
		return ""
	}
}

// extractMentions merges contextInfo.mentionedJid entries with a plain
// "@<digits>" scan over the message text, deduplicated.
func extractMentions(msg *waE2E.Message, text string) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(jid string) {
		if jid == "" {
			return
		}
		if _, ok := seen[jid]; ok {
			return
		}
		seen[jid] = struct{}{}
		out = append(out, jid)
	}

	if ci := contextInfoOf(msg); ci != nil {
		for _, jid := range ci.GetMentionedJID() {
			add(jid)
		}
	}

	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		add(m[1] + "@" + types.DefaultUserServer)
	}

	return out
}

// contextInfoOf returns the ContextInfo carried by whichever submessage
// type has one.
func contextInfoOf(msg *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetContextInfo()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetContextInfo()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetContextInfo()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetContextInfo()
	default:
		return nil
	}
}

// replyMeta extracts the quoted stanza id, quoted participant, and quoted
// text from a message's ContextInfo, if any.
func replyMeta(msg *waE2E.Message) (stanzaID, participant, text string) {
	ci := contextInfoOf(msg)
	if ci == nil {
		return "", "", ""
	}
	stanzaID = ci.GetStanzaID()
	participant = ci.GetParticipant()
	if quoted := ci.GetQuotedMessage(); quoted != nil {
		text = quoted.GetConversation()
		if text == "" && quoted.GetExtendedTextMessage() != nil {
			text = quoted.GetExtendedTextMessage().GetText()
		}
	}
	return stanzaID, participant, text
}

// isBotMentioned reports whether this session's own JID appears in the
// mention list.
func (s *Session) isBotMentioned(mentions []string) bool {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil || client.Store.ID == nil {
		return false
	}
	own := client.Store.ID.ToNonAD().String()
	for _, m := range mentions {
		if m == own {
			return true
		}
	}
	return false
}

// markRead toggles a read receipt for the inbound message, best-effort.
func (s *Session) markRead(evt *events.Message) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return
	}
	sender := evt.Info.Sender
	if evt.Info.Chat.Server != types.GroupServer {
		sender = evt.Info.Chat
	}
	if err := client.MarkRead([]types.MessageID{evt.Info.ID}, time.Now(), evt.Info.Chat, sender); err != nil {
		logger.DebugCF("bridge", "mark read failed", map[string]any{"error": err.Error()})
	}
}

// persistMedia downloads any media submessage present in msg and writes it
// under incomingRoot/YYYY/MM/DD/<uuid>.<ext>, retrying the download with
// exponential backoff. Returns "" if msg carries no media.
func (s *Session) persistMedia(msg *waE2E.Message, messageID string) (string, error) {
	media, mimetype, ok := mediaSubmessage(msg)
	if !ok {
		return "", nil
	}

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return "", fmt.Errorf("bridge: no client")
	}

	var data []byte
	var err error
	backoff := mediaDownloadBackoff
	for attempt := 0; attempt <= mediaDownloadRetries; attempt++ {
		data, err = client.Download(context.Background(), media)
		if err == nil {
			break
		}
		if attempt == mediaDownloadRetries {
			return "", fmt.Errorf("bridge: download media %s: %w", messageID, err)
		}
		time.Sleep(backoff)
		backoff = time.Duration(math.Min(float64(backoff*2), float64(mediaDownloadBackoff*8)))
	}

	now := time.Now().UTC()
	dir := filepath.Join(s.incomingRoot, now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("bridge: create incoming media dir: %w", err)
	}

	ext := extensionFor(mimetype)
	path := filepath.Join(dir, uuid.New().String()+ext)
	if err := fileutil.WriteFileAtomic(path, data, 0o600); err != nil {
		return "", fmt.Errorf("bridge: write incoming media: %w", err)
	}

	return path, nil
}

// mediaSubmessage returns whichever downloadable media field is set on msg.
func mediaSubmessage(msg *waE2E.Message) (whatsmeow.DownloadableMessage, string, bool) {
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage(), msg.GetImageMessage().GetMimetype(), true
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage(), msg.GetVideoMessage().GetMimetype(), true
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage(), msg.GetAudioMessage().GetMimetype(), true
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage(), msg.GetDocumentMessage().GetMimetype(), true
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage(), msg.GetStickerMessage().GetMimetype(), true
	default:
		return nil, "", false
	}
}

func extensionFor(mimetype string) string {
	mimetype = strings.SplitN(mimetype, ";", 2)[0]
	if exts, err := mime.ExtensionsByType(mimetype); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	s.emit(EventConnection, map[string]any{"connected": false})
	go s.reconnectWithBackoff()
}

func (s *Session) reconnectWithBackoff() {
	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	backoff := reconnectInitial
	for {
		select {
		case <-s.runCtx.Done():
			return
		default:
		}

		s.mu.Lock()
		client := s.client
		s.mu.Unlock()
		if client == nil {
			return
		}

		s.reconnectAttempts.Add(1)
		if err := client.Connect(); err == nil {
			s.emit(EventConnection, map[string]any{"connected": true})
			return
		} else {
			msg := err.Error()
			s.lastError.Store(&msg)
			logger.WarnCF("bridge", "reconnect failed", map[string]any{"error": msg, "backoff": backoff.String()})
		}

		select {
		case <-s.runCtx.Done():
			return
		case <-time.After(backoff):
			if backoff < reconnectMax {
				backoff = time.Duration(float64(backoff) * reconnectMultiplier)
				if backoff > reconnectMax {
					backoff = reconnectMax
				}
			}
		}
	}
}

// Send resolves replyToMessageID against the quote cache (if present) and
// sends either a quoted or plain text message, recording the resulting
// message id in the outbound-self-echo cache.
func (s *Session) Send(ctx context.Context, chatJID, text, replyToMessageID string) (messageID string, err error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return "", fmt.Errorf("%s: not connected", ErrNotConnected)
	}

	to, err := parseJID(chatJID)
	if err != nil {
		return "", fmt.Errorf("%s: invalid chat id %q: %w", ErrBadRequest, chatJID, err)
	}

	waMsg := &waE2E.Message{Conversation: proto.String(text)}
	if replyToMessageID != "" {
		if v, ok := s.quotes.Get(chatJID + "/" + replyToMessageID); ok {
			q := v.(quotedMessage)
			waMsg = &waE2E.Message{
				ExtendedTextMessage: &waE2E.ExtendedTextMessage{
					Text: proto.String(text),
					ContextInfo: &waE2E.ContextInfo{
						StanzaID:      proto.String(q.stanzaID),
						Participant:   proto.String(q.senderJID.String()),
						QuotedMessage: &waE2E.Message{Conversation: proto.String(q.text)},
					},
				},
			}
		}
	}

	resp, err := client.SendMessage(ctx, to, waMsg)
	if err != nil {
		return "", fmt.Errorf("%s: %w", ErrSendFailed, err)
	}

	s.selfEcho.Put(resp.ID, true)
	return resp.ID, nil
}

// SendMedia uploads the file at localPath and sends it as an image, video,
// audio, or generic document message depending on mimeType.
func (s *Session) SendMedia(ctx context.Context, chatJID, localPath, mimeType, caption string) (string, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return "", fmt.Errorf("%s: not connected", ErrNotConnected)
	}

	to, err := parseJID(chatJID)
	if err != nil {
		return "", fmt.Errorf("%s: invalid chat id %q: %w", ErrBadRequest, chatJID, err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("%s: read media %q: %w", ErrBadRequest, localPath, err)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	mediaType := whatsmeow.MediaDocument
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		mediaType = whatsmeow.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		mediaType = whatsmeow.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		mediaType = whatsmeow.MediaAudio
	}

	uploaded, err := client.Upload(ctx, data, mediaType)
	if err != nil {
		return "", fmt.Errorf("%s: upload media: %w", ErrSendFailed, err)
	}

	waMsg := buildMediaMessage(mediaType, uploaded, mimeType, caption, int64(len(data)))

	resp, err := client.SendMessage(ctx, to, waMsg)
	if err != nil {
		return "", fmt.Errorf("%s: %w", ErrSendFailed, err)
	}
	s.selfEcho.Put(resp.ID, true)
	return resp.ID, nil
}

func buildMediaMessage(mediaType whatsmeow.MediaType, u whatsmeow.UploadResponse, mimeType, caption string, size int64) *waE2E.Message {
	common := func() (string, string, []byte, []byte, []byte, *uint64) {
		length := uint64(size)
		return u.URL, u.DirectPath, u.MediaKey, u.FileEncSHA256, u.FileSHA256, &length
	}

	switch mediaType {
	case whatsmeow.MediaImage:
		url, path, key, encSHA, sha, length := common()
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL: proto.String(url), DirectPath: proto.String(path), MediaKey: key,
			FileEncSHA256: encSHA, FileSHA256: sha, FileLength: length,
			Mimetype: proto.String(mimeType), Caption: proto.String(caption),
		}}
	case whatsmeow.MediaVideo:
		url, path, key, encSHA, sha, length := common()
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL: proto.String(url), DirectPath: proto.String(path), MediaKey: key,
			FileEncSHA256: encSHA, FileSHA256: sha, FileLength: length,
			Mimetype: proto.String(mimeType), Caption: proto.String(caption),
		}}
	case whatsmeow.MediaAudio:
		url, path, key, encSHA, sha, length := common()
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL: proto.String(url), DirectPath: proto.String(path), MediaKey: key,
			FileEncSHA256: encSHA, FileSHA256: sha, FileLength: length,
			Mimetype: proto.String(mimeType),
		}}
	default:
		url, path, key, encSHA, sha, length := common()
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL: proto.String(url), DirectPath: proto.String(path), MediaKey: key,
			FileEncSHA256: encSHA, FileSHA256: sha, FileLength: length,
			Mimetype: proto.String(mimeType), Caption: proto.String(caption),
			FileName: proto.String("file" + extensionFor(mimeType)),
		}}
	}
}

// SendPoll sends a single-select poll to chatJID.
func (s *Session) SendPoll(ctx context.Context, chatJID, question string, options []string) (string, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return "", fmt.Errorf("%s: not connected", ErrNotConnected)
	}

	to, err := parseJID(chatJID)
	if err != nil {
		return "", fmt.Errorf("%s: invalid chat id %q: %w", ErrBadRequest, chatJID, err)
	}

	waMsg := client.BuildPollCreation(question, options, 1)
	resp, err := client.SendMessage(ctx, to, waMsg)
	if err != nil {
		return "", fmt.Errorf("%s: %w", ErrSendFailed, err)
	}
	s.selfEcho.Put(resp.ID, true)
	return resp.ID, nil
}

// React sends (or, with an empty emoji, removes) a reaction to messageID in
// chatJID. The reacted-to message's sender is recovered from the quote
// cache when available, falling back to the chat JID for direct chats.
func (s *Session) React(ctx context.Context, chatJID, messageID, emoji string) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return fmt.Errorf("%s: not connected", ErrNotConnected)
	}

	to, err := parseJID(chatJID)
	if err != nil {
		return fmt.Errorf("%s: invalid chat id %q: %w", ErrBadRequest, chatJID, err)
	}

	participant := to
	if v, ok := s.quotes.Get(chatJID + "/" + messageID); ok {
		participant = v.(quotedMessage).senderJID
	}

	waMsg := client.BuildReaction(to, participant, messageID, emoji)
	if _, err := client.SendMessage(ctx, to, waMsg); err != nil {
		return fmt.Errorf("%s: %w", ErrSendFailed, err)
	}
	return nil
}

// SetPresence toggles this account's global online presence.
func (s *Session) SetPresence(ctx context.Context, presence string) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return fmt.Errorf("%s: not connected", ErrNotConnected)
	}

	p := types.PresenceAvailable
	if presence == "unavailable" {
		p = types.PresenceUnavailable
	}
	return client.SendPresence(p)
}

// GroupSummary is the minimal per-group projection list_groups returns.
type GroupSummary struct {
	JID  string `json:"jid"`
	Name string `json:"name"`
}

// ListGroups returns every group this account is a participant of.
func (s *Session) ListGroups(ctx context.Context) ([]GroupSummary, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("%s: not connected", ErrNotConnected)
	}

	groups, err := client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("bridge: list groups: %w", err)
	}

	out := make([]GroupSummary, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupSummary{JID: g.JID.String(), Name: g.GroupName.Name})
	}
	return out, nil
}

func (s *Session) emit(t EventType, payload map[string]any) {
	if s.onEvent == nil {
		return
	}
	s.onEvent(Event{Version: ProtocolVersion, Type: t, Ts: time.Now().UTC(), AccountID: s.AccountID, Payload: payload})
}

// Health fills in the WhatsApp-account-specific fields of a HealthReport.
func (s *Session) Health(report *HealthReport) {
	report.AccountID = s.AccountID
	report.WhatsApp.Connected = s.Connected()
	report.WhatsApp.Running = s.runCtx != nil && s.runCtx.Err() == nil
	report.WhatsApp.ReconnectAttempts = int(s.reconnectAttempts.Load())
	report.WhatsApp.DroppedInboundDuplicates = s.droppedInboundDuplicates.Load()
	report.WhatsApp.DedupeCacheSize = s.dedupe.Len()
	report.Dedupe.DroppedInboundDuplicates = s.droppedInboundDuplicates.Load()
	report.Dedupe.DedupeCacheSize = s.dedupe.Len()
	if p := s.lastError.Load(); p != nil {
		report.WhatsApp.LastError = *p
	}
	if p := s.lastMessageAt.Load(); p != nil {
		report.WhatsApp.LastMessageAt = p
	}
}

func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty chat id")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}
	return types.NewJID(s, types.DefaultUserServer), nil
}
