package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lattice-run/lattice/pkg/logger"
)

const (
	defaultReplyWindowLimit = 6
	defaultAmbientLimit     = 8
)

// Engine owns the current policy snapshot, reloading it from disk on a
// background probe and publishing new snapshots via an atomic swap so that
// concurrent readers never observe a half-updated policy.
type Engine struct {
	path string

	snapshot atomic.Pointer[Spec]

	mu        sync.Mutex // serializes reload/admin mutation of the on-disk file
	lastHash  string
	lastMtime time.Time

	stop chan struct{}
	once sync.Once
}

// NewEngine loads path once synchronously and returns a ready Engine; call
// Start to begin the background reload probe.
func NewEngine(path string) (*Engine, error) {
	e := &Engine{path: path, stop: make(chan struct{})}
	spec, hash, mtime, err := loadSpec(path)
	if err != nil {
		return nil, err
	}
	e.snapshot.Store(spec)
	e.lastHash = hash
	e.lastMtime = mtime
	return e, nil
}

// Start launches the reload-probe goroutine at the spec's configured
// interval (floor 0.1s). Safe to call once.
func (e *Engine) Start() {
	e.once.Do(func() {
		spec := e.snapshot.Load()
		interval := spec.Runtime.ReloadCheckIntervalSeconds
		if interval < minReloadCheckIntervalSeconds {
			interval = minReloadCheckIntervalSeconds
		}
		if !spec.Runtime.ReloadOnChange {
			return
		}
		go e.reloadLoop(time.Duration(interval * float64(time.Second)))
	})
}

// Stop terminates the reload-probe goroutine. Safe to call multiple times.
func (e *Engine) Stop() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
}

func (e *Engine) reloadLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.ReloadIfChanged()
		case <-e.stop:
			return
		}
	}
}

// ReloadIfChanged checks the on-disk file's mtime/hash and, if changed,
// parses the new content under strict schema rules and atomically swaps
// the in-memory snapshot. On parse failure the previous snapshot is
// retained and the failure is logged.
func (e *Engine) ReloadIfChanged() {
	e.mu.Lock()
	defer e.mu.Unlock()

	info, err := os.Stat(e.path)
	if err != nil {
		logger.WarnCF("policy", "reload: stat failed", map[string]any{"error": err.Error()})
		return
	}
	if info.ModTime().Equal(e.lastMtime) {
		return
	}

	spec, hash, mtime, err := loadSpec(e.path)
	if err != nil {
		logger.WarnCF("policy", "reload: retaining previous snapshot", map[string]any{"error": err.Error()})
		return
	}
	if hash == e.lastHash {
		e.lastMtime = mtime
		return
	}

	e.snapshot.Store(spec)
	e.lastHash = hash
	e.lastMtime = mtime
	logger.InfoC("policy", "reloaded policy snapshot")
}

// Current returns the currently effective immutable snapshot.
func (e *Engine) Current() *Spec {
	return e.snapshot.Load()
}

// Owners returns the configured owner sender-ids for a channel.
func (e *Engine) Owners(channel string) []string {
	spec := e.snapshot.Load()
	return spec.Owners[channel]
}

// Evaluate is the pure decision function: it is a function only of the
// currently loaded snapshot and the call's inputs.
func (e *Engine) Evaluate(channel, chatID, sender string, isGroup, mentionedBot, replyToBot bool) Decision {
	spec := e.snapshot.Load()
	return evaluate(spec, channel, chatID, sender, isGroup, mentionedBot, replyToBot, "")
}

// EvaluateVoice is Evaluate plus the voice-note transcript, needed to
// satisfy whenToReply=mention_only via a wake phrase.
func (e *Engine) EvaluateVoice(channel, chatID, sender string, isGroup, mentionedBot, replyToBot bool, transcript string) Decision {
	spec := e.snapshot.Load()
	return evaluate(spec, channel, chatID, sender, isGroup, mentionedBot, replyToBot, transcript)
}

// Explanation is the merged-policy-plus-decision-trace returned by Explain,
// backing the CLI's "policy explain" touch-point.
type Explanation struct {
	Channel  string   `json:"channel"`
	ChatID   string   `json:"chat_id"`
	Sender   string   `json:"sender"`
	Merged   resolved `json:"-"`
	Decision Decision `json:"decision"`
}

// Explain returns the fully merged policy for (channel, chatID) plus the
// decision that would result for sender, without any group/mention context
// (is_group=true, mentioned_bot/reply_to_bot=false is assumed -- the most
// conservative trace for a sender who is neither mentioned nor replying).
func (e *Engine) Explain(channel, chatID, sender string) Explanation {
	spec := e.snapshot.Load()
	return Explanation{
		Channel:  channel,
		ChatID:   chatID,
		Sender:   sender,
		Merged:   resolve(spec, channel, chatID),
		Decision: evaluate(spec, channel, chatID, sender, true, false, false, ""),
	}
}

func evaluate(spec *Spec, channel, chatID, sender string, isGroup, mentionedBot, replyToBot bool, voiceTranscript string) Decision {
	r := resolve(spec, channel, chatID)
	owners := spec.Owners[channel]

	d := Decision{
		AllowedTools: map[string]bool{},
		DeniedTools:  map[string]bool{},
		PersonaFile:  r.PersonaFile,
		Voice:        r.Voice,
	}

	// 1. blockedSenders deny-list takes precedence over everything else.
	if matchesAny(channel, sender, r.BlockedSenders.Senders) {
		d.Reason = "blocked_sender"
		return d
	}

	// 2. whoCanTalk
	accepted := false
	switch r.WhoCanTalk.Mode {
	case WhoCanTalkAllowlist:
		accepted = matchesAny(channel, sender, r.WhoCanTalk.Senders)
	case WhoCanTalkOwnerOnly:
		accepted = matchesAny(channel, sender, owners)
	default:
		accepted = true
	}
	if !accepted {
		d.Reason = "not_allowed"
		return d
	}
	d.AcceptMessage = true

	// 3. whenToReply
	shouldRespond := false
	switch r.WhenToReply.Mode {
	case WhenToReplyOff:
		shouldRespond = false
	case WhenToReplyOwnerOnly:
		shouldRespond = matchesAny(channel, sender, owners)
	case WhenToReplyAllowedSender:
		shouldRespond = matchesAny(channel, sender, r.WhenToReply.Senders)
	case WhenToReplyMentionOnly:
		if !isGroup {
			shouldRespond = true
		} else {
			shouldRespond = mentionedBot || replyToBot
			if !shouldRespond && channel == "whatsapp" && voiceTranscript != "" {
				shouldRespond = containsWakePhrase(voiceTranscript, r.Voice.Input.WakePhrases)
			}
		}
	default:
		shouldRespond = true
	}
	d.ShouldRespond = shouldRespond
	if !shouldRespond {
		d.Reason = "when_to_reply"
	}

	// 4. allowedTools, with the exec=>spawn guardrail.
	allowed := map[string]bool{}
	if r.AllowedTools.Mode == AllowedToolsAll {
		allowed["*"] = true
	} else {
		for _, t := range r.AllowedTools.Tools {
			allowed[t] = true
		}
	}
	denied := map[string]bool{}
	for _, t := range r.AllowedTools.Deny {
		denied[t] = true
		delete(allowed, t)
	}
	if !toolAllowed(allowed, denied, "exec") {
		denied["spawn"] = true
		delete(allowed, "spawn")
	}
	d.AllowedTools = allowed
	d.DeniedTools = denied

	return d
}

func toolAllowed(allowed, denied map[string]bool, tool string) bool {
	if denied[tool] {
		return false
	}
	return allowed["*"] || allowed[tool]
}

// loadSpec reads and parses the policy file, rejecting unknown JSON keys at
// every nesting level per the strict schema rule, and returns its content
// hash and mtime alongside the parsed Spec.
func loadSpec(path string) (*Spec, string, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", time.Time{}, fmt.Errorf("policy: read %s: %w", path, err)
	}

	var spec Spec
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, "", time.Time{}, fmt.Errorf("policy: schema: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, "", time.Time{}, fmt.Errorf("policy: stat %s: %w", path, err)
	}

	sum := sha256.Sum256(data)
	return &spec, hex.EncodeToString(sum[:]), info.ModTime(), nil
}
