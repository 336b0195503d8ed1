package policy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-run/lattice/pkg/fileutil"
)

// AuditRecord is one line of the admin command audit trail.
type AuditRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	ActorSource string    `json:"actor_source"` // "dm" | "cli"
	ActorID     string    `json:"actor_id"`
	Channel     string    `json:"channel"`
	ChatID      string    `json:"chat_id,omitempty"`
	CommandRaw  string    `json:"command_raw"`
	DryRun      bool      `json:"dry_run"`
	Result      string    `json:"result"`
	BeforeHash  string    `json:"before_hash"`
	AfterHash   string    `json:"after_hash"`
	BackupRef   string    `json:"backup_ref,omitempty"`
}

// AdminHandler dispatches /policy subcommands, enforcing the rate limit,
// writing snapshot backups before every mutation, and appending an audit
// record for every command that passes the rate limit and parses; throttled
// and unparseable commands are not audited.
type AdminHandler struct {
	engine     *Engine
	policyPath string
	backupDir  string
	auditPath  string

	mu sync.Mutex // serializes mutation + audit append

	rateMu     sync.Mutex
	rateWindow map[string][]time.Time
}

// NewAdminHandler wires an AdminHandler to an Engine and an on-disk
// backup/audit layout rooted at stateDir.
func NewAdminHandler(engine *Engine, policyPath, stateDir string) *AdminHandler {
	return &AdminHandler{
		engine:     engine,
		policyPath: policyPath,
		backupDir:  filepath.Join(stateDir, "policy_backups"),
		auditPath:  filepath.Join(stateDir, "policy_audit.jsonl"),
		rateWindow: make(map[string][]time.Time),
	}
}

var aliases = map[string]string{
	"resume-group": "allow-group",
	"pause-group":  "block-group",
	"groups":       "list-groups",
}

// Handle parses commandRaw (without the leading "/policy") and dispatches
// it, returning the response text shown to the actor.
func (h *AdminHandler) Handle(actorSource, actorID, channel, chatID, commandRaw string) string {
	if !h.allowRate(actorID) {
		return "Throttled: too many policy commands, try again shortly."
	}

	tokens, err := tokenize(commandRaw)
	if err != nil || len(tokens) == 0 {
		return "Usage: /policy <subcommand> [args...]. Try `/policy help`."
	}

	sub := tokens[0]
	if canon, ok := aliases[sub]; ok {
		sub = canon
	}
	args := tokens[1:]
	dryRun := false
	filtered := args[:0:0]
	for _, a := range args {
		if a == "--dry-run" {
			dryRun = true
			continue
		}
		filtered = append(filtered, a)
	}
	args = filtered

	result := h.dispatch(sub, args, dryRun)
	h.audit(actorSource, actorID, channel, chatID, commandRaw, dryRun, result)
	return result.text
}

type cmdResult struct {
	text       string
	beforeHash string
	afterHash  string
	backupRef  string
}

func (h *AdminHandler) dispatch(sub string, args []string, dryRun bool) cmdResult {
	switch sub {
	case "help":
		return cmdResult{text: helpText()}
	case "list-groups":
		return cmdResult{text: h.listGroups(strings.Join(args, " "))}
	case "resolve-group":
		return cmdResult{text: h.resolveGroup(argOrEmpty(args, 0))}
	case "status-group":
		return cmdResult{text: h.statusGroup(argOrEmpty(args, 0))}
	case "explain-group":
		return cmdResult{text: h.explainGroup(argOrEmpty(args, 0))}
	case "allow-group":
		return h.mutate(dryRun, func(s *Spec) (string, error) { return h.setWhoCanTalk(s, argOrEmpty(args, 0), WhoCanTalkEveryone) })
	case "block-group":
		return h.mutate(dryRun, func(s *Spec) (string, error) { return h.setWhoCanTalk(s, argOrEmpty(args, 0), "") })
	case "set-when":
		if len(args) < 2 {
			return cmdResult{text: "Usage: set-when <chat_id> <mode>"}
		}
		return h.mutate(dryRun, func(s *Spec) (string, error) { return h.setWhenToReply(s, args[0], WhenToReplyMode(args[1])) })
	case "set-persona":
		if len(args) < 2 {
			return cmdResult{text: "Usage: set-persona <chat_id> <path>"}
		}
		return h.mutate(dryRun, func(s *Spec) (string, error) { return h.setPersona(s, args[0], args[1]) })
	case "clear-persona":
		return h.mutate(dryRun, func(s *Spec) (string, error) { return h.setPersona(s, argOrEmpty(args, 0), "") })
	case "block-sender":
		if len(args) < 2 {
			return cmdResult{text: "Usage: block-sender <chat_id> <sender>"}
		}
		return h.mutate(dryRun, func(s *Spec) (string, error) { return h.toggleBlocked(s, args[0], args[1], true) })
	case "unblock-sender":
		if len(args) < 2 {
			return cmdResult{text: "Usage: unblock-sender <chat_id> <sender>"}
		}
		return h.mutate(dryRun, func(s *Spec) (string, error) { return h.toggleBlocked(s, args[0], args[1], false) })
	case "list-blocked":
		return cmdResult{text: h.listBlocked("whatsapp", argOrEmpty(args, 0))}
	case "history":
		limit := 20
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				limit = n
			}
		}
		return cmdResult{text: h.history(limit)}
	case "rollback":
		if len(args) < 1 {
			return cmdResult{text: "Usage: rollback <change_id> [--confirm]"}
		}
		return h.rollback(args[0], dryRun)
	default:
		return cmdResult{text: fmt.Sprintf("Unknown policy subcommand: %s", sub)}
	}
}

func argOrEmpty(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func helpText() string {
	return strings.Join([]string{
		"policy subcommands:",
		"  help | list-groups [query] | resolve-group <name|id> | status-group <chat_id>",
		"  explain-group <chat_id> | allow-group <chat_id> [--dry-run] | block-group <chat_id> [--dry-run]",
		"  set-when <chat_id> <mode> [--dry-run] | set-persona <chat_id> <path> [--dry-run] | clear-persona <chat_id> [--dry-run]",
		"  block-sender <chat_id> <sender> | unblock-sender <chat_id> <sender> | list-blocked <chat_id>",
		"  history [limit] | rollback <change_id> [--confirm] [--dry-run]",
	}, "\n")
}

// mutate runs fn against a deep copy of the current spec, and unless dryRun
// is set, persists the result: writes a backup of the pre-mutation content,
// atomically replaces the policy file, and triggers an immediate reload.
func (h *AdminHandler) mutate(dryRun bool, fn func(*Spec) (string, error)) cmdResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	before, err := os.ReadFile(h.policyPath)
	if err != nil {
		return cmdResult{text: fmt.Sprintf("policy file unreadable: %v", err)}
	}

	var spec Spec
	if err := json.Unmarshal(before, &spec); err != nil {
		return cmdResult{text: fmt.Sprintf("policy file corrupt: %v", err)}
	}

	desc, err := fn(&spec)
	if err != nil {
		return cmdResult{text: fmt.Sprintf("rejected: %v", err)}
	}

	after, err := json.MarshalIndent(&spec, "", "  ")
	if err != nil {
		return cmdResult{text: fmt.Sprintf("internal error: %v", err)}
	}

	beforeHash := hashBytes(before)
	afterHash := hashBytes(after)

	if dryRun {
		return cmdResult{
			text:       fmt.Sprintf("[dry-run] %s (before=%s after=%s)", desc, shortHash(beforeHash), shortHash(afterHash)),
			beforeHash: beforeHash,
			afterHash:  afterHash,
		}
	}

	changeID := uuid.New().String()
	backupRef, err := h.writeBackup(changeID, before)
	if err != nil {
		return cmdResult{text: fmt.Sprintf("backup failed, aborting: %v", err)}
	}

	if err := fileutil.WriteFileAtomic(h.policyPath, after, 0o600); err != nil {
		return cmdResult{text: fmt.Sprintf("write failed: %v", err)}
	}
	h.engine.ReloadIfChanged()

	return cmdResult{
		text:       fmt.Sprintf("%s (change_id=%s before=%s after=%s)", desc, changeID, shortHash(beforeHash), shortHash(afterHash)),
		beforeHash: beforeHash,
		afterHash:  afterHash,
		backupRef:  backupRef,
	}
}

func (h *AdminHandler) writeBackup(changeID string, content []byte) (string, error) {
	if err := os.MkdirAll(h.backupDir, 0o700); err != nil {
		return "", err
	}
	ref := filepath.Join(h.backupDir, changeID+".json")
	if err := fileutil.WriteFileAtomic(ref, content, 0o600); err != nil {
		return "", err
	}
	return ref, nil
}

// rollback restores the backup referenced by changeID as a new forward
// change (itself backed up and audited), rather than an in-place revert.
func (h *AdminHandler) rollback(changeID string, dryRun bool) cmdResult {
	ref := filepath.Join(h.backupDir, changeID+".json")
	backup, err := os.ReadFile(ref)
	if err != nil {
		return cmdResult{text: fmt.Sprintf("no such backup: %s", changeID)}
	}
	return h.mutate(dryRun, func(s *Spec) (string, error) {
		var restored Spec
		if err := json.Unmarshal(backup, &restored); err != nil {
			return "", fmt.Errorf("backup corrupt: %w", err)
		}
		*s = restored
		return fmt.Sprintf("rolled back to %s", changeID), nil
	})
}

func (h *AdminHandler) setWhoCanTalk(s *Spec, chatID string, mode WhoCanTalkMode) (string, error) {
	if chatID == "" {
		return "", fmt.Errorf("chat_id required")
	}
	if mode == "" {
		mode = WhoCanTalkMode("") // block-group: handled below by setting whoCanTalk to owner_only
	}
	ch := ensureChannel(s, "whatsapp", chatID)
	if mode == "" {
		level := ch.Chats[chatID]
		level.WhoCanTalk = &WhoCanTalk{Mode: WhoCanTalkOwnerOnly}
		ch.Chats[chatID] = level
		s.Channels["whatsapp"] = ch
		return fmt.Sprintf("blocked group %s (owner_only)", chatID), nil
	}
	level := ch.Chats[chatID]
	level.WhoCanTalk = &WhoCanTalk{Mode: mode}
	ch.Chats[chatID] = level
	s.Channels["whatsapp"] = ch
	return fmt.Sprintf("allowed group %s (%s)", chatID, mode), nil
}

func (h *AdminHandler) setWhenToReply(s *Spec, chatID string, mode WhenToReplyMode) (string, error) {
	if chatID == "" {
		return "", fmt.Errorf("chat_id required")
	}
	switch mode {
	case WhenToReplyAll, WhenToReplyOff, WhenToReplyMentionOnly, WhenToReplyAllowedSender, WhenToReplyOwnerOnly:
	default:
		return "", fmt.Errorf("invalid whenToReply mode: %s", mode)
	}
	ch := ensureChannel(s, "whatsapp", chatID)
	level := ch.Chats[chatID]
	level.WhenToReply = &WhenToReply{Mode: mode}
	ch.Chats[chatID] = level
	s.Channels["whatsapp"] = ch
	return fmt.Sprintf("set whenToReply=%s for %s", mode, chatID), nil
}

func (h *AdminHandler) setPersona(s *Spec, chatID, path string) (string, error) {
	if chatID == "" {
		return "", fmt.Errorf("chat_id required")
	}
	ch := ensureChannel(s, "whatsapp", chatID)
	level := ch.Chats[chatID]
	if path == "" {
		level.PersonaFile = nil
		ch.Chats[chatID] = level
		s.Channels["whatsapp"] = ch
		return fmt.Sprintf("cleared persona for %s", chatID), nil
	}
	level.PersonaFile = &path
	ch.Chats[chatID] = level
	s.Channels["whatsapp"] = ch
	return fmt.Sprintf("set persona=%s for %s", path, chatID), nil
}

func (h *AdminHandler) toggleBlocked(s *Spec, chatID, sender string, block bool) (string, error) {
	if chatID == "" || sender == "" {
		return "", fmt.Errorf("chat_id and sender required")
	}
	ch := ensureChannel(s, "whatsapp", chatID)
	level := ch.Chats[chatID]
	bs := BlockedSenders{}
	if level.BlockedSenders != nil {
		bs = *level.BlockedSenders
	}
	if block {
		if !containsString(bs.Senders, sender) {
			bs.Senders = append(bs.Senders, sender)
		}
	} else {
		bs.Senders = removeString(bs.Senders, sender)
	}
	level.BlockedSenders = &bs
	ch.Chats[chatID] = level
	s.Channels["whatsapp"] = ch
	verb := "blocked"
	if !block {
		verb = "unblocked"
	}
	return fmt.Sprintf("%s sender %s in %s", verb, sender, chatID), nil
}

func ensureChannel(s *Spec, channel, chatID string) ChannelSpec {
	if s.Channels == nil {
		s.Channels = map[string]ChannelSpec{}
	}
	ch, ok := s.Channels[channel]
	if !ok {
		ch = ChannelSpec{}
	}
	if ch.Chats == nil {
		ch.Chats = map[string]Level{}
	}
	if _, ok := ch.Chats[chatID]; !ok {
		ch.Chats[chatID] = Level{}
	}
	return ch
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func (h *AdminHandler) listGroups(query string) string {
	spec := h.engine.Current()
	var ids []string
	for _, ch := range spec.Channels {
		for id := range ch.Chats {
			if query == "" || strings.Contains(strings.ToLower(id), strings.ToLower(query)) {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return "no groups configured"
	}
	return strings.Join(ids, "\n")
}

func (h *AdminHandler) resolveGroup(nameOrID string) string {
	spec := h.engine.Current()
	for chName, ch := range spec.Channels {
		if _, ok := ch.Chats[nameOrID]; ok {
			return fmt.Sprintf("%s/%s", chName, nameOrID)
		}
	}
	return fmt.Sprintf("no match for %q", nameOrID)
}

func (h *AdminHandler) statusGroup(chatID string) string {
	spec := h.engine.Current()
	for chName := range spec.Channels {
		r := resolve(spec, chName, chatID)
		return fmt.Sprintf("channel=%s chat=%s whoCanTalk=%s whenToReply=%s persona=%s",
			chName, chatID, r.WhoCanTalk.Mode, r.WhenToReply.Mode, r.PersonaFile)
	}
	return fmt.Sprintf("chat %s not found in any channel", chatID)
}

func (h *AdminHandler) explainGroup(chatID string) string {
	return h.statusGroup(chatID)
}

func (h *AdminHandler) listBlocked(channel, chatID string) string {
	spec := h.engine.Current()
	r := resolve(spec, channel, chatID)
	if len(r.BlockedSenders.Senders) == 0 {
		return "no blocked senders"
	}
	return strings.Join(r.BlockedSenders.Senders, "\n")
}

func (h *AdminHandler) history(limit int) string {
	f, err := os.Open(h.auditPath)
	if err != nil {
		return "no history"
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	out := make([]string, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		var rec AuditRecord
		if json.Unmarshal([]byte(lines[i]), &rec) == nil {
			out = append(out, fmt.Sprintf("%s %s %s dry_run=%v result=%s", rec.ID, rec.Timestamp.Format(time.RFC3339), rec.CommandRaw, rec.DryRun, rec.Result))
		}
	}
	if len(out) == 0 {
		return "no history"
	}
	return strings.Join(out, "\n")
}

func (h *AdminHandler) audit(actorSource, actorID, channel, chatID, commandRaw string, dryRun bool, result cmdResult) {
	rec := AuditRecord{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		ActorSource: actorSource,
		ActorID:     actorID,
		Channel:     channel,
		ChatID:      chatID,
		CommandRaw:  commandRaw,
		DryRun:      dryRun,
		Result:      result.text,
		BeforeHash:  result.beforeHash,
		AfterHash:   result.afterHash,
		BackupRef:   result.backupRef,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(h.auditPath), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(h.auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	f.Write(append(data, '\n'))
}

func (h *AdminHandler) allowRate(actorID string) bool {
	limit := h.engine.Current().Runtime.AdminCommandRateLimitPerMinute
	if limit <= 0 {
		return true
	}
	h.rateMu.Lock()
	defer h.rateMu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	window := h.rateWindow[actorID][:0:0]
	for _, t := range h.rateWindow[actorID] {
		if t.After(cutoff) {
			window = append(window, t)
		}
	}
	if len(window) >= limit {
		h.rateWindow[actorID] = window
		return false
	}
	window = append(window, now)
	h.rateWindow[actorID] = window
	return true
}
