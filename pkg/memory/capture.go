package memory

import (
	"context"
	"regexp"
	"strings"

	"github.com/lattice-run/lattice/pkg/logger"
)

// Extractor proposes candidate memory entries from raw captured text. A
// heuristic, LLM-assisted, or hybrid extractor all satisfy this contract.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]Candidate, error)
}

// CaptureConfig gates which messages are eligible for memory capture and
// which candidates survive filtering.
type CaptureConfig struct {
	Channels            []string
	CaptureAssistant    bool
	MinConfidence       float64
	MinSalience         float64
	OwnerOnlyPreference bool
}

// CaptureRequest is what the pipeline's background lane hands the
// Capturer -- no extraction happens on the hot path.
type CaptureRequest struct {
	Channel       string
	ChatID        string
	SenderID      string
	MessageID     string
	IsAssistant   bool
	IsOwner       bool
	Text          string
}

// injectionPattern matches known prompt-injection phrases; candidates that
// match are rejected regardless of confidence/salience.
var injectionPattern = regexp.MustCompile(`(?i)(ignore (all |the )?previous instructions|disregard (all |the )?(prior|previous) instructions|system prompt|you are now|reveal your instructions)`)

// Capturer runs the asynchronous capture pipeline: eligibility, extraction,
// filtering, scope assignment, and persistence.
type Capturer struct {
	store     *Store
	extractor Extractor
	cfg       CaptureConfig
	queue     chan CaptureRequest
	done      chan struct{}
}

// NewCapturer builds a Capturer with a bounded request queue.
func NewCapturer(store *Store, extractor Extractor, cfg CaptureConfig, queueSize int) *Capturer {
	return &Capturer{
		store:     store,
		extractor: extractor,
		cfg:       cfg,
		queue:     make(chan CaptureRequest, queueSize),
		done:      make(chan struct{}),
	}
}

// Submit enqueues a capture request. It never blocks the pipeline hot
// path: if the queue is full the request is dropped with a log line.
func (c *Capturer) Submit(req CaptureRequest) {
	select {
	case c.queue <- req:
	default:
		logger.WarnCF("memory", "capture queue full, dropping request", map[string]any{
			"channel": req.Channel, "chat_id": req.ChatID,
		})
	}
}

// Run drains the queue until ctx is cancelled.
func (c *Capturer) Run(ctx context.Context) {
	for {
		select {
		case req := <-c.queue:
			c.process(ctx, req)
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

// Stop terminates Run.
func (c *Capturer) Stop() { close(c.done) }

func (c *Capturer) process(ctx context.Context, req CaptureRequest) {
	if !c.eligible(req) {
		return
	}

	candidates, err := c.extractor.Extract(ctx, req.Text)
	if err != nil {
		logger.WarnCF("memory", "extraction failed", map[string]any{"error": err.Error()})
		return
	}

	for _, cand := range candidates {
		if !c.passesFilters(cand, req) {
			continue
		}
		entry := Entry{
			Scope:           ScopeForKind(cand.Kind),
			Kind:            cand.Kind,
			Text:            cand.Text,
			Salience:        cand.Salience,
			SourceChannel:   req.Channel,
			SourceChat:      req.ChatID,
			SourceMessageID: req.MessageID,
		}
		switch entry.Scope {
		case ScopeChat:
			entry.ScopeKey = req.ChatID
		case ScopeUser:
			entry.ScopeKey = req.SenderID
		}
		if _, err := c.store.Insert(entry); err != nil {
			logger.WarnCF("memory", "persist failed", map[string]any{"error": err.Error()})
		}
	}
}

func (c *Capturer) eligible(req CaptureRequest) bool {
	if req.IsAssistant && !c.cfg.CaptureAssistant {
		return false
	}
	if len(c.cfg.Channels) == 0 {
		return true
	}
	for _, ch := range c.cfg.Channels {
		if strings.EqualFold(ch, req.Channel) {
			return true
		}
	}
	return false
}

func (c *Capturer) passesFilters(cand Candidate, req CaptureRequest) bool {
	if cand.Confidence < c.cfg.MinConfidence {
		return false
	}
	if cand.Salience < c.cfg.MinSalience {
		return false
	}
	if injectionPattern.MatchString(cand.Text) {
		return false
	}
	if c.cfg.OwnerOnlyPreference && !req.IsOwner {
		if cand.Kind == KindSemantic || cand.Kind == KindProcedural {
			return false
		}
	}
	return true
}
