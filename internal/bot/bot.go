// Package bot answers reporters' direct messages. It sits between the
// gateway and the report registry: it validates and rate limits each message,
// drives the reporter's conversation and, once a report is confirmed, stores
// it and announces it to the triage workers.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/whisper/report-bot/internal/metrics"
	"github.com/whisper/report-bot/internal/protocol"
	"github.com/whisper/report-bot/internal/ratelimit"
	"github.com/whisper/report-bot/internal/report"
	"github.com/whisper/report-bot/internal/session"
)

// Conversations is the registry the bot drives.
type Conversations interface {
	Handle(ctx context.Context, reporterID, text string) (session.Result, error)
	Evict(ctx context.Context, reporterID string) error
}

// Limiter throttles direct messages per reporter.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) (time.Duration, error)
}

// ReportStore persists confirmed reports.
type ReportStore interface {
	Create(ctx context.Context, sub *report.Submission) error
}

// Publisher announces stored reports.
type Publisher interface {
	PublishReportSubmitted(data []byte) error
}

// Bot handles direct messages. limiter and pub may be nil.
type Bot struct {
	conversations Conversations
	limiter       Limiter
	reports       ReportStore
	pub           Publisher
	timeout       time.Duration
}

// New creates a Bot.
func New(conversations Conversations, limiter Limiter, reports ReportStore, pub Publisher) *Bot {
	return &Bot{
		conversations: conversations,
		limiter:       limiter,
		reports:       reports,
		pub:           pub,
		timeout:       5 * time.Second,
	}
}

// HandleDM processes one direct message and returns the frame to send back.
func (b *Bot) HandleDM(ctx context.Context, reporterID, text string) []byte {
	start := time.Now()
	defer func() { metrics.DMLatency.Observe(time.Since(start).Seconds()) }()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := protocol.ValidateText(text); err != nil {
		metrics.DMTotal.WithLabelValues("rejected").Inc()
		return errorFrame("invalid_message", err.Error())
	}

	if b.limiter != nil {
		allowed, _ := b.limiter.Allow(ctx, reporterID, ratelimit.RuleDM)
		if !allowed {
			metrics.DMTotal.WithLabelValues("rate_limited").Inc()
			return b.rateLimited(ctx, reporterID)
		}
	}
	metrics.DMTotal.WithLabelValues("received").Inc()

	res, err := b.conversations.Handle(ctx, reporterID, text)
	if err != nil {
		log.Printf("[bot] handle reporter=%s: %v", reporterID, err)
		return errorFrame("internal_error", "could not process your message, please try again")
	}

	if res.Started {
		metrics.ReportsStarted.Inc()
	}
	if res.Cancelled {
		metrics.ReportsCancelled.Inc()
	}

	if res.Submission != nil {
		if err := b.submit(ctx, res.Submission); err != nil {
			log.Printf("[bot] submit reporter=%s: %v", reporterID, err)
			return errorFrame("submit_failed", "your report could not be saved, please start a new report")
		}
	}

	data, err := protocol.NewReply(res.Lines)
	if err != nil {
		log.Printf("[bot] build reply reporter=%s: %v", reporterID, err)
		return errorFrame("internal_error", "could not build reply")
	}
	return data
}

// Disconnected drops the conversation of a reporter that cannot come back.
func (b *Bot) Disconnected(ctx context.Context, reporterID string) {
	if err := b.conversations.Evict(ctx, reporterID); err != nil {
		log.Printf("[bot] evict reporter=%s: %v", reporterID, err)
	}
}

// submit stores the report and publishes it. A failed publish is logged only;
// the report is already safe in the database.
func (b *Bot) submit(ctx context.Context, sub *report.Submission) error {
	if err := b.reports.Create(ctx, sub); err != nil {
		return err
	}
	metrics.ReportsSubmitted.WithLabelValues(sub.Reason.String()).Inc()
	log.Printf("[bot] report=%s reporter=%s reason=%s item=%s", sub.ID, sub.ReporterID, sub.Reason, sub.Item.Ref)

	if b.pub == nil {
		return nil
	}
	data, err := json.Marshal(sub.Event())
	if err != nil {
		return fmt.Errorf("bot: marshal event: %w", err)
	}
	if err := b.pub.PublishReportSubmitted(data); err != nil {
		log.Printf("[bot] publish report=%s: %v", sub.ID, err)
	}
	return nil
}

func (b *Bot) rateLimited(ctx context.Context, reporterID string) []byte {
	wait, err := b.limiter.RetryAfter(ctx, reporterID, ratelimit.RuleDM)
	if err != nil || wait <= 0 {
		wait = ratelimit.RuleDM.Window
	}
	data, err := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: int(math.Ceil(wait.Seconds())),
	})
	if err != nil {
		return errorFrame("rate_limited", "slow down")
	}
	return data
}

func errorFrame(code, message string) []byte {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
	if err != nil {
		return []byte(`{"type":"error","code":"internal_error","message":"internal error"}`)
	}
	return data
}
