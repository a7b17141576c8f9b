// Package notify gates and delivers webhook notifications, keeping an
// append-only audit trail keyed for exactly-once delivery.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fundradar/radar/internal/model"
	"github.com/fundradar/radar/internal/store"
	"github.com/fundradar/radar/pkg/dingtalk"
)

// Decision is a gate outcome with the reason it was made, for run
// logs and tests.
type Decision struct {
	Send   bool
	Reason string
}

// Notifier sends opportunity alerts and daily digests through the
// webhook bot. Delivery failures are recorded and logged, never
// propagated: a dead webhook must not fail the run.
type Notifier struct {
	store     store.Store
	bot       dingtalk.Client
	targetURL string
}

// New creates a Notifier. targetURL is recorded on audit rows only;
// the bot already carries the real webhook.
func New(st store.Store, bot dingtalk.Client, targetURL string) *Notifier {
	return &Notifier{store: st, bot: bot, targetURL: targetURL}
}

// ShouldSendOpportunity applies the alert gate for one verdict:
// opportunity present, score at or above threshold, not the day's
// last slot (reserved for the digest) and daily quota not exhausted.
// Only successful past sends count against the quota.
func (n *Notifier) ShouldSendOpportunity(ctx context.Context, date, slot string, settings model.Settings, verdict *model.Verdict) (Decision, error) {
	if !verdict.HasOpportunity {
		return Decision{Reason: "no opportunity"}, nil
	}
	if verdict.Score < settings.ScoreThreshold {
		return Decision{Reason: fmt.Sprintf("score %d below threshold %d", verdict.Score, settings.ScoreThreshold)}, nil
	}
	if settings.LastSlotOfDay(slot) {
		return Decision{Reason: "last slot sends the digest instead"}, nil
	}
	sent, err := n.store.CountNotifications(ctx, date, model.PushTypeOpportunity, model.NotificationSuccess)
	if err != nil {
		return Decision{}, eris.Wrap(err, "notify: count sent alerts")
	}
	if sent >= settings.DailyQuota {
		return Decision{Reason: fmt.Sprintf("daily quota %d reached", settings.DailyQuota)}, nil
	}
	return Decision{Send: true, Reason: "passed gate"}, nil
}

// SendOpportunityAlert delivers one alert. A key that already has a
// success record is skipped; a failed record is retried and the
// record replaced with the new outcome.
func (n *Notifier) SendOpportunityAlert(ctx context.Context, date, slot string, verdict *model.Verdict, opps []model.OpportunityRecord) error {
	key := MessageKey(date, slot, model.PushTypeOpportunity, verdict.ItemID)

	existing, err := n.store.GetNotificationByKey(ctx, key)
	if err != nil {
		return eris.Wrap(err, "notify: lookup notification")
	}
	if existing != nil && existing.Status == model.NotificationSuccess {
		zap.L().Debug("alert already delivered", zap.String("key", key))
		return nil
	}

	title := "Opportunity: " + verdict.ItemTitle
	body := renderAlert(verdict, opps)
	return n.deliver(ctx, &model.NotificationRecord{
		Date:           date,
		Slot:           slot,
		PushType:       model.PushTypeOpportunity,
		IdempotencyKey: key,
		TargetURL:      n.targetURL,
		Title:          title,
	}, title, body)
}

// SendDailyReport delivers the end-of-day digest markdown.
func (n *Notifier) SendDailyReport(ctx context.Context, date, slot, markdown string) error {
	key := MessageKey(date, slot, model.PushTypeDaily, "")

	existing, err := n.store.GetNotificationByKey(ctx, key)
	if err != nil {
		return eris.Wrap(err, "notify: lookup notification")
	}
	if existing != nil && existing.Status == model.NotificationSuccess {
		zap.L().Debug("digest already delivered", zap.String("key", key))
		return nil
	}

	title := "Daily report " + date
	return n.deliver(ctx, &model.NotificationRecord{
		Date:           date,
		Slot:           slot,
		PushType:       model.PushTypeDaily,
		IdempotencyKey: key,
		TargetURL:      n.targetURL,
		Title:          title,
	}, title, markdown)
}

// SendRunSummary delivers a short text summary of a manual run that
// pushed no alerts, so the operator who triggered it still gets an
// answer.
func (n *Notifier) SendRunSummary(ctx context.Context, date, slot string, analyzed, opportunities int) error {
	key := MessageKey(date, slot, model.PushTypeSummary, "")

	existing, err := n.store.GetNotificationByKey(ctx, key)
	if err != nil {
		return eris.Wrap(err, "notify: lookup notification")
	}
	if existing != nil && existing.Status == model.NotificationSuccess {
		zap.L().Debug("summary already delivered", zap.String("key", key))
		return nil
	}

	title := fmt.Sprintf("Manual run %s %s", date, slot)
	text := fmt.Sprintf("Manual run %s %s: %d articles analyzed, %d opportunities found, no alerts pushed.",
		date, slot, analyzed, opportunities)

	rec := &model.NotificationRecord{
		Date:           date,
		Slot:           slot,
		PushType:       model.PushTypeSummary,
		IdempotencyKey: key,
		TargetURL:      n.targetURL,
		Title:          title,
	}
	payload, _ := json.Marshal(map[string]string{"text": text})
	rec.Payload = payload

	resp, err := n.bot.SendText(ctx, text, key)
	n.record(rec, resp, err)
	return eris.Wrap(n.store.CreateNotification(ctx, rec), "notify: record notification")
}

// deliver sends the markdown and records the outcome. Send failures
// are recorded as failed rows; only audit-write failures return an
// error.
func (n *Notifier) deliver(ctx context.Context, rec *model.NotificationRecord, title, markdown string) error {
	payload, _ := json.Marshal(map[string]string{"title": title, "text": markdown})
	rec.Payload = payload

	resp, err := n.bot.SendMarkdown(ctx, title, markdown, rec.IdempotencyKey)
	n.record(rec, resp, err)
	return eris.Wrap(n.store.CreateNotification(ctx, rec), "notify: record notification")
}

// record fills the audit row from the provider's answer.
func (n *Notifier) record(rec *model.NotificationRecord, resp *dingtalk.Response, err error) {
	switch {
	case err != nil:
		rec.Status = model.NotificationFailed
		rec.Error = err.Error()
	case !resp.OK():
		rec.Status = model.NotificationFailed
		rec.Error = fmt.Sprintf("webhook errcode %d: %s", resp.ErrCode, resp.ErrMsg)
	default:
		rec.Status = model.NotificationSuccess
	}
	if resp != nil {
		if respJSON, jerr := json.Marshal(resp); jerr == nil {
			rec.Response = respJSON
		}
	}

	if rec.Status == model.NotificationFailed {
		zap.L().Warn("notification delivery failed",
			zap.String("key", rec.IdempotencyKey),
			zap.String("push_type", string(rec.PushType)),
			zap.String("error", rec.Error))
	} else {
		zap.L().Info("notification delivered",
			zap.String("key", rec.IdempotencyKey),
			zap.String("push_type", string(rec.PushType)),
			zap.String("title", rec.Title))
	}
}

// renderAlert builds the alert markdown from a verdict and its
// opportunities.
func renderAlert(verdict *model.Verdict, opps []model.OpportunityRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### 🎯 %s\n\n", verdict.ItemTitle)
	if verdict.ItemSource != "" {
		fmt.Fprintf(&b, "**Source**: %s  \n", verdict.ItemSource)
	}
	fmt.Fprintf(&b, "**Score**: %d\n\n%s\n", verdict.Score, verdict.Summary)

	for _, opp := range opps {
		fmt.Fprintf(&b, "\n---\n**%s** (%s, confidence %.0f%%)\n", opp.Title, opp.Type, opp.Confidence*100)
		if opp.WindowStart != nil && opp.WindowEnd != nil {
			fmt.Fprintf(&b, "Window: %s → %s\n", opp.WindowStart.Format("2006-01-02"), opp.WindowEnd.Format("2006-01-02"))
		}
		if len(opp.ActionSteps) > 0 {
			b.WriteString("Next steps:\n")
			for _, step := range opp.ActionSteps {
				fmt.Fprintf(&b, "- %s\n", step)
			}
		}
		if len(opp.Constraints) > 0 {
			fmt.Fprintf(&b, "Constraints: %s\n", strings.Join(opp.Constraints, "; "))
		}
	}
	return b.String()
}
