package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dpcore/statement-service/internal/domain"
)

// RecipientSource resolves account numbers to member records so the
// handler knows where to deliver each notice.
type RecipientSource interface {
	GetAccountData(ctx context.Context, batchRef, account string) (*domain.AccountRecord, error)
}

// SentRecorder persists the delivered flag for a batch player. A nil
// recorder disables the bookkeeping.
type SentRecorder interface {
	MarkEmailSent(ctx context.Context, batchRef, account string) error
}

// Handler runs no_play_email jobs: one notification per account in the
// batch. Delivery failures for individual recipients are counted but do
// not fail the job; a systemic relay failure does.
type Handler struct {
	sender   Sender
	source   RecipientSource
	recorder SentRecorder
	logger   *slog.Logger
}

// NewHandler wires the notification handler. recorder may be nil.
func NewHandler(sender Sender, source RecipientSource, recorder SentRecorder, logger *slog.Logger) *Handler {
	return &Handler{sender: sender, source: source, recorder: recorder, logger: logger}
}

// Handle processes one no_play_email job.
func (h *Handler) Handle(ctx context.Context, job *domain.Job) ([]byte, error) {
	payload, err := domain.DecodeNoPlayEmailPayload(job.Payload)
	if err != nil {
		return nil, err
	}

	log := h.logger.With(
		slog.String("job_id", job.ID),
		slog.String("batch_id", payload.BatchID),
	)

	sent := 0
	skipped := 0
	for _, account := range payload.Accounts {
		rec, err := h.source.GetAccountData(ctx, payload.BatchID, account)
		if err != nil {
			skipped++
			log.Warn("Skipping notification, member lookup failed",
				slog.String("account", account),
				slog.String("error", err.Error()),
			)
			continue
		}
		if rec.Email == "" {
			skipped++
			log.Warn("Skipping notification, member has no email",
				slog.String("account", account),
			)
			continue
		}

		msg := &Message{
			To:      rec.Email,
			Subject: "No-play confirmation for your account",
			Body: fmt.Sprintf(
				"Dear %s,\n\nOur records show no gaming activity on account %s for the period %s.\nNo statement will be issued for this period.\n",
				rec.Name, rec.Account, rec.StatementPeriod,
			),
		}

		if err := h.sender.Send(ctx, msg); err != nil {
			if domain.IsTransient(err) {
				// Relay trouble affects every remaining recipient; let the
				// job retry from the top rather than half-delivering.
				return nil, err
			}
			skipped++
			log.Warn("Notification rejected by relay",
				slog.String("account", account),
				slog.String("error", err.Error()),
			)
			continue
		}
		sent++

		if h.recorder != nil {
			if err := h.recorder.MarkEmailSent(ctx, payload.BatchID, rec.Account); err != nil {
				// The notice already went out; losing the flag only means a
				// rerun may notify this member again.
				log.Warn("Failed to record delivered flag",
					slog.String("account", rec.Account),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	log.Info("No-play notifications finished",
		slog.Int("sent", sent),
		slog.Int("skipped", skipped),
	)

	result, err := json.Marshal(map[string]any{
		"batch_id": payload.BatchID,
		"sent":     sent,
		"skipped":  skipped,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job result: %w", err)
	}
	return result, nil
}
