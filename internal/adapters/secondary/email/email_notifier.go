package email

import (
	"context"
	"log/slog"

	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

// LogNotifier stands in for an SMTP relay: it resolves the recipient and logs
// the mail that would have been sent to a user with no live notification stream.
type LogNotifier struct {
	userRepo ports.UserRepository
	logger   *slog.Logger
}

var _ ports.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(userRepo ports.UserRepository, logger *slog.Logger) ports.Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{
		userRepo: userRepo,
		logger:   logger.With("component", "email_notifier"),
	}
}

// Notify is called from a background goroutine and handles its own errors.
func (n *LogNotifier) Notify(ctx context.Context, params ports.MailParams) {
	user, err := n.userRepo.GetByID(ctx, params.RecipientUserID)
	if err != nil {
		n.logger.Error("failed to get user for mail",
			"user_id", params.RecipientUserID,
			"error", err,
		)
		return
	}

	n.logger.Info("offline mail sent",
		"to_name", user.FullName,
		"to_email", user.Email,
		"subject", params.Subject,
		"related_entity_type", params.RelatedEntityType,
		"related_entity_id", params.RelatedEntityID,
	)
}
