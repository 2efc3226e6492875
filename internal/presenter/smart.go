package presenter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

// IDReleaser frees notification ids that will never be posted.
type IDReleaser interface {
	Release(id int)
}

// Smart delivers to the experience in-process when it is in the foreground or
// visible, and falls back to a system notification otherwise. The importance
// check and the delivery are not atomic; a notification racing a foreground
// transition may take either path.
//
// A foreground delivery is never posted, so its id is released straight away
// unless the request keeps it bound to a schedule.
type Smart struct {
	importance notifications.ImportanceProvider
	postOffice notifications.PostOffice
	fallback   notifications.Presenter
	ids        IDReleaser
	logger     *slog.Logger
}

func NewSmart(
	importance notifications.ImportanceProvider,
	postOffice notifications.PostOffice,
	fallback notifications.Presenter,
	ids IDReleaser,
	logger *slog.Logger,
) *Smart {
	return &Smart{
		importance: importance,
		postOffice: postOffice,
		fallback:   fallback,
		ids:        ids,
		logger:     logger.With("component", "SmartPresenter"),
	}
}

func (p *Smart) Present(ctx context.Context, req notifications.Request) error {
	imp := p.importance.Importance(req.ExperienceID)
	if imp.IsForegroundOrVisible() {
		p.logger.Debug("Delivering in foreground", "notification_id", req.ID, "experience_id", req.ExperienceID, "importance", imp.String())
		if err := p.postOffice.SendForegroundNotification(ctx, req.ExperienceID, req.Payload); err != nil {
			return fmt.Errorf("foreground delivery failed: %w", err)
		}
		if !req.KeepID {
			p.ids.Release(req.ID)
		}
		return nil
	}
	return p.fallback.Present(ctx, req)
}
