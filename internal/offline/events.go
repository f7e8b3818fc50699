package offline

import (
	"context"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/sololeveling/internal/metrics"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	// SyncTagData is the only background sync tag the worker recognises.
	SyncTagData = "sync-data"

	NotificationTitle       = "Solo Leveling"
	DefaultNotificationBody = "Time to level up!"
	NotificationIcon        = "/icon.png"
	NotificationBadge       = "/badge.png"
	NotificationTag         = "solo-leveling"

	offlinePageContentType = "text/html; charset=utf-8"
	offlinePageHTML        = "<h1>Offline Mode</h1><p>App is running in offline mode. Your data is safely stored locally.</p>"
)

// Notification is a push notification ready to be displayed.
type Notification struct {
	Title              string `json:"title"`
	Body               string `json:"body"`
	Icon               string `json:"icon"`
	Badge              string `json:"badge"`
	Tag                string `json:"tag"`
	RequireInteraction bool   `json:"requireInteraction"`
}

// Presenter displays notifications to the user.
type Presenter interface {
	ShowNotification(ctx context.Context, notification Notification) error
}

type nopPresenter struct{}

func (nopPresenter) ShowNotification(context.Context, Notification) error {
	return nil
}

type pushPayload struct {
	Body *string `json:"body"`
}

// OfflineResponse is the placeholder served when neither the network nor the
// cache can answer a request.
func OfflineResponse() Response {
	header := http.Header{}
	header.Set("Content-Type", offlinePageContentType)
	return Response{
		Status: http.StatusOK,
		Header: header,
		Body:   []byte(offlinePageHTML),
		Source: metrics.SourceOffline,
	}
}

// Sync handles a background sync event. Recognised tags resolve immediately
// without performing work; the result reports whether the tag was handled.
func (m *Manager) Sync(_ context.Context, tag string) bool {
	if tag != SyncTagData {
		m.logger.Debug("ignoring unknown sync tag", zap.String("tag", tag))
		return false
	}
	err := m.lifetime.WaitUntil(func() error {
		return nil
	})
	return err == nil
}

// Push builds a notification from an optional JSON payload and displays it.
// Missing, empty or malformed payloads fall back to the default body;
// presentation failures are logged and never fatal.
func (m *Manager) Push(ctx context.Context, payload []byte) Notification {
	notification := Notification{
		Title:              NotificationTitle,
		Body:               pushBody(payload),
		Icon:               NotificationIcon,
		Badge:              NotificationBadge,
		Tag:                NotificationTag,
		RequireInteraction: false,
	}

	err := m.lifetime.WaitUntil(func() error {
		return m.presenter.ShowNotification(ctx, notification)
	})
	if err != nil {
		m.logger.Warn("failed to show notification", zap.Error(err))
	}
	return notification
}

func pushBody(payload []byte) string {
	if len(strings.TrimSpace(string(payload))) == 0 {
		return DefaultNotificationBody
	}
	var decoded pushPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return DefaultNotificationBody
	}
	if decoded.Body == nil || *decoded.Body == "" {
		return DefaultNotificationBody
	}
	return *decoded.Body
}
