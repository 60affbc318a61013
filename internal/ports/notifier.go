package ports

import "github.com/Vovarama1992/livecaptions/internal/models"

// Notifier delivers events to one client session in the order Send is called.
// Delivery failures are the notifier's problem and never reach the caller.
type Notifier interface {
	Send(sessionID string, kind models.EventKind, payload any)
}
