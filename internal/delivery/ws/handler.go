package ws

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Vovarama1992/go-utils/logger"
	"github.com/Vovarama1992/livecaptions/internal/apperr"
	"github.com/Vovarama1992/livecaptions/internal/models"
	"github.com/Vovarama1992/livecaptions/internal/ports"
)

const maxClientMessage = 64 << 10

type clientMsg struct {
	Action   string `json:"action"`
	URL      string `json:"url"`
	Language string `json:"language"`
}

// WSHandler joins the connection to the room of its session_id and serves
// transcribe_url and cancel requests for that session.
func WSHandler(
	hub *Hub,
	runs ports.RunDispatcher,
	notifier ports.Notifier,
	log *logger.ZapLogger,
) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
		if !models.ValidSessionID(sessionID) {
			http.Error(w, "missing or invalid session_id", http.StatusBadRequest)
			return
		}

		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Log(logger.LogEntry{Level: "warn", Message: "[WS] upgrade failed", Error: err})
			return
		}
		conn.SetReadLimit(maxClientMessage)

		hub.Register(sessionID, conn)
		defer hub.Unregister(sessionID, conn)

		hello, _ := json.Marshal(Envelope{
			Event:     models.EventStatus,
			SessionID: sessionID,
			Data:      models.StatusPayload{Message: "Connected to server"},
		})
		_ = hub.SendTo(sessionID, conn, hello)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var msg clientMsg
			if err := json.Unmarshal(raw, &msg); err != nil {
				notifier.Send(sessionID, models.EventError, models.ErrorPayload{
					Message: "malformed message",
					Kind:    string(apperr.KindValidation),
				})
				continue
			}

			switch msg.Action {
			case "transcribe_url":
				if strings.TrimSpace(msg.URL) == "" {
					notifier.Send(sessionID, models.EventError, models.ErrorPayload{
						Message: "url is required",
						Kind:    string(apperr.KindValidation),
					})
					continue
				}
				err := runs.Submit(models.PipelineJob{
					SessionID:      sessionID,
					SourceURL:      strings.TrimSpace(msg.URL),
					TargetLanguage: msg.Language,
				})
				if err != nil {
					notifier.Send(sessionID, models.EventError, models.ErrorPayload{
						Message: err.Error(),
						Kind:    string(apperr.KindOf(err)),
					})
					continue
				}
				log.Log(logger.LogEntry{
					Level:   "info",
					Message: "[WS] url run submitted",
					Fields:  map[string]any{"session": sessionID, "language": msg.Language},
				})

			case "cancel":
				if runs.Cancel(sessionID) {
					notifier.Send(sessionID, models.EventStatus, models.StatusPayload{Message: "Cancelled"})
				}

			default:
				notifier.Send(sessionID, models.EventError, models.ErrorPayload{
					Message: "unknown action " + msg.Action,
					Kind:    string(apperr.KindValidation),
				})
			}
		}
	}
}
