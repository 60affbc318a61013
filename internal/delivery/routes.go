package delivery

import (
	"net/http"

	"github.com/Vovarama1992/livecaptions/internal/ports"
	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(
	r chi.Router,
	auth ports.TokenValidator,
	hUpload *UploadHandler,
	hCaptions *CaptionHandler,
	wsHandler http.HandlerFunc,
) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		if auth != nil {
			r.Use(AuthMiddleware(auth))
		}

		// chunked upload
		r.Post("/upload", hUpload.Upload)
		r.Get("/api/uploads/stats", hUpload.Stats)
		r.Delete("/api/uploads/{sessionID}", hUpload.Cleanup)

		// captions
		r.Get("/api/languages", hCaptions.Languages)
		r.Get("/api/captions/{sessionID}", hCaptions.History)
		r.Delete("/api/sessions/{sessionID}", hCaptions.CancelSession)

		r.Get("/ws", wsHandler)
	})
}
