package api

import (
	"net/http"
	"strings"

	"github.com/audiobook-maker/engine-core/internal/models"
)

// handleSubscribeEvents opens a Server-Sent Events stream over the
// requested channels (?channels=jobs,engines,quality), falling back to
// models.DefaultChannels when the query parameter is absent. The
// connection lives for as long as the client stays connected; it carries
// no replay and no durability (spec §4.6).
func (router *Router) handleSubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var channels []models.Channel
	if raw := r.URL.Query().Get("channels"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			channels = append(channels, models.Channel(strings.TrimSpace(name)))
		}
	}

	client, err := router.bus.Subscribe(r.Context(), channels)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "subscribe: "+err.Error())
		return
	}
	defer client.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-client.Events():
			if !open {
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
