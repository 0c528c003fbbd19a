package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
)

// Stream serves trust events as Server-Sent Events. Callers see events that
// involve their organization; platform administrators see everything.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	org := ""
	if !isPlatformAdmin(r) {
		org = actingOrg(r, "")
		if org == "" && a.issuer != nil {
			writeError(w, r, http.StatusForbidden, "an organization is required to stream events")
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.broker.Subscribe(ctx, org)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: " + event.Type + "\n"))
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
