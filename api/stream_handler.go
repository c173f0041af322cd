package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/victorbash400/rainmaker/id"
	"github.com/victorbash400/rainmaker/stream"
)

// streamWorkflowEvents serves a server-sent event stream of one workflow's
// lifecycle. The subscription is best-effort: a client that cannot keep up
// misses events rather than slowing the driver.
func (a *API) streamWorkflowEvents(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := a.workflowID(w, r)
	if !ok {
		return
	}
	if _, err := a.eng.Status(r.Context(), workflowID); err != nil {
		a.writeStoreError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "streaming unsupported by connection")
		return
	}

	subscriberID := "sse-" + id.NewSubscriberID().String()
	sub := a.eng.Subscribe(subscriberID, stream.WorkflowTopic(workflowID.String()))
	defer a.eng.Unsubscribe(subscriberID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-sub.C():
			if !open {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		}
	}
}

// eventSocket upgrades to a WebSocket and pushes broker events as JSON
// text frames. Topics come from the repeated "topic" query parameter; the
// default is the firehose.
func (a *API) eventSocket(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}

	// Subscribe before completing the upgrade so no event emitted right
	// after the handshake is missed.
	subscriberID := "ws-" + id.NewSubscriberID().String()
	sub := a.eng.Subscribe(subscriberID, topics...)

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		a.eng.Unsubscribe(subscriberID)
		a.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	go func() {
		defer func() {
			a.eng.Unsubscribe(subscriberID)
			conn.Close()
		}()

		for evt := range sub.C() {
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := wsutil.WriteServerText(conn, data); err != nil {
				a.logger.Debug("websocket write failed, dropping subscriber",
					slog.String("subscriber_id", subscriberID),
					slog.String("error", err.Error()))
				return
			}
		}
	}()

	// Reader loop: the client sends nothing meaningful, but reads surface
	// close frames and connection loss.
	go func() {
		defer sub.Close()
		for {
			if _, err := wsutil.ReadClientText(conn); err != nil {
				return
			}
		}
	}()
}
