package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/victorbash400/rainmaker/id"
	"github.com/victorbash400/rainmaker/stream"
)

// Subscribe opens the event socket on the given topics and returns a
// channel of events. With no topics the firehose is streamed.
//
// Topics follow the stream convention:
//   - "workflow:<workflowID>" — events for a specific workflow run
//   - "workflows"             — all workflow lifecycle events
//   - "firehose"              — everything
//
// The channel closes when ctx is cancelled, the connection drops, or the
// server shuts the socket. Delivery is at-most-once; a reader needing
// current state queries a snapshot with Get.
func (c *Client) Subscribe(ctx context.Context, topics ...string) (<-chan *stream.Event, error) {
	for _, topic := range topics {
		if err := stream.ValidateTopic(topic); err != nil {
			return nil, err
		}
	}

	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/events/ws"
	if len(topics) > 0 {
		q := url.Values{}
		for _, topic := range topics {
			q.Add("topic", topic)
		}
		wsURL += "?" + q.Encode()
	}

	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("rainmaker/client: dial event socket: %w", err)
	}

	// Close the socket when the caller gives up; the read loop then
	// unblocks and closes the channel.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	ch := make(chan *stream.Event, 64)
	go func() {
		defer func() {
			stop()
			_ = conn.Close()
			close(ch)
		}()
		for {
			data, readErr := wsutil.ReadServerText(conn)
			if readErr != nil {
				if ctx.Err() == nil {
					c.logger.Warn("event socket read failed", slog.String("error", readErr.Error()))
				}
				return
			}

			var evt stream.Event
			if unmarshalErr := json.Unmarshal(data, &evt); unmarshalErr != nil {
				c.logger.Warn("event socket: invalid event", slog.String("error", unmarshalErr.Error()))
				continue
			}

			select {
			case ch <- &evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// Watch subscribes to one workflow's event channel. Convenience for
// Subscribe with "workflow:<workflowID>".
func (c *Client) Watch(ctx context.Context, workflowID id.WorkflowID) (<-chan *stream.Event, error) {
	return c.Subscribe(ctx, stream.WorkflowTopic(workflowID.String()))
}
