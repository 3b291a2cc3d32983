package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/astromechza/roomboard/pkg/notify"
	"github.com/astromechza/roomboard/pkg/rooms"
)

const (
	TransportSSE       = "sse"
	TransportWebsocket = "websocket"
)

const maxEventBytes = 1 << 20

// Watch subscribes to server push and calls fn for each event until the
// stream ends or ctx is done. It always returns a non-nil error; a stream
// that the server closed cleanly yields a TransientError so callers
// reconnect.
func (c *Client) Watch(ctx context.Context, transport string, fn func(notify.Event)) error {
	switch transport {
	case TransportSSE, "":
		return c.watchSSE(ctx, fn)
	case TransportWebsocket:
		return c.watchWebsocket(ctx, fn)
	default:
		return fmt.Errorf("unknown push transport %q", transport)
	}
}

func (c *Client) watchSSE(ctx context.Context, fn func(notify.Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req.Header)

	resp, err := c.streamClient().Do(req)
	if err != nil {
		return &TransientError{Op: "subscribe", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var ae apiError
		msg := resp.Status
		if json.Unmarshal(body, &ae) == nil && ae.Message != "" {
			msg = ae.Message
		}
		return statusError("subscribe", resp.StatusCode, msg)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventBytes)
	var kind, id string
	var data strings.Builder
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		switch {
		case line == "":
			if kind != "" {
				e, err := decodeEvent(notify.Kind(kind), id, []byte(data.String()))
				if err != nil {
					c.logger.Warn("dropping undecodable push event", "event", kind, "err", err)
				} else {
					fn(e)
				}
			}
			kind, id = "", ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			kind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return &TransientError{Op: "subscribe", Err: err}
	}
	return &TransientError{Op: "subscribe", Err: io.EOF}
}

func (c *Client) watchWebsocket(ctx context.Context, fn func(notify.Event)) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("failed to parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/ws"

	header := http.Header{}
	c.authorize(header)
	dialer := websocket.Dialer{Jar: c.rest.GetClient().Jar}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return statusError("subscribe", resp.StatusCode, resp.Status)
		}
		return &TransientError{Op: "subscribe", Err: err}
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	for {
		var frame notify.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				c.logger.Warn("dropping undecodable push frame", "err", err)
				continue
			}
			return &TransientError{Op: "subscribe", Err: err}
		}
		e, err := decodeEvent(frame.Event, strconv.FormatUint(frame.ID, 10), frame.Data)
		if err != nil {
			c.logger.Warn("dropping undecodable push event", "event", frame.Event, "err", err)
			continue
		}
		fn(e)
	}
}

func decodeEvent(kind notify.Kind, id string, data []byte) (notify.Event, error) {
	e := notify.Event{Kind: kind}
	if id != "" {
		seq, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return e, fmt.Errorf("bad event id %q: %w", id, err)
		}
		e.Seq = seq
	}
	switch kind {
	case notify.KindRoomUpdate:
		var r rooms.Room
		if err := json.Unmarshal(data, &r); err != nil {
			return e, fmt.Errorf("bad room payload: %w", err)
		}
		e.Room = &r
	case notify.KindReset:
		if err := json.Unmarshal(data, &e.Rooms); err != nil {
			return e, fmt.Errorf("bad reset payload: %w", err)
		}
	case notify.KindConnected:
	default:
		return e, fmt.Errorf("unknown event %q", kind)
	}
	return e, nil
}
