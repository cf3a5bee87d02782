package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/guseggert/uciproc/work"
	"github.com/julienschmidt/httprouter"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// readLimit bounds a single position message. Long games have a few hundred moves.
const readLimit = 1 << 20

// streamReply is sent for every position received on a stream, in order.
// Exactly one of Response and Failed is set.
type streamReply struct {
	Response *work.PositionResponse `json:",omitempty"`
	Failed   *ErrorResponse         `json:",omitempty"`
}

// positionWS serves positions over a WebSocket connection: one position in, one reply out.
// Positions on a single connection are served in order.
func (a *Agent) positionWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		a.logger.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	conn.SetReadLimit(readLimit)
	a.logger.Debug("accepted WebSocket conn")

	ctx := r.Context()
	for {
		var pos work.Position
		err := wsjson.Read(ctx, conn, &pos)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			a.logger.Debug("got normal closure from client, wrapping up")
			return
		}
		if err != nil {
			a.logger.Debugf("stream reader got error: %s", err)
			conn.Close(websocket.StatusInvalidFramePayloadData, truncateReason(err.Error()))
			return
		}

		var reply streamReply
		res, err := a.analyse(r, pos)
		if err != nil {
			reply.Failed = &ErrorResponse{BatchID: work.WorkID(pos.Work), Error: err.Error()}
		} else {
			reply.Response = res
		}
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			a.logger.Debugf("error writing stream reply: %s", err)
			conn.Close(websocket.StatusInternalError, truncateReason(err.Error()))
			return
		}
	}
}

// truncateReason keeps close reasons under the 123 byte limit of WebSocket control frames.
func truncateReason(reason string) string {
	if len(reason) > 100 {
		return reason[0:100]
	}
	return reason
}

// Stream submits positions over a single WebSocket connection.
// It is not safe for concurrent use.
type Stream struct {
	conn *websocket.Conn
}

// Go submits pos and waits for its reply. A failed position is returned as a *work.PositionFailed.
func (s *Stream) Go(ctx context.Context, pos work.Position) (*work.PositionResponse, error) {
	if err := wsjson.Write(ctx, s.conn, pos); err != nil {
		return nil, fmt.Errorf("writing position: %w", err)
	}
	var reply streamReply
	if err := wsjson.Read(ctx, s.conn, &reply); err != nil {
		return nil, fmt.Errorf("reading reply: %w", err)
	}
	if reply.Failed != nil {
		return nil, &work.PositionFailed{BatchID: reply.Failed.BatchID, Err: errors.New(reply.Failed.Error)}
	}
	if reply.Response == nil {
		return nil, errors.New("empty stream reply")
	}
	return reply.Response, nil
}

func (s *Stream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
