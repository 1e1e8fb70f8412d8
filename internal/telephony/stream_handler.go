package telephony

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/call-transcriber/internal/audio"
	"github.com/lexiqai/call-transcriber/internal/errorsx"
	"github.com/lexiqai/call-transcriber/internal/observability"
	"github.com/lexiqai/call-transcriber/internal/session"
	"github.com/lexiqai/call-transcriber/internal/stt"
	"github.com/lexiqai/call-transcriber/internal/transcript"
)

// storeTimeout bounds persisting a transcript after the socket is gone
const storeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	// vendors connect from their own media servers, not browsers
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// StreamHandler serves the live audio websocket. Each connection is read by
// its own goroutine, frames are fed in arrival order, and the call's
// session is closed when the vendor sends stop or the socket closes.
type StreamHandler struct {
	vendor   string
	registry *session.Registry
	sink     transcript.Sink
	store    transcript.Store

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	closing  bool
	inflight sync.WaitGroup
}

// NewStreamHandler creates a handler. sink and store may be nil.
func NewStreamHandler(vendor string, registry *session.Registry, sink transcript.Sink, store transcript.Store) *StreamHandler {
	return &StreamHandler{
		vendor:   vendor,
		registry: registry,
		sink:     sink,
		store:    store,
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

// Shutdown closes every open stream and waits until each has finalized its
// session and stored its transcript, or ctx is done. New connections are
// refused from then on.
func (h *StreamHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	logger := observability.GetLogger()
	logger.Info().Str("vendor", h.vendor).Int("streams", len(conns)).Msg("Closing live streams")

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		// unblocks the reader; its goroutine then finalizes the call
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *StreamHandler) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns[conn] = struct{}{}
	h.inflight.Add(1)
	return true
}

func (h *StreamHandler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	h.inflight.Done()
}

// streamConn is the per-connection state
type streamConn struct {
	h       *StreamHandler
	connID  string
	callID  string // vendor call id announced after the session opened
	sess    *session.CallSession
	metrics *observability.SessionMetrics
	logger  zerolog.Logger
}

// ServeHTTP upgrades the request and runs the connection until it ends
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger := observability.GetLogger()
		logger.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	if !h.track(conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"),
			time.Now().Add(time.Second))
		return
	}
	defer h.untrack(conn)

	c := &streamConn{
		h:      h,
		connID: uuid.New().String(),
	}
	c.logger = observability.WithCorrelationID(c.connID).With().Str("vendor", h.vendor).Logger()
	c.logger.Info().Msg("Stream connected")

	c.run(r.Context(), conn)
}

func (c *streamConn) run(ctx context.Context, conn *websocket.Conn) {
	defer c.close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		frame, err := audio.DecodeEnvelope(message)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Skipping malformed frame")
			observability.RecordError(string(errorsx.KindOf(err)), "stream")
			continue
		}

		switch frame.Event {
		case audio.EventStart:
			c.open(ctx, frame.CallID)

		case audio.EventMedia:
			if c.sess == nil && !c.open(ctx, "") {
				continue
			}
			c.metrics.RecordAudioBytes(len(frame.Samples))
			c.feed(ctx, frame.Samples)

		case audio.EventStop:
			c.logger.Info().Msg("Stream stopped")
			return

		case audio.EventIgnored:
			c.logger.Debug().Str("event", frame.RawType).Msg("Ignoring event")
		}
	}
}

// open creates the session for callID, or for the connection id when the
// source does not name the call. A start that arrives after media opened the
// session under the connection id renames the call for its segments and
// stored transcript; any other second start is a no-op.
func (c *streamConn) open(ctx context.Context, callID string) bool {
	if c.sess != nil {
		if callID != "" && callID != c.sess.ID && c.callID == "" {
			c.logger.Warn().
				Str("session_id", c.sess.ID).
				Str("start_call_id", callID).
				Msg("Start arrived after media; using its call id for the transcript")
			c.callID = callID
		}
		return true
	}
	if callID == "" {
		callID = c.connID
	}

	sess, created, err := c.h.registry.GetOrCreate(ctx, callID)
	if err != nil {
		c.logger.Error().Err(err).Str("call_id", callID).Msg("Failed to open session")
		observability.RecordError(string(errorsx.KindOf(err)), "stream")
		return false
	}

	c.sess = sess
	c.logger = c.logger.With().Str("call_id", callID).Logger()
	c.metrics = observability.NewSessionMetrics(callID, c.h.vendor)
	c.metrics.RecordSessionStart()
	c.logger.Info().Bool("created", created).Msg("Call started")
	return true
}

func (c *streamConn) feed(ctx context.Context, samples []int16) {
	seg, err := c.sess.Feed(samples)
	if err != nil {
		// the frame is dropped, the session goes on
		c.logger.Warn().Err(err).Msg("Recognizer rejected frame")
		c.metrics.RecordError(string(errorsx.KindOf(err)), "stream")
		return
	}
	if seg != nil {
		c.publish(ctx, *seg)
	}
}

func (c *streamConn) publish(ctx context.Context, seg stt.Segment) {
	if c.callID != "" {
		seg.SessionID = c.callID
	}
	c.metrics.RecordSegment(seg.Final)
	if c.h.sink == nil {
		return
	}
	if err := c.h.sink.Publish(ctx, seg); err != nil {
		c.logger.Warn().Err(err).Int("seq", seg.Seq).Msg("Failed to publish segment")
	}
}

// close finalizes the session, publishes the trailing final and stores the
// joined transcript
func (c *streamConn) close() {
	if c.sess == nil {
		c.logger.Info().Msg("Stream closed before any audio")
		return
	}
	defer c.metrics.RecordSessionEnd()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	seg, sess, err := c.h.registry.Close(c.sess.ID)
	var lookupErr *errorsx.SessionLookupError
	switch {
	case errors.As(err, &lookupErr):
		c.logger.Warn().Err(err).Msg("Session already closed")
		return
	case err != nil:
		c.logger.Error().Err(err).Msg("Failed to finalize session")
		c.metrics.RecordError(string(errorsx.KindOf(err)), "stream")
	}
	if seg != nil {
		c.publish(ctx, *seg)
	}
	if sess == nil {
		return
	}

	text := sess.Transcript()
	c.logger.Info().
		Int("segments", len(sess.Segments())).
		Str("transcript", text).
		Msg("Call ended")

	if c.h.store == nil || text == "" {
		return
	}
	callID := sess.ID
	if c.callID != "" {
		callID = c.callID
	}
	rec := transcript.Record{
		CallID:    callID,
		Text:      text,
		Source:    transcript.SourceLive,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.h.store.Put(ctx, rec); err != nil {
		c.logger.Error().Err(err).Msg("Failed to store transcript")
		c.metrics.RecordError("store", "stream")
	}
}
