package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"linkroom/internal/app/session"
	"linkroom/internal/pkg/errs"
	"linkroom/internal/pkg/logx"
	"linkroom/internal/pkg/metrics"
	"linkroom/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client. Documents travel whole.
	maxMessageSize = 1 << 20

	// size of the outbound frame queue.
	sendQueueSize = 256

	// commandTimeout bounds each session command, including directory and substrate calls.
	commandTimeout = 10 * time.Second
)

// SessionFactory builds the session for a new connection with the given options.
type SessionFactory func(opts ...session.Option) *session.Manager

// Client is one browser WebSocket connection and the room session it drives.
type Client struct {
	// underlying WebSocket connection object.
	conn *websocket.Conn

	// the room session owned by this connection.
	session *session.Manager

	// a buffered channel used to queue frames waiting to be sent to the browser.
	send chan []byte

	// allowCreate gates create_room commands; nil allows all of them.
	allowCreate func() bool

	// sendMu guards closed and the close of send.
	sendMu sync.Mutex
	closed bool

	// structured logger with connection context.
	logger zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCreateGuard makes create_room commands consult allow first. A rejected command is
// answered with ErrRateLimitExceeded and never reaches the session.
func WithCreateGuard(allow func() bool) ClientOption {
	return func(c *Client) { c.allowCreate = allow }
}

// NewClient wraps conn and creates its session through factory.
func NewClient(conn *websocket.Conn, factory SessionFactory, opts ...ClientOption) *Client {
	c := &Client{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		logger: logx.Component("gateway").With().
			Str("conn_id", randx.ParticipantID()).
			Str("remote_addr", conn.RemoteAddr().String()).
			Logger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.session = factory(session.WithListener(c.pushState))

	return c
}

// Run serves the connection until it closes. The session leaves its room on return.
func (c *Client) Run(ctx context.Context) {
	go c.WritePump()

	c.pushState(c.session.State())

	c.ReadPump(ctx)
}

// ReadPump handles reading frames from the WebSocket connection.
// It handles heartbeats (Pong), command dispatch, and performs cleanup upon connection closure.
func (c *Client) ReadPump(ctx context.Context) {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frameBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading frame (Client close/going away)")
			}
			break
		}

		c.processInboundFrame(ctx, frameBytes)
	}
}

// cleanupOnDisconnect leaves the room, stops the WritePump and closes the connection.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Client connection cleanup starting.")

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	c.session.LeaveRoom(ctx)
	cancel()

	c.closeSend()

	if err := c.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// processInboundFrame decodes a raw frame and runs the command it carries.
func (c *Client) processInboundFrame(parent context.Context, frameBytes []byte) {
	var inbound Frame
	if err := json.Unmarshal(frameBytes, &inbound); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		c.SendError(errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()

	switch inbound.Type {
	case TypeCreateRoom:
		c.handleCreateRoom(ctx, inbound.Payload)

	case TypeJoinRoom:
		c.handleJoinRoom(ctx, inbound.Payload)

	case TypeLeaveRoom:
		c.session.LeaveRoom(ctx)

	case TypeUpdateDocument:
		c.handleUpdateDocument(ctx, inbound.Payload)

	default:
		c.logger.Warn().Str("frame_type", string(inbound.Type)).Msg("Client sent unsupported frame type")
		c.SendError(errs.NewError(errs.ErrUnsupportedFrameType, string(inbound.Type)))
	}
}

func (c *Client) handleCreateRoom(ctx context.Context, payload json.RawMessage) {
	var p CreateRoomPayload
	if err := bindPayload(payload, &p); err != nil {
		c.SendError(err)
		return
	}

	if c.allowCreate != nil && !c.allowCreate() {
		c.logger.Warn().Msg("Room creation rejected: rate limit exceeded.")
		c.SendError(errs.NewError(errs.ErrRateLimitExceeded))
		return
	}

	code, err := c.session.CreateRoom(ctx, p.Username)
	if err != nil {
		c.SendError(err)
		return
	}

	c.sendFrame(TypeRoomCreated, RoomCreatedPayload{Code: code})
}

func (c *Client) handleJoinRoom(ctx context.Context, payload json.RawMessage) {
	var p JoinRoomPayload
	if err := bindPayload(payload, &p); err != nil {
		c.SendError(err)
		return
	}

	ok, err := c.session.JoinRoom(ctx, p.Code, p.Username)
	if err != nil {
		c.SendError(err)
		return
	}

	code := randx.NormalizeRoomCode(p.Code)
	if !ok {
		c.SendError(errs.NewError(errs.ErrRoomNotFound))
	}
	c.sendFrame(TypeJoinResult, JoinResultPayload{OK: ok, Code: code})
}

func (c *Client) handleUpdateDocument(ctx context.Context, payload json.RawMessage) {
	var p UpdateDocumentPayload
	if err := bindPayload(payload, &p); err != nil {
		c.SendError(err)
		return
	}

	if err := c.session.UpdateDocument(ctx, p.Content); err != nil {
		c.SendError(err)
	}
}

// WritePump handles writing frames from the Client.send channel to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.writeQueuedFrame(frame, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedFrame writes a frame pulled from the send channel to the WebSocket.
// Returns true if the WritePump loop should continue, false if it should terminate.
func (c *Client) writeQueuedFrame(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Error().Err(err).Msg("Error writing frame")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket Ping message to maintain the connection heartbeat.
// Returns false if the WritePump loop should terminate due to write failure.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// pushState queues a state frame. It runs under the session lock, so it never blocks.
func (c *Client) pushState(s session.State) {
	c.sendFrame(TypeState, newStatePayload(s))
}

// SendError queues an error frame describing err.
func (c *Client) SendError(err error) {
	customErr := errs.From(err)
	c.sendFrame(TypeError, ErrorPayload{Code: customErr.Code, Message: customErr.Message})
}

// sendFrame encodes a frame and attempts to queue it without blocking.
func (c *Client) sendFrame(t FrameType, payload any) {
	frame, err := encodeFrame(t, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("frame_type", string(t)).Msg("Error marshaling frame for client")
		return
	}

	if err := c.enqueue(frame); err != nil {
		c.logger.Warn().Err(err).Str("frame_type", string(t)).Msg("Dropping outbound frame")
	}
}

func (c *Client) enqueue(frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return fmt.Errorf("client connection closed")
	}

	select {
	case c.send <- frame:
		return nil
	default:
		metrics.FramesDropped.Inc()
		return fmt.Errorf("client send queue full (%d queued)", len(c.send))
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
