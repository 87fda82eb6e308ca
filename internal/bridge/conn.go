// pattern: Imperative Shell

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/coder/websocket"

	"tmuxdeck/internal/logging"
)

// rpcTimeout bounds every correlated request to an agent. On expiry the
// pending entry is removed and the caller sees a transient error.
const rpcTimeout = 10 * time.Second

// terminalRecvBuffer is the per-channel queue of payloads waiting for the
// browser pump. A full queue backpressures the agent socket rather than
// reordering or dropping terminal bytes.
const terminalRecvBuffer = 256

// Conn is one live, authenticated agent connection. It exclusively owns its
// terminals and pending-request maps; at most one Conn per bridge id is
// registered at a time.
type Conn struct {
	BridgeID string
	Name     string

	ws     *websocket.Conn
	logger *logging.ScopedLogger

	mu          sync.Mutex
	sessions    []SessionInfo
	sources     []string
	pending     map[string]chan Message
	terminals   map[uint16]*Terminal
	nextChannel uint16
	nextRequest uint64
	closed      bool
}

func newConn(bridgeID, name string, ws *websocket.Conn, logger *logging.ScopedLogger) *Conn {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Conn{
		BridgeID:  bridgeID,
		Name:      name,
		ws:        ws,
		logger:    logger,
		pending:   make(map[string]chan Message),
		terminals: make(map[uint16]*Terminal),
	}
}

// Sessions returns the most recent session list the agent reported.
func (c *Conn) Sessions() []SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SessionInfo, len(c.sessions))
	copy(out, c.sessions)
	return out
}

// Sources returns the agent's advertised execution sites.
func (c *Conn) Sources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sources))
	copy(out, c.sources)
	return out
}

func (c *Conn) setSessions(sessions []SessionInfo, sources []string) {
	c.mu.Lock()
	c.sessions = sessions
	c.sources = sources
	c.mu.Unlock()
}

// allocateChannel hands out the next free channel id: monotonic from 1,
// wrapping past 65535 back to 1, linear-probing past ids still held by a
// live terminal. The 65535-concurrent-terminals ceiling is a hard cap.
func (c *Conn) allocateChannel() (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.terminals) >= 65535 {
		return 0, fmt.Errorf("bridge %s: no free terminal channels", c.BridgeID)
	}

	for {
		c.nextChannel++
		if c.nextChannel == 0 {
			c.logger.Warn("channel allocation wrapped", "bridge_id", c.BridgeID)
			c.nextChannel = 1
		}
		if _, inUse := c.terminals[c.nextChannel]; !inUse {
			return c.nextChannel, nil
		}
	}
}

// requestID generates a short opaque correlation id from a per-connection
// monotonic counter.
func (c *Conn) requestID() string {
	c.mu.Lock()
	c.nextRequest++
	id := c.nextRequest
	c.mu.Unlock()
	return fmt.Sprintf("%08x", id)
}

// sendJSON marshals msg as a single text frame.
func (c *Conn) sendJSON(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// sendBinary ships payload to the agent on the given channel.
func (c *Conn) sendBinary(ctx context.Context, channel uint16, payload []byte) error {
	return c.ws.Write(ctx, websocket.MessageBinary, EncodeBinary(channel, payload))
}

// request sends msg (stamping a fresh correlation id) and waits for the
// agent's response or the RPC timeout, whichever comes first.
func (c *Conn) request(ctx context.Context, msg Message) (Message, error) {
	msg.ID = c.requestID()

	ch := make(chan Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, fmt.Errorf("bridge %s: connection closed", c.BridgeID)
	}
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	if err := c.sendJSON(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("bridge %s: send %s: %w", c.BridgeID, msg.Type, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Message{}, fmt.Errorf("bridge %s: disconnected while awaiting %s", c.BridgeID, msg.Type)
		}
		return resp, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("bridge %s: %s timed out: %w", c.BridgeID, msg.Type, ctx.Err())
	}
}

// resolvePending routes a correlated response to its waiting request.
// Unknown ids (late responses past their timeout) are dropped.
func (c *Conn) resolvePending(msg Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- msg
	}
}

// deliverBinary routes an agent payload to the terminal at the given
// channel. A missing channel drops the frame and sends a defensive detach
// so the agent stops producing for it.
func (c *Conn) deliverBinary(ctx context.Context, channel uint16, payload []byte) {
	c.mu.Lock()
	term := c.terminals[channel]
	c.mu.Unlock()

	if term == nil {
		c.logger.Warn("binary frame for unknown channel", "bridge_id", c.BridgeID, "channel", channel)
		_ = c.sendJSON(ctx, Message{Type: TypeDetach, ChannelID: channel})
		return
	}
	term.deliver(payload)
}

// detachTerminal handles the agent-initiated side of teardown: the PTY at
// channel exited, so the terminal's reader is released with EOF.
func (c *Conn) detachTerminal(channel uint16) {
	c.mu.Lock()
	term := c.terminals[channel]
	delete(c.terminals, channel)
	c.mu.Unlock()
	if term != nil {
		term.markDetached()
	}
}

// shutdown fails every pending request and detaches every terminal. Called
// once when the connection drops or is evicted by a reconnect.
func (c *Conn) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	terminals := c.terminals
	c.pending = make(map[string]chan Message)
	c.terminals = make(map[uint16]*Terminal)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	for _, term := range terminals {
		term.markDetached()
	}
	if c.ws != nil {
		_ = c.ws.CloseNow()
	}
}

// Terminal is the per-channel handle handed to the terminal proxy: an
// io.ReadWriteCloser whose reads drain agent frames for this channel and
// whose writes become channel-prefixed binary frames.
type Terminal struct {
	conn    *Conn
	Channel uint16

	recv     chan []byte
	detached chan struct{}
	once     sync.Once
	leftover []byte
}

func newTerminal(conn *Conn, channel uint16) *Terminal {
	return &Terminal{
		conn:     conn,
		Channel:  channel,
		recv:     make(chan []byte, terminalRecvBuffer),
		detached: make(chan struct{}),
	}
}

func (t *Terminal) deliver(payload []byte) {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case t.recv <- buf:
	case <-t.detached:
	}
}

func (t *Terminal) markDetached() {
	t.once.Do(func() { close(t.detached) })
}

// Read returns the next agent payload, draining any queued frames before
// reporting EOF on detach.
func (t *Terminal) Read(p []byte) (int, error) {
	if len(t.leftover) > 0 {
		n := copy(p, t.leftover)
		t.leftover = t.leftover[n:]
		return n, nil
	}

	select {
	case buf := <-t.recv:
		n := copy(p, buf)
		t.leftover = buf[n:]
		return n, nil
	case <-t.detached:
		select {
		case buf := <-t.recv:
			n := copy(p, buf)
			t.leftover = buf[n:]
			return n, nil
		default:
			return 0, io.EOF
		}
	}
}

// Write sends p to the agent PTY on this channel.
func (t *Terminal) Write(p []byte) (int, error) {
	if err := t.conn.sendBinary(context.Background(), t.Channel, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Resize is a one-shot winsize push; the agent applies TIOCSWINSZ and
// SIGWINCH on its end.
func (t *Terminal) Resize(ctx context.Context, cols, rows int) error {
	return t.conn.sendJSON(ctx, Message{
		Type:      TypeResize,
		ChannelID: t.Channel,
		Cols:      cols,
		Rows:      rows,
	})
}

// Close detaches the channel on the agent and unregisters it locally.
// Idempotent.
func (t *Terminal) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = t.conn.sendJSON(ctx, Message{Type: TypeDetach, ChannelID: t.Channel})

	t.conn.mu.Lock()
	delete(t.conn.terminals, t.Channel)
	t.conn.mu.Unlock()
	t.markDetached()
	return nil
}
