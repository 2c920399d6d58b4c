// Package comm implements the client side of the server's length-framed
// binary command protocol over a single persistent TCP connection.
package comm

import (
	"encoding/binary"
	"io"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/shouqitao/scada-sub001/datafmt"
	"github.com/shouqitao/scada-sub001/eventlog"
	"github.com/shouqitao/scada-sub001/metrics"
	"github.com/shouqitao/scada-sub001/snapshot"
)

// Sentinel errors of the channel. Transport failures are wrapped around
// ErrNotConnected or the underlying socket error; protocol-shape violations
// wrap ErrBadResponse.
var (
	ErrNotConnected       = errors.New("not connected to server")
	ErrBadResponse        = errors.New("unexpected server response")
	ErrBadCredentials     = errors.New("bad username or password")
	ErrInsufficientRights = errors.New("insufficient rights")
	ErrFileNotFound       = errors.New("remote file not found")
)

// DialFunc opens the transport. Tests inject an in-memory fake.
type DialFunc func(addr string, timeout time.Duration) (net.Conn, error)

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the channel's logger.
func WithLogger(l *zap.Logger) Option { return func(c *Channel) { c.logger = l } }

// WithMetrics sets the channel's metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Channel) { c.metrics = m } }

// WithDialer replaces the TCP dialer.
func WithDialer(d DialFunc) Option { return func(c *Channel) { c.dial = d } }

// Channel is a stateful client over one shared socket. A single mutex
// guards socket and state for the whole duration of every public call, so
// the channel is single-request-at-a-time but safe for concurrent callers.
type Channel struct {
	mu       sync.Mutex
	settings Settings
	dial     DialFunc
	conn     net.Conn
	state    atomic.Int32
	logger   *zap.Logger
	metrics  *metrics.Metrics

	lastPing    time.Time
	lastConnect time.Time

	// pending is set while a request is outstanding and cleared once its
	// response is fully read, so the next exchange knows whether the
	// socket may still carry leftover response bytes.
	pending bool
}

// New creates a channel; no connection is made until the first operation.
func New(settings Settings, opts ...Option) *Channel {
	settings.SetDefaults()
	c := &Channel{
		settings: settings,
		dial:     defaultDial,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(int32(Disconnected))
	return c
}

func defaultDial(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}

// State reads the connection state without taking the channel lock.
func (c *Channel) State() State { return State(c.state.Load()) }

func (c *Channel) setState(s State) { c.state.Store(int32(s)) }

// Connect establishes and authenticates the connection immediately,
// bypassing the reconnect backoff.
func (c *Channel) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && c.State() == Authorized {
		return nil
	}
	c.lastConnect = time.Now()
	return c.connect()
}

// Close tears the connection down.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeConn()
	c.setState(Disconnected)
	return nil
}

// Ping asks the server whether it is ready to serve data.
func (c *Channel) Ping() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.restore(); err != nil {
		return false, err
	}
	return c.ping()
}

// PushLiveSnapshot sends the latest values of the source to the server.
// A false result means the server rejected the data; the connection is fine.
func (c *Channel) PushLiveSnapshot(s *snapshot.Snapshot) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simpleRequest(CmdPushLiveSnapshot, snapshot.EncodeSingle(s))
}

// PushArchiveSnapshot sends a historical snapshot to the server.
func (c *Channel) PushArchiveSnapshot(s *snapshot.Snapshot) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simpleRequest(CmdPushArchiveSnapshot, snapshot.EncodeSingle(s))
}

// PushEvent sends one event record to the server.
func (c *Channel) PushEvent(ev *eventlog.Event) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simpleRequest(CmdPushEvent, eventlog.EncodeRecord(ev))
}

// AckEvent acknowledges the numbered event of the given day on behalf of a
// user.
func (c *Channel) AckEvent(date time.Time, number, userID int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body := make([]byte, 7)
	putDate(body, date)
	binary.LittleEndian.PutUint16(body[3:], uint16(number))
	binary.LittleEndian.PutUint16(body[5:], uint16(userID))
	return c.simpleRequest(CmdAckEvent, body)
}

// SubmitTelecommand sends an operator command for delivery to a device.
func (c *Channel) SubmitTelecommand(tc *Telecommand) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simpleRequest(CmdSubmitTelecommand, encodeTelecommand(tc))
}

// PullTelecommand fetches the next queued telecommand, or nil when the
// queue is empty.
func (c *Channel) PullTelecommand() (*Telecommand, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.restore(); err != nil {
		return nil, err
	}
	resp, err := c.request(CmdPullTelecommand, nil)
	if err != nil {
		return nil, err
	}
	if len(resp) < 1 {
		return nil, c.fail(errors.Wrap(ErrBadResponse, "pull telecommand"))
	}
	if resp[0] == 0 {
		return nil, nil
	}
	tc, err := decodeTelecommand(resp[1:])
	if err != nil {
		return nil, c.fail(errors.Wrap(ErrBadResponse, err.Error()))
	}
	return tc, nil
}

// ReceiveFile streams a remote file in chunks of at most the configured
// chunk size. A chunk shorter than requested, including an empty one,
// signals end of file.
func (c *Channel) ReceiveFile(dir Dir, name string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.restore(); err != nil {
		return nil, err
	}

	body := make([]byte, 0, 4+len(name))
	body = append(body, byte(dir), byte(len(name)))
	body = append(body, name...)
	body = append(body, 0, 0)
	binary.LittleEndian.PutUint16(body[len(body)-2:], uint16(c.settings.ChunkSize))

	resp, err := c.request(CmdOpenFile, body)
	if err != nil {
		return nil, err
	}
	if len(resp) != 1 {
		return nil, c.fail(errors.Wrap(ErrBadResponse, "open file"))
	}
	if resp[0] == 0 {
		return nil, errors.Wrapf(ErrFileNotFound, "%s%s", dir.Prefix(), name)
	}

	var data []byte
	for {
		chunk, err := c.request(CmdReadFileChunk, nil)
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
		if len(chunk) < c.settings.ChunkSize {
			return data, nil
		}
	}
}

// ReceiveFileModTime queries a remote file's last-modification time. The
// zero time means the file does not exist.
func (c *Channel) ReceiveFileModTime(dir Dir, name string) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.restore(); err != nil {
		return time.Time{}, err
	}

	body := make([]byte, 0, 2+len(name))
	body = append(body, byte(dir), byte(len(name)))
	body = append(body, name...)

	resp, err := c.request(CmdFileModTime, body)
	if err != nil {
		return time.Time{}, err
	}
	if len(resp) != 8 {
		return time.Time{}, c.fail(errors.Wrap(ErrBadResponse, "file mod time"))
	}
	d := math.Float64frombits(binary.LittleEndian.Uint64(resp))
	if d == 0 {
		return time.Time{}, nil
	}
	return datafmt.DecodeTime(d), nil
}

// ReceiveTrend asks the server to extract one channel's series from an
// archive day server-side.
func (c *Channel) ReceiveTrend(dir Dir, date time.Time, channelNum int) (*snapshot.Trend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.restore(); err != nil {
		return nil, err
	}

	body := make([]byte, 6)
	body[0] = byte(dir)
	putDate(body[1:], date)
	binary.LittleEndian.PutUint16(body[4:], uint16(channelNum))

	resp, err := c.request(CmdTrendQuery, body)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, c.fail(errors.Wrap(ErrBadResponse, "trend query"))
	}
	count := int(binary.LittleEndian.Uint16(resp))
	const pointSize = 17
	if len(resp) != 2+pointSize*count {
		return nil, c.fail(errors.Wrap(ErrBadResponse, "trend point count"))
	}
	trend := &snapshot.Trend{ChannelNum: uint16(channelNum)}
	for i := 0; i < count; i++ {
		p := resp[2+pointSize*i:]
		trend.Points = append(trend.Points, snapshot.TrendPoint{
			Time:   datafmt.DecodeTime(math.Float64frombits(binary.LittleEndian.Uint64(p))),
			Value:  math.Float64frombits(binary.LittleEndian.Uint64(p[8:])),
			Status: p[16],
		})
	}
	trend.Sort()
	return trend, nil
}

// ---- connection management, all under the channel lock ----

// restore brings the channel back to Authorized if needed. Keep-alive pings
// and reconnection attempts are rate-limited independently so that neither
// happens on every call.
func (c *Channel) restore() error {
	now := time.Now()
	if c.conn != nil {
		if st := c.State(); st == Authorized || st == NotReady {
			if now.Sub(c.lastPing) < c.settings.PingInterval {
				return nil
			}
			if _, err := c.ping(); err == nil {
				return nil
			}
			// ping failed, the connection is gone; fall through
		}
	}
	if now.Sub(c.lastConnect) < c.settings.ReconnectInterval {
		return errors.Wrap(ErrNotConnected, "reconnection suppressed by backoff")
	}
	c.lastConnect = now
	if c.metrics != nil {
		c.metrics.ReconnectsTotal.Inc()
	}
	return c.connect()
}

// connect dials, consumes the server's 5-byte version greeting and
// authenticates. Only the reserved application role is accepted.
func (c *Channel) connect() error {
	c.closeConn()
	addr := net.JoinHostPort(c.settings.Host, strconv.Itoa(c.settings.Port))
	conn, err := c.dial(addr, c.settings.Timeout)
	if err != nil {
		c.setState(Error)
		return errors.Wrapf(err, "connect to %s", addr)
	}
	c.conn = conn

	greeting := make([]byte, 5)
	_ = conn.SetReadDeadline(time.Now().Add(c.settings.Timeout))
	if _, err := io.ReadFull(conn, greeting); err != nil {
		return c.fail(errors.Wrap(err, "read version greeting"))
	}
	if binary.LittleEndian.Uint16(greeting) != 5 || Command(greeting[2]) != CmdVersion {
		return c.fail(errors.Wrap(ErrBadResponse, "version greeting"))
	}
	version := binary.LittleEndian.Uint16(greeting[3:])
	c.setState(Connected)

	body := make([]byte, 0, 2+len(c.settings.Username)+len(c.settings.Password))
	body = append(body, byte(len(c.settings.Username)))
	body = append(body, c.settings.Username...)
	body = append(body, byte(len(c.settings.Password)))
	body = append(body, c.settings.Password...)
	resp, err := c.request(CmdAuthenticate, body)
	if err != nil {
		return err
	}
	if len(resp) != 1 {
		return c.fail(errors.Wrap(ErrBadResponse, "authenticate"))
	}
	switch role := Role(resp[0]); role {
	case RoleApp:
		// authorized
	case RoleDisabled, RoleErr:
		return c.fail(ErrBadCredentials)
	default:
		return c.fail(errors.Wrapf(ErrInsufficientRights, "role %d", role))
	}

	c.setState(Authorized)
	c.lastPing = time.Now()
	c.logger.Info("connected to server",
		zap.String("addr", addr), zap.Uint16("version", version))
	return nil
}

func (c *Channel) ping() (bool, error) {
	resp, err := c.request(CmdPing, nil)
	if err != nil {
		return false, err
	}
	if len(resp) != 1 {
		return false, c.fail(errors.Wrap(ErrBadResponse, "ping"))
	}
	c.lastPing = time.Now()
	if resp[0] != 0 {
		c.setState(Authorized)
		return true, nil
	}
	c.setState(NotReady)
	return false, nil
}

// simpleRequest runs a command whose reply is the fixed 4-byte result frame
// and returns its success byte as a boolean. A false result is a logical
// rejection, not a connection fault.
func (c *Channel) simpleRequest(cmd Command, body []byte) (bool, error) {
	if err := c.restore(); err != nil {
		return false, err
	}
	resp, err := c.request(cmd, body)
	if err != nil {
		return false, err
	}
	if len(resp) != 1 {
		return false, c.fail(errors.Wrapf(ErrBadResponse, "%s result", cmd))
	}
	return resp[0] != 0, nil
}

// request performs one framed exchange. When the previous exchange on this
// connection ended mid-response, stray bytes are drained first to
// resynchronize framing; a cleanly completed exchange leaves nothing behind,
// so the common case pays no drain window.
func (c *Channel) request(cmd Command, body []byte) ([]byte, error) {
	if c.conn == nil {
		return nil, c.fail(errors.Wrap(ErrNotConnected, cmd.String()))
	}
	if c.pending {
		c.drain()
		c.pending = false
	}

	frame := make([]byte, 3+len(body))
	binary.LittleEndian.PutUint16(frame, uint16(len(frame)))
	frame[2] = byte(cmd)
	copy(frame[3:], body)

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.settings.Timeout))
	if _, err := c.conn.Write(frame); err != nil {
		return nil, c.fail(errors.Wrapf(err, "send %s", cmd))
	}
	if c.metrics != nil {
		c.metrics.RequestsTotal.WithLabelValues(cmd.String()).Inc()
		c.metrics.BytesSent.Add(float64(len(frame)))
	}

	prev := c.State()
	c.setState(WaitingForResponse)
	c.pending = true
	resp, err := c.readResponse(cmd)
	if err != nil {
		return nil, c.fail(err)
	}
	c.pending = false
	c.setState(prev)
	return resp, nil
}

// readResponse accepts a response only if its declared length is fully read
// and its command byte echoes the request.
func (c *Channel) readResponse(cmd Command) ([]byte, error) {
	header := make([]byte, 3)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.settings.Timeout))
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, errors.Wrapf(err, "read %s response header", cmd)
	}
	total := int(binary.LittleEndian.Uint16(header))
	if total < 3 {
		return nil, errors.Wrapf(ErrBadResponse, "%s response length %d", cmd, total)
	}
	if got := Command(header[2]); got != cmd {
		return nil, errors.Wrapf(ErrBadResponse, "sent %s, got %s", cmd, got)
	}
	body := make([]byte, total-3)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, errors.Wrapf(err, "read %s response body", cmd)
	}
	if c.metrics != nil {
		c.metrics.BytesReceived.Add(float64(total))
	}
	return body, nil
}

// drain discards unread bytes left on the socket by an exchange that ended
// mid-response on a connection that was kept open.
func (c *Channel) drain() {
	if c.conn == nil {
		return
	}
	buf := make([]byte, 512)
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
	for {
		n, err := c.conn.Read(buf)
		if n == 0 || err != nil {
			return
		}
	}
}

// fail records a transport or protocol failure: the connection is dropped
// and the channel moves to Error. The caller's next operation triggers the
// reconnection policy.
func (c *Channel) fail(err error) error {
	c.closeConn()
	c.setState(Error)
	if c.metrics != nil {
		c.metrics.RequestErrors.Inc()
	}
	c.logger.Warn("server channel failure", zap.Error(err))
	return err
}

func (c *Channel) closeConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	// Leftover bytes die with the socket.
	c.pending = false
}

func putDate(b []byte, t time.Time) {
	u := t.UTC()
	b[0] = byte(u.Year() % 100)
	b[1] = byte(u.Month())
	b[2] = byte(u.Day())
}
