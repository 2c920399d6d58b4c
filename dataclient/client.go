// Package dataclient glues the server channel, the file codecs and the
// bounded cache together: every logical object is fetched and parsed at
// most once, shared across callers, and re-verified against the server's
// file-modification time before reuse.
package dataclient

import (
	"bytes"
	"time"

	"go.uber.org/zap"

	"github.com/shouqitao/scada-sub001/cache"
	"github.com/shouqitao/scada-sub001/comm"
	"github.com/shouqitao/scada-sub001/config"
	"github.com/shouqitao/scada-sub001/configtable"
	"github.com/shouqitao/scada-sub001/datafmt"
	"github.com/shouqitao/scada-sub001/eventlog"
	"github.com/shouqitao/scada-sub001/metrics"
	"github.com/shouqitao/scada-sub001/snapshot"
)

// Server is the slice of the channel API the facade needs. *comm.Channel
// implements it; tests substitute a stub.
type Server interface {
	ReceiveFile(dir comm.Dir, name string) ([]byte, error)
	ReceiveFileModTime(dir comm.Dir, name string) (time.Time, error)
	ReceiveTrend(dir comm.Dir, date time.Time, channelNum int) (*snapshot.Trend, error)
}

var _ Server = (*comm.Channel)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

// WithMetrics sets the cache metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

// WithClock replaces the time source, used by tests.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// Client is the cached read path of the data-access core.
type Client struct {
	server   Server
	validity time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	tables *cache.Cache[string, *configtable.Table]
	snaps  *cache.Cache[string, *snapshot.Table]
	events *cache.Cache[string, *eventlog.Log]
}

// New creates a client on top of an authorized (or lazily connecting)
// server channel.
func New(server Server, cfg config.CacheSettings, opts ...Option) *Client {
	c := &Client{
		server:   server,
		validity: cfg.Validity,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tables = cache.New[string, *configtable.Table](cfg.Capacity, cfg.Retention, c.logger, c.metrics)
	c.snaps = cache.New[string, *snapshot.Table](cfg.Capacity, cfg.Retention, c.logger, c.metrics)
	c.events = cache.New[string, *eventlog.Log](cfg.Capacity, cfg.Retention, c.logger, c.metrics)
	return c
}

// ConfigTable returns the named configuration table, fetching it from the
// server only when the cached copy is missing or stale.
func (c *Client) ConfigTable(name string) (*configtable.Table, error) {
	fileName := name + ".dat"
	return fetch(c, c.tables, comm.DirConfig, fileName, func(data []byte) (*configtable.Table, error) {
		t := configtable.NewTable(name)
		if err := configtable.Read(bytes.NewReader(data), t); err != nil {
			return nil, err
		}
		return t, nil
	})
}

// CurrentSnapshot returns the latest-values snapshot table.
func (c *Client) CurrentSnapshot() (*snapshot.Table, error) {
	return fetch(c, c.snaps, comm.DirCurrent, datafmt.CurrentFileName, c.decodeSnapshots)
}

// SnapshotTable returns one day of the minute or hour archive.
func (c *Client) SnapshotTable(kind datafmt.ArchiveKind, date time.Time) (*snapshot.Table, error) {
	return fetch(c, c.snaps, dirForKind(kind), datafmt.SnapshotFileName(kind, date), c.decodeSnapshots)
}

// Trend returns one channel's series for an archive day, extracted by the
// server.
func (c *Client) Trend(kind datafmt.ArchiveKind, date time.Time, channelNum int) (*snapshot.Trend, error) {
	return c.server.ReceiveTrend(dirForKind(kind), date, channelNum)
}

// Events returns one day's event log.
func (c *Client) Events(date time.Time) (*eventlog.Log, error) {
	name := datafmt.EventFileName(date)
	return fetch(c, c.events, comm.DirEvents, name, func(data []byte) (*eventlog.Log, error) {
		l := eventlog.NewLog(date)
		if err := eventlog.Read(bytes.NewReader(data), l); err != nil {
			return nil, err
		}
		return l, nil
	})
}

// CleanUp evicts cache entries per the retention and capacity bounds.
func (c *Client) CleanUp() {
	now := c.now()
	c.tables.RemoveStale(now)
	c.snaps.RemoveStale(now)
	c.events.RemoveStale(now)
}

func (c *Client) decodeSnapshots(data []byte) (*snapshot.Table, error) {
	t := snapshot.NewTable()
	if err := snapshot.Read(bytes.NewReader(data), t, c.logger); err != nil {
		return nil, err
	}
	return t, nil
}

func dirForKind(kind datafmt.ArchiveKind) comm.Dir {
	switch kind {
	case datafmt.ArchiveMinute:
		return comm.DirMinute
	case datafmt.ArchiveHour:
		return comm.DirHour
	default:
		return comm.DirCurrent
	}
}

// fetch implements the shared cache discipline: the per-entry lock bounds
// materialization to one goroutine per key, a recent refresh skips even the
// modification-time probe, and an unchanged modification time revalidates
// the cached object without a transfer.
func fetch[V any](c *Client, objCache *cache.Cache[string, V], dir comm.Dir, name string,
	decode func([]byte) (V, error)) (V, error) {

	var zero V
	key := dir.Prefix() + name
	now := c.now()
	entry := objCache.GetOrCreate(key, now)
	entry.Lock()
	defer entry.Unlock()

	if entry.WithinValidity(now, c.validity) {
		return entry.Value, nil
	}

	freshness, err := c.server.ReceiveFileModTime(dir, name)
	if err != nil {
		return zero, err
	}
	if !entry.Outdated(freshness) {
		objCache.Update(entry, entry.Value, freshness, now)
		return entry.Value, nil
	}

	data, err := c.server.ReceiveFile(dir, name)
	if err != nil {
		return zero, err
	}
	value, err := decode(data)
	if err != nil {
		return zero, err
	}
	objCache.Update(entry, value, freshness, now)
	c.logger.Debug("object refreshed from server",
		zap.String("key", key), zap.Time("freshness", freshness), zap.Int("bytes", len(data)))
	return value, nil
}
