package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Versifine/hoverwheel/internal/wheel"
)

var (
	ErrSessionNotFound = errors.New("record: session not found")
	ErrClosed          = errors.New("record: recorder closed")
	ErrQueueFull       = errors.New("record: frame queue full")
)

type FrameKind int

const (
	FrameAxes FrameKind = iota
	FrameConnect
	FrameDisconnect
)

func (k FrameKind) String() string {
	switch k {
	case FrameAxes:
		return "axes"
	case FrameConnect:
		return "connect"
	case FrameDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

func (k FrameKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Frame is one controller action, positioned by its offset from session start.
type Frame struct {
	Offset time.Duration `json:"offset"`
	Kind   FrameKind     `json:"kind"`
	Axes   wheel.Axes    `json:"axes"`
}

type SessionInfo struct {
	ID         string    `json:"id"`
	ClientName string    `json:"client_name"`
	RemoteAddr string    `json:"remote_addr"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitzero"`
	Frames     int       `json:"frames"`
}

type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

func (o *Options) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 256
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 200 * time.Millisecond
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 4096
	}
}

type entry struct {
	sessionID string
	frame     Frame
}

// Recorder persists sessions. Frames are queued by Append and written in
// batches by a single writer goroutine.
type Recorder struct {
	db   *sql.DB
	opts Options

	mu       sync.RWMutex
	closed   bool
	queue    chan entry
	flushReq chan chan error
	done     chan struct{}

	dropped atomic.Uint64
}

// Open opens the database at path, applies migrations and starts the writer.
func Open(path string, opts Options) (*Recorder, error) {
	opts.setDefaults()
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	r := &Recorder{
		db:       db,
		opts:     opts,
		queue:    make(chan entry, opts.QueueSize),
		flushReq: make(chan chan error),
		done:     make(chan struct{}),
	}
	go r.run()
	return r, nil
}

func (r *Recorder) Begin(ctx context.Context, info SessionInfo) error {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO sessions (id, client_name, remote_addr, started_at) VALUES (?, ?, ?, ?)",
		info.ID, info.ClientName, info.RemoteAddr, info.StartedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("record: begin session %s: %w", info.ID, err)
	}
	return nil
}

// Append queues a frame without blocking. A full queue drops the frame.
func (r *Recorder) Append(sessionID string, f Frame) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.queue <- entry{sessionID: sessionID, frame: f}:
		return nil
	default:
		r.dropped.Add(1)
		return ErrQueueFull
	}
}

// Flush blocks until every frame appended before the call is written.
func (r *Recorder) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case r.flushReq <- reply:
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) End(ctx context.Context, sessionID string) error {
	if err := r.Flush(ctx); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, "UPDATE sessions SET ended_at = ? WHERE id = ?", time.Now().UnixMicro(), sessionID)
	if err != nil {
		return fmt.Errorf("record: end session %s: %w", sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Sessions lists recorded sessions, newest first.
func (r *Recorder) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.client_name, s.remote_addr, s.started_at, s.ended_at,
		       (SELECT COUNT(*) FROM frames f WHERE f.session_id = s.id)
		FROM sessions s
		ORDER BY s.started_at DESC, s.id`)
	if err != nil {
		return nil, fmt.Errorf("record: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var (
			info    SessionInfo
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&info.ID, &info.ClientName, &info.RemoteAddr, &started, &ended, &info.Frames); err != nil {
			return nil, fmt.Errorf("record: scan session: %w", err)
		}
		info.StartedAt = time.UnixMicro(started)
		if ended.Valid {
			info.EndedAt = time.UnixMicro(ended.Int64)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Frames returns the frames of one session in playback order.
func (r *Recorder) Frames(ctx context.Context, sessionID string) ([]Frame, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE id = ?", sessionID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("record: lookup session: %w", err)
	}
	if exists == 0 {
		return nil, ErrSessionNotFound
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT offset_us, kind, left_x, left_y, right_x, right_y
		FROM frames WHERE session_id = ?
		ORDER BY offset_us, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("record: list frames: %w", err)
	}
	defer rows.Close()

	var out []Frame
	for rows.Next() {
		var (
			f        Frame
			offsetUS int64
		)
		if err := rows.Scan(&offsetUS, &f.Kind, &f.Axes.LeftX, &f.Axes.LeftY, &f.Axes.RightX, &f.Axes.RightY); err != nil {
			return nil, fmt.Errorf("record: scan frame: %w", err)
		}
		f.Offset = time.Duration(offsetUS) * time.Microsecond
		out = append(out, f)
	}
	return out, rows.Err()
}

// Dropped counts frames lost to a full queue or a failed batch.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close writes the queued frames and closes the database.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	return r.db.Close()
}

func (r *Recorder) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]entry, 0, r.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := r.insert(batch)
		if err != nil {
			r.dropped.Add(uint64(len(batch)))
			slog.Warn("Writing frame batch failed", "frames", len(batch), "error", err)
		}
		batch = batch[:0]
		return err
	}

	for {
		select {
		case e, ok := <-r.queue:
			if !ok {
				_ = flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= r.opts.BatchSize {
				_ = flush()
			}
		case <-ticker.C:
			_ = flush()
		case reply := <-r.flushReq:
		drain:
			for {
				select {
				case e, ok := <-r.queue:
					if !ok {
						break drain
					}
					batch = append(batch, e)
				default:
					break drain
				}
			}
			reply <- flush()
		}
	}
}

func (r *Recorder) insert(batch []entry) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO frames (session_id, offset_us, kind, left_x, left_y, right_x, right_y)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		a := e.frame.Axes
		if _, err := stmt.Exec(e.sessionID, e.frame.Offset.Microseconds(), int(e.frame.Kind),
			finite(a.LeftX), finite(a.LeftY), finite(a.RightX), finite(a.RightY)); err != nil {
			return fmt.Errorf("insert frame: %w", err)
		}
	}
	return tx.Commit()
}

// finite maps NaN and infinities to zero. The driver stores NaN as NULL,
// which the frames columns reject.
func finite(v float32) float64 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
