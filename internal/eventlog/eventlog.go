// Package eventlog turns committed session events into plain audit records and hands
// them to a sink off the room goroutine. Losing records never affects a match.
package eventlog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/guess-who-backend/internal/session"
)

type Record struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	Room          string    `gorm:"size:8;index:idx_room_version" json:"room"`
	Version       int       `gorm:"index:idx_room_version" json:"version"`
	Seq           int       `json:"seq"`
	Type          string    `gorm:"size:40" json:"type"`
	Round         int       `json:"round,omitempty"`
	ParticipantID string    `gorm:"size:64" json:"participantId,omitempty"`
	TargetID      string    `gorm:"size:64" json:"targetId,omitempty"`
	CharacterID   string    `gorm:"size:64" json:"characterId,omitempty"`
	Text          string    `json:"text,omitempty"`
	Category      string    `gorm:"size:16" json:"category,omitempty"`
	Answer        string    `gorm:"size:16" json:"answer,omitempty"`
	Correct       bool      `json:"correct"`
	Status        string    `gorm:"size:16" json:"status,omitempty"`
	Reason        string    `gorm:"size:64" json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

func (Record) TableName() string { return "session_events" }

// FromCommit flattens a commit into one record per event, in order.
func FromCommit(c session.Commit) []Record {
	out := make([]Record, 0, len(c.Events))
	for i, e := range c.Events {
		out = append(out, Record{
			Room:          c.Code,
			Version:       c.Version,
			Seq:           i,
			Type:          string(e.Type),
			Round:         e.Round,
			ParticipantID: e.ParticipantID,
			TargetID:      e.TargetID,
			CharacterID:   e.CharacterID,
			Text:          e.Text,
			Category:      string(e.Category),
			Answer:        string(e.Answer),
			Correct:       e.Correct,
			Status:        string(e.Status),
			Reason:        e.Reason,
			At:            e.At,
		})
	}
	return out
}

type Sink interface {
	Write(ctx context.Context, records []Record) error
}

// Recorder buffers records from commits and writes them in batches.
type Recorder struct {
	sink  Sink
	log   *zap.Logger
	in    chan Record
	batch int
	every time.Duration
}

type Option func(*Recorder)

func WithBuffer(n int) Option { return func(r *Recorder) { r.in = make(chan Record, n) } }

func WithBatch(n int, every time.Duration) Option {
	return func(r *Recorder) {
		r.batch = n
		r.every = every
	}
}

func NewRecorder(sink Sink, log *zap.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		sink:  sink,
		log:   log.Named("eventlog"),
		in:    make(chan Record, 1024),
		batch: 64,
		every: time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Committed queues the commit's records. It never blocks the room; a full buffer drops.
func (r *Recorder) Committed(c session.Commit) {
	for _, rec := range FromCommit(c) {
		select {
		case r.in <- rec:
		default:
			r.log.Warn("event log buffer full, dropping record",
				zap.String("room", rec.Room), zap.Int("version", rec.Version), zap.String("event", rec.Type))
		}
	}
}

// Run writes batches until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	pending := make([]Record, 0, r.batch)
	flush := func(ctx context.Context) {
		if len(pending) == 0 {
			return
		}
		if err := r.sink.Write(ctx, pending); err != nil {
			r.log.Warn("event log write failed", zap.Int("records", len(pending)), zap.Error(err))
		}
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case rec := <-r.in:
					pending = append(pending, rec)
				default:
					break drain
				}
			}
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(drainCtx)
			cancel()
			return nil

		case rec := <-r.in:
			pending = append(pending, rec)
			if len(pending) >= r.batch {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)
		}
	}
}

// LogSink writes records to the logger only.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Write(_ context.Context, records []Record) error {
	for _, rec := range records {
		s.Log.Debug("session event",
			zap.String("room", rec.Room),
			zap.Int("version", rec.Version),
			zap.String("event", rec.Type),
			zap.String("participant", rec.ParticipantID))
	}
	return nil
}
