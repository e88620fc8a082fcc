package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyBus decorates a Bus with a PostgreSQL LISTEN/NOTIFY transport so
// events published in one process reach subscribers registered in another
// (e.g. an orchestrator replica and a separate API-facing replica sharing a
// database), grounded on the teacher's NotifyListener receive-loop design.
type NotifyBus struct {
	*Bus

	pool       *pgxpool.Pool
	pgChannel  string
	cancelLoop context.CancelFunc
	loopDone   chan struct{}
	startOnce  sync.Once
}

// NewNotifyBus wraps bus with cross-process fanout over the given pool.
// pgChannel is the single PostgreSQL NOTIFY channel multiplexing all run
// channels; events carry their own RunID so the receive loop can re-dispatch
// to the right local subscribers.
func NewNotifyBus(bus *Bus, pool *pgxpool.Pool, pgChannel string) *NotifyBus {
	return &NotifyBus{
		Bus:       bus,
		pool:      pool,
		pgChannel: pgChannel,
	}
}

// Start opens a dedicated LISTEN connection and begins relaying NOTIFYs into
// the local Bus. It must be called once before Publish is used cross-process.
func (n *NotifyBus) Start(ctx context.Context) error {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire LISTEN connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{n.pgChannel}.Sanitize()); err != nil {
		conn.Release()
		return fmt.Errorf("failed to LISTEN on %s: %w", n.pgChannel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	n.cancelLoop = cancel
	n.loopDone = make(chan struct{})

	go n.receiveLoop(loopCtx, conn)

	return nil
}

// Stop terminates the receive loop and releases the LISTEN connection.
func (n *NotifyBus) Stop() {
	if n.cancelLoop != nil {
		n.cancelLoop()
		<-n.loopDone
	}
}

func (n *NotifyBus) receiveLoop(ctx context.Context, conn *pgxpool.Conn) {
	defer close(n.loopDone)
	defer conn.Release()

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("notify bus receive loop error", "error", err)
			return
		}

		var event Event
		if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
			slog.Warn("failed to unmarshal cross-process event", "error", err)
			continue
		}

		n.Bus.Publish(event)
	}
}

// Publish delivers the event to local subscribers and, best-effort, NOTIFYs
// other processes. A NOTIFY failure is logged, not returned: the graph must
// not stall or fail a run because the notification side-channel is down.
func (n *NotifyBus) Publish(ctx context.Context, event Event) {
	n.Bus.Publish(event)

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal event for cross-process notify", "error", err)
		return
	}

	if _, err := n.pool.Exec(ctx, "SELECT pg_notify($1, $2)", n.pgChannel, string(payload)); err != nil {
		slog.Warn("failed to publish cross-process notify", "error", err)
	}
}
