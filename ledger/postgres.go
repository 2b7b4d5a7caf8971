package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/onnwee/live-herald/db"
)

const tickKey = "ledger_tick"

// Postgres stores entries in session_ledger and the tick counter in kv.
type Postgres struct {
	db   *sql.DB
	tick atomic.Int64
}

// NewPostgres loads the persisted tick counter.
func NewPostgres(ctx context.Context, dbx *sql.DB) (*Postgres, error) {
	p := &Postgres{db: dbx}
	v, ok, err := db.GetKV(ctx, dbx, tickKey)
	if err != nil {
		return nil, fmt.Errorf("load ledger tick: %w", err)
	}
	if ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ledger tick %q: %w", v, err)
		}
		p.tick.Store(n)
	}
	return p, nil
}

func (p *Postgres) LastSessionFor(ctx context.Context, identity string) (string, bool, error) {
	var sid string
	err := p.db.QueryRowContext(ctx, `SELECT session_id FROM session_ledger WHERE identity=$1`, normalize(identity)).Scan(&sid)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ledger lookup: %w", err)
	}
	return sid, true, nil
}

// Record is a single upsert; its commit is the durability point.
func (p *Postgres) Record(ctx context.Context, identity, sessionID string) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO session_ledger(identity, session_id, announced_at, last_seen_tick)
		VALUES($1,$2,NOW(),$3)
		ON CONFLICT(identity) DO UPDATE SET
			session_id=EXCLUDED.session_id,
			announced_at=CASE WHEN session_ledger.session_id = EXCLUDED.session_id THEN session_ledger.announced_at ELSE NOW() END,
			last_seen_tick=EXCLUDED.last_seen_tick`,
		normalize(identity), sessionID, p.tick.Load())
	if err != nil {
		return fmt.Errorf("ledger record: %w", err)
	}
	return nil
}

func (p *Postgres) AdvanceTick(ctx context.Context) (int64, error) {
	n, err := db.IncrementKV(ctx, p.db, tickKey, 1)
	if err != nil {
		return 0, fmt.Errorf("advance ledger tick: %w", err)
	}
	p.tick.Store(n)
	return n, nil
}

func (p *Postgres) MarkSeen(ctx context.Context, identities []string) error {
	if len(identities) == 0 {
		return nil
	}
	ids := make([]string, len(identities))
	for i, id := range identities {
		ids[i] = normalize(id)
	}
	_, err := p.db.ExecContext(ctx, `UPDATE session_ledger SET last_seen_tick=$1 WHERE identity = ANY($2)`, p.tick.Load(), ids)
	if err != nil {
		return fmt.Errorf("ledger mark seen: %w", err)
	}
	return nil
}

func (p *Postgres) Prune(ctx context.Context, olderThanTicks int64) (int, error) {
	olderThanTicks = max(olderThanTicks, 1)
	res, err := p.db.ExecContext(ctx, `DELETE FROM session_ledger WHERE $1 - last_seen_tick >= $2`, p.tick.Load(), olderThanTicks)
	if err != nil {
		return 0, fmt.Errorf("ledger prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *Postgres) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT identity, session_id, announced_at, last_seen_tick FROM session_ledger ORDER BY identity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Identity, &e.SessionID, &e.AnnouncedAt, &e.LastSeenTick); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Tick returns the last tick loaded or advanced by this process.
func (p *Postgres) Tick() int64 { return p.tick.Load() }
