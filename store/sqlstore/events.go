package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/store"
	"github.com/google/uuid"
)

const eventColumns = `id, account_id, email, kind, success, reason, ip, user_agent, details, created_at`

// where renders f as a WHERE clause with '?' placeholders. It mirrors
// store.EventFilter.Match.
func where(f store.EventFilter, extra ...string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.AccountID != "" {
		conds = append(conds, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Email != "" {
		conds = append(conds, "email = ?")
		args = append(args, f.Email)
	}
	if f.IP != "" {
		conds = append(conds, "ip = ?")
		args = append(args, f.IP)
	}
	if len(f.Kinds) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(f.Kinds)), ", ")
		conds = append(conds, "kind IN ("+marks+")")
		for _, k := range f.Kinds {
			args = append(args, string(k))
		}
	}
	if f.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, *f.Success)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, nanos(f.Since))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, nanos(f.Until))
	}
	if f.ExcludeReason != "" {
		conds = append(conds, "reason <> ?")
		args = append(args, f.ExcludeReason)
	}
	conds = append(conds, extra...)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) InsertEvent(ctx context.Context, event *store.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	details := "{}"
	if len(event.Details) > 0 {
		b, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("sqlstore: encode details: %w", err)
		}
		details = string(b)
	}

	query := `INSERT INTO gg_audit_events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		event.ID, event.AccountID, event.Email, string(event.Kind), event.Success,
		event.Reason, event.IP, event.UserAgent, details, nanos(event.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("sqlstore: insert event: %w", err)
	}
	return nil
}

func (s *Store) CountEvents(ctx context.Context, filter store.EventFilter) (int, error) {
	clause, args := where(filter)
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM gg_audit_events`+clause), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: count events: %w", err)
	}
	return n, nil
}

func (s *Store) FindEvents(ctx context.Context, filter store.EventFilter, page store.Page) ([]store.AuditEvent, error) {
	clause, args := where(filter)
	order := " ORDER BY created_at DESC, seq DESC"
	if page.OldestFirst {
		order = " ORDER BY created_at ASC, seq ASC"
	}
	query := `SELECT ` + eventColumns + ` FROM gg_audit_events` + clause + order

	switch {
	case page.Limit > 0:
		query += " LIMIT ?"
		args = append(args, page.Limit)
	case page.Offset > 0 && s.dialect == SQLite:
		// SQLite only accepts OFFSET after a LIMIT.
		query += " LIMIT -1"
	}
	if page.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, page.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: find events: %w", err)
	}
	defer rows.Close()

	out := make([]store.AuditEvent, 0)
	for rows.Next() {
		var (
			ev        store.AuditEvent
			kind      string
			details   string
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.AccountID, &ev.Email, &kind, &ev.Success,
			&ev.Reason, &ev.IP, &ev.UserAgent, &details, &createdAt); err != nil {
			return nil, err
		}
		ev.Kind = store.EventKind(kind)
		ev.CreatedAt = fromNanos(createdAt)
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
				return nil, fmt.Errorf("sqlstore: decode details: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// countableIP keeps IP aggregations to real client addresses.
const countableIP = "ip <> '' AND ip <> '" + store.UnknownIP + "'"

func (s *Store) CountDistinctIPs(ctx context.Context, filter store.EventFilter) (int, error) {
	clause, args := where(filter, countableIP)
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(DISTINCT ip) FROM gg_audit_events`+clause), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: count distinct ips: %w", err)
	}
	return n, nil
}

func (s *Store) ActivityByIP(ctx context.Context, filter store.EventFilter) ([]store.IPActivity, error) {
	clause, args := where(filter, countableIP)
	query := `SELECT ip, COUNT(*), SUM(CASE WHEN success THEN 0 ELSE 1 END)
		FROM gg_audit_events` + clause + ` GROUP BY ip ORDER BY ip`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: activity by ip: %w", err)
	}
	defer rows.Close()

	out := make([]store.IPActivity, 0)
	for rows.Next() {
		var a store.IPActivity
		if err := rows.Scan(&a.IP, &a.Attempts, &a.Failures); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) IPSpreadByAccount(ctx context.Context, filter store.EventFilter) ([]store.AccountIPSpread, error) {
	clause, args := where(filter, "account_id <> ''", countableIP)
	query := `SELECT account_id, COUNT(DISTINCT ip)
		FROM gg_audit_events` + clause + ` GROUP BY account_id ORDER BY account_id`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: ip spread: %w", err)
	}
	defer rows.Close()

	out := make([]store.AccountIPSpread, 0)
	for rows.Next() {
		var sp store.AccountIPSpread
		if err := rows.Scan(&sp.AccountID, &sp.DistinctIPs); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM gg_audit_events WHERE created_at < ?`), nanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sqlstore: delete events: %w", err)
	}
	return res.RowsAffected()
}
