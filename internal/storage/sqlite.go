package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindd/internal/model"
	logx "remindd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite store, creating the database file and applying
// migrations as needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage: path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Calendar read side ----

func (s *sqliteStore) ListSchedulableEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, start_at, end_at, freq, recur_interval, recur_count, recur_until,
		        lead_minutes, is_cancelled, created_at
		   FROM events
		  WHERE is_cancelled = 0
		  ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			ev        model.Event
			startMS   int64
			endMS     int64
			untilMS   sql.NullInt64
			cancelled int
			createdMS int64
		)
		if err := rows.Scan(&ev.ID, &ev.Title, &startMS, &endMS,
			&ev.Rule.Freq, &ev.Rule.Interval, &ev.Rule.Count, &untilMS,
			&ev.LeadMinutes, &cancelled, &createdMS); err != nil {
			return nil, err
		}
		ev.StartAt = timeOf(startMS)
		ev.EndAt = timeOf(endMS)
		if untilMS.Valid {
			ev.Rule.Until = timeOf(untilMS.Int64)
		}
		ev.IsCancelled = cancelled != 0
		ev.CreatedAt = timeOf(createdMS)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListExceptions(ctx context.Context, eventID int64) ([]model.Exception, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, original_start, modified_start, is_cancelled
		   FROM event_exceptions WHERE event_id = ?`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Exception
	for rows.Next() {
		var (
			ex         model.Exception
			origMS     int64
			modMS      sql.NullInt64
			cancelled  int
		)
		if err := rows.Scan(&ex.EventID, &origMS, &modMS, &cancelled); err != nil {
			return nil, err
		}
		ex.OriginalStart = timeOf(origMS)
		if modMS.Valid {
			t := timeOf(modMS.Int64)
			ex.ModifiedStart = &t
		}
		ex.IsCancelled = cancelled != 0
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListAttendees(ctx context.Context, eventID int64) ([]model.Attendee, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, user_id, status, is_optional, lead_minutes
		   FROM event_attendees WHERE event_id = ? ORDER BY user_id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Attendee
	for rows.Next() {
		var (
			a        model.Attendee
			optional int
		)
		if err := rows.Scan(&a.EventID, &a.UserID, &a.Status, &optional, &a.LeadMinutes); err != nil {
			return nil, err
		}
		a.IsOptional = optional != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertEvent(ctx context.Context, ev model.Event) (int64, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if ev.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO events(title, start_at, end_at, freq, recur_interval, recur_count, recur_until, lead_minutes, is_cancelled, created_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?)`,
			ev.Title, msOf(ev.StartAt), msOf(ev.EndAt),
			int(ev.Rule.Freq), ev.Rule.Interval, ev.Rule.Count, nullTime(ev.Rule.Until),
			ev.LeadMinutes, boolInt(ev.IsCancelled), msOf(ev.CreatedAt))
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET title=?, start_at=?, end_at=?, freq=?, recur_interval=?, recur_count=?,
		        recur_until=?, lead_minutes=?, is_cancelled=? WHERE id=?`,
		ev.Title, msOf(ev.StartAt), msOf(ev.EndAt),
		int(ev.Rule.Freq), ev.Rule.Interval, ev.Rule.Count, nullTime(ev.Rule.Until),
		ev.LeadMinutes, boolInt(ev.IsCancelled), ev.ID)
	return ev.ID, err
}

func (s *sqliteStore) PutException(ctx context.Context, ex model.Exception) error {
	var mod any
	if ex.ModifiedStart != nil {
		mod = msOf(*ex.ModifiedStart)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_exceptions(event_id, original_start, modified_start, is_cancelled)
		 VALUES(?,?,?,?)
		 ON CONFLICT(event_id, original_start)
		 DO UPDATE SET modified_start=excluded.modified_start, is_cancelled=excluded.is_cancelled`,
		ex.EventID, msOf(ex.OriginalStart), mod, boolInt(ex.IsCancelled))
	return err
}

func (s *sqliteStore) PutAttendee(ctx context.Context, a model.Attendee) error {
	if a.Status == "" {
		a.Status = model.AttendeePending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_attendees(event_id, user_id, status, is_optional, lead_minutes)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(event_id, user_id)
		 DO UPDATE SET status=excluded.status, is_optional=excluded.is_optional, lead_minutes=excluded.lead_minutes`,
		a.EventID, a.UserID, string(a.Status), boolInt(a.IsOptional), a.LeadMinutes)
	return err
}

// ---- Dedup ledger ----

// RecordReminder is the atomic insert-if-absent primitive. The uniqueness
// check and the write are a single statement; RowsAffected distinguishes a
// fresh insert from an already-recorded key.
func (s *sqliteStore) RecordReminder(ctx context.Context, key model.LedgerKey, sentAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_ledger(event_id, user_id, occurrence_start, lead_minutes, sent_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(event_id, user_id, occurrence_start, lead_minutes) DO NOTHING`,
		key.EventID, key.UserID, msOf(key.OccurrenceStart), key.LeadMinutes, msOf(sentAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) CountLedgerEntries(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reminder_ledger`).Scan(&n)
	return n, err
}

// ---- Notifications ----

func (s *sqliteStore) CreateNotification(ctx context.Context, n model.Notification) error {
	var occ any
	if n.OccurrenceStart != nil {
		occ = msOf(*n.OccurrenceStart)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(id, event_id, user_id, type, occurrence_start, message, is_read, is_delivered, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		n.ID, n.EventID, n.UserID, string(n.Type), occ, n.Message,
		boolInt(n.IsRead), boolInt(n.IsDelivered), msOf(n.CreatedAt))
	return err
}

// ListUndelivered returns undelivered notifications oldest-created-first so
// old records cannot starve behind a volume spike.
func (s *sqliteStore) ListUndelivered(ctx context.Context, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, user_id, type, occurrence_start, message, is_read, is_delivered, created_at
		   FROM notifications
		  WHERE is_delivered = 0
		  ORDER BY created_at ASC, id ASC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkDelivered flips is_delivered exactly once. It returns false when the
// record was already delivered (or does not exist), which callers treat as
// "someone else completed it".
func (s *sqliteStore) MarkDelivered(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_delivered = 1 WHERE id = ? AND is_delivered = 0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) CountNotifications(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications`).Scan(&n)
	return n, err
}

func scanNotification(rows *sql.Rows) (model.Notification, error) {
	var (
		n         model.Notification
		occMS     sql.NullInt64
		read      int
		delivered int
		createdMS int64
	)
	if err := rows.Scan(&n.ID, &n.EventID, &n.UserID, &n.Type, &occMS, &n.Message,
		&read, &delivered, &createdMS); err != nil {
		return model.Notification{}, err
	}
	if occMS.Valid {
		t := timeOf(occMS.Int64)
		n.OccurrenceStart = &t
	}
	n.IsRead = read != 0
	n.IsDelivered = delivered != 0
	n.CreatedAt = timeOf(createdMS)
	return n, nil
}

// ---- Recipients ----

func (s *sqliteStore) GetUser(ctx context.Context, id int64) (model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, org_id FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.DisplayName, &u.OrgID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

func (s *sqliteStore) GetOrganization(ctx context.Context, id int64) (model.Organization, error) {
	var (
		o       model.Organization
		active  int
		sandbox int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, is_active, is_sandbox FROM organizations WHERE id = ?`, id).
		Scan(&o.ID, &o.Name, &active, &sandbox)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Organization{}, ErrNotFound
	}
	o.IsActive = active != 0
	o.IsSandbox = sandbox != 0
	return o, err
}

func (s *sqliteStore) CreateUser(ctx context.Context, u model.User) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(email, display_name, org_id) VALUES(?,?,?)`,
		u.Email, u.DisplayName, u.OrgID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) CreateOrganization(ctx context.Context, o model.Organization) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations(name, is_active, is_sandbox) VALUES(?,?,?)`,
		o.Name, boolInt(o.IsActive), boolInt(o.IsSandbox))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ---- Tenants and channels ----

func (s *sqliteStore) ListActiveTenants(ctx context.Context) ([]model.Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, is_active, is_sandbox FROM organizations WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Organization
	for rows.Next() {
		var (
			o       model.Organization
			active  int
			sandbox int
		)
		if err := rows.Scan(&o.ID, &o.Name, &active, &sandbox); err != nil {
			return nil, err
		}
		o.IsActive = active != 0
		o.IsSandbox = sandbox != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ChannelByKind(ctx context.Context, orgID int64, kind string) (model.Channel, bool, error) {
	var ch model.Channel
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, kind, external_id FROM channels WHERE org_id = ? AND kind = ?`,
		orgID, kind).Scan(&ch.ID, &ch.OrgID, &ch.Kind, &ch.ExternalID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Channel{}, false, nil
	}
	if err != nil {
		return model.Channel{}, false, err
	}
	return ch, true, nil
}

// CreateChannel is idempotent on (org_id, kind): a concurrent creator wins the
// insert and both callers read back the same row.
func (s *sqliteStore) CreateChannel(ctx context.Context, ch model.Channel) (model.Channel, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(org_id, kind, external_id) VALUES(?,?,?)
		 ON CONFLICT(org_id, kind) DO NOTHING`,
		ch.OrgID, ch.Kind, ch.ExternalID)
	if err != nil {
		return model.Channel{}, err
	}
	got, ok, err := s.ChannelByKind(ctx, ch.OrgID, ch.Kind)
	if err != nil {
		return model.Channel{}, err
	}
	if !ok {
		return model.Channel{}, ErrNotFound
	}
	return got, nil
}

func (s *sqliteStore) EnsureChannelMember(ctx context.Context, channelID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_members(channel_id, user_id) VALUES(?,?)
		 ON CONFLICT(channel_id, user_id) DO NOTHING`,
		channelID, userID)
	return err
}

// ---- Announcements ----

func (s *sqliteStore) CreateAnnouncement(ctx context.Context, a model.Announcement) (int64, error) {
	handles, err := json.Marshal(handlesOrEmpty(a.Handles))
	if err != nil {
		return 0, err
	}
	var end any
	if a.EndAt != nil {
		end = msOf(*a.EndAt)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO announcements(message, publish_at, end_at, is_processed, processed_at, handles)
		 VALUES(?,?,?,?,?,?)`,
		a.Message, msOf(a.PublishAt), end, boolInt(a.IsProcessed), nil, string(handles))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) GetAnnouncement(ctx context.Context, id int64) (model.Announcement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, message, publish_at, end_at, is_processed, processed_at, handles
		   FROM announcements WHERE id = ?`, id)
	a, err := scanAnnouncement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Announcement{}, ErrNotFound
	}
	return a, err
}

func (s *sqliteStore) DueAnnouncements(ctx context.Context, now time.Time) ([]model.Announcement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message, publish_at, end_at, is_processed, processed_at, handles
		   FROM announcements
		  WHERE is_processed = 0 AND publish_at <= ?
		  ORDER BY publish_at ASC, id ASC`, msOf(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkAnnouncementProcessed(ctx context.Context, id int64, processedAt time.Time, handles []model.DeliveryHandle) error {
	b, err := json.Marshal(handlesOrEmpty(handles))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE announcements SET is_processed = 1, processed_at = ?, handles = ?
		  WHERE id = ? AND is_processed = 0`,
		msOf(processedAt), string(b), id)
	return err
}

func (s *sqliteStore) ClearAnnouncementHandles(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE announcements SET handles = '[]' WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnouncement(row rowScanner) (model.Announcement, error) {
	var (
		a           model.Announcement
		publishMS   int64
		endMS       sql.NullInt64
		processed   int
		processedMS sql.NullInt64
		handles     string
	)
	if err := row.Scan(&a.ID, &a.Message, &publishMS, &endMS, &processed, &processedMS, &handles); err != nil {
		return model.Announcement{}, err
	}
	a.PublishAt = timeOf(publishMS)
	if endMS.Valid {
		t := timeOf(endMS.Int64)
		a.EndAt = &t
	}
	a.IsProcessed = processed != 0
	if processedMS.Valid {
		t := timeOf(processedMS.Int64)
		a.ProcessedAt = &t
	}
	if err := json.Unmarshal([]byte(handles), &a.Handles); err != nil {
		return model.Announcement{}, fmt.Errorf("storage: decode handles for announcement %d: %w", a.ID, err)
	}
	return a, nil
}

// ---- Helpers ----

func msOf(t time.Time) int64 { return t.UnixMilli() }

func timeOf(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return msOf(t)
}

func handlesOrEmpty(h []model.DeliveryHandle) []model.DeliveryHandle {
	if h == nil {
		return []model.DeliveryHandle{}
	}
	return h
}
