package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/fundradar/radar/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is meant
// for single-node and local development deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	date         TEXT NOT NULL,
	slot         TEXT NOT NULL,
	window_start DATETIME NOT NULL,
	window_end   DATETIME NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	stats        TEXT NOT NULL DEFAULT '{}',
	started_at   DATETIME NOT NULL,
	finished_at  DATETIME,
	error        TEXT,
	UNIQUE (date, slot)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_date ON runs(date);

CREATE TABLE IF NOT EXISTS items (
	id           TEXT PRIMARY KEY,
	external_id  TEXT NOT NULL UNIQUE,
	source_id    TEXT NOT NULL DEFAULT '',
	source_name  TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL,
	url          TEXT NOT NULL DEFAULT '',
	published_at DATETIME NOT NULL,
	raw_html     TEXT NOT NULL DEFAULT '',
	text         TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	fetched_at   DATETIME NOT NULL,
	analyzed_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_items_published_at ON items(published_at);
CREATE INDEX IF NOT EXISTS idx_items_status_published ON items(status, published_at);

CREATE TABLE IF NOT EXISTS verdicts (
	id               TEXT PRIMARY KEY,
	item_id          TEXT NOT NULL UNIQUE REFERENCES items(id) ON DELETE CASCADE,
	run_id           TEXT,
	prompt_config_id TEXT,
	model            TEXT NOT NULL DEFAULT '',
	score            INTEGER NOT NULL,
	has_opportunity  INTEGER NOT NULL,
	document         TEXT NOT NULL,
	summary          TEXT NOT NULL,
	created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verdicts_score ON verdicts(score);

CREATE TABLE IF NOT EXISTS opportunities (
	id           TEXT PRIMARY KEY,
	verdict_id   TEXT NOT NULL REFERENCES verdicts(id) ON DELETE CASCADE,
	idx          INTEGER NOT NULL,
	type         TEXT NOT NULL,
	title        TEXT NOT NULL,
	confidence   REAL NOT NULL DEFAULT 0,
	window_start DATETIME,
	window_end   DATETIME,
	action_steps TEXT NOT NULL DEFAULT '[]',
	constraints  TEXT NOT NULL DEFAULT '[]',
	search_hints TEXT NOT NULL DEFAULT '[]',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (verdict_id, idx)
);

CREATE TABLE IF NOT EXISTS notifications (
	id              TEXT PRIMARY KEY,
	date            TEXT NOT NULL,
	slot            TEXT NOT NULL,
	push_type       TEXT NOT NULL,
	idempotency_key TEXT NOT NULL UNIQUE,
	target_url      TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL DEFAULT '',
	payload         TEXT NOT NULL DEFAULT '{}',
	response        TEXT NOT NULL DEFAULT '{}',
	status          TEXT NOT NULL,
	error           TEXT,
	sent_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_date_type ON notifications(date, push_type, status);

CREATE TABLE IF NOT EXISTS daily_digests (
	id         TEXT PRIMARY KEY,
	date       TEXT NOT NULL UNIQUE,
	digest_md  TEXT NOT NULL,
	summary    TEXT NOT NULL DEFAULT '{}',
	stats      TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS prompt_configs (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	version       INTEGER NOT NULL,
	active        INTEGER NOT NULL DEFAULT 0,
	threshold     INTEGER NOT NULL DEFAULT 60,
	system_prompt TEXT NOT NULL,
	user_template TEXT NOT NULL,
	created_at    DATETIME NOT NULL,
	UNIQUE (name, version)
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Runs

func (s *SQLiteStore) GetRun(ctx context.Context, date, slot string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, date, slot, window_start, window_end, status, stats, started_at, finished_at, error FROM runs WHERE date = ? AND slot = ?`,
		date, slot,
	)
	r, err := scanSQLiteRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s %s", date, slot)
	}
	return r, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) (bool, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal run stats")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, date, slot, window_start, window_end, status, stats, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (date, slot) DO NOTHING`,
		run.ID, run.Date, run.Slot, run.WindowStart, run.WindowEnd, string(run.Status), string(statsJSON), run.StartedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert run")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert run rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, stats model.RunStats, errText string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run stats")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, stats = ?, error = ?, finished_at = ? WHERE id = ? AND status = ?`,
		string(status), string(statsJSON), nullString(errText), time.Now().UTC(), runID, string(model.RunStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: finish run rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not running: %s", runID)
	}
	return nil
}

// RestartRun returns a running or failed run to a fresh running state
// so the slot can execute again. Succeeded runs stay terminal.
func (s *SQLiteStore) RestartRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, started_at = ?, finished_at = NULL, error = NULL WHERE id = ? AND status != ?`,
		string(model.RunStatusRunning), time.Now().UTC(), runID, string(model.RunStatusSucceeded),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: restart run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: restart run rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not restartable: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) UpdateRunStats(ctx context.Context, runID string, stats model.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run stats")
	}
	_, err = s.db.ExecContext(ctx, `UPDATE runs SET stats = ? WHERE id = ?`, string(statsJSON), runID)
	return eris.Wrapf(err, "sqlite: update run stats %s", runID)
}

func (s *SQLiteStore) FailStaleRuns(ctx context.Context, startedBefore time.Time, errText string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE status = ? AND started_at < ?`,
		string(model.RunStatusFailed), errText, time.Now().UTC(), string(model.RunStatusRunning), startedBefore,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: fail stale runs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: fail stale runs rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) CountRunningRuns(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE status = ?`, string(model.RunStatusRunning),
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count running runs")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, date, slot, window_start, window_end, status, stats, started_at, finished_at, error FROM runs WHERE 1=1`
	args := []any{}

	if filter.Date != "" {
		query += ` AND date = ?`
		args = append(args, filter.Date)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row rowScanner) (*model.Run, error) {
	var r model.Run
	var statsJSON string
	var errText sql.NullString

	if err := row.Scan(&r.ID, &r.Date, &r.Slot, &r.WindowStart, &r.WindowEnd, &r.Status, &statsJSON, &r.StartedAt, &r.FinishedAt, &errText); err != nil {
		return nil, err
	}
	if statsJSON != "" {
		if err := json.Unmarshal([]byte(statsJSON), &r.Stats); err != nil {
			return nil, eris.Wrap(err, "unmarshal stats")
		}
	}
	r.Error = errText.String
	return &r, nil
}

// Items

func (s *SQLiteStore) GetItemByExternalID(ctx context.Context, externalID string) (*model.Item, error) {
	var it model.Item
	err := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, source_id, source_name, title, url, published_at, raw_html, text, content_hash, status, fetched_at, analyzed_at FROM items WHERE external_id = ?`,
		externalID,
	).Scan(&it.ID, &it.ExternalID, &it.SourceID, &it.SourceName, &it.Title, &it.URL, &it.PublishedAt, &it.RawHTML, &it.Text, &it.ContentHash, &it.Status, &it.FetchedAt, &it.AnalyzedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get item %s", externalID)
	}
	return &it, nil
}

func (s *SQLiteStore) CreateItem(ctx context.Context, item *model.Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.FetchedAt.IsZero() {
		item.FetchedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, external_id, source_id, source_name, title, url, published_at, raw_html, text, content_hash, status, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.ExternalID, item.SourceID, item.SourceName, item.Title, item.URL,
		item.PublishedAt, item.RawHTML, item.Text, item.ContentHash, string(item.Status), item.FetchedAt,
	)
	return eris.Wrapf(err, "sqlite: insert item %s", item.ExternalID)
}

func (s *SQLiteStore) UpdateItemContent(ctx context.Context, itemID, rawHTML, text, contentHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET raw_html = ?, text = ?, content_hash = ? WHERE id = ?`,
		rawHTML, text, contentHash, itemID,
	)
	return eris.Wrapf(err, "sqlite: update item content %s", itemID)
}

func (s *SQLiteStore) UpdateItemStatus(ctx context.Context, itemID string, status model.ItemStatus) error {
	var analyzedAt *time.Time
	if status == model.ItemStatusDone || status == model.ItemStatusFailed {
		now := time.Now().UTC()
		analyzedAt = &now
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET status = ?, analyzed_at = ? WHERE id = ?`,
		string(status), analyzedAt, itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update item status %s", itemID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: update item status rows affected")
	}
	if n == 0 {
		return eris.Errorf("item not found: %s", itemID)
	}
	return nil
}

func (s *SQLiteStore) ListPendingItems(ctx context.Context, publishedSince time.Time) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, external_id, source_id, source_name, title, url, published_at, raw_html, text, content_hash, status, fetched_at, analyzed_at
		 FROM items WHERE status = ? AND published_at >= ? ORDER BY published_at ASC`,
		string(model.ItemStatusPending), publishedSince,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending items")
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(&it.ID, &it.ExternalID, &it.SourceID, &it.SourceName, &it.Title, &it.URL, &it.PublishedAt, &it.RawHTML, &it.Text, &it.ContentHash, &it.Status, &it.FetchedAt, &it.AnalyzedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list pending items iterate")
}

// Verdicts

func (s *SQLiteStore) CreateVerdict(ctx context.Context, verdict *model.Verdict, opps []model.OpportunityRecord) error {
	if verdict.ID == "" {
		verdict.ID = uuid.New().String()
	}
	if verdict.CreatedAt.IsZero() {
		verdict.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin verdict tx")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO verdicts (id, item_id, run_id, prompt_config_id, model, score, has_opportunity, document, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		verdict.ID, verdict.ItemID, nullString(verdict.RunID), nullString(verdict.PromptConfigID),
		verdict.Model, verdict.Score, verdict.HasOpportunity, string(verdict.Document), verdict.Summary, verdict.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert verdict for item %s", verdict.ItemID)
	}

	for i := range opps {
		opp := &opps[i]
		if opp.ID == "" {
			opp.ID = uuid.New().String()
		}
		opp.VerdictID = verdict.ID

		steps, err := json.Marshal(opp.ActionSteps)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal action steps")
		}
		constraints, err := json.Marshal(opp.Constraints)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal constraints")
		}
		hints, err := json.Marshal(opp.SearchHints)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal search hints")
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO opportunities (id, verdict_id, idx, type, title, confidence, window_start, window_end, action_steps, constraints, search_hints)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			opp.ID, opp.VerdictID, opp.Index, opp.Type, opp.Title, opp.Confidence,
			opp.WindowStart, opp.WindowEnd, string(steps), string(constraints), string(hints),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert opportunity %d", opp.Index)
		}
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE items SET status = ?, analyzed_at = ? WHERE id = ?`,
		string(model.ItemStatusDone), now, verdict.ItemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark item done %s", verdict.ItemID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit verdict tx")
}

func (s *SQLiteStore) ListVerdictsForDate(ctx context.Context, date string) ([]model.Verdict, error) {
	dayStart, dayEnd, err := dayBounds(date)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT v.id, v.item_id, v.run_id, v.prompt_config_id, v.model, v.score, v.has_opportunity, v.document, v.summary, v.created_at,
		        i.title, i.source_name, i.published_at
		 FROM verdicts v JOIN items i ON i.id = v.item_id
		 WHERE i.published_at >= ? AND i.published_at < ?
		 ORDER BY v.score DESC`,
		dayStart, dayEnd,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list verdicts for date")
	}
	defer rows.Close()

	var verdicts []model.Verdict
	for rows.Next() {
		var v model.Verdict
		var runID, promptID sql.NullString
		var doc string
		if err := rows.Scan(&v.ID, &v.ItemID, &runID, &promptID, &v.Model, &v.Score, &v.HasOpportunity, &doc, &v.Summary, &v.CreatedAt,
			&v.ItemTitle, &v.ItemSource, &v.ItemPublishedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan verdict")
		}
		v.RunID = runID.String
		v.PromptConfigID = promptID.String
		v.Document = []byte(doc)
		verdicts = append(verdicts, v)
	}
	return verdicts, eris.Wrap(rows.Err(), "sqlite: list verdicts iterate")
}

// Notifications

func (s *SQLiteStore) CreateNotification(ctx context.Context, rec *model.NotificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now().UTC()
	}
	payload := rec.Payload
	if payload == nil {
		payload = []byte(`{}`)
	}
	response := rec.Response
	if response == nil {
		response = []byte(`{}`)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, date, slot, push_type, idempotency_key, target_url, title, payload, response, status, error, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (idempotency_key) DO UPDATE SET payload = excluded.payload, response = excluded.response, status = excluded.status, error = excluded.error, sent_at = excluded.sent_at`,
		rec.ID, rec.Date, rec.Slot, string(rec.PushType), rec.IdempotencyKey, rec.TargetURL,
		rec.Title, string(payload), string(response), string(rec.Status), nullString(rec.Error), rec.SentAt,
	)
	return eris.Wrapf(err, "sqlite: insert notification %s", rec.IdempotencyKey)
}

func (s *SQLiteStore) CountNotifications(ctx context.Context, date string, pushType model.PushType, status model.NotificationStatus) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE date = ? AND push_type = ? AND status = ?`,
		date, string(pushType), string(status),
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count notifications")
}

func (s *SQLiteStore) GetNotificationByKey(ctx context.Context, key string) (*model.NotificationRecord, error) {
	var rec model.NotificationRecord
	var payload, response string
	var errText sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, date, slot, push_type, idempotency_key, target_url, title, payload, response, status, error, sent_at FROM notifications WHERE idempotency_key = ?`,
		key,
	).Scan(&rec.ID, &rec.Date, &rec.Slot, &rec.PushType, &rec.IdempotencyKey, &rec.TargetURL, &rec.Title, &payload, &response, &rec.Status, &errText, &rec.SentAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get notification %s", key)
	}
	rec.Payload = []byte(payload)
	rec.Response = []byte(response)
	rec.Error = errText.String
	return &rec, nil
}

// Digests

func (s *SQLiteStore) UpsertDailyDigest(ctx context.Context, digest *model.DailyDigest) error {
	if digest.ID == "" {
		digest.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	statsJSON, err := json.Marshal(digest.Stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal digest stats")
	}
	summary := digest.Summary
	if summary == nil {
		summary = []byte(`{}`)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO daily_digests (id, date, digest_md, summary, stats, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (date) DO UPDATE SET digest_md = excluded.digest_md, summary = excluded.summary, stats = excluded.stats, updated_at = excluded.updated_at`,
		digest.ID, digest.Date, digest.Markdown, string(summary), string(statsJSON), now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert daily digest %s", digest.Date)
}

func (s *SQLiteStore) GetDailyDigest(ctx context.Context, date string) (*model.DailyDigest, error) {
	var d model.DailyDigest
	var summary, statsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, date, digest_md, summary, stats, created_at, updated_at FROM daily_digests WHERE date = ?`,
		date,
	).Scan(&d.ID, &d.Date, &d.Markdown, &summary, &statsJSON, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get daily digest %s", date)
	}
	d.Summary = []byte(summary)
	if statsJSON != "" {
		if err := json.Unmarshal([]byte(statsJSON), &d.Stats); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal digest stats")
		}
	}
	return &d, nil
}

// Prompt configs

func (s *SQLiteStore) GetActivePromptConfig(ctx context.Context, name string) (*model.PromptConfig, error) {
	var pc model.PromptConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, active, threshold, system_prompt, user_template, created_at
		 FROM prompt_configs WHERE name = ? AND active = 1`,
		name,
	).Scan(&pc.ID, &pc.Name, &pc.Version, &pc.Active, &pc.Threshold, &pc.SystemPrompt, &pc.UserTemplate, &pc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get active prompt config %s", name)
	}
	return &pc, nil
}

func (s *SQLiteStore) CreatePromptConfig(ctx context.Context, pc *model.PromptConfig) error {
	if pc.ID == "" {
		pc.ID = uuid.New().String()
	}
	if pc.CreatedAt.IsZero() {
		pc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prompt_configs (id, name, version, active, threshold, system_prompt, user_template, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pc.ID, pc.Name, pc.Version, pc.Active, pc.Threshold, pc.SystemPrompt, pc.UserTemplate, pc.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert prompt config %s v%d", pc.Name, pc.Version)
}

func (s *SQLiteStore) ActivatePromptConfig(ctx context.Context, name string, version int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin activate tx")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`UPDATE prompt_configs SET active = 0 WHERE name = ?`, name,
	); err != nil {
		return eris.Wrapf(err, "sqlite: deactivate prompt configs %s", name)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE prompt_configs SET active = 1 WHERE name = ? AND version = ?`, name, version,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: activate prompt config %s v%d", name, version)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: activate rows affected")
	}
	if n == 0 {
		return eris.Errorf("prompt config not found: %s v%d", name, version)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit activate tx")
}

// Settings

func (s *SQLiteStore) GetSettings(ctx context.Context) (model.Settings, error) {
	settings := model.DefaultSettings()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return settings, eris.Wrap(err, "sqlite: get settings")
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return settings, eris.Wrap(err, "sqlite: scan setting")
		}
		applySetting(&settings, key, []byte(value))
	}
	return settings, eris.Wrap(rows.Err(), "sqlite: settings iterate")
}
