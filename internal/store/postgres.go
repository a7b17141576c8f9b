package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/fundradar/radar/internal/db"
	"github.com/fundradar/radar/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot pipeline paths.
var preparedStatements = map[string]string{
	"get_run":            `SELECT id, date, slot, window_start, window_end, status, stats, started_at, finished_at, error FROM runs WHERE date = $1 AND slot = $2`,
	"get_item_by_extid":  `SELECT id, external_id, source_id, source_name, title, url, published_at, raw_html, text, content_hash, status, fetched_at, analyzed_at FROM items WHERE external_id = $1`,
	"update_item_status": `UPDATE items SET status = $1, analyzed_at = $2 WHERE id = $3`,
	"count_notifications": `SELECT COUNT(*) FROM notifications WHERE date = $1 AND push_type = $2 AND status = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	date         TEXT NOT NULL,
	slot         TEXT NOT NULL,
	window_start TIMESTAMPTZ NOT NULL,
	window_end   TIMESTAMPTZ NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	stats        JSONB NOT NULL DEFAULT '{}',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at  TIMESTAMPTZ,
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
	published_at TIMESTAMPTZ NOT NULL,
	raw_html     TEXT NOT NULL DEFAULT '',
	text         TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	fetched_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	analyzed_at  TIMESTAMPTZ
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
	has_opportunity  BOOLEAN NOT NULL,
	document         JSONB NOT NULL,
	summary          TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_verdicts_score ON verdicts(score);
CREATE INDEX IF NOT EXISTS idx_verdicts_has_opp ON verdicts(has_opportunity, score);

CREATE TABLE IF NOT EXISTS opportunities (
	id           TEXT PRIMARY KEY,
	verdict_id   TEXT NOT NULL REFERENCES verdicts(id) ON DELETE CASCADE,
	idx          INTEGER NOT NULL,
	type         TEXT NOT NULL,
	title        TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	window_start TIMESTAMPTZ,
	window_end   TIMESTAMPTZ,
	action_steps JSONB NOT NULL DEFAULT '[]',
	constraints  JSONB NOT NULL DEFAULT '[]',
	search_hints JSONB NOT NULL DEFAULT '[]',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	payload         JSONB NOT NULL DEFAULT '{}',
	response        JSONB NOT NULL DEFAULT '{}',
	status          TEXT NOT NULL,
	error           TEXT,
	sent_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_notifications_date_type ON notifications(date, push_type, status);

CREATE TABLE IF NOT EXISTS daily_digests (
	id         TEXT PRIMARY KEY,
	date       TEXT NOT NULL UNIQUE,
	digest_md  TEXT NOT NULL,
	summary    JSONB NOT NULL DEFAULT '{}',
	stats      JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS prompt_configs (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	version       INTEGER NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT false,
	threshold     INTEGER NOT NULL DEFAULT 60,
	system_prompt TEXT NOT NULL,
	user_template TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (name, version)
);

CREATE INDEX IF NOT EXISTS idx_prompt_configs_name_active ON prompt_configs(name, active);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Runs

func (s *PostgresStore) GetRun(ctx context.Context, date, slot string) (*model.Run, error) {
	r, err := s.scanRun(s.pool.QueryRow(ctx,
		`SELECT id, date, slot, window_start, window_end, status, stats, started_at, finished_at, error FROM runs WHERE date = $1 AND slot = $2`,
		date, slot,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get run %s %s", date, slot)
	}
	return r, nil
}

// CreateRun inserts the run, returning false when a run for the same
// (date, slot) already exists. The unique constraint makes creation
// race-safe; losers of the race simply observe the winner's row.
func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) (bool, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal run stats")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, date, slot, window_start, window_end, status, stats, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (date, slot) DO NOTHING`,
		run.ID, run.Date, run.Slot, run.WindowStart, run.WindowEnd, string(run.Status), statsJSON, run.StartedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert run")
	}
	return tag.RowsAffected() > 0, nil
}

// FinishRun transitions a running run to a terminal status. Terminal
// states are write-once: a run already finished is left untouched.
func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, stats model.RunStats, errText string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run stats")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, stats = $2, error = $3, finished_at = $4 WHERE id = $5 AND status = $6`,
		string(status), statsJSON, nullString(errText), time.Now().UTC(), runID, string(model.RunStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not running: %s", runID)
	}
	return nil
}

// RestartRun returns a running or failed run to a fresh running state
// so the slot can execute again. Succeeded runs stay terminal.
func (s *PostgresStore) RestartRun(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, started_at = $2, finished_at = NULL, error = NULL WHERE id = $3 AND status != $4`,
		string(model.RunStatusRunning), time.Now().UTC(), runID, string(model.RunStatusSucceeded),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: restart run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not restartable: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunStats(ctx context.Context, runID string, stats model.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run stats")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE runs SET stats = $1 WHERE id = $2`,
		statsJSON, runID,
	)
	return eris.Wrapf(err, "postgres: update run stats %s", runID)
}

func (s *PostgresStore) FailStaleRuns(ctx context.Context, startedBefore time.Time, errText string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, finished_at = $3 WHERE status = $4 AND started_at < $5`,
		string(model.RunStatusFailed), errText, time.Now().UTC(), string(model.RunStatusRunning), startedBefore,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: fail stale runs")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CountRunningRuns(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM runs WHERE status = $1`,
		string(model.RunStatusRunning),
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count running runs")
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, date, slot, window_start, window_end, status, stats, started_at, finished_at, error FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Date != "" {
		query += fmt.Sprintf(` AND date = $%d`, argIdx)
		args = append(args, filter.Date)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := s.scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) scanRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var statsJSON []byte
	var errText *string

	if err := row.Scan(&r.ID, &r.Date, &r.Slot, &r.WindowStart, &r.WindowEnd, &r.Status, &statsJSON, &r.StartedAt, &r.FinishedAt, &errText); err != nil {
		return nil, err
	}
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &r.Stats); err != nil {
			return nil, eris.Wrap(err, "unmarshal stats")
		}
	}
	if errText != nil {
		r.Error = *errText
	}
	return &r, nil
}

// Items

func (s *PostgresStore) GetItemByExternalID(ctx context.Context, externalID string) (*model.Item, error) {
	var it model.Item
	err := s.pool.QueryRow(ctx,
		`SELECT id, external_id, source_id, source_name, title, url, published_at, raw_html, text, content_hash, status, fetched_at, analyzed_at FROM items WHERE external_id = $1`,
		externalID,
	).Scan(&it.ID, &it.ExternalID, &it.SourceID, &it.SourceName, &it.Title, &it.URL, &it.PublishedAt, &it.RawHTML, &it.Text, &it.ContentHash, &it.Status, &it.FetchedAt, &it.AnalyzedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get item %s", externalID)
	}
	return &it, nil
}

func (s *PostgresStore) CreateItem(ctx context.Context, item *model.Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.FetchedAt.IsZero() {
		item.FetchedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO items (id, external_id, source_id, source_name, title, url, published_at, raw_html, text, content_hash, status, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		item.ID, item.ExternalID, item.SourceID, item.SourceName, item.Title, item.URL,
		item.PublishedAt, item.RawHTML, item.Text, item.ContentHash, string(item.Status), item.FetchedAt,
	)
	return eris.Wrapf(err, "postgres: insert item %s", item.ExternalID)
}

func (s *PostgresStore) UpdateItemContent(ctx context.Context, itemID, rawHTML, text, contentHash string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE items SET raw_html = $1, text = $2, content_hash = $3 WHERE id = $4`,
		rawHTML, text, contentHash, itemID,
	)
	return eris.Wrapf(err, "postgres: update item content %s", itemID)
}

func (s *PostgresStore) UpdateItemStatus(ctx context.Context, itemID string, status model.ItemStatus) error {
	var analyzedAt *time.Time
	if status == model.ItemStatusDone || status == model.ItemStatusFailed {
		now := time.Now().UTC()
		analyzedAt = &now
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET status = $1, analyzed_at = $2 WHERE id = $3`,
		string(status), analyzedAt, itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update item status %s", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("item not found: %s", itemID)
	}
	return nil
}

func (s *PostgresStore) ListPendingItems(ctx context.Context, publishedSince time.Time) ([]model.Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, external_id, source_id, source_name, title, url, published_at, raw_html, text, content_hash, status, fetched_at, analyzed_at
		 FROM items WHERE status = $1 AND published_at >= $2 ORDER BY published_at ASC`,
		string(model.ItemStatusPending), publishedSince,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending items")
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(&it.ID, &it.ExternalID, &it.SourceID, &it.SourceName, &it.Title, &it.URL, &it.PublishedAt, &it.RawHTML, &it.Text, &it.ContentHash, &it.Status, &it.FetchedAt, &it.AnalyzedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list pending items iterate")
}

// Verdicts

// CreateVerdict persists the verdict, its opportunity records and the
// item's done status in one transaction.
func (s *PostgresStore) CreateVerdict(ctx context.Context, verdict *model.Verdict, opps []model.OpportunityRecord) error {
	if verdict.ID == "" {
		verdict.ID = uuid.New().String()
	}
	if verdict.CreatedAt.IsZero() {
		verdict.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin verdict tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx,
		`INSERT INTO verdicts (id, item_id, run_id, prompt_config_id, model, score, has_opportunity, document, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		verdict.ID, verdict.ItemID, nullString(verdict.RunID), nullString(verdict.PromptConfigID),
		verdict.Model, verdict.Score, verdict.HasOpportunity, verdict.Document, verdict.Summary, verdict.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert verdict for item %s", verdict.ItemID)
	}

	for i := range opps {
		opp := &opps[i]
		if opp.ID == "" {
			opp.ID = uuid.New().String()
		}
		opp.VerdictID = verdict.ID

		steps, err := json.Marshal(opp.ActionSteps)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal action steps")
		}
		constraints, err := json.Marshal(opp.Constraints)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal constraints")
		}
		hints, err := json.Marshal(opp.SearchHints)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal search hints")
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO opportunities (id, verdict_id, idx, type, title, confidence, window_start, window_end, action_steps, constraints, search_hints)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			opp.ID, opp.VerdictID, opp.Index, opp.Type, opp.Title, opp.Confidence,
			opp.WindowStart, opp.WindowEnd, steps, constraints, hints,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert opportunity %d", opp.Index)
		}
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE items SET status = $1, analyzed_at = $2 WHERE id = $3`,
		string(model.ItemStatusDone), now, verdict.ItemID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark item done %s", verdict.ItemID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit verdict tx")
}

func (s *PostgresStore) ListVerdictsForDate(ctx context.Context, date string) ([]model.Verdict, error) {
	dayStart, dayEnd, err := dayBounds(date)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT v.id, v.item_id, v.run_id, v.prompt_config_id, v.model, v.score, v.has_opportunity, v.document, v.summary, v.created_at,
		        i.title, i.source_name, i.published_at
		 FROM verdicts v JOIN items i ON i.id = v.item_id
		 WHERE i.published_at >= $1 AND i.published_at < $2
		 ORDER BY v.score DESC`,
		dayStart, dayEnd,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list verdicts for date")
	}
	defer rows.Close()

	var verdicts []model.Verdict
	for rows.Next() {
		var v model.Verdict
		var runID, promptID *string
		if err := rows.Scan(&v.ID, &v.ItemID, &runID, &promptID, &v.Model, &v.Score, &v.HasOpportunity, &v.Document, &v.Summary, &v.CreatedAt,
			&v.ItemTitle, &v.ItemSource, &v.ItemPublishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan verdict")
		}
		if runID != nil {
			v.RunID = *runID
		}
		if promptID != nil {
			v.PromptConfigID = *promptID
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, eris.Wrap(rows.Err(), "postgres: list verdicts iterate")
}

// Notifications

func (s *PostgresStore) CreateNotification(ctx context.Context, rec *model.NotificationRecord) error {
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, date, slot, push_type, idempotency_key, target_url, title, payload, response, status, error, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (idempotency_key) DO UPDATE SET payload = $8, response = $9, status = $10, error = $11, sent_at = $12`,
		rec.ID, rec.Date, rec.Slot, string(rec.PushType), rec.IdempotencyKey, rec.TargetURL,
		rec.Title, payload, response, string(rec.Status), nullString(rec.Error), rec.SentAt,
	)
	return eris.Wrapf(err, "postgres: insert notification %s", rec.IdempotencyKey)
}

func (s *PostgresStore) CountNotifications(ctx context.Context, date string, pushType model.PushType, status model.NotificationStatus) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE date = $1 AND push_type = $2 AND status = $3`,
		date, string(pushType), string(status),
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count notifications")
}

func (s *PostgresStore) GetNotificationByKey(ctx context.Context, key string) (*model.NotificationRecord, error) {
	var rec model.NotificationRecord
	var errText *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, date, slot, push_type, idempotency_key, target_url, title, payload, response, status, error, sent_at FROM notifications WHERE idempotency_key = $1`,
		key,
	).Scan(&rec.ID, &rec.Date, &rec.Slot, &rec.PushType, &rec.IdempotencyKey, &rec.TargetURL, &rec.Title, &rec.Payload, &rec.Response, &rec.Status, &errText, &rec.SentAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get notification %s", key)
	}
	if errText != nil {
		rec.Error = *errText
	}
	return &rec, nil
}

// Digests

func (s *PostgresStore) UpsertDailyDigest(ctx context.Context, digest *model.DailyDigest) error {
	if digest.ID == "" {
		digest.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	statsJSON, err := json.Marshal(digest.Stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal digest stats")
	}
	summary := digest.Summary
	if summary == nil {
		summary = []byte(`{}`)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO daily_digests (id, date, digest_md, summary, stats, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (date) DO UPDATE SET digest_md = $3, summary = $4, stats = $5, updated_at = $6`,
		digest.ID, digest.Date, digest.Markdown, summary, statsJSON, now,
	)
	return eris.Wrapf(err, "postgres: upsert daily digest %s", digest.Date)
}

func (s *PostgresStore) GetDailyDigest(ctx context.Context, date string) (*model.DailyDigest, error) {
	var d model.DailyDigest
	var statsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, date, digest_md, summary, stats, created_at, updated_at FROM daily_digests WHERE date = $1`,
		date,
	).Scan(&d.ID, &d.Date, &d.Markdown, &d.Summary, &statsJSON, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get daily digest %s", date)
	}
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &d.Stats); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal digest stats")
		}
	}
	return &d, nil
}

// Prompt configs

func (s *PostgresStore) GetActivePromptConfig(ctx context.Context, name string) (*model.PromptConfig, error) {
	var pc model.PromptConfig
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, version, active, threshold, system_prompt, user_template, created_at
		 FROM prompt_configs WHERE name = $1 AND active = true`,
		name,
	).Scan(&pc.ID, &pc.Name, &pc.Version, &pc.Active, &pc.Threshold, &pc.SystemPrompt, &pc.UserTemplate, &pc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get active prompt config %s", name)
	}
	return &pc, nil
}

func (s *PostgresStore) CreatePromptConfig(ctx context.Context, pc *model.PromptConfig) error {
	if pc.ID == "" {
		pc.ID = uuid.New().String()
	}
	if pc.CreatedAt.IsZero() {
		pc.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prompt_configs (id, name, version, active, threshold, system_prompt, user_template, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pc.ID, pc.Name, pc.Version, pc.Active, pc.Threshold, pc.SystemPrompt, pc.UserTemplate, pc.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert prompt config %s v%d", pc.Name, pc.Version)
}

// ActivatePromptConfig marks one version active and all others for the
// same name inactive, atomically.
func (s *PostgresStore) ActivatePromptConfig(ctx context.Context, name string, version int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin activate tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx,
		`UPDATE prompt_configs SET active = false WHERE name = $1`, name,
	); err != nil {
		return eris.Wrapf(err, "postgres: deactivate prompt configs %s", name)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE prompt_configs SET active = true WHERE name = $1 AND version = $2`, name, version,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: activate prompt config %s v%d", name, version)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("prompt config not found: %s v%d", name, version)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit activate tx")
}

// Settings

func (s *PostgresStore) GetSettings(ctx context.Context) (model.Settings, error) {
	settings := model.DefaultSettings()

	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return settings, eris.Wrap(err, "postgres: get settings")
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return settings, eris.Wrap(err, "postgres: scan setting")
		}
		applySetting(&settings, key, value)
	}
	return settings, eris.Wrap(rows.Err(), "postgres: settings iterate")
}

// applySetting overlays one settings row onto the defaults. Unknown
// keys and malformed values are ignored; a bad admin edit must not
// block scheduled runs.
func applySetting(s *model.Settings, key string, value []byte) {
	switch key {
	case "push_score_threshold":
		var v int
		if json.Unmarshal(value, &v) == nil && v > 0 {
			s.ScoreThreshold = v
		}
	case "window_days":
		var v int
		if json.Unmarshal(value, &v) == nil && v > 0 {
			s.WindowDays = v
		}
	case "schedule_slots":
		var v []string
		if json.Unmarshal(value, &v) == nil && len(v) > 0 {
			s.Slots = v
		}
	case "daily_push_quota":
		var v int
		if json.Unmarshal(value, &v) == nil && v > 0 {
			s.DailyQuota = v
		}
	}
}

// dayBounds converts a YYYY-MM-DD date key to its UTC half-open range.
func dayBounds(date string) (time.Time, time.Time, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrapf(err, "store: parse date %s", date)
	}
	return day, day.AddDate(0, 0, 1), nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
