package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"giftbot/internal/participant"
	logx "giftbot/pkg/logx"
)

//go:embed migrations.sql migrations_postgres.sql
var migrationsFS embed.FS

const sqliteColumns = `id, telegram_id, full_name, birthday, wish, is_admin, ward_id, giver_id, registered_at`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps edge updates serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(r rowScanner) (participant.Participant, error) {
	var (
		p                participant.Participant
		bday             sql.NullString
		admin            int64
		ward, giver      sql.NullInt64
		registered, wish string
	)
	if err := r.Scan(&p.ID, &p.ExternalID, &p.Name, &bday, &wish, &admin, &ward, &giver, &registered); err != nil {
		return participant.Participant{}, err
	}
	if bday.Valid && bday.String != "" {
		d, err := participant.ParseStorageDate(bday.String)
		if err != nil {
			return participant.Participant{}, fmt.Errorf("user %d: %w", p.ID, err)
		}
		p.Birthday = d
	}
	p.Wish = wish
	p.IsAdmin = admin != 0
	p.WardID = ward.Int64
	p.GiverID = giver.Int64
	if t, err := time.Parse(time.RFC3339Nano, registered); err == nil {
		p.RegisteredAt = t
	}
	return p, nil
}

func (s *sqliteStore) getOne(ctx context.Context, q sqlQuerier, where string, arg any) (participant.Participant, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM users WHERE `+where, arg)
	p, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return participant.Participant{}, false, nil
	}
	if err != nil {
		return participant.Participant{}, false, err
	}
	return p, true, nil
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqliteStore) GetByID(ctx context.Context, id int64) (participant.Participant, bool, error) {
	return s.getOne(ctx, s.db, `id = ?`, id)
}

func (s *sqliteStore) GetByExternalID(ctx context.Context, externalID int64) (participant.Participant, bool, error) {
	return s.getOne(ctx, s.db, `telegram_id = ?`, externalID)
}

func (s *sqliteStore) list(ctx context.Context, where string, args ...any) ([]participant.Participant, error) {
	q := `SELECT ` + sqliteColumns + ` FROM users`
	if where != "" {
		q += ` WHERE ` + where
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []participant.Participant
	for rows.Next() {
		p, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FindByName(ctx context.Context, name string) ([]participant.Participant, error) {
	return s.list(ctx, `full_name = ?`, strings.TrimSpace(name))
}

func (s *sqliteStore) ListAll(ctx context.Context) ([]participant.Participant, error) {
	return s.list(ctx, "")
}

func (s *sqliteStore) ListWithGiver(ctx context.Context) ([]participant.Participant, error) {
	return s.list(ctx, `giver_id IS NOT NULL`)
}

func (s *sqliteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Create(ctx context.Context, p participant.Participant) (participant.Participant, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.WardID, p.GiverID = 0, 0
	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = time.Now().UTC()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, ok, err := s.getOne(ctx, tx, `telegram_id = ?`, p.ExternalID); err != nil {
			return err
		} else if ok {
			return ErrAlreadyExists
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO users(telegram_id, full_name, birthday, wish, is_admin, registered_at) VALUES(?,?,?,?,?,?)`,
			p.ExternalID, p.Name, nullStr(p.Birthday.StorageString()), p.Wish, boolInt(p.IsAdmin),
			p.RegisteredAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
		p.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return participant.Participant{}, err
	}
	return p, nil
}

func (s *sqliteStore) Update(ctx context.Context, id int64, patch participant.Patch) (participant.Participant, error) {
	var out participant.Participant
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, ok, err := s.getOne(ctx, tx, `id = ?`, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		out = patch.Apply(cur)
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET full_name = ?, birthday = ?, wish = ?, is_admin = ? WHERE id = ?`,
			out.Name, nullStr(out.Birthday.StorageString()), out.Wish, boolInt(out.IsAdmin), id,
		)
		return err
	})
	return out, err
}

// detachSQLite clears every edge touching id inside tx.
func detachSQLite(ctx context.Context, tx *sql.Tx, id int64) error {
	for _, q := range []string{
		`UPDATE users SET ward_id = NULL WHERE ward_id = ?`,
		`UPDATE users SET giver_id = NULL WHERE giver_id = ?`,
		`UPDATE users SET ward_id = NULL, giver_id = NULL WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) mustExist(ctx context.Context, tx *sql.Tx, ids ...int64) error {
	for _, id := range ids {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.mustExist(ctx, tx, id); err != nil {
			return err
		}
		if err := detachSQLite(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		return err
	})
}

func (s *sqliteStore) SetPairingEdge(ctx context.Context, giverID, wardID int64) error {
	if giverID == wardID {
		return ErrSelfPairing
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.mustExist(ctx, tx, giverID, wardID); err != nil {
			return err
		}
		stmts := []struct {
			q    string
			args []any
		}{
			{`UPDATE users SET giver_id = NULL WHERE giver_id = ? AND id <> ?`, []any{giverID, wardID}},
			{`UPDATE users SET ward_id = NULL WHERE ward_id = ? AND id <> ?`, []any{wardID, giverID}},
			{`UPDATE users SET ward_id = ? WHERE id = ?`, []any{wardID, giverID}},
			{`UPDATE users SET giver_id = ? WHERE id = ?`, []any{giverID, wardID}},
		}
		for _, st := range stmts {
			if _, err := tx.ExecContext(ctx, st.q, st.args...); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) ApplyPairing(ctx context.Context, ward map[int64]int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for g, w := range ward {
			if g == w {
				return ErrSelfPairing
			}
			if err := s.mustExist(ctx, tx, g, w); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET ward_id = NULL, giver_id = NULL`); err != nil {
			return err
		}
		for g, w := range ward {
			if _, err := tx.ExecContext(ctx, `UPDATE users SET ward_id = ? WHERE id = ?`, w, g); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE users SET giver_id = ? WHERE id = ?`, g, w); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) ClearEdges(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.mustExist(ctx, tx, id); err != nil {
			return err
		}
		return detachSQLite(ctx, tx, id)
	})
}

func (s *sqliteStore) ClearAllEdges(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET ward_id = NULL, giver_id = NULL`)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, action, target, ok, err) VALUES(?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, e.Action, e.Target, boolInt(e.OK), nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
