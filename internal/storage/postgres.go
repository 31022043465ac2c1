package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"giftbot/internal/participant"
	logx "giftbot/pkg/logx"
)

const pgColumns = `id, telegram_id, full_name, birthday, wish, is_admin, ward_id, giver_id, registered_at`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pc.MinConns = 1
	pc.MaxConns = 10
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if pc.MaxConns < pc.MinConns {
		pc.MaxConns = pc.MinConns
	}
	pc.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	st := &postgresStore{pool: pool, log: log}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("postgres store opened", logx.Int("min_conns", int(pc.MinConns)), logx.Int("max_conns", int(pc.MaxConns)))
	return st, nil
}

func (s *postgresStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations_postgres.sql")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, string(b))
	return err
}

func scanPG(r pgx.Row) (participant.Participant, error) {
	var (
		p           participant.Participant
		bday        *time.Time
		ward, giver *int64
	)
	if err := r.Scan(&p.ID, &p.ExternalID, &p.Name, &bday, &p.Wish, &p.IsAdmin, &ward, &giver, &p.RegisteredAt); err != nil {
		return participant.Participant{}, err
	}
	if bday != nil {
		p.Birthday = participant.DateOf(bday.UTC())
	}
	if ward != nil {
		p.WardID = *ward
	}
	if giver != nil {
		p.GiverID = *giver
	}
	return p, nil
}

// pgDate converts a Date to a DATE parameter; the zero date becomes NULL.
func pgDate(d participant.Date) any {
	if d.IsZero() {
		return nil
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *postgresStore) getOne(ctx context.Context, q pgQuerier, where string, arg any) (participant.Participant, bool, error) {
	p, err := scanPG(q.QueryRow(ctx, `SELECT `+pgColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return participant.Participant{}, false, nil
	}
	if err != nil {
		return participant.Participant{}, false, err
	}
	return p, true, nil
}

func (s *postgresStore) GetByID(ctx context.Context, id int64) (participant.Participant, bool, error) {
	return s.getOne(ctx, s.pool, `id = $1`, id)
}

func (s *postgresStore) GetByExternalID(ctx context.Context, externalID int64) (participant.Participant, bool, error) {
	return s.getOne(ctx, s.pool, `telegram_id = $1`, externalID)
}

func (s *postgresStore) list(ctx context.Context, where string, args ...any) ([]participant.Participant, error) {
	q := `SELECT ` + pgColumns + ` FROM users`
	if where != "" {
		q += ` WHERE ` + where
	}
	rows, err := s.pool.Query(ctx, q+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []participant.Participant
	for rows.Next() {
		p, err := scanPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *postgresStore) FindByName(ctx context.Context, name string) ([]participant.Participant, error) {
	return s.list(ctx, `full_name = $1`, strings.TrimSpace(name))
}

func (s *postgresStore) ListAll(ctx context.Context) ([]participant.Participant, error) {
	return s.list(ctx, "")
}

func (s *postgresStore) ListWithGiver(ctx context.Context) ([]participant.Participant, error) {
	return s.list(ctx, `giver_id IS NOT NULL`)
}

func (s *postgresStore) Create(ctx context.Context, p participant.Participant) (participant.Participant, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.WardID, p.GiverID = 0, 0
	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = time.Now().UTC()
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, ok, err := s.getOne(ctx, tx, `telegram_id = $1`, p.ExternalID); err != nil {
			return err
		} else if ok {
			return ErrAlreadyExists
		}
		return tx.QueryRow(ctx,
			`INSERT INTO users(telegram_id, full_name, birthday, wish, is_admin, registered_at)
			 VALUES($1,$2,$3,$4,$5,$6) RETURNING id`,
			p.ExternalID, p.Name, pgDate(p.Birthday), p.Wish, p.IsAdmin, p.RegisteredAt,
		).Scan(&p.ID)
	})
	if err != nil {
		return participant.Participant{}, err
	}
	return p, nil
}

func (s *postgresStore) Update(ctx context.Context, id int64, patch participant.Patch) (participant.Participant, error) {
	var out participant.Participant
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		cur, ok, err := s.getOne(ctx, tx, `id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		out = patch.Apply(cur)
		_, err = tx.Exec(ctx,
			`UPDATE users SET full_name = $1, birthday = $2, wish = $3, is_admin = $4 WHERE id = $5`,
			out.Name, pgDate(out.Birthday), out.Wish, out.IsAdmin, id,
		)
		return err
	})
	return out, err
}

func pgMustExist(ctx context.Context, tx pgx.Tx, ids ...int64) error {
	for _, id := range ids {
		var one int
		err := tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func pgDetach(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `UPDATE users SET
		ward_id  = CASE WHEN id = $1 OR ward_id = $1 THEN NULL ELSE ward_id END,
		giver_id = CASE WHEN id = $1 OR giver_id = $1 THEN NULL ELSE giver_id END
		WHERE id = $1 OR ward_id = $1 OR giver_id = $1`, id)
	return err
}

func (s *postgresStore) Delete(ctx context.Context, id int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := pgMustExist(ctx, tx, id); err != nil {
			return err
		}
		if err := pgDetach(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		return err
	})
}

func (s *postgresStore) SetPairingEdge(ctx context.Context, giverID, wardID int64) error {
	if giverID == wardID {
		return ErrSelfPairing
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := pgMustExist(ctx, tx, giverID, wardID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		batch.Queue(`UPDATE users SET giver_id = NULL WHERE giver_id = $1 AND id <> $2`, giverID, wardID)
		batch.Queue(`UPDATE users SET ward_id = NULL WHERE ward_id = $1 AND id <> $2`, wardID, giverID)
		batch.Queue(`UPDATE users SET ward_id = $1 WHERE id = $2`, wardID, giverID)
		batch.Queue(`UPDATE users SET giver_id = $1 WHERE id = $2`, giverID, wardID)
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *postgresStore) ApplyPairing(ctx context.Context, ward map[int64]int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for g, w := range ward {
			if g == w {
				return ErrSelfPairing
			}
			if err := pgMustExist(ctx, tx, g, w); err != nil {
				return err
			}
		}
		batch := &pgx.Batch{}
		batch.Queue(`UPDATE users SET ward_id = NULL, giver_id = NULL`)
		for g, w := range ward {
			batch.Queue(`UPDATE users SET ward_id = $1 WHERE id = $2`, w, g)
			batch.Queue(`UPDATE users SET giver_id = $1 WHERE id = $2`, g, w)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *postgresStore) ClearEdges(ctx context.Context, id int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := pgMustExist(ctx, tx, id); err != nil {
			return err
		}
		return pgDetach(ctx, tx, id)
	})
}

func (s *postgresStore) ClearAllEdges(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET ward_id = NULL, giver_id = NULL`)
	return err
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit(at, actor_id, action, target, ok, err) VALUES($1,$2,$3,$4,$5,$6)`,
		e.At, e.ActorID, e.Action, e.Target, e.OK, nullStr(e.Error),
	)
	return err
}

func (s *postgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
