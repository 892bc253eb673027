package survey

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intake/intake/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type configRepoPG struct{ pool *pgxpool.Pool }

func NewConfigRepoPG(pool *pgxpool.Pool) ConfigRepository {
	return &configRepoPG{pool: pool}
}

func (r *configRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const cfgCols = `id, name, description, json_config, version, is_active, created_at, updated_at`

func scanConfig(row pgx.Row) (*SurveyConfig, error) {
	var c SurveyConfig
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.JSONConfig,
		&c.Version, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *configRepoPG) Create(ctx context.Context, c *SurveyConfig) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO survey_configs (name, description, json_config, version, is_active)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at`,
		c.Name, c.Description, c.JSONConfig, c.Version, c.IsActive,
	).Scan(&c.ID, &c.CreatedAt)
}

func (r *configRepoPG) GetByID(ctx context.Context, id int64) (*SurveyConfig, error) {
	return scanConfig(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cfgCols+` FROM survey_configs WHERE id = $1`, id))
}

func (r *configRepoPG) GetActive(ctx context.Context) (*SurveyConfig, error) {
	return scanConfig(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cfgCols+` FROM survey_configs WHERE is_active ORDER BY id DESC LIMIT 1`))
}

func (r *configRepoPG) Update(ctx context.Context, c *SurveyConfig) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE survey_configs
		SET name=$2, description=$3, json_config=$4, version=$5, is_active=$6, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Name, c.Description, c.JSONConfig, c.Version, c.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *configRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM survey_configs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *configRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*SurveyConfig, int, error) {
	where := ""
	if activeOnly {
		where = " WHERE is_active"
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM survey_configs`+where).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+cfgCols+` FROM survey_configs`+where+` ORDER BY id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*SurveyConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}
