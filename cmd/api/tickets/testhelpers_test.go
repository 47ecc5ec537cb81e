package tickets

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// scanInto copies scripted values into scan destinations. A nil value leaves
// the destination untouched, which models SQL NULL for pointer columns.
func scanInto(dest []any, vals []any) {
	for i, d := range dest {
		if i >= len(vals) || vals[i] == nil {
			continue
		}
		switch p := d.(type) {
		case *string:
			*p = vals[i].(string)
		case **string:
			s := vals[i].(string)
			*p = &s
		case *int64:
			*p = vals[i].(int64)
		case **int64:
			v := vals[i].(int64)
			*p = &v
		case *time.Time:
			*p = vals[i].(time.Time)
		}
	}
}

type fakeRow struct {
	vals []any
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	scanInto(dest, r.vals)
	return nil
}

type fakeRows struct {
	data [][]any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool                                   { return r.idx < len(r.data) }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Scan(dest ...any) error {
	scanInto(dest, r.data[r.idx])
	r.idx++
	return nil
}

// fakeTx records statements run inside a transaction. QueryRow pops scripted
// rows in call order.
type fakeTx struct {
	rows       []*fakeRow
	sqls       []string
	args       [][]any
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}
func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}
func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	t.sqls = append(t.sqls, sql)
	t.args = append(t.args, arguments)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	t.sqls = append(t.sqls, sql)
	t.args = append(t.args, args)
	return &fakeRows{}, nil
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	t.sqls = append(t.sqls, sql)
	t.args = append(t.args, args)
	if len(t.rows) == 0 {
		return &fakeRow{err: pgx.ErrNoRows}
	}
	r := t.rows[0]
	t.rows = t.rows[1:]
	return r
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }

// fakeDB dispatches through optional hooks and records every statement.
type fakeDB struct {
	queryRow func(sql string, args []any) *fakeRow
	query    func(sql string, args []any) *fakeRows
	tx       *fakeTx
	sqls     []string
	args     [][]any
	begins   int
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	db.sqls = append(db.sqls, sql)
	db.args = append(db.args, args)
	if db.query != nil {
		return db.query(sql, args), nil
	}
	return &fakeRows{}, nil
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	db.sqls = append(db.sqls, sql)
	db.args = append(db.args, args)
	if db.queryRow != nil {
		return db.queryRow(sql, args)
	}
	return &fakeRow{err: pgx.ErrNoRows}
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	db.sqls = append(db.sqls, sql)
	db.args = append(db.args, args)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (db *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	db.begins++
	if db.tx == nil {
		return nil, errors.New("no tx scripted")
	}
	return db.tx, nil
}
