package users

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apppkg "github.com/credsettle/portal-go/cmd/api/app"
	authpkg "github.com/credsettle/portal-go/cmd/api/auth"
)

type fakeRow struct {
	vals []any
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		if i >= len(r.vals) || r.vals[i] == nil {
			continue
		}
		switch p := d.(type) {
		case *string:
			*p = r.vals[i].(string)
		case *bool:
			*p = r.vals[i].(bool)
		}
	}
	return nil
}

type fakeTx struct {
	sqls      []string
	args      [][]any
	committed bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}
func (t *fakeTx) Rollback(ctx context.Context) error { return nil }
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
	return pgconn.NewCommandTag("DELETE 1"), nil
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not scripted")
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &fakeRow{err: pgx.ErrNoRows}
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }

type fakeDB struct {
	sqls   []string
	args   [][]any
	row    *fakeRow
	tx     *fakeTx
	begins int
}

func (db *fakeDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not scripted")
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	db.sqls = append(db.sqls, sql)
	db.args = append(db.args, args)
	if db.row != nil {
		return db.row
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

func newTestApp(db apppkg.DB) *apppkg.App {
	gin.SetMode(gin.TestMode)
	cfg := apppkg.Config{Env: "test", TestBypassAuth: true}
	return apppkg.NewApp(cfg, db, nil, nil, nil)
}

func do(t *testing.T, a *apppkg.App, method, url, body, user string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	a.R.ServeHTTP(rr, req)
	return rr
}

func TestDeleteSelfRejected(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}
	a := newTestApp(db)
	a.R.DELETE("/users/:id", authpkg.Middleware(a), authpkg.RequireAdmin(), Delete(a))

	rr := do(t, a, http.MethodDelete, "/users/admin-1", "", "admin-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "cannot delete your own account") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
	if db.begins != 0 {
		t.Fatalf("expected no transaction for self-delete")
	}
}

func TestDeleteRunsFullCleanup(t *testing.T) {
	tx := &fakeTx{}
	db := &fakeDB{row: &fakeRow{vals: []any{true}}, tx: tx}
	a := newTestApp(db)
	a.R.DELETE("/users/:id", authpkg.Middleware(a), authpkg.RequireAdmin(), Delete(a))

	rr := do(t, a, http.MethodDelete, "/users/u2", "", "admin-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !tx.committed {
		t.Fatalf("expected commit")
	}
	if len(tx.sqls) != len(cleanupPlan) {
		t.Fatalf("expected %d statements, got %d: %v", len(cleanupPlan), len(tx.sqls), tx.sqls)
	}
	for i, want := range cleanupPlan {
		if tx.sqls[i] != want {
			t.Fatalf("statement %d = %q, want %q", i, tx.sqls[i], want)
		}
		if tx.args[i][0] != "u2" {
			t.Fatalf("statement %d arg = %v, want u2", i, tx.args[i][0])
		}
	}
	// the user row goes last, after every reference is detached
	if !strings.HasPrefix(tx.sqls[len(tx.sqls)-1], "delete from users") {
		t.Fatalf("user delete must come last: %v", tx.sqls)
	}
}

func TestDeleteLookupError(t *testing.T) {
	db := &fakeDB{row: &fakeRow{err: errors.New("connection reset")}, tx: &fakeTx{}}
	a := newTestApp(db)
	a.R.DELETE("/users/:id", authpkg.Middleware(a), authpkg.RequireAdmin(), Delete(a))

	rr := do(t, a, http.MethodDelete, "/users/u2", "", "admin-1")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rr.Code, rr.Body.String())
	}
	if db.begins != 0 {
		t.Fatalf("expected no transaction when the lookup fails")
	}
}

func TestDeleteUnknownUser(t *testing.T) {
	db := &fakeDB{row: &fakeRow{vals: []any{false}}, tx: &fakeTx{}}
	a := newTestApp(db)
	a.R.DELETE("/users/:id", authpkg.Middleware(a), authpkg.RequireAdmin(), Delete(a))

	rr := do(t, a, http.MethodDelete, "/users/missing", "", "admin-1")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if db.begins != 0 {
		t.Fatalf("expected no transaction for unknown user")
	}
}

func TestCreateRoleDefaultsToUser(t *testing.T) {
	db := &fakeDB{row: &fakeRow{vals: []any{"u9"}}}
	a := newTestApp(db)
	a.R.POST("/users", authpkg.Middleware(a), authpkg.RequireAdmin(), Create(a))

	tests := []struct {
		body string
		want string
	}{
		{`{"username":"asha","password":"longenough1"}`, authpkg.RoleUser},
		{`{"username":"asha","password":"longenough1","role":"ADMIN"}`, authpkg.RoleAdmin},
		{`{"username":"asha","password":"longenough1","role":"admin"}`, authpkg.RoleUser},
	}
	for _, tt := range tests {
		db.sqls, db.args = nil, nil
		rr := do(t, a, http.MethodPost, "/users", tt.body, "admin-1")
		if rr.Code != http.StatusCreated {
			t.Fatalf("body %s: expected 201, got %d: %s", tt.body, rr.Code, rr.Body.String())
		}
		if got := db.args[0][5]; got != tt.want {
			t.Fatalf("body %s: role = %v, want %s", tt.body, got, tt.want)
		}
	}
}

func TestUpdateRejectsInvalidRole(t *testing.T) {
	db := &fakeDB{}
	a := newTestApp(db)
	a.R.PATCH("/users/:id", authpkg.Middleware(a), authpkg.RequireAdmin(), Update(a))

	rr := do(t, a, http.MethodPatch, "/users/u2", `{"role":"SUPERUSER"}`, "admin-1")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if len(db.sqls) != 0 {
		t.Fatalf("expected no update, got %v", db.sqls)
	}
}
