package tickets

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	authpkg "github.com/credsettle/portal-go/cmd/api/auth"
)

func TestListEventsAccess(t *testing.T) {
	now := time.Now().UTC()
	db := &fakeDB{
		queryRow: func(sql string, args []any) *fakeRow {
			return &fakeRow{vals: []any{"owner-1"}}
		},
		query: func(sql string, args []any) *fakeRows {
			return &fakeRows{data: [][]any{
				{"e2", "t1", EventStatusChange, "Status changed from NEW to IN_PROGRESS", "admin-1", now},
				{"e1", "t1", EventInfo, "Spoke with the lender", nil, now.Add(-time.Hour)},
			}}
		},
	}
	a := newTestApp(db)
	a.R.GET("/tickets/:id/events", authpkg.Middleware(a), ListEvents(a))

	rr := doReq(t, a, http.MethodGet, "/tickets/t1/events", "", "intruder", authpkg.RoleUser)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d", rr.Code)
	}

	rr = doReq(t, a, http.MethodGet, "/tickets/t1/events", "", "owner-1", authpkg.RoleUser)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", rr.Code)
	}
	var out []Event
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(out) != 2 || out[0].ID != "e2" || out[1].ID != "e1" {
		t.Fatalf("expected newest first, got %+v", out)
	}
	if out[1].CreatedBy != nil {
		t.Fatalf("expected nil created_by for e1, got %v", *out[1].CreatedBy)
	}

	rr = doReq(t, a, http.MethodGet, "/tickets/t1/events", "", "admin-1", authpkg.RoleAdmin)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rr.Code)
	}
}

func TestListEventsUnknownTicket(t *testing.T) {
	db := &fakeDB{} // queryRow defaults to no rows
	a := newTestApp(db)
	a.R.GET("/tickets/:id/events", authpkg.Middleware(a), ListEvents(a))

	rr := doReq(t, a, http.MethodGet, "/tickets/missing/events", "", "u1", authpkg.RoleUser)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestCreateEventTouchesTicketAtomically(t *testing.T) {
	now := time.Now().UTC()
	tx := &fakeTx{rows: []*fakeRow{
		{vals: []any{"e1", "t1", EventInfo, "Called the user back", "admin-1", now}},
	}}
	db := &fakeDB{tx: tx}
	a := newTestApp(db)
	a.R.POST("/tickets/:id/events", authpkg.Middleware(a), authpkg.RequireAdmin(), CreateEvent(a))

	rr := doReq(t, a, http.MethodPost, "/tickets/t1/events", `{"type":"info","message":"Called the user back"}`, "admin-1", authpkg.RoleAdmin)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if !tx.committed {
		t.Fatalf("expected commit")
	}
	if len(tx.sqls) != 2 || !strings.Contains(tx.sqls[1], "update tickets set updated_at=now()") {
		t.Fatalf("expected event insert plus ticket touch, got %v", tx.sqls)
	}
	// lowercase type is accepted and stored uppercased
	if tx.args[0][1] != EventInfo {
		t.Fatalf("event type arg = %v, want %s", tx.args[0][1], EventInfo)
	}
}

func TestCreateEventInvalidType(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}
	a := newTestApp(db)
	a.R.POST("/tickets/:id/events", authpkg.Middleware(a), authpkg.RequireAdmin(), CreateEvent(a))

	rr := doReq(t, a, http.MethodPost, "/tickets/t1/events", `{"type":"SHOUTING","message":"x"}`, "admin-1", authpkg.RoleAdmin)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid event type") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
	if db.begins != 0 {
		t.Fatalf("expected no transaction for invalid type")
	}
}

func TestCreateEventNonAdminRejected(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}
	a := newTestApp(db)
	a.R.POST("/tickets/:id/events", authpkg.Middleware(a), authpkg.RequireAdmin(), CreateEvent(a))

	rr := doReq(t, a, http.MethodPost, "/tickets/t1/events", `{"type":"INFO","message":"x"}`, "owner-1", authpkg.RoleUser)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if db.begins != 0 {
		t.Fatalf("expected no transaction for non-admin")
	}
}

func TestCreateEventUnknownTicket(t *testing.T) {
	tx := &fakeTx{} // empty rows: insert fails with no rows
	db := &fakeDB{tx: tx}
	a := newTestApp(db)
	a.R.POST("/tickets/:id/events", authpkg.Middleware(a), authpkg.RequireAdmin(), CreateEvent(a))

	rr := doReq(t, a, http.MethodPost, "/tickets/missing/events", `{"type":"INFO","message":"x"}`, "admin-1", authpkg.RoleAdmin)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if tx.committed {
		t.Fatalf("expected rollback, not commit")
	}
}
