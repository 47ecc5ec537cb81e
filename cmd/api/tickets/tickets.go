package tickets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"

	app "github.com/credsettle/portal-go/cmd/api/app"
	authpkg "github.com/credsettle/portal-go/cmd/api/auth"
)

// Ticket is a case tracking a user's debt-resolution matter.
type Ticket struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	LenderName string    `json:"lender_name"`
	DebtAmount *int64    `json:"debt_amount,omitempty"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

var errNotFound = errors.New("ticket not found")

// ownerID loads the owning user of a ticket. Access decisions load this
// before touching any ticket sub-resource.
func ownerID(ctx context.Context, db app.DB, ticketID string) (string, error) {
	var owner string
	err := db.QueryRow(ctx, `select user_id::text from tickets where id=$1`, ticketID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errNotFound
		}
		return "", err
	}
	return owner, nil
}

// requireAccess aborts with 404/403 unless u owns the ticket or is an admin.
// Returns the owner id on success.
func requireAccess(c *gin.Context, db app.DB, ticketID string, u authpkg.AuthUser) (string, bool) {
	owner, err := ownerID(c.Request.Context(), db, ticketID)
	if err != nil {
		if errors.Is(err, errNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return "", false
	}
	if owner != u.ID && !u.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return "", false
	}
	return owner, true
}

type createReq struct {
	LenderName string `json:"lender_name" binding:"required,min=2"`
	DebtAmount *int64 `json:"debt_amount" binding:"omitempty,min=0"`
	UserID     string `json:"user_id"`
}

// Create opens a case for the authenticated user. Admins may open a case on
// another user's behalf via user_id.
func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in createReq
		if err := c.ShouldBindJSON(&in); err != nil {
			errs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					errs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "lender_name required", "fields": errs})
			return
		}
		u, ok := authpkg.CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		owner := u.ID
		if in.UserID != "" && in.UserID != u.ID {
			if !u.IsAdmin() {
				c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
			owner = in.UserID
		}
		var t Ticket
		err := a.DB.QueryRow(c.Request.Context(), `
insert into tickets (user_id, lender_name, debt_amount)
values ($1, $2, $3)
returning id::text, user_id::text, lender_name, debt_amount, status, stage, created_at, updated_at`,
			owner, strings.TrimSpace(in.LenderName), in.DebtAmount).
			Scan(&t.ID, &t.UserID, &t.LenderName, &t.DebtAmount, &t.Status, &t.Stage, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, t)
	}
}

// List returns tickets. Admins see all (with optional filters); regular
// users see only their own.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := authpkg.CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		where := []string{}
		args := []any{}
		if !u.IsAdmin() {
			where = append(where, fmt.Sprintf("t.user_id = $%d", len(args)+1))
			args = append(args, u.ID)
		}
		if v := strings.TrimSpace(c.Query("status")); v != "" {
			where = append(where, fmt.Sprintf("t.status = $%d", len(args)+1))
			args = append(args, v)
		}
		if v := strings.TrimSpace(c.Query("stage")); v != "" {
			where = append(where, fmt.Sprintf("t.stage = $%d", len(args)+1))
			args = append(args, v)
		}
		if v := strings.TrimSpace(c.Query("search")); v != "" {
			where = append(where, fmt.Sprintf("t.lender_name ILIKE $%d", len(args)+1))
			args = append(args, "%"+v+"%")
		}
		sql := `select t.id::text, t.user_id::text, t.lender_name, t.debt_amount, t.status, t.stage, t.created_at, t.updated_at from tickets t`
		if len(where) > 0 {
			sql += " where " + strings.Join(where, " and ")
		}
		sql += " order by t.updated_at desc limit 100"
		rows, err := a.DB.Query(c.Request.Context(), sql, args...)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer rows.Close()
		out := []Ticket{}
		for rows.Next() {
			var t Ticket
			if err := rows.Scan(&t.ID, &t.UserID, &t.LenderName, &t.DebtAmount, &t.Status, &t.Stage, &t.CreatedAt, &t.UpdatedAt); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out = append(out, t)
		}
		c.JSON(http.StatusOK, out)
	}
}

// Get returns a ticket visible to its owner or any admin.
func Get(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := authpkg.CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		var t Ticket
		err := a.DB.QueryRow(c.Request.Context(),
			`select id::text, user_id::text, lender_name, debt_amount, status, stage, created_at, updated_at from tickets where id=$1`,
			c.Param("id")).
			Scan(&t.ID, &t.UserID, &t.LenderName, &t.DebtAmount, &t.Status, &t.Stage, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if t.UserID != u.ID && !u.IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

type patchReq struct {
	Status     *string `json:"status"`
	Stage      *string `json:"stage"`
	LenderName *string `json:"lender_name"`
	DebtAmount *int64  `json:"debt_amount"`
}

// Update applies admin edits. A status or stage change records the matching
// timeline event in the same transaction as the ticket update.
func Update(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var in patchReq
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		if in.Status == nil && in.Stage == nil && in.LenderName == nil && in.DebtAmount == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no fields"})
			return
		}
		u, _ := authpkg.CurrentUser(c)
		ctx := c.Request.Context()

		tx, err := a.DB.Begin(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer tx.Rollback(ctx)

		var oldStatus, oldStage string
		if err := tx.QueryRow(ctx, `select status, stage from tickets where id=$1 for update`, id).Scan(&oldStatus, &oldStage); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		var t Ticket
		err = tx.QueryRow(ctx, `
update tickets set
    status = coalesce($1, status),
    stage = coalesce($2, stage),
    lender_name = coalesce($3, lender_name),
    debt_amount = coalesce($4, debt_amount),
    updated_at = now()
where id=$5
returning id::text, user_id::text, lender_name, debt_amount, status, stage, created_at, updated_at`,
			in.Status, in.Stage, in.LenderName, in.DebtAmount, id).
			Scan(&t.ID, &t.UserID, &t.LenderName, &t.DebtAmount, &t.Status, &t.Stage, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if in.Status != nil && *in.Status != oldStatus {
			msg := fmt.Sprintf("Status changed from %s to %s", oldStatus, *in.Status)
			if _, err := tx.Exec(ctx, `insert into ticket_events (ticket_id, event_type, message, created_by) values ($1, $2, $3, $4)`,
				id, EventStatusChange, msg, u.ID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		if in.Stage != nil && *in.Stage != oldStage {
			msg := fmt.Sprintf("Stage moved from %s to %s", oldStage, *in.Stage)
			if _, err := tx.Exec(ctx, `insert into ticket_events (ticket_id, event_type, message, created_by) values ($1, $2, $3, $4)`,
				id, EventStageChange, msg, u.ID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		if err := tx.Commit(ctx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, t)
	}
}
