package users

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	app "github.com/credsettle/portal-go/cmd/api/app"
	authpkg "github.com/credsettle/portal-go/cmd/api/auth"
)

type User struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// List returns users. Optional q filters by email/username/display_name.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := strings.TrimSpace(c.Query("q"))
		sql := `select id::text, coalesce(username,''), coalesce(email,''), coalesce(phone,''), coalesce(display_name,''), role from users`
		args := []any{}
		if q != "" {
			sql += ` where lower(email) like $1 or lower(username) like $1 or lower(display_name) like $1`
			args = append(args, "%"+strings.ToLower(q)+"%")
		}
		sql += ` order by display_name nulls last, email nulls last limit 100`
		rows, err := a.DB.Query(c.Request.Context(), sql, args...)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer rows.Close()
		out := []User{}
		for rows.Next() {
			var u User
			if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Phone, &u.DisplayName, &u.Role); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out = append(out, u)
		}
		c.JSON(http.StatusOK, out)
	}
}

// Get returns a single user by id.
func Get(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var u User
		row := a.DB.QueryRow(c.Request.Context(),
			`select id::text, coalesce(username,''), coalesce(email,''), coalesce(phone,''), coalesce(display_name,''), role from users where id=$1`,
			c.Param("id"))
		if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Phone, &u.DisplayName, &u.Role); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

type createReq struct {
	Username    string `json:"username" binding:"required"`
	Email       string `json:"email" binding:"omitempty,email"`
	Phone       string `json:"phone"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password" binding:"required,min=8"`
	Role        string `json:"role"`
}

// Create adds a local user. Admin only.
func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in createReq
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password (min 8 chars) required"})
			return
		}
		role := authpkg.RoleUser
		if in.Role == authpkg.RoleAdmin {
			role = authpkg.RoleAdmin
		}
		ph, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "hash failure"})
			return
		}
		const q = `
insert into users (username, email, phone, display_name, password_hash, role)
values ($1, nullif($2,''), nullif($3,''), nullif($4,''), $5, $6)
returning id::text`
		var id string
		if err := a.DB.QueryRow(c.Request.Context(), q, in.Username, strings.ToLower(in.Email), in.Phone, in.DisplayName, string(ph), role).Scan(&id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
	}
}

type patchReq struct {
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	DisplayName *string `json:"display_name"`
	Role        *string `json:"role"`
}

// Update edits user fields. Admin only; this is the single path that can
// change a role.
func Update(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in patchReq
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		if in.Email == nil && in.Phone == nil && in.DisplayName == nil && in.Role == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no fields"})
			return
		}
		if in.Role != nil && *in.Role != authpkg.RoleAdmin && *in.Role != authpkg.RoleUser {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		var u User
		err := a.DB.QueryRow(c.Request.Context(), `
update users set
    email = coalesce($1, email),
    phone = coalesce($2, phone),
    display_name = coalesce($3, display_name),
    role = coalesce($4, role),
    updated_at = now()
where id=$5
returning id::text, coalesce(username,''), coalesce(email,''), coalesce(phone,''), coalesce(display_name,''), role`,
			in.Email, in.Phone, in.DisplayName, in.Role, c.Param("id")).
			Scan(&u.ID, &u.Username, &u.Email, &u.Phone, &u.DisplayName, &u.Role)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

// cleanupPlan is the ordered cascade plan run before deleting a user. The
// weak admin references carry no cascade semantics in the schema, so each
// must be nulled explicitly; the order matters and all steps share one
// transaction.
var cleanupPlan = []string{
	`delete from chat_messages where author_id=$1`,
	`update ticket_events set created_by=null where created_by=$1`,
	`update documents set uploaded_by=null where uploaded_by=$1`,
	`update callback_requests set handled_by=null where handled_by=$1`,
	`update reviews set approved_by=null where approved_by=$1`,
	`delete from users where id=$1`,
}

func deleteUser(ctx context.Context, db app.DB, id string) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, stmt := range cleanupPlan {
		if _, err := tx.Exec(ctx, stmt, id); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Delete removes a user and every dangling reference to them. Admins cannot
// delete themselves. The user's own tickets go with the row via cascade.
func Delete(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		u, _ := authpkg.CurrentUser(c)
		if id == u.ID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete your own account"})
			return
		}
		ctx := c.Request.Context()
		var exists bool
		if err := a.DB.QueryRow(ctx, `select exists(select 1 from users where id=$1)`, id).Scan(&exists); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if err := deleteUser(ctx, a.DB, id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
