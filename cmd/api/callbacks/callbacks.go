package callbacks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	app "github.com/credsettle/portal-go/cmd/api/app"
	authpkg "github.com/credsettle/portal-go/cmd/api/auth"
	metricspkg "github.com/credsettle/portal-go/cmd/api/metrics"
)

var indianMobile = regexp.MustCompile(`^[6-9][0-9]{9}$`)

// NormalizePhone strips non-digits and keeps the last 10 digits, so inputs
// like "+91 98765-43210" reduce to "9876543210".
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}

// ValidPhone reports whether s normalizes to an Indian mobile number.
func ValidPhone(s string) bool {
	return indianMobile.MatchString(NormalizePhone(s))
}

type createReq struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Create accepts a public callback request.
func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in createReq
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}
		in.Name = strings.TrimSpace(in.Name)
		if in.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Please enter your name"})
			return
		}
		phone := NormalizePhone(in.Phone)
		if !indianMobile.MatchString(phone) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Please enter a valid 10-digit Indian phone number"})
			return
		}
		var id string
		err := a.DB.QueryRow(c.Request.Context(), `insert into callback_requests (name, phone, message) values ($1, $2, nullif($3,'')) returning id::text`,
			in.Name, phone, strings.TrimSpace(in.Message)).Scan(&id)
		if err != nil {
			log.Ctx(c.Request.Context()).Error().Err(err).Msg("callback insert")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Something went wrong, please try again"})
			return
		}
		metricspkg.CallbacksCreatedTotal.Inc()
		enqueueNotification(c.Request.Context(), a, "callback_requested", gin.H{"id": id, "name": in.Name, "phone": phone})
		c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
	}
}

// enqueueNotification pushes a job for the staff-alert worker. Best effort.
func enqueueNotification(ctx context.Context, a *app.App, typ string, data interface{}) {
	if a.Q == nil {
		return
	}
	job := struct {
		Type string      `json:"type"`
		Data interface{} `json:"data"`
	}{typ, data}
	b, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := a.Q.RPush(ctx, "jobs", b).Err(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("enqueue job")
	}
}

type Callback struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Phone     string  `json:"phone"`
	Message   *string `json:"message,omitempty"`
	Status    string  `json:"status"`
	HandledBy *string `json:"handled_by,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// List returns callback requests for staff, newest first.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []Callback{})
			return
		}
		sql := `select id::text, name, phone, message, status, handled_by::text, created_at::text from callback_requests`
		args := []any{}
		if v := strings.TrimSpace(c.Query("status")); v != "" {
			sql += " where status=$1"
			args = append(args, v)
		}
		sql += " order by created_at desc limit 200"
		rows, err := a.DB.Query(c.Request.Context(), sql, args...)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer rows.Close()
		out := []Callback{}
		for rows.Next() {
			var cb Callback
			if err := rows.Scan(&cb.ID, &cb.Name, &cb.Phone, &cb.Message, &cb.Status, &cb.HandledBy, &cb.CreatedAt); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out = append(out, cb)
		}
		c.JSON(http.StatusOK, out)
	}
}

var callbackStatuses = map[string]bool{"NEW": true, "CONTACTED": true, "CLOSED": true}

// Update lets an admin move a callback through its statuses. Changing status
// off NEW claims the request for the acting admin.
func Update(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			Status *string `json:"status"`
		}
		if err := c.ShouldBindJSON(&in); err != nil || in.Status == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status required"})
			return
		}
		if !callbackStatuses[*in.Status] {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid status %q", *in.Status)})
			return
		}
		u, _ := authpkg.CurrentUser(c)
		var handledBy interface{}
		if *in.Status != "NEW" && u.ID != "" {
			handledBy = u.ID
		}
		tag, err := a.DB.Exec(c.Request.Context(),
			`update callback_requests set status=$1, handled_by=coalesce($2::uuid, handled_by), updated_at=now() where id=$3`,
			*in.Status, handledBy, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if tag.RowsAffected() == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
