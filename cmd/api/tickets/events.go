package tickets

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	app "github.com/credsettle/portal-go/cmd/api/app"
	authpkg "github.com/credsettle/portal-go/cmd/api/auth"
	metricspkg "github.com/credsettle/portal-go/cmd/api/metrics"
)

// Timeline event types.
const (
	EventInfo         = "INFO"
	EventDocument     = "DOCUMENT"
	EventStatusChange = "STATUS_CHANGE"
	EventStageChange  = "STAGE_CHANGE"
)

var eventTypes = map[string]bool{
	EventInfo:         true,
	EventDocument:     true,
	EventStatusChange: true,
	EventStageChange:  true,
}

// Event is an immutable timeline entry on a ticket. CreatedBy is a weak
// reference: the authoring admin may have been deleted since.
type Event struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	CreatedBy *string   `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListEvents returns a ticket's timeline, newest first. The ticket's owner
// is loaded first; non-owner non-admin requesters get 403.
func ListEvents(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := authpkg.CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if _, ok := requireAccess(c, a.DB, c.Param("id"), u); !ok {
			return
		}
		rows, err := a.DB.Query(c.Request.Context(),
			`select id::text, ticket_id::text, event_type, message, created_by::text, created_at from ticket_events where ticket_id=$1 order by created_at desc`,
			c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer rows.Close()
		out := []Event{}
		for rows.Next() {
			var e Event
			if err := rows.Scan(&e.ID, &e.TicketID, &e.Type, &e.Message, &e.CreatedBy, &e.CreatedAt); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out = append(out, e)
		}
		c.JSON(http.StatusOK, out)
	}
}

type createEventReq struct {
	Type    string `json:"type" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// CreateEvent records a timeline event. Admin only; the event insert and the
// parent ticket's updated_at touch commit together or not at all.
func CreateEvent(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var in createEventReq
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type and message required"})
			return
		}
		in.Type = strings.ToUpper(strings.TrimSpace(in.Type))
		if !eventTypes[in.Type] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event type"})
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

		var e Event
		err = tx.QueryRow(ctx, `
insert into ticket_events (ticket_id, event_type, message, created_by)
values ($1, $2, $3, $4)
returning id::text, ticket_id::text, event_type, message, created_by::text, created_at`,
			id, in.Type, in.Message, u.ID).
			Scan(&e.ID, &e.TicketID, &e.Type, &e.Message, &e.CreatedBy, &e.CreatedAt)
		if err != nil {
			// FK violation means the ticket does not exist
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if _, err := tx.Exec(ctx, `update tickets set updated_at=now() where id=$1`, id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := tx.Commit(ctx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		metricspkg.TicketEventsTotal.WithLabelValues(e.Type).Inc()
		c.JSON(http.StatusCreated, e)
	}
}
