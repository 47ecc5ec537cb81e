package tickets

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"

	app "github.com/credsettle/portal-go/cmd/api/app"
	authpkg "github.com/credsettle/portal-go/cmd/api/auth"
)

var msgSanitizer = bluemonday.StrictPolicy()

type Message struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// ListMessages returns a ticket's chat thread in chronological order.
func ListMessages(a *app.App) gin.HandlerFunc {
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
			`select id::text, ticket_id::text, author_id::text, body, created_at from chat_messages where ticket_id=$1 order by created_at asc`,
			c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer rows.Close()
		out := []Message{}
		for rows.Next() {
			var m Message
			if err := rows.Scan(&m.ID, &m.TicketID, &m.AuthorID, &m.Body, &m.CreatedAt); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out = append(out, m)
		}
		c.JSON(http.StatusOK, out)
	}
}

// AddMessage appends to a ticket's chat thread.
func AddMessage(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := authpkg.CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if _, ok := requireAccess(c, a.DB, c.Param("id"), u); !ok {
			return
		}
		var in struct {
			Body string `json:"body"`
		}
		if err := c.ShouldBindJSON(&in); err != nil || strings.TrimSpace(in.Body) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body required"})
			return
		}
		body := msgSanitizer.Sanitize(strings.TrimSpace(in.Body))
		var m Message
		err := a.DB.QueryRow(c.Request.Context(),
			`insert into chat_messages (ticket_id, author_id, body) values ($1, $2, $3) returning id::text, ticket_id::text, author_id::text, body, created_at`,
			c.Param("id"), u.ID, body).
			Scan(&m.ID, &m.TicketID, &m.AuthorID, &m.Body, &m.CreatedAt)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, m)
	}
}
