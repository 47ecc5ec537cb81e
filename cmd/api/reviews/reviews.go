package reviews

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	app "github.com/credsettle/portal-go/cmd/api/app"
	authpkg "github.com/credsettle/portal-go/cmd/api/auth"
	metricspkg "github.com/credsettle/portal-go/cmd/api/metrics"
)

var sanitizer = bluemonday.StrictPolicy()

type createReq struct {
	Name    string `json:"name" binding:"required"`
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Comment string `json:"comment"`
}

// Create stores a public review. Reviews always start unapproved no matter
// what the client sends.
func Create(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in createReq
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Name and a rating between 1 and 5 are required"})
			return
		}
		comment := sanitizer.Sanitize(strings.TrimSpace(in.Comment))
		var id string
		err := a.DB.QueryRow(c.Request.Context(),
			`insert into reviews (name, rating, comment, approved) values ($1, $2, nullif($3,''), false) returning id::text`,
			strings.TrimSpace(in.Name), in.Rating, comment).Scan(&id)
		if err != nil {
			log.Ctx(c.Request.Context()).Error().Err(err).Msg("review insert")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Something went wrong, please try again"})
			return
		}
		metricspkg.ReviewsSubmittedTotal.Inc()
		c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
	}
}

type Review struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Rating    int     `json:"rating"`
	Comment   *string `json:"comment,omitempty"`
	Approved  bool    `json:"approved,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// ListPublic returns approved reviews only, newest first, capped at 50.
func ListPublic(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []Review{})
			return
		}
		rows, err := a.DB.Query(c.Request.Context(),
			`select id::text, name, rating, comment, created_at::text from reviews where approved=true order by created_at desc limit 50`)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer rows.Close()
		out := []Review{}
		for rows.Next() {
			var r Review
			if err := rows.Scan(&r.ID, &r.Name, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			r.Approved = true
			out = append(out, r)
		}
		c.JSON(http.StatusOK, out)
	}
}

// ListAll returns every review for moderation, newest first.
func ListAll(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := a.DB.Query(c.Request.Context(),
			`select id::text, name, rating, comment, approved, created_at::text from reviews order by created_at desc limit 200`)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer rows.Close()
		out := []Review{}
		for rows.Next() {
			var r Review
			if err := rows.Scan(&r.ID, &r.Name, &r.Rating, &r.Comment, &r.Approved, &r.CreatedAt); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out = append(out, r)
		}
		c.JSON(http.StatusOK, out)
	}
}

// Update moderates a review. Only admins reach this handler; approving
// records the acting admin.
func Update(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			Approved *bool `json:"approved"`
		}
		if err := c.ShouldBindJSON(&in); err != nil || in.Approved == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "approved required"})
			return
		}
		u, _ := authpkg.CurrentUser(c)
		var approvedBy interface{}
		if *in.Approved && u.ID != "" {
			approvedBy = u.ID
		}
		var r Review
		err := a.DB.QueryRow(c.Request.Context(),
			`update reviews set approved=$1, approved_by=$2::uuid where id=$3 returning id::text, name, rating, comment, approved, created_at::text`,
			*in.Approved, approvedBy, c.Param("id")).
			Scan(&r.ID, &r.Name, &r.Rating, &r.Comment, &r.Approved, &r.CreatedAt)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, r)
	}
}

// Delete removes a review.
func Delete(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		tag, err := a.DB.Exec(c.Request.Context(), `delete from reviews where id=$1`, c.Param("id"))
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
