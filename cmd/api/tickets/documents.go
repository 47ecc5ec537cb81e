package tickets

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog/log"

	app "github.com/credsettle/portal-go/cmd/api/app"
	authpkg "github.com/credsettle/portal-go/cmd/api/auth"
)

type Document struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"ticket_id"`
	UploadedBy *string   `json:"uploaded_by,omitempty"`
	Filename   string    `json:"filename"`
	Bytes      int64     `json:"bytes"`
	Mime       *string   `json:"mime,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListDocuments returns a ticket's documents.
func ListDocuments(a *app.App) gin.HandlerFunc {
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
			`select id::text, ticket_id::text, uploaded_by::text, filename, bytes, mime, created_at from documents where ticket_id=$1 order by created_at desc`,
			c.Param("id"))
		if err != nil {
			app.AbortDB(c, err)
			return
		}
		defer rows.Close()
		out := []Document{}
		for rows.Next() {
			var d Document
			if err := rows.Scan(&d.ID, &d.TicketID, &d.UploadedBy, &d.Filename, &d.Bytes, &d.Mime, &d.CreatedAt); err != nil {
				app.AbortDB(c, err)
				return
			}
			out = append(out, d)
		}
		c.JSON(http.StatusOK, out)
	}
}

// UploadDocument stores a file in the object store and records it. A
// DOCUMENT timeline event is added alongside, touching the ticket in the
// same transaction. The object is written first; if the database side fails
// the stored object is removed again so nothing is left orphaned.
func UploadDocument(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.M == nil {
			app.AbortError(c, http.StatusInternalServerError, "store_unconfigured", "object store not configured", nil)
			return
		}
		u, ok := authpkg.CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		ticketID := c.Param("id")
		if _, ok := requireAccess(c, a.DB, ticketID, u); !ok {
			return
		}
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			app.AbortError(c, http.StatusBadRequest, "invalid_body", "file required", map[string]string{"file": "required"})
			return
		}
		defer file.Close()
		objectKey := uuid.New().String()
		ctx := c.Request.Context()
		_, err = a.M.PutObject(ctx, a.Cfg.MinIOBucket, objectKey, file, header.Size,
			minio.PutObjectOptions{ContentType: header.Header.Get("Content-Type")})
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "store_put_failed", "object store write failed", nil)
			return
		}
		// best-effort removal of the stored object when the record cannot
		// be committed
		cleanup := func() {
			if err := a.M.RemoveObject(ctx, a.Cfg.MinIOBucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("object_key", objectKey).Msg("orphaned object cleanup")
			}
		}
		tx, err := a.DB.Begin(ctx)
		if err != nil {
			cleanup()
			app.AbortDB(c, err)
			return
		}
		defer tx.Rollback(ctx)
		var d Document
		err = tx.QueryRow(ctx, `
insert into documents (ticket_id, uploaded_by, object_key, filename, bytes, mime)
values ($1, $2, $3, $4, $5, nullif($6,''))
returning id::text, ticket_id::text, uploaded_by::text, filename, bytes, mime, created_at`,
			ticketID, u.ID, objectKey, header.Filename, header.Size, header.Header.Get("Content-Type")).
			Scan(&d.ID, &d.TicketID, &d.UploadedBy, &d.Filename, &d.Bytes, &d.Mime, &d.CreatedAt)
		if err != nil {
			cleanup()
			app.AbortDB(c, err)
			return
		}
		if _, err := tx.Exec(ctx, `insert into ticket_events (ticket_id, event_type, message, created_by) values ($1, $2, $3, $4)`,
			ticketID, EventDocument, "Document uploaded: "+header.Filename, u.ID); err != nil {
			cleanup()
			app.AbortDB(c, err)
			return
		}
		if _, err := tx.Exec(ctx, `update tickets set updated_at=now() where id=$1`, ticketID); err != nil {
			cleanup()
			app.AbortDB(c, err)
			return
		}
		if err := tx.Commit(ctx); err != nil {
			cleanup()
			app.AbortDB(c, err)
			return
		}
		c.JSON(http.StatusCreated, d)
	}
}

// DeleteDocument removes a document record and its stored object. Admin only.
func DeleteDocument(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.M == nil {
			app.AbortError(c, http.StatusInternalServerError, "store_unconfigured", "object store not configured", nil)
			return
		}
		ticketID := c.Param("id")
		docID := c.Param("docID")
		ctx := c.Request.Context()
		var objectKey string
		err := a.DB.QueryRow(ctx, `select object_key from documents where id=$1 and ticket_id=$2`, docID, ticketID).Scan(&objectKey)
		if err != nil {
			app.AbortError(c, http.StatusNotFound, "not_found", "not found", nil)
			return
		}
		if err := a.M.RemoveObject(ctx, a.Cfg.MinIOBucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("object_key", objectKey).Msg("object removal")
		}
		if _, err := a.DB.Exec(ctx, `delete from documents where id=$1`, docID); err != nil {
			app.AbortDB(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
