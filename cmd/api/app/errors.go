package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// portalErrKey is the context key AbortError stores under and Errors reads.
const portalErrKey = "portal_error"

// Error is the machine-readable error body rendered by Errors.
type Error struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

// Envelope wraps an error response so clients can always look up .error.
type Envelope struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

// AbortError stops the handler chain with a coded error. The Errors
// middleware renders and logs it once the chain unwinds.
func AbortError(c *gin.Context, status int, code, message string, fields map[string]string) {
	c.Set(portalErrKey, &Error{Code: code, Message: message, FieldErrors: fields})
	c.AbortWithStatus(status)
}

// AbortDB logs a storage failure and answers with a generic envelope so the
// underlying driver error never reaches the client.
func AbortDB(c *gin.Context, err error) {
	log.Ctx(c.Request.Context()).Error().Err(err).Msg("database error")
	AbortError(c, http.StatusInternalServerError, "db_error", "database error", nil)
}

// Errors renders the envelope for any error recorded via AbortError and
// emits a structured log line carrying the code and field errors.
func Errors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		v, ok := c.Get(portalErrKey)
		if !ok {
			return
		}
		appErr, ok := v.(*Error)
		if !ok {
			return
		}
		ev := log.Ctx(c.Request.Context()).Error().Str("code", appErr.Code)
		for field, msg := range appErr.FieldErrors {
			ev = ev.Str("field_"+field, msg)
		}
		ev.Msg(appErr.Message)
		c.JSON(c.Writer.Status(), Envelope{Error: appErr})
	}
}
