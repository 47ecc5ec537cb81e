package news

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Searcher is the upstream surface used by the proxy; satisfied by
// *news.Client and stubbed in tests.
type Searcher interface {
	Search(ctx context.Context, q, page string) (json.RawMessage, error)
}

// Proxy forwards a news search to the upstream provider. The API key stays
// server-side; the query term defaults when absent.
func Proxy(s Searcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := s.Search(c.Request.Context(), c.Query("q"), c.Query("page"))
		if err != nil {
			log.Ctx(c.Request.Context()).Error().Err(err).Msg("news upstream")
			c.JSON(http.StatusBadGateway, gin.H{"error": "news service unavailable"})
			return
		}
		c.Data(http.StatusOK, "application/json", payload)
	}
}
