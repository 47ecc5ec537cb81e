package emergency

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	app "github.com/credsettle/portal-go/cmd/api/app"
	callbackspkg "github.com/credsettle/portal-go/cmd/api/callbacks"
	metricspkg "github.com/credsettle/portal-go/cmd/api/metrics"
	"github.com/credsettle/portal-go/internal/payments"
)

// Payment states for an emergency contact.
const (
	PaymentPending = "PENDING"
	PaymentPaid    = "PAID"
)

// Gateway is the payment gateway surface used by the handlers; satisfied by
// *payments.Client and stubbed in tests.
type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, receipt string) (*payments.Order, error)
}

type createReq struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Concern string `json:"concern"`
}

// Create accepts a paid-priority contact request: the row is stored PENDING
// and a gateway order is opened for the client checkout.
func Create(a *app.App, gw Gateway, amount int64) gin.HandlerFunc {
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
		phone := callbackspkg.NormalizePhone(in.Phone)
		if !callbackspkg.ValidPhone(phone) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Please enter a valid 10-digit Indian phone number"})
			return
		}
		ctx := c.Request.Context()
		var id string
		err := a.DB.QueryRow(ctx,
			`insert into emergency_contacts (name, phone, concern, amount) values ($1, $2, nullif($3,''), $4) returning id::text`,
			in.Name, phone, strings.TrimSpace(in.Concern), amount).Scan(&id)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("emergency insert")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Something went wrong, please try again"})
			return
		}
		order, err := gw.CreateOrder(ctx, amount, id)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("payment order")
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "Payment service unavailable, please try again"})
			return
		}
		if _, err := a.DB.Exec(ctx, `update emergency_contacts set order_id=$1, updated_at=now() where id=$2`, order.ID, id); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("order id store")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Something went wrong, please try again"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"id":       id,
			"order_id": order.ID,
			"amount":   amount,
			"key_id":   a.Cfg.PaymentKeyID,
		})
	}
}

type verifyReq struct {
	ContactID string `json:"contact_id" binding:"required"`
	OrderID   string `json:"order_id" binding:"required"`
	PaymentID string `json:"payment_id" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// Verify checks the checkout signature and, only on success, marks the
// contact PAID. A mismatch changes nothing.
func Verify(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in verifyReq
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing payment details"})
			return
		}
		if !payments.VerifySignature(in.OrderID, in.PaymentID, in.Signature, a.Cfg.PaymentKeySecret) {
			metricspkg.PaymentVerificationsTotal.WithLabelValues("rejected").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Payment verification failed"})
			return
		}
		ctx := c.Request.Context()
		tx, err := a.DB.Begin(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Something went wrong"})
			return
		}
		defer tx.Rollback(ctx)
		tag, err := tx.Exec(ctx,
			`update emergency_contacts set payment_status=$1, payment_id=$2, updated_at=now() where id=$3 and order_id=$4 and payment_status=$5`,
			PaymentPaid, in.PaymentID, in.ContactID, in.OrderID, PaymentPending)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Something went wrong"})
			return
		}
		if tag.RowsAffected() == 0 {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Payment record not found"})
			return
		}
		if err := tx.Commit(ctx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Something went wrong"})
			return
		}
		metricspkg.PaymentVerificationsTotal.WithLabelValues("verified").Inc()
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

type Contact struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Phone         string  `json:"phone"`
	Concern       *string `json:"concern,omitempty"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"payment_status"`
	Amount        int64   `json:"amount"`
	OrderID       *string `json:"order_id,omitempty"`
	PaymentID     *string `json:"payment_id,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// List returns emergency contacts for staff, newest first.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		sql := `select id::text, name, phone, concern, status, payment_status, amount, order_id, payment_id, created_at::text from emergency_contacts`
		args := []any{}
		if v := strings.TrimSpace(c.Query("payment_status")); v != "" {
			sql += " where payment_status=$1"
			args = append(args, v)
		}
		sql += " order by created_at desc limit 200"
		rows, err := a.DB.Query(c.Request.Context(), sql, args...)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer rows.Close()
		out := []Contact{}
		for rows.Next() {
			var ec Contact
			if err := rows.Scan(&ec.ID, &ec.Name, &ec.Phone, &ec.Concern, &ec.Status, &ec.PaymentStatus, &ec.Amount, &ec.OrderID, &ec.PaymentID, &ec.CreatedAt); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out = append(out, ec)
		}
		c.JSON(http.StatusOK, out)
	}
}

var contactStatuses = map[string]bool{"NEW": true, "IN_PROGRESS": true, "RESOLVED": true}

// UpdateStatus moves a contact through its handling statuses. Payment state
// is not reachable from here; it only changes through Verify.
func UpdateStatus(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&in); err != nil || !contactStatuses[in.Status] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		tag, err := a.DB.Exec(c.Request.Context(),
			`update emergency_contacts set status=$1, updated_at=now() where id=$2`, in.Status, c.Param("id"))
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
