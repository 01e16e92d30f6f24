package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tms/internal/cache"
	"github.com/vladislavdragonenkov/tms/internal/domain"
	"github.com/vladislavdragonenkov/tms/internal/service/reservation"
)

type reservationItemRequest struct {
	TicketClassID string `json:"ticket_class_id" binding:"required"`
	Quantity      int32  `json:"quantity" binding:"required"`
}

type createReservationRequest struct {
	ShowID  string                   `json:"show_id" binding:"required"`
	BuyerID string                   `json:"buyer_id"`
	Tickets []reservationItemRequest `json:"tickets" binding:"required"`
}

type reservationResponse struct {
	PaymentID        string           `json:"payment_id"`
	PaymentReference string           `json:"payment_reference"`
	AmountMinor      int64            `json:"amount_minor"`
	AccountNumber    string           `json:"account_number,omitempty"`
	BankName         string           `json:"bank_name,omitempty"`
	Status           string           `json:"status"`
	Details          map[string]int32 `json:"details"`
	ExpiresAt        time.Time        `json:"expires_at"`
}

type paymentResponse struct {
	PaymentID   string           `json:"payment_id"`
	ShowID      string           `json:"show_id"`
	BuyerID     string           `json:"buyer_id,omitempty"`
	AmountMinor int64            `json:"amount_minor"`
	Reference   string           `json:"reference"`
	Status      string           `json:"status"`
	Details     map[string]int32 `json:"details"`
	Tickets     []ticketResponse `json:"tickets,omitempty"`
	ExpiresAt   time.Time        `json:"expires_at"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type ticketResponse struct {
	ID            string `json:"id"`
	TicketClassID string `json:"ticket_class_id"`
}

type createTicketClassRequest struct {
	ID         string `json:"id"`
	ShowID     string `json:"show_id" binding:"required"`
	Name       string `json:"name" binding:"required"`
	PriceMinor int64  `json:"price_minor"`
	Capacity   int32  `json:"capacity" binding:"required"`
}

func (s *Server) createReservation(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	replayed, done := s.beginIdempotent(c, body)
	if replayed {
		return
	}

	var req createReservationRequest
	if err := bindJSONBytes(c, body, &req); err != nil {
		done(c.Writer.Status(), nil)
		return
	}

	items := make([]domain.ReservationItem, 0, len(req.Tickets))
	for _, item := range req.Tickets {
		items = append(items, domain.ReservationItem{
			TicketClassID: item.TicketClassID,
			Quantity:      item.Quantity,
		})
	}

	invoice, err := s.engine.Reserve(reservation.Request{
		ShowID:  req.ShowID,
		BuyerID: req.BuyerID,
		Items:   items,
	})
	if err != nil {
		s.handleError(c, err, "createReservation")
		done(c.Writer.Status(), nil)
		return
	}

	if s.availability != nil {
		s.availability.Invalidate(c.Request.Context(), invoice.ShowID)
	}

	resp := reservationResponse{
		PaymentID:        invoice.ID,
		PaymentReference: invoice.Reference,
		AmountMinor:      invoice.AmountMinor,
		Status:           string(invoice.Status),
		Details:          invoice.Details,
		ExpiresAt:        invoice.ExpiresAt,
	}
	if s.gateway != nil {
		account := s.gateway.AccountDetails()
		resp.AccountNumber = account.AccountNumber
		resp.BankName = account.BankName
	}

	c.JSON(http.StatusCreated, resp)
	done(http.StatusCreated, resp)
}

func (s *Server) getPayment(c *gin.Context) {
	invoice, err := s.invoices.Get(c.Param("id"))
	if err != nil {
		s.handleError(c, err, "getPayment")
		return
	}

	resp := paymentResponse{
		PaymentID:   invoice.ID,
		ShowID:      invoice.ShowID,
		BuyerID:     invoice.BuyerID,
		AmountMinor: invoice.AmountMinor,
		Reference:   invoice.Reference,
		Status:      string(invoice.Status),
		Details:     invoice.Details,
		ExpiresAt:   invoice.ExpiresAt,
		CreatedAt:   invoice.CreatedAt,
		UpdatedAt:   invoice.UpdatedAt,
	}

	if invoice.Status == domain.InvoiceStatusPaymentSuccess && s.tickets != nil {
		issued, err := s.tickets.ListByInvoice(invoice.ID)
		if err != nil {
			s.logger.WithError(err).WithField("payment_id", invoice.ID).Warn("list tickets failed")
		}
		for _, ticket := range issued {
			resp.Tickets = append(resp.Tickets, ticketResponse{
				ID:            ticket.ID,
				TicketClassID: ticket.TicketClassID,
			})
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) cancelPayment(c *gin.Context) {
	paymentID := c.Param("id")

	applied, err := s.stateMachine.Cancel(paymentID, "buyer cancelled")
	if err != nil {
		s.handleError(c, err, "cancelPayment")
		return
	}
	if !applied {
		// Платёж уже в терминальном статусе, отменять нечего.
		invoice, err := s.invoices.Get(paymentID)
		if err != nil {
			s.handleError(c, err, "cancelPayment")
			return
		}
		c.JSON(http.StatusGone, gin.H{
			"error":  "payment already finalized",
			"status": string(invoice.Status),
		})
		return
	}

	invoice, err := s.invoices.Get(paymentID)
	if err != nil {
		s.handleError(c, err, "cancelPayment")
		return
	}
	if s.availability != nil {
		s.availability.Invalidate(c.Request.Context(), invoice.ShowID)
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_id": paymentID,
		"status":     string(invoice.Status),
	})
}

func (s *Server) showAvailability(c *gin.Context) {
	showID := c.Param("id")

	if s.availability != nil {
		if snapshot, ok := s.availability.Get(c.Request.Context(), showID); ok {
			c.JSON(http.StatusOK, gin.H{"show_id": showID, "classes": snapshot, "cached": true})
			return
		}
	}

	classes, err := s.inventory.ListByShow(showID)
	if err != nil {
		s.handleError(c, err, "showAvailability")
		return
	}

	snapshot := cache.Snapshot(classes)
	if s.availability != nil {
		s.availability.Set(c.Request.Context(), showID, snapshot)
	}

	c.JSON(http.StatusOK, gin.H{"show_id": showID, "classes": snapshot})
}

func (s *Server) createTicketClass(c *gin.Context) {
	var req createTicketClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	now := time.Now().UTC()
	tc := domain.TicketClass{
		ID:         req.ID,
		ShowID:     req.ShowID,
		Name:       req.Name,
		PriceMinor: req.PriceMinor,
		Capacity:   req.Capacity,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if tc.ID == "" {
		tc.ID = uuid.NewString()
	}
	if errs := tc.ValidateInvariants(); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errs[0].Error()})
		return
	}

	if err := s.inventory.CreateTicketClass(tc); err != nil {
		if domain.IsVersionConflict(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "ticket class already exists"})
			return
		}
		s.handleError(c, err, "createTicketClass")
		return
	}

	if s.availability != nil {
		s.availability.Invalidate(c.Request.Context(), tc.ShowID)
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":          tc.ID,
		"show_id":     tc.ShowID,
		"name":        tc.Name,
		"price_minor": tc.PriceMinor,
		"capacity":    tc.Capacity,
	})
}

// streamPaymentEvents отдаёт переходы статуса платежа как SSE-поток.
// История не воспроизводится: клиент получает текущий статус первым
// событием, далее только новые переходы.
func (s *Server) streamPaymentEvents(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event streaming is not enabled"})
		return
	}

	paymentID := c.Param("id")
	invoice, err := s.invoices.Get(paymentID)
	if err != nil {
		s.handleError(c, err, "streamPaymentEvents")
		return
	}

	ch, cancel := s.hub.Subscribe(paymentID)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.SSEvent("status", domain.PaymentNotification{
		PaymentID: invoice.ID,
		Status:    invoice.Status,
		Timestamp: invoice.UpdatedAt,
	})
	c.Writer.Flush()

	if invoice.Status.IsTerminal() {
		return
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("status", n)
			c.Writer.Flush()
			if n.Status.IsTerminal() {
				return
			}
		}
	}
}

func (s *Server) handleError(c *gin.Context, err error, operation string) {
	logger := s.logger.WithFields(log.Fields{"operation": operation})

	switch {
	case errors.Is(err, domain.ErrInsufficientInventory):
		logger.Info("insufficient inventory")
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient inventory"})
	case errors.Is(err, domain.ErrVersionConflict):
		logger.Warn("version conflict persisted after retries")
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary contention, retry the request"})
	case errors.Is(err, domain.ErrTicketClassNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket class not found"})
	case errors.Is(err, domain.ErrInvoiceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
	case errors.Is(err, domain.ErrGatewayUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "settlement gateway unavailable"})
	case isValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.WithError(err).Error("unexpected error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		domain.ErrShowIDRequired,
		domain.ErrItemsRequired,
		domain.ErrItemClassRequired,
		domain.ErrItemQtyInvalid,
		domain.ErrTicketClassNameRequired,
		domain.ErrPriceNegative,
		domain.ErrCapacityNegative,
		domain.ErrDetailsRequired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
