// Package api exposes the auction engine over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cloudx-io/liveauction/engine"
	"github.com/cloudx-io/liveauction/notify"
)

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	engine *engine.Engine
	hub    *notify.Hub
}

// NewHandler creates a Handler. hub may be nil, which disables the websocket
// route.
func NewHandler(e *engine.Engine, hub *notify.Hub) *Handler {
	return &Handler{engine: e, hub: hub}
}

// NewRouter builds the gin engine with recovery, request logging and the
// worker limit applied to every route except the websocket stream.
func NewRouter(h *Handler, maxWorkers int) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLog())

	if h.hub != nil {
		router.GET("/auctions/:id/ws", h.Stream)
	}

	limited := router.Group("/")
	limited.Use(ConcurrencyLimit(maxWorkers))
	h.RegisterRoutes(limited)
	return router
}

// RegisterRoutes registers the admin, query and participant routes.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", h.Health)

	// Admin
	r.POST("/auctions", h.CreateAuction)
	r.POST("/auctions/:id/cancel", h.CancelAuction)

	// Queries
	r.GET("/auctions/:id", h.GetStatus)
	r.GET("/auctions/:id/leaderboard", h.GetLeaderboard)
	r.GET("/auctions/:id/winners", h.GetWinners)
	r.GET("/auctions/:id/claims", h.GetClaims)
	r.GET("/auctions/:id/claims/:participant", h.GetClaim)

	// Participants
	r.POST("/auctions/:id/entries", h.RequestEntry)
	r.POST("/auctions/:id/bids", h.SubmitBid)
	r.POST("/auctions/:id/claims/:participant/pay", h.PayClaim)
	r.POST("/auctions/:id/claims/:participant/forfeit", h.ForfeitClaim)
	r.POST("/payments/callback", h.PaymentCallback)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) CreateAuction(c *gin.Context) {
	var req engine.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := h.engine.CreateAuction(c.Request.Context(), req)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

type cancelRequest struct {
	AdminID string `json:"admin_id"`
}

func (h *Handler) CancelAuction(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if strings.TrimSpace(req.AdminID) == "" {
		badRequest(c, errors.New("admin_id is required"))
		return
	}
	a, err := h.engine.Cancel(c.Request.Context(), c.Param("id"), req.AdminID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) GetStatus(c *gin.Context) {
	view, err := h.engine.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) GetLeaderboard(c *gin.Context) {
	round := 0
	if raw := c.Query("round"); raw != "" {
		r, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, errors.New("round must be a number"))
			return
		}
		round = r
	}
	rows, err := h.engine.Leaderboard(c.Request.Context(), c.Param("id"), round)
	if err != nil {
		if engine.IsNotFound(err) {
			writeError(c, err)
			return
		}
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"round": round, "rows": rows})
}

func (h *Handler) GetWinners(c *gin.Context) {
	record, err := h.engine.Winners(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) GetClaims(c *gin.Context) {
	ticket, err := h.engine.Claims(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func (h *Handler) GetClaim(c *gin.Context) {
	claim, err := h.engine.ClaimFor(c.Request.Context(), c.Param("id"), c.Param("participant"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, claim)
}

func (h *Handler) RequestEntry(c *gin.Context) {
	var req engine.EntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if strings.TrimSpace(req.ParticipantID) == "" {
		badRequest(c, errors.New("participant_id is required"))
		return
	}
	req.AuctionID = c.Param("id")
	res, err := h.engine.RequestEntry(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Payment != nil {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

func (h *Handler) SubmitBid(c *gin.Context) {
	var req engine.BidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.AuctionID = c.Param("id")
	receipt, err := h.engine.SubmitBid(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

func (h *Handler) PayClaim(c *gin.Context) {
	payment, err := h.engine.InitiateClaim(c.Request.Context(), c.Param("id"), c.Param("participant"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, payment)
}

func (h *Handler) ForfeitClaim(c *gin.Context) {
	ticket, err := h.engine.Forfeit(c.Request.Context(), c.Param("id"), c.Param("participant"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

type paymentCallback struct {
	Reference string `json:"reference"`
	Success   bool   `json:"success"`
}

func (h *Handler) PaymentCallback(c *gin.Context) {
	var cb paymentCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		badRequest(c, err)
		return
	}
	if cb.Reference == "" {
		badRequest(c, errors.New("reference is required"))
		return
	}
	if err := h.engine.HandlePaymentResult(c.Request.Context(), cb.Reference, cb.Success); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reference": cb.Reference, "applied": true})
}

// Stream upgrades to a websocket that carries the auction's transitions.
func (h *Handler) Stream(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.engine.Status(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	h.hub.ServeWS(c.Writer, c.Request, id)
}
