package api

import (
	"cmp"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flatdario/flat/app/database"
	"github.com/flatdario/flat/app/item"
	"github.com/flatdario/flat/app/push"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
	feedLimit    = 50
)

func NewHandler(items database.ItemStore, subs database.SubscriptionStore, generator GeneratorInterface,
	builder ItemBuilder, scheduler BatchTrigger, notifier Notifier, vapidKey string) *Handler {
	return &Handler{
		items:     items,
		subs:      subs,
		generator: generator,
		builder:   builder,
		scheduler: scheduler,
		notifier:  notifier,
		vapidKey:  vapidKey,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]any{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	counts, err := h.items.CountByType(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "count_items", "error", err)
		health["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	health["status"] = "ok"
	health["items"] = total
	health["items_by_type"] = counts

	c.JSON(http.StatusOK, health)
}

func (h *Handler) ListItems(c *gin.Context) {
	h.listItems(c, false)
}

func (h *Handler) APIListItems(c *gin.Context) {
	h.listItems(c, true)
}

func (h *Handler) listItems(c *gin.Context, includeHidden bool) {
	q, err := parseItemQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q.IncludeHidden = includeHidden

	items, err := h.items.List(c.Request.Context(), q)
	if err != nil {
		slog.Error("Database error", "operation", "list_items", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": len(items),
	})
}

func parseItemQuery(c *gin.Context) (database.ItemQuery, error) {
	q := database.ItemQuery{Limit: defaultLimit}

	if raw := c.Query("type"); raw != "" {
		typ, ok := item.ParseType(raw)
		if !ok {
			return q, errors.New("unknown item type")
		}
		q.Type = typ
	}

	if raw := c.Query("since"); raw != "" {
		since, err := item.ParseTimestamp(raw)
		if err != nil {
			return q, errors.New("invalid since parameter")
		}
		q.Since = &since
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return q, errors.New("limit must be a positive integer")
		}
		q.Limit = min(limit, maxLimit)
	}

	return q, nil
}

func (h *Handler) GetItem(c *gin.Context) {
	it, ok := h.lookup(c)
	if !ok {
		return
	}
	if it.Hidden {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return
	}
	c.JSON(http.StatusOK, it)
}

func (h *Handler) GetFeed(c *gin.Context) {
	items, err := h.items.List(c.Request.Context(), database.ItemQuery{Limit: feedLimit})
	if err != nil {
		slog.Error("Database error", "operation", "list_items", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	rss, err := h.generator.Run(items)
	if err != nil {
		slog.Error("RSS generation error", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(items)))
	c.String(http.StatusOK, rss)
}

// lookup resolves the :type/:id path, writing the error response itself.
func (h *Handler) lookup(c *gin.Context) (*item.Item, bool) {
	typ, ok := item.ParseType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown item type"})
		return nil, false
	}

	it, err := h.items.Get(c.Request.Context(), c.Param("id"), typ)
	if err != nil {
		slog.Error("Database error", "operation", "get_item", "type", typ, "id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}
	if it == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return nil, false
	}

	return it, true
}

func (h *Handler) APIAddItem(c *gin.Context) {
	if h.builder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Adding items is not available"})
		return
	}

	var req addRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	it, err := h.builder.Build(ctx, req.URL)
	if err != nil {
		if errors.Is(err, item.ErrMalformed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Failed to describe url", "url", req.URL, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to describe url", "details": err.Error()})
		return
	}

	res, err := h.items.Upsert(ctx, it, false)
	if err != nil {
		slog.Error("Database error", "operation", "add_item", "url", req.URL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if res == database.UpsertExists {
		c.JSON(http.StatusConflict, gin.H{"error": "Item already stored", "id": it.ID, "type": it.Type})
		return
	}

	slog.Info("Item added manually", "type", it.Type, "id", it.ID, "title", it.Title)
	c.JSON(http.StatusCreated, it)
}

func (h *Handler) APIUpdateItem(c *gin.Context) {
	existing, ok := h.lookup(c)
	if !ok {
		return
	}

	var req itemUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	ts, err := item.ParseTimestamp(req.Timestamp)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid timestamp"})
		return
	}

	updated := item.Item{
		ID:        existing.ID,
		Type:      existing.Type,
		URL:       req.URL,
		Title:     req.Title,
		Timestamp: ts,
		Thumb:     req.Thumb,
		Extra:     req.Extra,
	}

	ctx := c.Request.Context()
	if _, err := h.items.Upsert(ctx, updated, true); err != nil {
		if errors.Is(err, item.ErrMalformed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Database error", "operation", "update_item", "type", existing.Type, "id", existing.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	stored, err := h.items.Get(ctx, existing.ID, existing.Type)
	if err != nil || stored == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, stored)
}

func (h *Handler) APIDeleteItem(c *gin.Context) {
	typ, ok := item.ParseType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown item type"})
		return
	}

	deleted, err := h.items.Delete(c.Request.Context(), c.Param("id"), typ)
	if err != nil {
		slog.Error("Database error", "operation", "delete_item", "type", typ, "id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) APIHideItem(c *gin.Context) {
	h.setHidden(c, true)
}

func (h *Handler) APIUnhideItem(c *gin.Context) {
	h.setHidden(c, false)
}

func (h *Handler) setHidden(c *gin.Context, hidden bool) {
	typ, ok := item.ParseType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown item type"})
		return
	}

	changed, err := h.items.SetHidden(c.Request.Context(), c.Param("id"), typ, hidden)
	if err != nil {
		slog.Error("Database error", "operation", "set_hidden", "type", typ, "id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if !changed {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "type": typ, "hidden": hidden})
}

func (h *Handler) APICollect(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler is not running"})
		return
	}

	queued := h.scheduler.Trigger()
	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

func (h *Handler) APINotify(c *gin.Context) {
	if h.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Push notifications are not configured"})
		return
	}

	var (
		sent int
		err  error
	)
	if c.Request.ContentLength > 0 {
		var req notifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
			return
		}
		sent, err = h.notifier.Broadcast(c.Request.Context(), push.Notification{
			Title: cmp.Or(req.Title, "Flat"),
			Body:  req.Message,
			URL:   req.URL,
		})
	} else {
		sent, err = h.notifier.SendMissing(c.Request.Context())
	}
	if err != nil {
		slog.Error("Failed to send notifications", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send notifications", "sent": sent})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sent": sent})
}

func (h *Handler) GetVAPIDKey(c *gin.Context) {
	if h.vapidKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Push notifications are not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.vapidKey})
}

// readSubscription returns the raw browser subscription JSON from the body.
func readSubscription(c *gin.Context) (string, bool) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return "", false
	}

	var sub struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.Unmarshal(body, &sub); err != nil || sub.Endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription"})
		return "", false
	}

	return string(body), true
}

func (h *Handler) Subscribe(c *gin.Context) {
	payload, ok := readSubscription(c)
	if !ok {
		return
	}

	sub, err := h.subs.Create(c.Request.Context(), payload, c.Request.UserAgent())
	if err != nil {
		slog.Error("Database error", "operation", "create_subscription", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	slog.Info("Subscription registered", "subscription_id", sub.ID)
	c.JSON(http.StatusCreated, gin.H{"id": sub.ID, "subscription_date": sub.SubscriptionDate})
}

func (h *Handler) Unsubscribe(c *gin.Context) {
	payload, ok := readSubscription(c)
	if !ok {
		return
	}

	deleted, err := h.subs.Delete(c.Request.Context(), payload)
	if err != nil {
		slog.Error("Database error", "operation", "delete_subscription", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
		return
	}

	c.Status(http.StatusNoContent)
}
