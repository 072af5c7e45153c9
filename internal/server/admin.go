package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Rajankarna/VIDInsight/internal/runtime"
	"github.com/Rajankarna/VIDInsight/internal/store"
)

// ContactHandler accepts messages from the public contact form.
type ContactHandler struct {
	Store *store.Store
}

func (h *ContactHandler) Register(g *echo.Group) {
	// submission is public; the inbox lives on AdminHandler
	g.POST("/contact", h.create)
}

func (h *ContactHandler) create(c echo.Context) error {
	var req ContactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Message = strings.TrimSpace(req.Message)
	if req.Name == "" || req.Email == "" || req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name, email and message required")
	}
	if err := h.Store.CreateContactMessage(c.Request().Context(), req.Name, req.Email, req.Message); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusCreated)
}

// AdminHandler exposes the contact inbox and usage stats to admin users.
type AdminHandler struct {
	Store *store.Store
}

// Register mounts the admin-only routes on the API group. The inbox shares
// the /contact prefix with the public submission route, so the auth chain is
// attached per route rather than on a sub-group.
func (h *AdminHandler) Register(g *echo.Group, secret []byte) {
	auth := runtime.EchoAuthMiddleware(secret)
	g.GET("/contact", h.listMessages, auth, h.adminOnly)
	g.POST("/contact/:id/read", h.markRead, auth, h.adminOnly)
	g.DELETE("/contact/:id", h.deleteMessage, auth, h.adminOnly)
	g.GET("/admin/stats", h.stats, auth, h.adminOnly)
}

func (h *AdminHandler) adminOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := runtime.UserID(c)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing user")
		}
		admin, err := h.Store.IsAdmin(c.Request().Context(), userID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if !admin {
			return echo.NewHTTPError(http.StatusForbidden, "admin only")
		}
		return next(c)
	}
}

func (h *AdminHandler) listMessages(c echo.Context) error {
	msgs, err := h.Store.ListContactMessages(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ContactMessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ContactMessageResponse{
			ID: m.ID, Name: m.Name, Email: m.Email, Message: m.Message, Read: m.Read, CreatedAt: m.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminHandler) markRead(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message id")
	}
	if err := h.Store.MarkContactMessageRead(c.Request().Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "message not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (h *AdminHandler) deleteMessage(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message id")
	}
	if err := h.Store.DeleteContactMessage(c.Request().Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "message not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHandler) stats(c echo.Context) error {
	stats, err := h.Store.AdminStats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, StatsResponse{Users: stats.Users, Sessions: stats.Sessions, Questions: stats.Questions})
}
