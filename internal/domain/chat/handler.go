package chat

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/pkg/pagination"
)

// Handler exposes the conversation/message store to the UI shell. The
// realtime path carries live traffic; this REST surface serves history loads
// and read receipts.
type Handler struct {
	convs ConversationRepository
	msgs  MessageRepository
}

func NewHandler(convs ConversationRepository, msgs MessageRepository) *Handler {
	return &Handler{convs: convs, msgs: msgs}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/conversations", h.ResolveConversation)
	api.GET("/conversations/:id/messages", h.ListMessages)
	api.POST("/conversations/:id/read", h.MarkRead)
}

type resolveRequest struct {
	PeerID string `json:"peer_id"`
}

// ResolveConversation finds or creates the conversation between the caller
// and a peer, keyed by the ordered participant pair.
func (h *Handler) ResolveConversation(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PeerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "peer_id is required")
	}
	self := auth.UserID(c)
	if req.PeerID == self {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot open a conversation with yourself")
	}

	p1, p2 := NormalizePair(self, req.PeerID)
	conv, err := h.convs.FindOrCreate(c.Request().Context(), p1, p2)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *Handler) ListMessages(c echo.Context) error {
	conv, err := h.convs.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	self := auth.UserID(c)
	if conv.Participant1 != self && conv.Participant2 != self {
		return echo.NewHTTPError(http.StatusForbidden, "not a participant")
	}

	pg := pagination.FromContext(c)
	messages, total, err := h.msgs.ListByConversation(c.Request().Context(), conv.ID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(messages, total, pg.Limit, pg.Offset))
}

func (h *Handler) MarkRead(c echo.Context) error {
	conv, err := h.convs.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	self := auth.UserID(c)
	if conv.Participant1 != self && conv.Participant2 != self {
		return echo.NewHTTPError(http.StatusForbidden, "not a participant")
	}
	if err := h.msgs.MarkRead(c.Request().Context(), conv.ID, self); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
