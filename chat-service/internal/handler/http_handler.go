package handler

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/domain"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/service"
	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/uploader"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
	"github.com/isaacberry91/propswipes-sub000/pkg/middleware"
	"github.com/isaacberry91/propswipes-sub000/pkg/response"
	"github.com/isaacberry91/propswipes-sub000/pkg/storage"
)

// FileStore serves objects behind signed local URLs. *storage.LocalStorage
// satisfies it.
type FileStore interface {
	Read(ctx context.Context, key string) (io.ReadCloser, error)
	VerifyURLToken(key, token string) error
}

type HTTPHandler struct {
	chatService service.ChatService
	requireAuth gin.HandlerFunc
	files       FileStore
	maxUpload   int64
}

// NewHTTPHandler creates the REST handler. files may be nil when objects are
// served by the storage backend itself.
func NewHTTPHandler(chatService service.ChatService, requireAuth gin.HandlerFunc, files FileStore, maxUpload int64) *HTTPHandler {
	return &HTTPHandler{
		chatService: chatService,
		requireAuth: requireAuth,
		files:       files,
		maxUpload:   maxUpload,
	}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.requireAuth)
	{
		api.GET("/matches/:match_id/messages", h.GetMessages)
		api.POST("/matches/:match_id/attachments", h.UploadAttachment)
	}

	if h.files != nil {
		r.GET("/files/*key", h.ServeFile)
	}
	r.GET("/health", h.HealthCheck)
}

func (h *HTTPHandler) GetMessages(c *gin.Context) {
	matchID := c.Param("match_id")
	if matchID == "" {
		response.BadRequest(c, "match_id is required")
		return
	}

	msgs, err := h.chatService.History(c.Request.Context(), middleware.GetUserID(c), matchID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"match_id": matchID, "messages": msgs})
}

// UploadAttachment accepts a multipart form with a "file" part and an
// optional "caption" and sends it into the caller's open conversation.
func (h *HTTPHandler) UploadAttachment(c *gin.Context) {
	matchID := c.Param("match_id")
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	if h.maxUpload > 0 && fh.Size > h.maxUpload {
		response.TooLarge(c, uploader.ErrTooLarge.Error())
		return
	}

	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "unreadable file")
		return
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(fh.Filename))
	}

	msg, err := h.chatService.UploadAttachment(c.Request.Context(), middleware.GetUserID(c), matchID, uploader.File{
		Name:        fh.Filename,
		ContentType: contentType,
		Reader:      f,
	}, c.PostForm("caption"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, msg)
}

// ServeFile streams a locally stored object when its URL token is valid.
func (h *HTTPHandler) ServeFile(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if err := h.files.VerifyURLToken(key, c.Query("token")); err != nil {
		response.Forbidden(c, "invalid or expired link")
		return
	}

	rc, err := h.files.Read(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.NotFound(c, "file not found")
			return
		}
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str("key", key).Msg("failed to read file")
		response.InternalError(c, "failed to read file")
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, uploader.ErrTooLarge):
		response.TooLarge(c, err.Error())
	case errors.Is(err, domain.ErrMatchNotFound),
		errors.Is(err, domain.ErrProfileNotFound),
		errors.Is(err, domain.ErrMessageNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrConversationClosed):
		response.Gone(c, err.Error())
	case errors.Is(err, domain.ErrNoConversation):
		response.Error(c, http.StatusConflict, domain.ErrCodeNoConversation, "open the conversation before uploading")
	case errors.Is(err, domain.ErrEmptyMessage):
		response.BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrUpload), errors.Is(err, domain.ErrSignedURL),
		errors.Is(err, domain.ErrHistoryLoad), errors.Is(err, domain.ErrMessageInsert):
		response.BadGateway(c, domain.ErrorCode(err), err.Error())
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("request failed")
		response.InternalError(c, "internal error")
	}
}
