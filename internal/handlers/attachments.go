package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/unibox/internal/attachment"
	"github.com/memohai/unibox/internal/media"
	"github.com/memohai/unibox/internal/store"
)

// AttachmentHandler uploads blobs and serves signed downloads.
type AttachmentHandler struct {
	service  *attachment.Service
	maxBytes int64
	logger   *slog.Logger
}

// NewAttachmentHandler creates an AttachmentHandler. maxBytes <= 0 uses the
// media default.
func NewAttachmentHandler(log *slog.Logger, service *attachment.Service, maxBytes int64) *AttachmentHandler {
	if log == nil {
		log = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = media.MaxAssetBytes
	}
	return &AttachmentHandler{
		service:  service,
		maxBytes: maxBytes,
		logger:   log.With(slog.String("handler", "attachment")),
	}
}

func (h *AttachmentHandler) Register(e *echo.Echo) {
	e.POST("/workspaces/:ws/attachments", h.Upload)
	e.GET("/attachments/:id", h.Download)
}

// Base64Upload is the JSON upload form. Data is raw base64 or a data URL.
type Base64Upload struct {
	Name      string `json:"name"`
	Mime      string `json:"mime,omitempty"`
	Data      string `json:"data"`
	MessageID string `json:"message_id,omitempty"`
}

// UploadResponse carries the stored row and a signed link to it.
type UploadResponse struct {
	store.Attachment
	URL string `json:"url,omitempty"`
}

// Upload godoc
// @Summary Upload an attachment
// @Description Accepts multipart (field "file", optional "message_id") or JSON with base64 data. The row is linked when message_id names a stored message.
// @Tags attachments
// @Accept mpfd,json
// @Produce json
// @Param ws path string true "Workspace ID"
// @Success 201 {object} UploadResponse
// @Failure 413 {object} ErrorResponse
// @Router /workspaces/{ws}/attachments [post]
func (h *AttachmentHandler) Upload(c echo.Context) error {
	in := attachment.UploadInput{WorkspaceID: c.Param("ws"), MaxBytes: h.maxBytes}
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var body Base64Upload
		if err := bindJSON(c, &body); err != nil {
			return err
		}
		reader, err := attachment.DecodeBase64(body.Data, h.maxBytes)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		in.Reader = reader
		in.Name = body.Name
		in.Mime = body.Mime
		if in.Mime == "" {
			in.Mime = attachment.MimeFromDataURL(body.Data)
		}
		in.MessageID = body.MessageID
	} else {
		file, err := c.FormFile("file")
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "file is required")
		}
		src, err := file.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		defer src.Close()
		in.Reader = src
		in.Name = file.Filename
		in.Mime = file.Header.Get(echo.HeaderContentType)
		in.MessageID = c.FormValue("message_id")
	}

	att, err := h.service.Upload(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	resp := UploadResponse{Attachment: att}
	if link, err := h.service.URL(att); err == nil {
		resp.URL = link
	}
	return c.JSON(http.StatusCreated, resp)
}

// Download streams an attachment authorized by its signed token.
func (h *AttachmentHandler) Download(c echo.Context) error {
	reader, att, err := h.service.Open(c.Request().Context(), c.Param("id"), c.QueryParam("token"))
	if err != nil {
		return httpError(err)
	}
	defer reader.Close()
	contentType := att.Mime
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Response().Header().Set(echo.HeaderContentType, contentType)
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=300")
	if att.Name != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", att.Name))
	}
	c.Response().WriteHeader(http.StatusOK)
	if _, err := io.Copy(c.Response().Writer, reader); err != nil {
		h.logger.Warn("serve attachment failed", slog.String("attachment_id", att.ID), slog.Any("error", err))
	}
	return nil
}
