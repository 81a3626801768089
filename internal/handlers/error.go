package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/unibox/internal/attachment"
	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/contacts"
	"github.com/memohai/unibox/internal/conversation"
	"github.com/memohai/unibox/internal/identities"
	"github.com/memohai/unibox/internal/media"
	"github.com/memohai/unibox/internal/message"
	"github.com/memohai/unibox/internal/presence"
	"github.com/memohai/unibox/internal/store"
)

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

var errorStatus = []struct {
	target error
	status int
}{
	{store.ErrNotFound, http.StatusNotFound},
	{media.ErrAssetNotFound, http.StatusNotFound},
	{message.ErrAttachmentNotFound, http.StatusNotFound},

	{store.ErrConflict, http.StatusConflict},
	{identities.ErrAlreadyLinked, http.StatusConflict},
	{message.ErrMessageIDConflict, http.StatusConflict},
	{message.ErrNotRetryable, http.StatusConflict},
	{conversation.ErrConversationClosed, http.StatusConflict},
	{conversation.ErrMergeNotAllowed, http.StatusConflict},
	{conversation.ErrMergeLoop, http.StatusConflict},
	{identities.ErrContactDeleted, http.StatusConflict},

	{attachment.ErrInvalidToken, http.StatusUnauthorized},
	{attachment.ErrForbidden, http.StatusForbidden},

	{presence.ErrRateLimited, http.StatusTooManyRequests},
	{message.ErrQueueFull, http.StatusServiceUnavailable},
	{media.ErrAssetTooLarge, http.StatusRequestEntityTooLarge},

	{identities.ErrInvalidType, http.StatusBadRequest},
	{identities.ErrInvalidValue, http.StatusBadRequest},
	{contacts.ErrWorkspaceRequired, http.StatusBadRequest},
	{contacts.ErrDisplayName, http.StatusBadRequest},
	{conversation.ErrWorkspaceRequired, http.StatusBadRequest},
	{conversation.ErrOwnerMissing, http.StatusBadRequest},
	{conversation.ErrInvalidStatus, http.StatusBadRequest},
	{conversation.ErrSameConversation, http.StatusBadRequest},
	{message.ErrWorkspaceRequired, http.StatusBadRequest},
	{message.ErrUnknownChannel, http.StatusBadRequest},
	{message.ErrExternalIDRequired, http.StatusBadRequest},
	{message.ErrSenderRequired, http.StatusBadRequest},
	{message.ErrInvalidMessageID, http.StatusBadRequest},
	{message.ErrEmptyMessage, http.StatusBadRequest},
	{message.ErrInvalidStatus, http.StatusBadRequest},
	{message.ErrUnknownUpdate, http.StatusBadRequest},
	{attachment.ErrWorkspaceRequired, http.StatusBadRequest},
	{media.ErrEmptyAsset, http.StatusBadRequest},
	{presence.ErrSubjectRequired, http.StatusBadRequest},
	{channel.ErrPermanent, http.StatusUnprocessableEntity},
	{message.ErrNoDestination, http.StatusUnprocessableEntity},
}

// httpError maps domain errors onto HTTP status codes. Unknown errors are
// 500s; their text is still returned since the API is operator facing.
func httpError(err error) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	for _, entry := range errorStatus {
		if errors.Is(err, entry.target) {
			return echo.NewHTTPError(entry.status, err.Error())
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func bindJSON(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
