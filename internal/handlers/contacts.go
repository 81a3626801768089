package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/unibox/internal/contacts"
	"github.com/memohai/unibox/internal/identities"
)

// ContactsHandler serves contacts and the identity registry.
type ContactsHandler struct {
	service    *contacts.Service
	identities *identities.Service
}

func NewContactsHandler(service *contacts.Service, identityService *identities.Service) *ContactsHandler {
	return &ContactsHandler{
		service:    service,
		identities: identityService,
	}
}

func (h *ContactsHandler) Register(e *echo.Echo) {
	group := e.Group("/workspaces/:ws/contacts")
	group.GET("", h.List)
	group.POST("", h.Create)
	group.GET("/:id", h.Get)
	group.PATCH("/:id", h.Update)
	group.DELETE("/:id", h.Delete)
	group.GET("/:id/identities", h.ListIdentities)

	ids := e.Group("/identities")
	ids.POST("/resolve", h.ResolveIdentity)
	ids.GET("/:id", h.GetIdentity)
	ids.POST("/:id/link", h.LinkIdentity)
	ids.POST("/:id/unlink", h.UnlinkIdentity)
}

func (h *ContactsHandler) List(c echo.Context) error {
	items, err := h.service.List(c.Request().Context(), c.Param("ws"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (h *ContactsHandler) Get(c echo.Context) error {
	contact, err := h.service.Get(c.Request().Context(), c.Param("ws"), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, contact)
}

func (h *ContactsHandler) Create(c echo.Context) error {
	var req contacts.CreateRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	contact, err := h.service.Create(c.Request().Context(), c.Param("ws"), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, contact)
}

func (h *ContactsHandler) Update(c echo.Context) error {
	var req contacts.UpdateRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	contact, err := h.service.Update(c.Request().Context(), c.Param("ws"), c.Param("id"), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, contact)
}

func (h *ContactsHandler) Delete(c echo.Context) error {
	if err := h.service.Delete(c.Request().Context(), c.Param("ws"), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListIdentities returns the identities bound to a contact of the workspace.
func (h *ContactsHandler) ListIdentities(c echo.Context) error {
	contact, err := h.service.Get(c.Request().Context(), c.Param("ws"), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	items, err := h.identities.ListByContact(c.Request().Context(), contact.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// ResolveIdentity godoc
// @Summary Resolve an identity
// @Description Returns the identity for (type, value), creating it unbound on first sight.
// @Tags identities
// @Accept json
// @Produce json
// @Success 200 {object} store.Identity
// @Failure 400 {object} ErrorResponse
// @Router /identities/resolve [post]
func (h *ContactsHandler) ResolveIdentity(c echo.Context) error {
	var req identities.ResolveRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	ident, err := h.identities.Resolve(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ident)
}

func (h *ContactsHandler) GetIdentity(c echo.Context) error {
	ident, err := h.identities.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ident)
}

// LinkRequest names the contact an identity is bound to.
type LinkRequest struct {
	ContactID string `json:"contact_id"`
}

// LinkIdentity godoc
// @Summary Link an identity to a contact
// @Description Binds the identity and merges its conversation into the contact's.
// @Tags identities
// @Accept json
// @Produce json
// @Param id path string true "Identity ID"
// @Success 200 {object} store.Identity
// @Failure 409 {object} ErrorResponse
// @Router /identities/{id}/link [post]
func (h *ContactsHandler) LinkIdentity(c echo.Context) error {
	var req LinkRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.ContactID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "contact_id is required")
	}
	ident, err := h.identities.Link(c.Request().Context(), c.Param("id"), req.ContactID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ident)
}

func (h *ContactsHandler) UnlinkIdentity(c echo.Context) error {
	ident, err := h.identities.Unlink(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ident)
}
