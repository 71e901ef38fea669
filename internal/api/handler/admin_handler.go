package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/dubbing-be/internal/api/dto"
	"github.com/cuongbtq/dubbing-be/internal/domain"
)

// GetAppConfig handles GET /admin/config
func (h *Handler) GetAppConfig(c *gin.Context) {
	cfg, err := h.store.GetAppConfig(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AppConfigResponse{OK: true, Config: cfg})
}

// UpdateAppConfig handles PUT and POST /admin/config
func (h *Handler) UpdateAppConfig(c *gin.Context) {
	var patch domain.AppConfigPatch
	if !h.bindJSON(c, &patch) {
		return
	}
	cfg, err := h.store.UpdateAppConfig(c.Request.Context(), patch)
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusOK
	if c.Request.Method == http.MethodPost {
		status = http.StatusCreated
	}
	c.JSON(status, dto.AppConfigResponse{OK: true, Config: cfg})
}

// GetUserRoles handles GET /admin/users/:uid/roles
func (h *Handler) GetUserRoles(c *gin.Context) {
	uid := c.Param("uid")
	roles, err := h.roles.Roles(c.Request.Context(), Identity(c), uid)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RolesResponse{UID: uid, Roles: roles.Strings()})
}

// SetUserRoles handles POST /admin/users/:uid/roles
// The new set replaces the old one and revokes existing sessions of uid.
func (h *Handler) SetUserRoles(c *gin.Context) {
	var req dto.RolesRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if req.Roles == nil {
		h.fail(c, domain.InvalidInput("roles must be an array"))
		return
	}

	uid := c.Param("uid")
	roles, err := h.roles.SetRoles(c.Request.Context(), Identity(c), uid, req.Roles)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RolesResponse{
		OK:            true,
		UID:           uid,
		Roles:         roles.Strings(),
		ClaimsUpdated: true,
	})
}

// Me handles GET /me
func (h *Handler) Me(c *gin.Context) {
	id := Identity(c)
	if id == nil {
		h.fail(c, domain.AuthInvalid("missing bearer token"))
		return
	}
	c.JSON(http.StatusOK, dto.MeResponse{UID: id.UID, Email: id.Email, Roles: id.Roles.Strings()})
}
