package handlers

import (
	"errors"
	"net/mail"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/studiobase/backend/internal/middleware"
	"github.com/studiobase/backend/internal/models"
	"github.com/studiobase/backend/internal/services"
	"github.com/studiobase/backend/pkg/logger"
	"github.com/studiobase/backend/pkg/utils"
	"gorm.io/gorm"
)

type UsersHandler struct {
	DB        *gorm.DB
	Directory *services.DirectoryService
}

func NewUsersHandler(db *gorm.DB, directory *services.DirectoryService) *UsersHandler {
	return &UsersHandler{DB: db, Directory: directory}
}

func (h *UsersHandler) List(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)
	search := strings.TrimSpace(c.Query("search"))

	query := h.DB.Model(&models.User{})
	if search != "" {
		searchValue := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(name) LIKE ?", searchValue, searchValue)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting users")
	}

	var users []models.User
	if err := utils.ApplyPagination(query.Order("created_at DESC"), p).Find(&users).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing users")
	}

	return utils.Paginated(c, users, p.Page, p.Limit, total)
}

func (h *UsersHandler) Get(c *fiber.Ctx) error {
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.Error(c, fiber.StatusNotFound, "user not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching user")
	}

	return utils.Success(c, fiber.StatusOK, user)
}

type inviteUserRequest struct {
	Email       string                  `json:"email"`
	Name        *string                 `json:"name"`
	Role        models.UserRole         `json:"role"`
	Permissions *models.PermissionInput `json:"permissions"`
}

func (h *UsersHandler) Invite(c *fiber.Ctx) error {
	var req inviteUserRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid email")
	}
	if req.Role == "" {
		req.Role = models.UserRoleStandard
	}
	if !req.Role.Valid() {
		return utils.Error(c, fiber.StatusBadRequest, "invalid role")
	}

	permissions := models.PermissionInput{}
	if req.Permissions != nil {
		permissions = *req.Permissions
	}

	user, err := h.Directory.CreateInvitedUser(services.InviteUserParams{
		Email:       req.Email,
		Name:        req.Name,
		Role:        req.Role,
		Permissions: permissions,
	})
	switch {
	case errors.Is(err, services.ErrEmailTaken):
		return utils.Error(c, fiber.StatusConflict, "email already registered")
	case err != nil:
		logger.Error("user_invite_failed", err, map[string]interface{}{"email": req.Email})
		return utils.Error(c, fiber.StatusInternalServerError, "failed inviting user")
	}

	return utils.Success(c, fiber.StatusCreated, user)
}

type updateUserRequest struct {
	Name        *string                 `json:"name"`
	Role        *models.UserRole        `json:"role"`
	Permissions *models.PermissionInput `json:"permissions"`
	Status      *string                 `json:"status"`
	Active      *bool                   `json:"active"`
}

func (h *UsersHandler) Update(c *fiber.Ctx) error {
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	var req updateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Role != nil && !req.Role.Valid() {
		return utils.Error(c, fiber.StatusBadRequest, "invalid role")
	}

	user, err := h.Directory.ApplyUserEdit(userID, services.UserEdits{
		Name:        req.Name,
		Role:        req.Role,
		Permissions: req.Permissions,
		Status:      req.Status,
		Active:      req.Active,
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	case errors.Is(err, services.ErrNoChanges):
		return utils.Error(c, fiber.StatusBadRequest, "no changes supplied")
	case errors.Is(err, services.ErrLastAdmin):
		return utils.Error(c, fiber.StatusBadRequest, "workspace must retain at least one active administrator")
	case err != nil:
		logger.Error("user_update_failed", err, map[string]interface{}{"user_id": userID.String()})
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating user")
	}

	return utils.Success(c, fiber.StatusOK, user)
}

func (h *UsersHandler) ResendInvite(c *fiber.Ctx) error {
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	user, err := h.Directory.ResendInvitation(userID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	case errors.Is(err, services.ErrInvalidOrExpiredToken):
		return utils.Error(c, fiber.StatusBadRequest, "user is not awaiting invitation")
	case err != nil:
		logger.Error("invite_resend_failed", err, map[string]interface{}{"user_id": userID.String()})
		return utils.Error(c, fiber.StatusInternalServerError, "failed resending invitation")
	}

	actor := middleware.GetCurrentUser(c)
	if actor != nil {
		logger.InfoWithUser(actor.ID.String(), "invitation_resent_by", map[string]interface{}{
			"target": user.Email,
		})
	}
	return utils.Success(c, fiber.StatusOK, user)
}
