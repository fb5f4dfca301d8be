package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/keymeter/license-meter-api/internal/handler/dto"
	"github.com/keymeter/license-meter-api/internal/service"
	"go.uber.org/zap"
)

type APIKeyHandler struct {
	service *service.APIKeyService
	logger  *zap.Logger
}

func NewAPIKeyHandler(service *service.APIKeyService, logger *zap.Logger) *APIKeyHandler {
	return &APIKeyHandler{
		service: service,
		logger:  logger.Named("APIKeyHandler"),
	}
}

func (h *APIKeyHandler) Create(c *gin.Context) {
	var req dto.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind create api key request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "VALIDATION_ERROR", Message: "Invalid request body: " + err.Error()})
		return
	}

	resp, err := h.service.CreateAPIKey(c.Request.Context(), req.Description)
	if err != nil {
		h.logger.Error("Service failed to create api key", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.APIErrorResponse{Code: "INTERNAL_ERROR", Message: "Failed to create API key"})
		return
	}

	// The full key appears in this response only; afterwards only the hash
	// exists server-side.
	c.JSON(http.StatusCreated, resp)
}

func (h *APIKeyHandler) List(c *gin.Context) {
	apiKeys, err := h.service.ListAPIKeys(c.Request.Context())
	if err != nil {
		h.logger.Error("Service failed to list api keys", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.APIErrorResponse{Code: "INTERNAL_ERROR", Message: "Failed to list API keys"})
		return
	}

	c.JSON(http.StatusOK, apiKeys)
}

func (h *APIKeyHandler) Revoke(c *gin.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "VALIDATION_ERROR", Message: "Invalid API key ID format"})
		return
	}

	if err := h.service.RevokeAPIKey(c.Request.Context(), id); err != nil {
		h.logger.Error("Service failed to revoke api key", zap.String("id", idStr), zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.APIErrorResponse{Code: "INTERNAL_ERROR", Message: "Failed to revoke API key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
}
