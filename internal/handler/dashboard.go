package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/keymeter/license-meter-api/internal/service"
	"go.uber.org/zap"
)

type DashboardHandler struct {
	licenseService *service.LicenseService
	logger         *zap.Logger
}

func NewDashboardHandler(licenseService *service.LicenseService, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		licenseService: licenseService,
		logger:         logger.Named("DashboardHandler"),
	}
}

func (h *DashboardHandler) GetSummary(c *gin.Context) {
	summary, err := h.licenseService.GetDashboardSummary(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get dashboard summary from service", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve dashboard summary"})
		return
	}

	c.JSON(http.StatusOK, summary)
}
