package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/keymeter/license-meter-api/internal/handler/dto"
	"github.com/keymeter/license-meter-api/internal/ierr"
	"github.com/keymeter/license-meter-api/internal/service"
	"go.uber.org/zap"
)

type LicenseHandler struct {
	service *service.LicenseService
	logger  *zap.Logger
}

func NewLicenseHandler(service *service.LicenseService, logger *zap.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.Named("LicenseHandler"),
	}
}

func (h *LicenseHandler) Issue(c *gin.Context) {
	h.logger.Debug("Received request to issue license")
	var req dto.IssueLicenseRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind or validate issue request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "VALIDATION_ERROR", Message: "Invalid request body: " + err.Error()})
		return
	}

	lic, err := h.service.IssueLicense(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, ierr.ErrDuplicateKey):
			c.JSON(http.StatusConflict, dto.APIErrorResponse{Code: "DUPLICATE_KEY", Message: "A license for this key already exists."})
		case errors.Is(err, ierr.ErrValidation):
			c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "VALIDATION_ERROR", Message: err.Error()})
		default:
			h.logger.Error("Service failed to issue license", zap.Error(err))
			h.respondStoreError(c, err)
		}
		return
	}

	resp := dto.IssueLicenseResponse{
		Success:     true,
		KeyHint:     lic.KeyHint,
		LicenseType: string(lic.LicenseType),
		UseLimit:    lic.UseLimit,
	}
	if lic.ExpirationDate.Valid {
		resp.ExpirationDate = &lic.ExpirationDate.Time
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *LicenseHandler) Validate(c *gin.Context) {
	var req dto.ValidateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "VALIDATION_ERROR", Message: "Invalid request body: " + err.Error()})
		return
	}

	lic, err := h.service.ValidateLicense(c.Request.Context(), req.RawKey)
	if err != nil {
		if errors.Is(err, ierr.ErrNotEligible) {
			// Deliberately shapeless: the caller learns only that the key
			// cannot be used, not why.
			c.JSON(http.StatusOK, dto.ValidateLicenseResponse{Eligible: false})
			return
		}
		h.logger.Error("Service failed to validate license", zap.Error(err))
		h.respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ValidateLicenseResponse{
		Eligible:    true,
		KeyHint:     lic.KeyHint,
		LicenseType: string(lic.LicenseType),
	})
}

func (h *LicenseHandler) Redeem(c *gin.Context) {
	var req dto.RedeemLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "VALIDATION_ERROR", Message: "Invalid request body: " + err.Error()})
		return
	}

	lic, err := h.service.RedeemLicense(c.Request.Context(), req.RawKey)
	if err != nil {
		if errors.Is(err, ierr.ErrNotEligible) {
			c.JSON(http.StatusOK, dto.RedeemLicenseResponse{Eligible: false})
			return
		}
		h.logger.Error("Service failed to redeem license", zap.Error(err))
		h.respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.RedeemLicenseResponse{
		Eligible:  true,
		KeyHint:   lic.KeyHint,
		UseCounts: lic.UseCounts,
		UseLimit:  lic.UseLimit,
		IsUsed:    lic.IsUsed,
	})
}

func (h *LicenseHandler) ToggleBlock(c *gin.Context) {
	var req dto.ToggleBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "VALIDATION_ERROR", Message: "Invalid request body: " + err.Error()})
		return
	}

	changed, err := h.service.ToggleBlock(c.Request.Context(), req.RawKey, *req.Blocked)
	if err != nil {
		h.respondAdminError(c, err, "toggle block flag")
		return
	}

	c.JSON(http.StatusOK, dto.MutationResponse{Success: true, Changed: changed})
}

func (h *LicenseHandler) ResetUsage(c *gin.Context) {
	var req dto.ResetUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "VALIDATION_ERROR", Message: "Invalid request body: " + err.Error()})
		return
	}

	_, err := h.service.ResetUsage(c.Request.Context(), req.RawKey)
	if err != nil {
		h.respondAdminError(c, err, "reset usage")
		return
	}

	c.JSON(http.StatusOK, dto.MutationResponse{Success: true, Changed: true})
}

func (h *LicenseHandler) IncreaseLimit(c *gin.Context) {
	var req dto.AdjustLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "VALIDATION_ERROR", Message: "Invalid request body: " + err.Error()})
		return
	}

	lic, err := h.service.IncreaseLimit(c.Request.Context(), req.RawKey, req.Amount)
	if err != nil {
		h.respondAdminError(c, err, "increase limit")
		return
	}

	c.JSON(http.StatusOK, dto.AdjustLimitResponse{Success: true, UseLimit: lic.UseLimit})
}

func (h *LicenseHandler) DecreaseLimit(c *gin.Context) {
	var req dto.AdjustLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "VALIDATION_ERROR", Message: "Invalid request body: " + err.Error()})
		return
	}

	lic, limitBelowUsage, err := h.service.DecreaseLimit(c.Request.Context(), req.RawKey, req.Amount)
	if err != nil {
		h.respondAdminError(c, err, "decrease limit")
		return
	}

	resp := dto.AdjustLimitResponse{Success: true, UseLimit: lic.UseLimit}
	if limitBelowUsage {
		resp.Warning = "use limit is now at or below current usage; the license is exhausted"
	}
	c.JSON(http.StatusOK, resp)
}

func (h *LicenseHandler) List(c *gin.Context) {
	h.logger.Debug("Received request to list licenses")
	var req dto.ListLicensesRequest

	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Failed to bind or validate query parameters", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "VALIDATION_ERROR", Message: "Invalid query parameters: " + err.Error()})
		return
	}

	licenses, totalCount, err := h.service.ListLicenses(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Service failed to list licenses", zap.Error(err))
		h.respondStoreError(c, err)
		return
	}

	now := time.Now()
	licenseResponses := make([]*dto.LicenseResponse, len(licenses))
	for i, lic := range licenses {
		licenseResponses[i] = dto.NewLicenseResponse(lic, now)
	}

	c.JSON(http.StatusOK, dto.PaginatedLicenseResponse{
		Licenses:   licenseResponses,
		TotalCount: totalCount,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
}

func (h *LicenseHandler) GetByID(c *gin.Context) {
	idStr := c.Param("id")

	id, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Warn("Invalid UUID format received", zap.String("id_param", idStr), zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "VALIDATION_ERROR", Message: "Invalid license ID format"})
		return
	}

	lic, err := h.service.GetLicenseByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ierr.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.APIErrorResponse{Code: "NOT_FOUND", Message: "License not found"})
			return
		}
		h.logger.Error("Service failed to get license by ID", zap.String("id", idStr), zap.Error(err))
		h.respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewLicenseResponse(lic, time.Now()))
}

func (h *LicenseHandler) Update(c *gin.Context) {
	idStr := c.Param("id")

	id, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Warn("Invalid UUID format for update", zap.String("id_param", idStr), zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "VALIDATION_ERROR", Message: "Invalid license ID format"})
		return
	}

	var req dto.UpdateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind or validate update request body", zap.String("id", idStr), zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "VALIDATION_ERROR", Message: "Invalid request body: " + err.Error()})
		return
	}

	updatedLicense, err := h.service.UpdateLicense(c.Request.Context(), id, &req)
	if err != nil {
		switch {
		case errors.Is(err, ierr.ErrNotFound):
			c.JSON(http.StatusNotFound, dto.APIErrorResponse{Code: "NOT_FOUND", Message: "License not found"})
		case errors.Is(err, ierr.ErrInvalidLimit):
			c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "INVALID_LIMIT", Message: "Use limit must stay at or above 1."})
		default:
			h.logger.Error("Service failed to update license", zap.String("id", idStr), zap.Error(err))
			h.respondStoreError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, dto.NewLicenseResponse(updatedLicense, time.Now()))
}

// respondAdminError maps the shared outcome set of the admin mutations.
func (h *LicenseHandler) respondAdminError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, ierr.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.APIErrorResponse{Code: "NOT_FOUND", Message: "License not found"})
	case errors.Is(err, ierr.ErrInvalidLimit):
		c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "INVALID_LIMIT", Message: "Use limit must stay at or above 1."})
	case errors.Is(err, ierr.ErrValidation):
		c.JSON(http.StatusBadRequest, dto.APIErrorResponse{Code: "VALIDATION_ERROR", Message: err.Error()})
	default:
		h.logger.Error("Service failed to "+op, zap.Error(err))
		h.respondStoreError(c, err)
	}
}

func (h *LicenseHandler) respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, ierr.ErrStoreUnavailable) {
		c.JSON(http.StatusServiceUnavailable, dto.APIErrorResponse{Code: "STORE_UNAVAILABLE", Message: "License store is temporarily unavailable."})
		return
	}
	c.JSON(http.StatusInternalServerError, dto.APIErrorResponse{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred."})
}
