package handler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cashstore/merchant-api/internal/dto"
	"github.com/cashstore/merchant-api/internal/service"
	appErrors "github.com/cashstore/merchant-api/pkg/errors"
	"github.com/cashstore/merchant-api/pkg/response"
)

// ExportHandler serves export generation and signed downloads.
type ExportHandler struct {
	service *service.ExportService
}

// NewExportHandler constructs the handler.
func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// Export godoc
// @Summary Export cashback requests to CSV or PDF
// @Tags Cashback
// @Produce json
// @Param format query string false "csv or pdf"
// @Param status query string false "Status filter"
// @Param startDate query string false "Range start"
// @Param endDate query string false "Range end"
// @Success 200 {object} response.Envelope
// @Router /cashback/export [get]
func (h *ExportHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.ExportQuery{
		Status: strings.TrimSpace(c.Query("status")),
		Format: strings.TrimSpace(c.Query("format")),
	}
	var err error
	if query.StartDate, err = parseTimeParam(c.Query("startDate")); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid startDate"))
		return
	}
	if query.EndDate, err = parseTimeParam(c.Query("endDate")); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid endDate"))
		return
	}
	result, err := h.service.Export(c.Request.Context(), query, claims.AuthContext())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Download godoc
// @Summary Download a generated export via signed token
// @Tags Cashback
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Router /cashback/export/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	relPath, err := h.service.ParseToken(token, claims.AuthContext())
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.service.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "export file no longer available"))
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export file"))
		return
	}

	mimeType := "text/csv"
	if strings.EqualFold(filepath.Ext(relPath), ".pdf") {
		mimeType = "application/pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(relPath)))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), mimeType, file, nil)
}
