package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cashstore/merchant-api/internal/dto"
	"github.com/cashstore/merchant-api/internal/models"
	appErrors "github.com/cashstore/merchant-api/pkg/errors"
	"github.com/cashstore/merchant-api/pkg/export"
	"github.com/cashstore/merchant-api/pkg/storage"
)

// exportPageLimit caps a single export dataset.
const exportPageLimit = 5000

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportService renders cashback request datasets to downloadable files
// behind signed, expiring URLs.
type ExportService struct {
	repo    cashbackStore
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	audit   auditLogger
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(repo cashbackStore, store fileStorage, signer *storage.SignedURLSigner, audit auditLogger, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		repo:    repo,
		storage: store,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		signer:  signer,
		audit:   audit,
		logger:  logger,
		cfg:     cfg,
	}
}

// Export renders the merchant's filtered requests and returns a signed
// download link.
func (s *ExportService) Export(ctx context.Context, query dto.ExportQuery, actor models.AuthContext) (*dto.ExportResponse, error) {
	format := strings.ToLower(query.Format)
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "pdf" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	result, err := s.repo.Search(ctx, models.CashbackFilter{
		MerchantID: actor.MerchantID,
		Status:     models.CashbackStatus(strings.ToLower(query.Status)),
		StartDate:  query.StartDate,
		EndDate:    query.EndDate,
		SortBy:     "created",
		SortOrder:  "desc",
		Page:       1,
		Limit:      exportPageLimit,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export dataset")
	}

	dataset := buildCashbackDataset(result.Requests)
	title := fmt.Sprintf("Cashback Requests %s", time.Now().UTC().Format("2006-01-02"))

	var payload []byte
	switch format {
	case "csv":
		payload, err = s.csv.Render(dataset)
	case "pdf":
		payload, err = s.pdf.Render(dataset, title)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	filename := fmt.Sprintf("cashback_%s_%s.%s", sanitizeFilename(actor.MerchantID), time.Now().UTC().Format("20060102_150405"), format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to store export file")
	}

	token, expiresAt, err := s.signer.Generate(actor.MerchantID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	s.emitAudit(ctx, actor, format, len(result.Requests))
	s.logger.Info("export generated",
		zap.String("merchant_id", actor.MerchantID),
		zap.String("format", format),
		zap.Int("records", len(result.Requests)),
	)

	return &dto.ExportResponse{
		DownloadURL: fmt.Sprintf("%s/cashback/export/%s", prefix, token),
		ExpiresAt:   expiresAt,
		RecordCount: len(result.Requests),
		Format:      format,
	}, nil
}

// ParseToken validates download token metadata. The embedded owner id must
// match the requesting merchant.
func (s *ExportService) ParseToken(token string, actor models.AuthContext) (string, error) {
	ownerID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "download link is invalid or expired")
	}
	if ownerID != actor.MerchantID && actor.Role != models.RoleAdmin {
		return "", appErrors.ErrForbidden
	}
	return relPath, nil
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func buildCashbackDataset(requests []models.CashbackRequest) export.Dataset {
	headers := []string{"Request Number", "Customer", "Order", "Requested", "Approved", "Paid", "Status", "Risk Score", "Flagged", "Created At"}
	rows := make([]map[string]string, 0, len(requests))
	for _, req := range requests {
		rows = append(rows, map[string]string{
			"Request Number": req.RequestNumber,
			"Customer":       req.CustomerID,
			"Order":          req.OrderID,
			"Requested":      fmt.Sprintf("%.2f", req.RequestedAmount),
			"Approved":       formatOptionalAmount(req.ApprovedAmount),
			"Paid":           formatOptionalAmount(req.PaidAmount),
			"Status":         string(req.Status),
			"Risk Score":     fmt.Sprintf("%d", req.RiskScore),
			"Flagged":        fmt.Sprintf("%t", req.FlaggedForReview),
			"Created At":     req.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func formatOptionalAmount(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *v)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) emitAudit(ctx context.Context, actor models.AuthContext, format string, records int) {
	if s.audit == nil {
		return
	}
	detail, err := json.Marshal(map[string]interface{}{"format": format, "records": records})
	if err != nil {
		detail = nil
	}
	s.audit.Record(ctx, &models.AuditLog{
		MerchantID: &actor.MerchantID,
		ActorID:    &actor.ActorID,
		Action:     models.AuditActionExport,
		Resource:   "cashback_export",
		Detail:     detail,
	})
}
