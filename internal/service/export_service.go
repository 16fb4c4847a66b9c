package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lessonloop/lessonloop-api/internal/models"
	appErrors "github.com/lessonloop/lessonloop-api/pkg/errors"
	"github.com/lessonloop/lessonloop-api/pkg/export"
)

// ExportFormat enumerates supported download formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult carries rendered bytes plus the metadata needed to serve them.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

type exportSessionReader interface {
	ListBySubscription(ctx context.Context, subscriptionID string) ([]models.Session, error)
}

type exportSubscriptionReader interface {
	FindByID(ctx context.Context, id string) (*models.Subscription, error)
	FindDetailByID(ctx context.Context, id string) (*models.SubscriptionDetail, error)
}

// ExportService renders a subscription's session schedule for download.
type ExportService struct {
	subscriptions exportSubscriptionReader
	sessions      exportSessionReader
	csv           *export.CSVExporter
	pdf           *export.PDFExporter
	logger        *zap.Logger
}

// NewExportService constructs ExportService.
func NewExportService(subscriptions exportSubscriptionReader, sessions exportSessionReader, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		subscriptions: subscriptions,
		sessions:      sessions,
		csv:           export.NewCSVExporter(),
		pdf:           export.NewPDFExporter(),
		logger:        logger,
	}
}

// ExportSchedule renders every session of a subscription as CSV or PDF.
func (s *ExportService) ExportSchedule(ctx context.Context, subscriptionID string, format ExportFormat, actor *models.JWTClaims) (*ExportResult, error) {
	subscription, err := s.subscriptions.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "subscription not found")
	}
	if err := canViewSubscription(subscription, actor); err != nil {
		return nil, err
	}
	detail, err := s.subscriptions.FindDetailByID(ctx, subscriptionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription detail")
	}
	sessions, err := s.sessions.ListBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}

	table := buildScheduleTable(sessions)
	table.Title = fmt.Sprintf("%s schedule for %s", detail.CourseLabel, detail.StudentName)
	base := fmt.Sprintf("schedule-%s", subscriptionID)

	switch format {
	case ExportFormatCSV:
		content, err := s.csv.Render(table)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{Content: content, ContentType: "text/csv", Filename: base + ".csv"}, nil
	case ExportFormatPDF:
		content, err := s.pdf.Render(table)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{Content: content, ContentType: "application/pdf", Filename: base + ".pdf"}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("unsupported export format %q", string(format)))
	}
}

func buildScheduleTable(sessions []models.Session) export.Table {
	rows := make([][]string, 0, len(sessions))
	for _, session := range sessions {
		completedAt := ""
		if session.CompletedAt != nil {
			completedAt = session.CompletedAt.Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			session.StartAt.Format(dateLayout),
			session.StartAt.Format(timeLayout),
			session.EndAt.Format(timeLayout),
			strings.ReplaceAll(string(session.Status), "_", " "),
			completedAt,
		})
	}
	return export.Table{
		Columns: []string{"Date", "Start", "End", "Status", "Completed At"},
		Rows:    rows,
	}
}
