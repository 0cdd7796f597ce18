package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"smallbiznis-loyalty/pkg/errutil"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// ObjectStore is the subset of *minio.Client used for statement exports.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

var statementHeader = []string{
	"id", "created_at", "occurred_at", "type", "points_delta", "idempotency_key",
	"source_event_id", "program_id", "reward_rule_id", "reversal_of", "related_to", "expires_at", "hash",
}

func WriteStatementCSV(w io.Writer, rows []*PointsTransaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(statementHeader); err != nil {
		return err
	}
	for _, r := range rows {
		expires := ""
		if r.ExpiresAt != nil {
			expires = r.ExpiresAt.UTC().Format(time.RFC3339)
		}
		if err := cw.Write([]string{
			r.ID,
			r.CreatedAt.UTC().Format(time.RFC3339Nano),
			r.OccurredAt.UTC().Format(time.RFC3339),
			string(r.Type),
			strconv.FormatInt(r.PointsDelta, 10),
			r.IdempotencyKey,
			r.SourceEventID,
			r.ProgramID,
			r.RewardRuleID,
			r.ReversalOfTransactionID,
			r.RelatedTransactionID,
			expires,
			r.Hash,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportStatement uploads the full statement as CSV and returns the object key.
func (s *Service) ExportStatement(ctx context.Context, tenantID, membershipID string) (string, error) {
	if s.objects == nil || s.bucket == "" {
		return "", errutil.NotImplemented("statement export is not configured", nil)
	}

	rows, err := s.store.ListByMembership(ctx, tenantID, membershipID)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := WriteStatementCSV(&buf, rows); err != nil {
		return "", err
	}

	key := fmt.Sprintf("statements/%s/%s/%s.csv", tenantID, membershipID, s.clock.Now().UTC().Format("20060102T150405Z"))
	if _, err := s.objects.PutObject(ctx, s.bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "text/csv",
	}); err != nil {
		logFields(ctx, zap.String("object", key)).Error("failed to upload statement", zap.Error(err))
		return "", err
	}
	return key, nil
}
