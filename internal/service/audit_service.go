package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tradeops/ledger/internal/model"
	"github.com/tradeops/ledger/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditEntry is one business event for the audit sink
type AuditEntry struct {
	UserID     *uuid.UUID
	Action     string
	EntityType string
	EntityID   string
	EntityName string
	Before     interface{}
	After      interface{}
}

type AuditLogResponse struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	EntityName string          `json:"entity_name"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	CreatedAt  string          `json:"created_at"`
}

type AuditService interface {
	// Record is best-effort: a failed write is logged and never returned
	Record(ctx context.Context, entry AuditEntry)
	GetAuditLogs(ctx context.Context, filter repository.AuditFilter, page, limit int) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	auditRepo repository.AuditRepository
	log       *zap.Logger
}

func NewAuditService(auditRepo repository.AuditRepository, log *zap.Logger) AuditService {
	return &auditService{auditRepo: auditRepo, log: log}
}

func (s *auditService) Record(ctx context.Context, entry AuditEntry) {
	row := model.AuditLog{
		UserID:     entry.UserID,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		EntityName: entry.EntityName,
		Before:     snapshot(entry.Before),
		After:      snapshot(entry.After),
	}

	// Audit rows must survive a rollback of the caller's transaction
	if err := s.auditRepo.Log(repository.WithoutTx(ctx), &row); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", entry.Action),
			zap.String("entity_id", entry.EntityID),
			zap.Error(err))
	}
}

func (s *auditService) GetAuditLogs(ctx context.Context, filter repository.AuditFilter, page, limit int) ([]AuditLogResponse, int64, error) {
	logs, total, err := s.auditRepo.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, err
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		item := AuditLogResponse{
			ID:         l.ID.String(),
			Action:     l.Action,
			EntityType: l.EntityType,
			EntityID:   l.EntityID,
			EntityName: l.EntityName,
			CreatedAt:  l.CreatedAt.Format(time.RFC3339),
		}
		if l.UserID != nil {
			item.UserID = l.UserID.String()
		}
		if l.Before != "" {
			item.Before = json.RawMessage(l.Before)
		}
		if l.After != "" {
			item.After = json.RawMessage(l.After)
		}
		res = append(res, item)
	}
	return res, total, nil
}

func snapshot(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
