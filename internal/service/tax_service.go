package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradeops/ledger/internal/config"
	"github.com/tradeops/ledger/internal/model"
	"github.com/tradeops/ledger/internal/repository"
	"github.com/tradeops/ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// --- DTOs ---

type TaxRuleRequest struct {
	TaxType       string `json:"tax_type" binding:"required,oneof=VAT_INLAND VAT_INTL"`
	Rate          string `json:"rate" binding:"required"`           // Decimal string, e.g. "0.15"
	EffectiveFrom string `json:"effective_from" binding:"required"` // YYYY-MM-DD
	EffectiveTo   string `json:"effective_to"`                      // YYYY-MM-DD, empty = open ended
	Description   string `json:"description"`
}

type TaxRuleResponse struct {
	ID            string  `json:"id"`
	TaxType       string  `json:"tax_type"`
	Rate          string  `json:"rate"`
	EffectiveFrom string  `json:"effective_from"`
	EffectiveTo   *string `json:"effective_to"`
	Description   string  `json:"description"`
	CreatedAt     string  `json:"created_at"`
}

type ActiveTaxRateResponse struct {
	TaxType string `json:"tax_type"`
	Rate    string `json:"rate"`
	RuleID  string `json:"rule_id,omitempty"` // empty when the configured default applies
}

// --- Interface ---

type TaxService interface {
	GetTaxRules(ctx context.Context, taxType string, page, limit int) ([]TaxRuleResponse, int64, error)
	CreateTaxRule(ctx context.Context, userID *uuid.UUID, req TaxRuleRequest) (TaxRuleResponse, error)
	UpdateTaxRule(ctx context.Context, userID *uuid.UUID, id string, req TaxRuleRequest) (TaxRuleResponse, error)
	DeleteTaxRule(ctx context.Context, userID *uuid.UUID, id string) error
	GetActiveTaxRate(ctx context.Context, taxType string, date time.Time) (ActiveTaxRateResponse, error)
}

type taxService struct {
	repo   repository.TaxRuleRepository
	audit  AuditService
	policy config.LedgerConfig
}

func NewTaxService(repo repository.TaxRuleRepository, audit AuditService, policy config.LedgerConfig) TaxService {
	return &taxService{repo: repo, audit: audit, policy: policy}
}

// --- Implementation ---

func (s *taxService) GetTaxRules(ctx context.Context, taxType string, page, limit int) ([]TaxRuleResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	rules, total, err := s.repo.List(ctx, taxType, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch tax rules: %w", err)
	}

	res := make([]TaxRuleResponse, 0, len(rules))
	for _, r := range rules {
		res = append(res, toTaxRuleResponse(r))
	}
	return res, total, nil
}

func (s *taxService) CreateTaxRule(ctx context.Context, userID *uuid.UUID, req TaxRuleRequest) (TaxRuleResponse, error) {
	rate, from, to, err := parseTaxRuleFields(req)
	if err != nil {
		return TaxRuleResponse{}, err
	}
	if err := s.checkOverlap(ctx, req.TaxType, from, to, nil); err != nil {
		return TaxRuleResponse{}, err
	}

	rule := model.TaxRule{
		TaxType:       req.TaxType,
		Rate:          rate,
		EffectiveFrom: from,
		EffectiveTo:   to,
		Description:   req.Description,
	}
	if err := s.repo.Create(ctx, &rule); err != nil {
		return TaxRuleResponse{}, fmt.Errorf("failed to create tax rule: %w", err)
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:     userID,
		Action:     model.ActionCreateTaxRule,
		EntityType: model.EntityTaxRule,
		EntityID:   rule.ID.String(),
		EntityName: req.TaxType + " " + rate.StringFixed(4),
		After:      rule,
	})
	return toTaxRuleResponse(rule), nil
}

func (s *taxService) UpdateTaxRule(ctx context.Context, userID *uuid.UUID, id string, req TaxRuleRequest) (TaxRuleResponse, error) {
	ruleID, err := parseID("tax rule id", id)
	if err != nil {
		return TaxRuleResponse{}, err
	}
	rule, err := s.repo.FindByID(ctx, ruleID)
	if err != nil {
		return TaxRuleResponse{}, notFound(err, "tax rule", id)
	}

	rate, from, to, err := parseTaxRuleFields(req)
	if err != nil {
		return TaxRuleResponse{}, err
	}
	if err := s.checkOverlap(ctx, req.TaxType, from, to, &ruleID); err != nil {
		return TaxRuleResponse{}, err
	}

	before := *rule
	rule.TaxType = req.TaxType
	rule.Rate = rate
	rule.EffectiveFrom = from
	rule.EffectiveTo = to
	rule.Description = req.Description
	if err := s.repo.Update(ctx, rule); err != nil {
		return TaxRuleResponse{}, fmt.Errorf("failed to update tax rule: %w", err)
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:     userID,
		Action:     model.ActionUpdateTaxRule,
		EntityType: model.EntityTaxRule,
		EntityID:   rule.ID.String(),
		EntityName: req.TaxType + " " + rate.StringFixed(4),
		Before:     before,
		After:      rule,
	})
	return toTaxRuleResponse(*rule), nil
}

func (s *taxService) DeleteTaxRule(ctx context.Context, userID *uuid.UUID, id string) error {
	ruleID, err := parseID("tax rule id", id)
	if err != nil {
		return err
	}
	rule, err := s.repo.FindByID(ctx, ruleID)
	if err != nil {
		return notFound(err, "tax rule", id)
	}
	if err := s.repo.Delete(ctx, ruleID); err != nil {
		return fmt.Errorf("failed to delete tax rule: %w", err)
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:     userID,
		Action:     model.ActionDeleteTaxRule,
		EntityType: model.EntityTaxRule,
		EntityID:   rule.ID.String(),
		EntityName: rule.TaxType + " " + rule.Rate.StringFixed(4),
		Before:     rule,
	})
	return nil
}

func (s *taxService) GetActiveTaxRate(ctx context.Context, taxType string, date time.Time) (ActiveTaxRateResponse, error) {
	rule, err := s.repo.FindActive(ctx, taxType, date)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return ActiveTaxRateResponse{}, fmt.Errorf("failed to query active tax rate: %w", err)
		}
		if taxType != s.policy.VATTaxType {
			return ActiveTaxRateResponse{}, apperror.NotFound("active tax rule", taxType)
		}
		return ActiveTaxRateResponse{TaxType: taxType, Rate: s.policy.DefaultVATRate.StringFixed(4)}, nil
	}
	return ActiveTaxRateResponse{
		TaxType: rule.TaxType,
		Rate:    rule.Rate.StringFixed(4),
		RuleID:  rule.ID.String(),
	}, nil
}

// --- Helpers ---

func parseTaxRuleFields(req TaxRuleRequest) (decimal.Decimal, time.Time, *time.Time, error) {
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		return decimal.Zero, time.Time{}, nil, apperror.Validation("invalid rate value")
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, time.Time{}, nil, apperror.Validation("rate must be between 0 and 1")
	}

	from, err := parseDate("effective_from", req.EffectiveFrom)
	if err != nil {
		return decimal.Zero, time.Time{}, nil, err
	}

	var to *time.Time
	if req.EffectiveTo != "" {
		t, err := parseDate("effective_to", req.EffectiveTo)
		if err != nil {
			return decimal.Zero, time.Time{}, nil, err
		}
		if t.Before(from) {
			return decimal.Zero, time.Time{}, nil, apperror.Validation("effective_to must not be before effective_from")
		}
		to = &t
	}
	return rate, from, to, nil
}

func (s *taxService) checkOverlap(ctx context.Context, taxType string, from time.Time, to *time.Time, excludeID *uuid.UUID) error {
	count, err := s.repo.CountOverlapping(ctx, taxType, from, to, excludeID)
	if err != nil {
		return fmt.Errorf("failed to check overlap: %w", err)
	}
	if count > 0 {
		return apperror.Validation(fmt.Sprintf("a tax rule for '%s' already exists with overlapping effective dates", taxType))
	}
	return nil
}

func toTaxRuleResponse(r model.TaxRule) TaxRuleResponse {
	resp := TaxRuleResponse{
		ID:            r.ID.String(),
		TaxType:       r.TaxType,
		Rate:          r.Rate.StringFixed(4),
		EffectiveFrom: r.EffectiveFrom.Format(dateLayout),
		Description:   r.Description,
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
	}
	if r.EffectiveTo != nil {
		s := r.EffectiveTo.Format(dateLayout)
		resp.EffectiveTo = &s
	}
	return resp
}
