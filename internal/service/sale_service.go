package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradeops/ledger/internal/config"
	"github.com/tradeops/ledger/internal/locker"
	"github.com/tradeops/ledger/internal/model"
	"github.com/tradeops/ledger/internal/repository"
	"github.com/tradeops/ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// --- DTOs ---

type SaleLineRequest struct {
	ProductID     string `json:"product_id" binding:"required"`
	Quantity      int    `json:"quantity" binding:"required,gt=0"`
	UnitPrice     string `json:"unit_price" binding:"required"` // Decimal string, ex-tax
	AllowOverride bool   `json:"allow_override"`
}

type CreateSaleRequest struct {
	InvoiceNo    string            `json:"invoice_no" binding:"required"`
	SaleDate     string            `json:"sale_date" binding:"required"` // YYYY-MM-DD
	CustomerName string            `json:"customer_name"`
	Note         string            `json:"note"`
	Lines        []SaleLineRequest `json:"lines" binding:"required,min=1,dive"`
}

type AllocationResponse struct {
	ID                string  `json:"id"`
	LotID             *string `json:"lot_id"`
	Quantity          int     `json:"quantity"`
	UnitCost          string  `json:"unit_cost"`
	Cost              string  `json:"cost"`
	OverrideBeforeBoe bool    `json:"override_before_boe"`
	Resolved          bool    `json:"resolved"`
}

type SaleLineResponse struct {
	ID          string               `json:"id"`
	LineNo      int                  `json:"line_no"`
	ProductID   string               `json:"product_id"`
	Quantity    int                  `json:"quantity"`
	UnitPrice   string               `json:"unit_price"`
	NetAmount   string               `json:"net_amount"`
	Allocations []AllocationResponse `json:"allocations"`
}

type SaleResponse struct {
	ID           string             `json:"id"`
	InvoiceNo    string             `json:"invoice_no"`
	SaleDate     string             `json:"sale_date"`
	CustomerName string             `json:"customer_name"`
	Status       string             `json:"status"`
	TaxRate      string             `json:"tax_rate"`
	NetTotal     string             `json:"net_total"`
	VATTotal     string             `json:"vat_total"`
	GrossTotal   string             `json:"gross_total"`
	VoidedAt     *string            `json:"voided_at"`
	Lines        []SaleLineResponse `json:"lines"`
}

// SaleService is the sales collaborator: it owns sale documents and drives the allocation engine
type SaleService interface {
	CreateSale(ctx context.Context, userID *uuid.UUID, req CreateSaleRequest) (SaleResponse, error)
	VoidSale(ctx context.Context, userID *uuid.UUID, id string) (SaleResponse, error)
	GetSale(ctx context.Context, id string) (SaleResponse, error)
	ListSales(ctx context.Context, from, to *time.Time, status string, page, limit int) ([]SaleResponse, int64, error)
}

type saleService struct {
	saleRepo    repository.SaleRepository
	taxRuleRepo repository.TaxRuleRepository
	allocations AllocationService
	periods     VATPeriodService
	audit       AuditService
	policy      config.LedgerConfig
	log         *zap.Logger
	now         func() time.Time
}

func NewSaleService(
	saleRepo repository.SaleRepository,
	taxRuleRepo repository.TaxRuleRepository,
	allocations AllocationService,
	periods VATPeriodService,
	audit AuditService,
	policy config.LedgerConfig,
	log *zap.Logger,
) SaleService {
	return &saleService{
		saleRepo:    saleRepo,
		taxRuleRepo: taxRuleRepo,
		allocations: allocations,
		periods:     periods,
		audit:       audit,
		policy:      policy,
		log:         log.Named("sale"),
		now:         time.Now,
	}
}

func (s *saleService) CreateSale(ctx context.Context, userID *uuid.UUID, req CreateSaleRequest) (SaleResponse, error) {
	saleDate, err := parseDate("sale_date", req.SaleDate)
	if err != nil {
		return SaleResponse{}, err
	}

	sale := &model.Sale{
		InvoiceNo:    req.InvoiceNo,
		SaleDate:     saleDate,
		CustomerName: req.CustomerName,
		Status:       model.SaleStatusActive,
		Note:         req.Note,
	}
	productIDs := make([]uuid.UUID, 0, len(req.Lines))
	net := decimal.Zero
	for i, l := range req.Lines {
		productID, err := parseID("product id", l.ProductID)
		if err != nil {
			return SaleResponse{}, err
		}
		if l.Quantity <= 0 {
			return SaleResponse{}, apperror.Validation("quantity must be greater than zero")
		}
		price, err := parseMoney("unit_price", l.UnitPrice)
		if err != nil {
			return SaleResponse{}, err
		}
		amount := price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		sale.Lines = append(sale.Lines, model.SaleLine{
			LineNo:        i + 1,
			ProductID:     productID,
			Quantity:      l.Quantity,
			UnitPrice:     price,
			NetAmount:     amount,
			AllowOverride: l.AllowOverride,
		})
		productIDs = append(productIDs, productID)
		net = net.Add(amount)
	}

	rate, err := activeVATRate(ctx, s.taxRuleRepo, s.policy, saleDate)
	if err != nil {
		return SaleResponse{}, err
	}
	sale.TaxRate = rate
	sale.NetTotal = net
	sale.VATTotal = net.Mul(rate).Round(4)
	sale.GrossTotal = net.Add(sale.VATTotal)

	year, month := saleDate.Year(), int(saleDate.Month())
	var results []*AllocationResult
	err = s.allocations.WithProductLocks(ctx, productIDs, []string{locker.PeriodKey(year, month)}, func(txCtx context.Context) error {
		locked, err := s.periods.IsLockedTx(txCtx, year, month)
		if err != nil {
			return err
		}
		if locked {
			return apperror.PeriodLocked(model.PeriodLabel(year, month))
		}

		exists, err := s.saleRepo.ExistsInvoiceNo(txCtx, req.InvoiceNo)
		if err != nil {
			return fmt.Errorf("failed to check invoice number: %w", err)
		}
		if exists {
			return apperror.Validation("invoice " + req.InvoiceNo + " already exists")
		}

		if err := s.saleRepo.Create(txCtx, sale); err != nil {
			return fmt.Errorf("failed to create sale: %w", err)
		}

		for i := range sale.Lines {
			line := &sale.Lines[i]
			res, err := s.allocations.AllocateTx(txCtx, AllocateRequest{
				SaleLineID:    line.ID,
				ProductID:     line.ProductID,
				Quantity:      line.Quantity,
				SaleDate:      saleDate,
				AllowOverride: line.AllowOverride,
			})
			if err != nil {
				var appErr *apperror.AppError
				if errors.As(err, &appErr) {
					appErr.WithDetail("line_no", fmt.Sprintf("%d", line.LineNo))
				}
				return err
			}
			line.Allocations = res.Allocations
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return SaleResponse{}, err
	}

	s.allocations.Committed(ctx, userID, results, nil)
	s.audit.Record(ctx, AuditEntry{
		UserID:     userID,
		Action:     model.ActionCreateSale,
		EntityType: model.EntitySale,
		EntityID:   sale.ID.String(),
		EntityName: sale.InvoiceNo,
		After:      toSaleResponse(*sale),
	})
	s.log.Info("sale created", zap.String("invoice_no", sale.InvoiceNo), zap.Int("lines", len(sale.Lines)))
	return toSaleResponse(*sale), nil
}

// VoidSale reverses every line's allocations. Voiding twice is a no-op.
func (s *saleService) VoidSale(ctx context.Context, userID *uuid.UUID, id string) (SaleResponse, error) {
	saleID, err := parseID("sale id", id)
	if err != nil {
		return SaleResponse{}, err
	}
	current, err := s.saleRepo.FindByID(ctx, saleID)
	if err != nil {
		return SaleResponse{}, notFound(err, "sale", id)
	}
	if current.Status == model.SaleStatusVoided {
		return toSaleResponse(*current), nil
	}

	productIDs := make([]uuid.UUID, 0, len(current.Lines))
	for _, l := range current.Lines {
		productIDs = append(productIDs, l.ProductID)
	}
	year, month := current.SaleDate.Year(), int(current.SaleDate.Month())

	var reversals []*ReversalResult
	voided := false
	err = s.allocations.WithProductLocks(ctx, productIDs, []string{locker.PeriodKey(year, month)}, func(txCtx context.Context) error {
		sale, err := s.saleRepo.FindByIDForUpdate(txCtx, saleID)
		if err != nil {
			return notFound(err, "sale", id)
		}
		if sale.Status == model.SaleStatusVoided {
			return nil
		}

		locked, err := s.periods.IsLockedTx(txCtx, year, month)
		if err != nil {
			return err
		}
		if locked {
			return apperror.PeriodLocked(model.PeriodLabel(year, month))
		}

		for _, line := range sale.Lines {
			rev, err := s.allocations.ReverseTx(txCtx, line.ID)
			if err != nil {
				return err
			}
			reversals = append(reversals, rev)
		}
		if err := s.saleRepo.MarkVoided(txCtx, sale.ID, s.now().UTC()); err != nil {
			return fmt.Errorf("failed to void sale: %w", err)
		}
		voided = true
		return nil
	})
	if err != nil {
		return SaleResponse{}, err
	}

	updated, err := s.saleRepo.FindByID(ctx, saleID)
	if err != nil {
		return SaleResponse{}, notFound(err, "sale", id)
	}
	if voided {
		s.allocations.Committed(ctx, userID, nil, reversals)
		s.audit.Record(ctx, AuditEntry{
			UserID:     userID,
			Action:     model.ActionVoidSale,
			EntityType: model.EntitySale,
			EntityID:   updated.ID.String(),
			EntityName: updated.InvoiceNo,
			Before:     toSaleResponse(*current),
			After:      toSaleResponse(*updated),
		})
	}
	return toSaleResponse(*updated), nil
}

func (s *saleService) GetSale(ctx context.Context, id string) (SaleResponse, error) {
	saleID, err := parseID("sale id", id)
	if err != nil {
		return SaleResponse{}, err
	}
	sale, err := s.saleRepo.FindByID(ctx, saleID)
	if err != nil {
		return SaleResponse{}, notFound(err, "sale", id)
	}
	return toSaleResponse(*sale), nil
}

func (s *saleService) ListSales(ctx context.Context, from, to *time.Time, status string, page, limit int) ([]SaleResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	sales, total, err := s.saleRepo.List(ctx, from, to, status, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sales: %w", err)
	}
	res := make([]SaleResponse, 0, len(sales))
	for _, sale := range sales {
		res = append(res, toSaleResponse(sale))
	}
	return res, total, nil
}

func toSaleResponse(s model.Sale) SaleResponse {
	resp := SaleResponse{
		ID:           s.ID.String(),
		InvoiceNo:    s.InvoiceNo,
		SaleDate:     s.SaleDate.Format(dateLayout),
		CustomerName: s.CustomerName,
		Status:       s.Status,
		TaxRate:      s.TaxRate.StringFixed(4),
		NetTotal:     s.NetTotal.StringFixed(2),
		VATTotal:     s.VATTotal.StringFixed(2),
		GrossTotal:   s.GrossTotal.StringFixed(2),
		Lines:        make([]SaleLineResponse, 0, len(s.Lines)),
	}
	if s.VoidedAt != nil {
		at := s.VoidedAt.Format(time.RFC3339)
		resp.VoidedAt = &at
	}
	for _, l := range s.Lines {
		line := SaleLineResponse{
			ID:          l.ID.String(),
			LineNo:      l.LineNo,
			ProductID:   l.ProductID.String(),
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice.StringFixed(2),
			NetAmount:   l.NetAmount.StringFixed(2),
			Allocations: make([]AllocationResponse, 0, len(l.Allocations)),
		}
		for _, a := range l.Allocations {
			line.Allocations = append(line.Allocations, toAllocationResponse(a))
		}
		resp.Lines = append(resp.Lines, line)
	}
	return resp
}

func toAllocationResponse(a model.LotAllocation) AllocationResponse {
	resp := AllocationResponse{
		ID:                a.ID.String(),
		Quantity:          a.Quantity,
		UnitCost:          a.UnitCost.StringFixed(4),
		Cost:              a.Cost().StringFixed(2),
		OverrideBeforeBoe: a.OverrideBeforeBoe,
		Resolved:          a.ResolvedAt != nil,
	}
	if a.LotID != nil {
		id := a.LotID.String()
		resp.LotID = &id
	}
	return resp
}
