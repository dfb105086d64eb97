package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tradeops/ledger/internal/locker"
	"github.com/tradeops/ledger/internal/metrics"
	"github.com/tradeops/ledger/internal/model"
	"github.com/tradeops/ledger/internal/repository"
	ws "github.com/tradeops/ledger/internal/websocket"
	"github.com/tradeops/ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AllocateRequest asks for quantity units of a product on behalf of one sale line
type AllocateRequest struct {
	SaleLineID    uuid.UUID
	ProductID     uuid.UUID
	Quantity      int
	SaleDate      time.Time
	AllowOverride bool
}

// AllocationResult is what a committed allocation wrote
type AllocationResult struct {
	SaleLineID  uuid.UUID             `json:"sale_line_id"`
	ProductID   uuid.UUID             `json:"product_id"`
	Quantity    int                   `json:"quantity"`
	Allocations []model.LotAllocation `json:"allocations"`
	TotalCost   decimal.Decimal       `json:"total_cost"`
	Override    *model.LotAllocation  `json:"override,omitempty"`
}

// ReversalResult is what a committed reversal restored
type ReversalResult struct {
	SaleLineID uuid.UUID `json:"sale_line_id"`
	ProductID  uuid.UUID `json:"product_id"`
	Restored   int       `json:"restored"`
}

type AcknowledgeRequest struct {
	Note string `json:"note" binding:"required"`
}

// AllocationService is the FIFO allocation engine.
// The *Tx methods expect the caller to hold the product keys and an open transaction;
// Allocate and Reverse take both themselves.
type AllocationService interface {
	WithProductLocks(ctx context.Context, productIDs []uuid.UUID, extraKeys []string, fn func(txCtx context.Context) error) error
	AllocateTx(txCtx context.Context, req AllocateRequest) (*AllocationResult, error)
	ReverseTx(txCtx context.Context, saleLineID uuid.UUID) (*ReversalResult, error)
	// Committed records metrics, audit rows and push events once the transaction is durable
	Committed(ctx context.Context, userID *uuid.UUID, allocations []*AllocationResult, reversals []*ReversalResult)

	Allocate(ctx context.Context, userID *uuid.UUID, req AllocateRequest) (*AllocationResult, error)
	Reverse(ctx context.Context, userID *uuid.UUID, saleLineID uuid.UUID) (*ReversalResult, error)
	Acknowledge(ctx context.Context, userID *uuid.UUID, allocationID string, req AcknowledgeRequest) (*model.LotAllocation, error)
	ListBySaleLine(ctx context.Context, saleLineID uuid.UUID) ([]model.LotAllocation, error)
}

type allocationService struct {
	guard
	productRepo repository.ProductRepository
	lotRepo     repository.LotRepository
	allocRepo   repository.AllocationRepository
	ledger      StockLedgerService
	audit       AuditService
	hub         *ws.Hub
	log         *zap.Logger
	now         func() time.Time
}

func NewAllocationService(
	productRepo repository.ProductRepository,
	lotRepo repository.LotRepository,
	allocRepo repository.AllocationRepository,
	ledger StockLedgerService,
	audit AuditService,
	txManager repository.TransactionManager,
	lk locker.Locker,
	m *metrics.Metrics,
	hub *ws.Hub,
	log *zap.Logger,
) AllocationService {
	return &allocationService{
		guard:       guard{locker: lk, txManager: txManager, metrics: m},
		productRepo: productRepo,
		lotRepo:     lotRepo,
		allocRepo:   allocRepo,
		ledger:      ledger,
		audit:       audit,
		hub:         hub,
		log:         log.Named("allocation"),
		now:         time.Now,
	}
}

func (s *allocationService) WithProductLocks(ctx context.Context, productIDs []uuid.UUID, extraKeys []string, fn func(txCtx context.Context) error) error {
	keys := make([]string, 0, len(productIDs)+len(extraKeys))
	for _, id := range productIDs {
		keys = append(keys, locker.ProductKey(id))
	}
	keys = append(keys, extraKeys...)
	return s.run(ctx, "product", keys, fn)
}

func (s *allocationService) AllocateTx(txCtx context.Context, req AllocateRequest) (*AllocationResult, error) {
	if req.Quantity <= 0 {
		return nil, apperror.Validation("quantity must be greater than zero")
	}
	if req.SaleDate.IsZero() {
		return nil, apperror.Validation("sale date is required")
	}
	if _, err := s.productRepo.FindByID(txCtx, req.ProductID); err != nil {
		return nil, notFound(err, "product", req.ProductID.String())
	}

	lots, err := s.lotRepo.ListByProductForUpdate(txCtx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lots: %w", err)
	}
	SortLotsFIFO(lots)

	plan := PlanFIFO(lots, req.Quantity, req.SaleDate)
	if plan.Shortfall > 0 && !req.AllowOverride {
		s.metrics.AllocationFailures.WithLabelValues(string(apperror.KindInsufficientStock)).Inc()
		appErr := apperror.InsufficientStock(req.ProductID.String(), req.Quantity, plan.Allocated)
		if plan.ReceivedLater > 0 {
			appErr = appErr.WithDetail("received_after_sale_date", strconv.Itoa(plan.ReceivedLater))
		}
		return nil, appErr
	}

	result := &AllocationResult{
		SaleLineID: req.SaleLineID,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		TotalCost:  decimal.Zero,
	}
	entries := make([]*model.StockLedgerEntry, 0, len(plan.Takes)+1)
	saleLineID := req.SaleLineID

	for _, take := range plan.Takes {
		lot := &lots[take.Index]
		next := lot.ClosingQty - take.Quantity
		if next < 0 || next > lot.OpeningQty {
			return nil, apperror.OrderingViolation("lot %s/%d closing would become %d", lot.DocumentNo, lot.LineNo, next)
		}
		if err := s.lotRepo.UpdateClosing(txCtx, lot.ID, next); err != nil {
			return nil, fmt.Errorf("failed to update lot closing: %w", err)
		}
		lot.ClosingQty = next

		lotID := lot.ID
		result.Allocations = append(result.Allocations, model.LotAllocation{
			SaleLineID: req.SaleLineID,
			LotID:      &lotID,
			ProductID:  req.ProductID,
			Quantity:   take.Quantity,
			UnitCost:   lot.UnitCost,
		})
		entries = append(entries, &model.StockLedgerEntry{
			ProductID:  req.ProductID,
			EntryDate:  req.SaleDate,
			Kind:       model.MovementSale,
			QtyOut:     take.Quantity,
			UnitCost:   lot.UnitCost,
			LotID:      &lotID,
			SaleLineID: &saleLineID,
		})
	}

	if plan.Shortfall > 0 {
		// Unmatched bucket: no lot yet, costed at the earliest lot as an estimate
		estimate := decimal.Zero
		if len(lots) > 0 {
			estimate = lots[0].UnitCost
		}
		result.Allocations = append(result.Allocations, model.LotAllocation{
			SaleLineID:        req.SaleLineID,
			ProductID:         req.ProductID,
			Quantity:          plan.Shortfall,
			UnitCost:          estimate,
			OverrideBeforeBoe: true,
		})
		entries = append(entries, &model.StockLedgerEntry{
			ProductID:  req.ProductID,
			EntryDate:  req.SaleDate,
			Kind:       model.MovementSale,
			QtyOut:     plan.Shortfall,
			UnitCost:   estimate,
			SaleLineID: &saleLineID,
			Note:       "sold before import document",
		})
	}

	if err := s.allocRepo.CreateBatch(txCtx, result.Allocations); err != nil {
		return nil, fmt.Errorf("failed to create allocations: %w", err)
	}
	if err := s.ledger.Append(txCtx, entries...); err != nil {
		return nil, err
	}

	for i := range result.Allocations {
		a := &result.Allocations[i]
		result.TotalCost = result.TotalCost.Add(a.Cost())
		if a.OverrideBeforeBoe {
			result.Override = a
		}
	}
	return result, nil
}

func (s *allocationService) ReverseTx(txCtx context.Context, saleLineID uuid.UUID) (*ReversalResult, error) {
	allocations, err := s.allocRepo.ListBySaleLine(txCtx, saleLineID)
	if err != nil {
		return nil, fmt.Errorf("failed to load allocations: %w", err)
	}
	result := &ReversalResult{SaleLineID: saleLineID}
	if len(allocations) == 0 {
		return result, nil
	}
	result.ProductID = allocations[0].ProductID

	lotIDs := make([]uuid.UUID, 0, len(allocations))
	for _, a := range allocations {
		if a.LotID != nil {
			lotIDs = append(lotIDs, *a.LotID)
		}
	}
	lots, err := s.lotRepo.FindByIDsForUpdate(txCtx, lotIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load lots: %w", err)
	}
	byID := make(map[uuid.UUID]*model.ImportLot, len(lots))
	for i := range lots {
		byID[lots[i].ID] = &lots[i]
	}

	voidedAt := s.now().UTC()
	entries := make([]*model.StockLedgerEntry, 0, len(allocations))
	lineID := saleLineID

	for _, a := range allocations {
		entry := &model.StockLedgerEntry{
			ProductID:  a.ProductID,
			EntryDate:  voidedAt,
			Kind:       model.MovementSaleReversal,
			QtyIn:      a.Quantity,
			UnitCost:   a.UnitCost,
			LotID:      a.LotID,
			SaleLineID: &lineID,
		}

		if a.LotID != nil {
			lot, ok := byID[*a.LotID]
			if !ok {
				return nil, apperror.OrderingViolation("allocation %s references missing lot %s", a.ID, a.LotID)
			}
			next := lot.ClosingQty + a.Quantity
			if next > lot.OpeningQty {
				return nil, apperror.OrderingViolation("lot %s/%d closing would exceed opening (%d > %d)",
					lot.DocumentNo, lot.LineNo, next, lot.OpeningQty)
			}
			if err := s.lotRepo.UpdateClosing(txCtx, lot.ID, next); err != nil {
				return nil, fmt.Errorf("failed to restore lot closing: %w", err)
			}
			lot.ClosingQty = next
		} else {
			entry.Note = "reversal of sale before import document"
		}

		entries = append(entries, entry)
		result.Restored += a.Quantity
	}

	if err := s.allocRepo.DeleteBySaleLine(txCtx, saleLineID); err != nil {
		return nil, fmt.Errorf("failed to delete allocations: %w", err)
	}
	if err := s.ledger.Append(txCtx, entries...); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *allocationService) Committed(ctx context.Context, userID *uuid.UUID, allocations []*AllocationResult, reversals []*ReversalResult) {
	for _, res := range allocations {
		if res == nil {
			continue
		}
		s.metrics.UnitsAllocated.Add(float64(res.Quantity))
		s.hub.Publish(ws.EventStockAllocated, res)

		if res.Override != nil {
			s.metrics.OverrideAllocations.Inc()
			s.log.Warn("allocation recorded before import document",
				zap.String("product_id", res.ProductID.String()),
				zap.String("sale_line_id", res.SaleLineID.String()),
				zap.Int("quantity", res.Override.Quantity),
				zap.String("estimated_unit_cost", res.Override.UnitCost.String()))
			s.audit.Record(ctx, AuditEntry{
				UserID:     userID,
				Action:     model.ActionOverrideAlloc,
				EntityType: model.EntityAllocation,
				EntityID:   res.Override.ID.String(),
				EntityName: res.ProductID.String(),
				After:      res.Override,
			})
			s.hub.Publish(ws.EventOverrideCreated, res.Override)
		}
	}

	for _, rev := range reversals {
		if rev == nil || rev.Restored == 0 {
			continue
		}
		s.metrics.Reversals.Inc()
		s.hub.Publish(ws.EventStockReversed, rev)
	}
}

func (s *allocationService) Allocate(ctx context.Context, userID *uuid.UUID, req AllocateRequest) (*AllocationResult, error) {
	var result *AllocationResult
	err := s.WithProductLocks(ctx, []uuid.UUID{req.ProductID}, nil, func(txCtx context.Context) error {
		var err error
		result, err = s.AllocateTx(txCtx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Committed(ctx, userID, []*AllocationResult{result}, nil)
	return result, nil
}

func (s *allocationService) Reverse(ctx context.Context, userID *uuid.UUID, saleLineID uuid.UUID) (*ReversalResult, error) {
	// The product is only needed to pick the lock; allocations are re-read under it.
	existing, err := s.allocRepo.ListBySaleLine(ctx, saleLineID)
	if err != nil {
		return nil, fmt.Errorf("failed to load allocations: %w", err)
	}
	if len(existing) == 0 {
		return &ReversalResult{SaleLineID: saleLineID}, nil
	}

	var result *ReversalResult
	err = s.WithProductLocks(ctx, []uuid.UUID{existing[0].ProductID}, nil, func(txCtx context.Context) error {
		var err error
		result, err = s.ReverseTx(txCtx, saleLineID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Committed(ctx, userID, nil, []*ReversalResult{result})
	return result, nil
}

func (s *allocationService) Acknowledge(ctx context.Context, userID *uuid.UUID, allocationID string, req AcknowledgeRequest) (*model.LotAllocation, error) {
	id, err := parseID("allocation id", allocationID)
	if err != nil {
		return nil, err
	}

	allocation, err := s.allocRepo.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "allocation", allocationID)
	}
	if !allocation.OverrideBeforeBoe {
		return nil, apperror.Validation("only override allocations can be acknowledged")
	}
	if allocation.ResolvedAt != nil {
		return allocation, nil
	}

	before := *allocation
	resolvedAt := s.now().UTC()
	allocation.ResolvedAt = &resolvedAt
	allocation.ResolutionNote = req.Note
	if err := s.allocRepo.Update(ctx, allocation); err != nil {
		return nil, fmt.Errorf("failed to acknowledge allocation: %w", err)
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:     userID,
		Action:     model.ActionAcknowledgeAlloc,
		EntityType: model.EntityAllocation,
		EntityID:   allocation.ID.String(),
		EntityName: allocation.ProductID.String(),
		Before:     before,
		After:      allocation,
	})
	return allocation, nil
}

func (s *allocationService) ListBySaleLine(ctx context.Context, saleLineID uuid.UUID) ([]model.LotAllocation, error) {
	allocations, err := s.allocRepo.ListBySaleLine(ctx, saleLineID)
	if err != nil {
		return nil, fmt.Errorf("failed to load allocations: %w", err)
	}
	return allocations, nil
}
