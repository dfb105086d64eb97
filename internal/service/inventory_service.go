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

// --- DTOs ---

type CreateProductRequest struct {
	SKU      string `json:"sku" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Category string `json:"category"`
	Price    string `json:"price" binding:"required"` // Decimal string
}

type UpdateProductRequest struct {
	Name     string `json:"name" binding:"required"`
	Category string `json:"category"`
	Price    string `json:"price" binding:"required"`
}

type ProductResponse struct {
	ID       string `json:"id"`
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    string `json:"price"`
	OnHand   int    `json:"on_hand"`
}

type ReceiptLineRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
	UnitCost  string `json:"unit_cost" binding:"required"`
	Category  string `json:"category"`
}

// ReceiveGoodsRequest is the goods-received event: one import document, one lot per line
type ReceiveGoodsRequest struct {
	DocumentNo string               `json:"document_no" binding:"required"`
	ReceivedAt string               `json:"received_at" binding:"required"` // YYYY-MM-DD
	Opening    bool                 `json:"opening"`                        // opening stock rather than an import
	Lines      []ReceiptLineRequest `json:"lines" binding:"required,min=1,dive"`
}

type StockAdjustmentRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"` // signed; negative removes stock
	Date      string `json:"date" binding:"required"`
	Note      string `json:"note" binding:"required"`
}

type LotResponse struct {
	ID           string `json:"id"`
	DocumentNo   string `json:"document_no"`
	LineNo       int    `json:"line_no"`
	ProductID    string `json:"product_id"`
	ReceivedAt   string `json:"received_at"`
	OpeningQty   int    `json:"opening_qty"`
	ClosingQty   int    `json:"closing_qty"`
	UnitCost     string `json:"unit_cost"`
	Category     string `json:"category"`
	ReceiptMonth string `json:"receipt_month"`
}

type InventoryService interface {
	GetProducts(ctx context.Context, filter repository.ProductFilter, page, limit int) ([]ProductResponse, int64, error)
	GetProduct(ctx context.Context, id string) (ProductResponse, error)
	CreateProduct(ctx context.Context, userID *uuid.UUID, req CreateProductRequest) (ProductResponse, error)
	UpdateProduct(ctx context.Context, userID *uuid.UUID, id string, req UpdateProductRequest) (ProductResponse, error)

	ReceiveGoods(ctx context.Context, userID *uuid.UUID, req ReceiveGoodsRequest) ([]LotResponse, error)
	// AdjustStock writes a stock count correction. A write-off draws lots oldest first
	// so lot balances stay in step with the ledger; a surplus has no lot behind it.
	AdjustStock(ctx context.Context, userID *uuid.UUID, req StockAdjustmentRequest) ([]*model.StockLedgerEntry, error)
	GetLots(ctx context.Context, productID string) ([]LotResponse, error)
	GetOnHand(ctx context.Context, productID string, asOf time.Time) (int, error)
}

type inventoryService struct {
	guard
	productRepo repository.ProductRepository
	lotRepo     repository.LotRepository
	ledger      StockLedgerService
	audit       AuditService
	hub         *ws.Hub
	log         *zap.Logger
	now         func() time.Time
}

func NewInventoryService(
	productRepo repository.ProductRepository,
	lotRepo repository.LotRepository,
	ledger StockLedgerService,
	audit AuditService,
	txManager repository.TransactionManager,
	lk locker.Locker,
	m *metrics.Metrics,
	hub *ws.Hub,
	log *zap.Logger,
) InventoryService {
	return &inventoryService{
		guard:       guard{locker: lk, txManager: txManager, metrics: m},
		productRepo: productRepo,
		lotRepo:     lotRepo,
		ledger:      ledger,
		audit:       audit,
		hub:         hub,
		log:         log.Named("inventory"),
		now:         time.Now,
	}
}

func (s *inventoryService) GetProducts(ctx context.Context, filter repository.ProductFilter, page, limit int) ([]ProductResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	products, total, err := s.productRepo.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}

	now := s.now()
	res := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		onHand, err := s.ledger.OnHand(ctx, p.ID, now)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, toProductResponse(p, onHand))
	}
	return res, total, nil
}

func (s *inventoryService) GetProduct(ctx context.Context, id string) (ProductResponse, error) {
	productID, err := parseID("product id", id)
	if err != nil {
		return ProductResponse{}, err
	}
	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		return ProductResponse{}, notFound(err, "product", id)
	}
	onHand, err := s.ledger.OnHand(ctx, product.ID, s.now())
	if err != nil {
		return ProductResponse{}, err
	}
	return toProductResponse(*product, onHand), nil
}

func (s *inventoryService) CreateProduct(ctx context.Context, userID *uuid.UUID, req CreateProductRequest) (ProductResponse, error) {
	price, err := parseMoney("price", req.Price)
	if err != nil {
		return ProductResponse{}, err
	}

	exists, err := s.productRepo.SKUExists(ctx, req.SKU)
	if err != nil {
		return ProductResponse{}, fmt.Errorf("failed to check sku: %w", err)
	}
	if exists {
		return ProductResponse{}, apperror.Validation("a product with this SKU already exists")
	}

	product := model.Product{
		SKU:      req.SKU,
		Name:     req.Name,
		Category: req.Category,
		Price:    price,
	}
	if err := s.productRepo.Create(ctx, &product); err != nil {
		return ProductResponse{}, fmt.Errorf("failed to create product: %w", err)
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:     userID,
		Action:     model.ActionCreateProduct,
		EntityType: model.EntityProduct,
		EntityID:   product.ID.String(),
		EntityName: product.Name,
		After:      product,
	})
	return toProductResponse(product, 0), nil
}

func (s *inventoryService) UpdateProduct(ctx context.Context, userID *uuid.UUID, id string, req UpdateProductRequest) (ProductResponse, error) {
	productID, err := parseID("product id", id)
	if err != nil {
		return ProductResponse{}, err
	}
	price, err := parseMoney("price", req.Price)
	if err != nil {
		return ProductResponse{}, err
	}

	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		return ProductResponse{}, notFound(err, "product", id)
	}
	before := *product

	product.Name = req.Name
	product.Category = req.Category
	product.Price = price
	if err := s.productRepo.UpdateDetails(ctx, product); err != nil {
		return ProductResponse{}, fmt.Errorf("failed to update product: %w", err)
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:     userID,
		Action:     model.ActionUpdateProduct,
		EntityType: model.EntityProduct,
		EntityID:   product.ID.String(),
		EntityName: product.Name,
		Before:     before,
		After:      product,
	})

	onHand, err := s.ledger.OnHand(ctx, product.ID, s.now())
	if err != nil {
		return ProductResponse{}, err
	}
	return toProductResponse(*product, onHand), nil
}

func (s *inventoryService) ReceiveGoods(ctx context.Context, userID *uuid.UUID, req ReceiveGoodsRequest) ([]LotResponse, error) {
	receivedAt, err := parseDate("received_at", req.ReceivedAt)
	if err != nil {
		return nil, err
	}

	type parsedLine struct {
		productID uuid.UUID
		unitCost  decimal.Decimal
	}
	parsed := make([]parsedLine, len(req.Lines))
	productIDs := make([]uuid.UUID, 0, len(req.Lines))
	for i, line := range req.Lines {
		productID, err := parseID("product id", line.ProductID)
		if err != nil {
			return nil, err
		}
		unitCost, err := parseMoney("unit_cost", line.UnitCost)
		if err != nil {
			return nil, err
		}
		if line.Quantity <= 0 {
			return nil, apperror.Validation("quantity must be greater than zero")
		}
		parsed[i] = parsedLine{productID: productID, unitCost: unitCost}
		productIDs = append(productIDs, productID)
	}

	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, locker.ProductKey(id))
	}

	kind := model.MovementImport
	if req.Opening {
		kind = model.MovementOpening
	}

	lots := make([]model.ImportLot, 0, len(req.Lines))
	err = s.run(ctx, "product", keys, func(txCtx context.Context) error {
		products, err := s.productRepo.FindByIDs(txCtx, productIDs)
		if err != nil {
			return fmt.Errorf("failed to load products: %w", err)
		}
		for i, line := range req.Lines {
			lineNo := i + 1
			p := parsed[i]

			product, ok := products[p.productID]
			if !ok {
				return apperror.NotFound("product", line.ProductID)
			}

			exists, err := s.lotRepo.ExistsDocumentLine(txCtx, req.DocumentNo, lineNo)
			if err != nil {
				return fmt.Errorf("failed to check lot identity: %w", err)
			}
			if exists {
				return apperror.Validation(fmt.Sprintf("document %s line %d has already been received", req.DocumentNo, lineNo))
			}

			category := line.Category
			if category == "" {
				category = product.Category
			}
			lot := model.ImportLot{
				DocumentNo:   req.DocumentNo,
				LineNo:       lineNo,
				ProductID:    product.ID,
				ReceivedAt:   receivedAt,
				OpeningQty:   line.Quantity,
				ClosingQty:   line.Quantity,
				UnitCost:     p.unitCost,
				Category:     category,
				ReceiptMonth: receivedAt.Format("2006-01"),
			}
			if err := s.lotRepo.Create(txCtx, &lot); err != nil {
				return fmt.Errorf("failed to create lot: %w", err)
			}

			lotID := lot.ID
			if err := s.ledger.Append(txCtx, &model.StockLedgerEntry{
				ProductID: product.ID,
				EntryDate: receivedAt,
				Kind:      kind,
				QtyIn:     line.Quantity,
				UnitCost:  p.unitCost,
				LotID:     &lotID,
				Note:      req.DocumentNo,
			}); err != nil {
				return err
			}
			lots = append(lots, lot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := make([]LotResponse, 0, len(lots))
	for _, lot := range lots {
		s.metrics.LotsReceived.Inc()
		s.audit.Record(ctx, AuditEntry{
			UserID:     userID,
			Action:     model.ActionReceiveGoods,
			EntityType: model.EntityImportLot,
			EntityID:   lot.ID.String(),
			EntityName: fmt.Sprintf("%s/%d", lot.DocumentNo, lot.LineNo),
			After:      lot,
		})
		resp := toLotResponse(lot)
		s.hub.Publish(ws.EventLotReceived, resp)
		res = append(res, resp)
	}
	s.log.Info("goods received", zap.String("document_no", req.DocumentNo), zap.Int("lots", len(lots)))
	return res, nil
}

// AdjustStock writes a ledger-only correction; lots are not touched
func (s *inventoryService) AdjustStock(ctx context.Context, userID *uuid.UUID, req StockAdjustmentRequest) ([]*model.StockLedgerEntry, error) {
	productID, err := parseID("product id", req.ProductID)
	if err != nil {
		return nil, err
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return nil, err
	}
	if req.Quantity == 0 {
		return nil, apperror.Validation("quantity must not be zero")
	}

	var entries []*model.StockLedgerEntry
	err = s.run(ctx, "product", []string{locker.ProductKey(productID)}, func(txCtx context.Context) error {
		if _, err := s.productRepo.FindByID(txCtx, productID); err != nil {
			return notFound(err, "product", req.ProductID)
		}
		if req.Quantity > 0 {
			entries = []*model.StockLedgerEntry{{
				ProductID: productID,
				EntryDate: date,
				Kind:      model.MovementAdjustment,
				QtyIn:     req.Quantity,
				Note:      req.Note,
			}}
			return s.ledger.Append(txCtx, entries...)
		}

		qty := -req.Quantity
		onHand, err := s.ledger.OnHand(txCtx, productID, date)
		if err != nil {
			return err
		}
		if onHand < qty {
			return apperror.InsufficientStock(req.ProductID, qty, onHand)
		}

		lots, err := s.lotRepo.ListByProductForUpdate(txCtx, productID)
		if err != nil {
			return fmt.Errorf("failed to load lots: %w", err)
		}
		SortLotsFIFO(lots)
		plan := PlanFIFO(lots, qty, date)
		for _, take := range plan.Takes {
			lot := lots[take.Index]
			if err := s.lotRepo.UpdateClosing(txCtx, lot.ID, lot.ClosingQty-take.Quantity); err != nil {
				return fmt.Errorf("failed to update lot closing: %w", err)
			}
			lotID := lot.ID
			entries = append(entries, &model.StockLedgerEntry{
				ProductID: productID,
				EntryDate: date,
				Kind:      model.MovementAdjustment,
				QtyOut:    take.Quantity,
				UnitCost:  lot.UnitCost,
				LotID:     &lotID,
				Note:      req.Note,
			})
		}
		if plan.Shortfall > 0 {
			// Stock already sold ahead of its lots; nothing left to write off against
			entries = append(entries, &model.StockLedgerEntry{
				ProductID: productID,
				EntryDate: date,
				Kind:      model.MovementAdjustment,
				QtyOut:    plan.Shortfall,
				Note:      req.Note,
			})
		}
		return s.ledger.Append(txCtx, entries...)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, AuditEntry{
		UserID:     userID,
		Action:     model.ActionStockAdjustment,
		EntityType: model.EntityStockLedger,
		EntityID:   strconv.FormatUint(entries[0].ID, 10),
		EntityName: req.ProductID,
		After:      entries,
	})
	return entries, nil
}

func (s *inventoryService) GetLots(ctx context.Context, productID string) ([]LotResponse, error) {
	id, err := parseID("product id", productID)
	if err != nil {
		return nil, err
	}
	if _, err := s.productRepo.FindByID(ctx, id); err != nil {
		return nil, notFound(err, "product", productID)
	}

	lots, err := s.lotRepo.ListByProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	SortLotsFIFO(lots)

	res := make([]LotResponse, 0, len(lots))
	for _, lot := range lots {
		res = append(res, toLotResponse(lot))
	}
	return res, nil
}

func (s *inventoryService) GetOnHand(ctx context.Context, productID string, asOf time.Time) (int, error) {
	id, err := parseID("product id", productID)
	if err != nil {
		return 0, err
	}
	if _, err := s.productRepo.FindByID(ctx, id); err != nil {
		return 0, notFound(err, "product", productID)
	}
	return s.ledger.OnHand(ctx, id, asOf)
}

// --- Helpers ---

func parseMoney(field, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperror.Validation("invalid " + field + " value")
	}
	if v.IsNegative() {
		return decimal.Zero, apperror.Validation(field + " must not be negative")
	}
	return v, nil
}

func toProductResponse(p model.Product, onHand int) ProductResponse {
	return ProductResponse{
		ID:       p.ID.String(),
		SKU:      p.SKU,
		Name:     p.Name,
		Category: p.Category,
		Price:    p.Price.StringFixed(2),
		OnHand:   onHand,
	}
}

func toLotResponse(l model.ImportLot) LotResponse {
	return LotResponse{
		ID:           l.ID.String(),
		DocumentNo:   l.DocumentNo,
		LineNo:       l.LineNo,
		ProductID:    l.ProductID.String(),
		ReceivedAt:   l.ReceivedAt.Format(dateLayout),
		OpeningQty:   l.OpeningQty,
		ClosingQty:   l.ClosingQty,
		UnitCost:     l.UnitCost.StringFixed(4),
		Category:     l.Category,
		ReceiptMonth: l.ReceiptMonth,
	}
}
