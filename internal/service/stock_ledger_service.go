package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeops/ledger/internal/model"
	"github.com/tradeops/ledger/internal/repository"
	"github.com/tradeops/ledger/pkg/apperror"

	"github.com/google/uuid"
)

var movementKinds = map[string]bool{
	model.MovementOpening:      true,
	model.MovementImport:       true,
	model.MovementSale:         true,
	model.MovementSaleReversal: true,
	model.MovementAdjustment:   true,
}

// StockCardLine is a ledger entry with the running balance after it
type StockCardLine struct {
	model.StockLedgerEntry
	Balance int `json:"balance"`
}

// StockCard is a product's ledger over a date window
type StockCard struct {
	ProductID      uuid.UUID       `json:"product_id"`
	OpeningBalance int             `json:"opening_balance"`
	ClosingBalance int             `json:"closing_balance"`
	Lines          []StockCardLine `json:"lines"`
}

type StockLedgerService interface {
	Append(ctx context.Context, entries ...*model.StockLedgerEntry) error
	OnHand(ctx context.Context, productID uuid.UUID, asOf time.Time) (int, error)
	Card(ctx context.Context, productID uuid.UUID, from, to *time.Time) (*StockCard, error)
}

type stockLedgerService struct {
	repo repository.StockLedgerRepository
}

func NewStockLedgerService(repo repository.StockLedgerRepository) StockLedgerService {
	return &stockLedgerService{repo: repo}
}

// Append validates and writes entries. Each entry moves stock in exactly one direction.
func (s *stockLedgerService) Append(ctx context.Context, entries ...*model.StockLedgerEntry) error {
	for _, e := range entries {
		if !movementKinds[e.Kind] {
			return apperror.Validation("unknown stock movement kind " + e.Kind)
		}
		if e.QtyIn < 0 || e.QtyOut < 0 {
			return apperror.Validation("stock movement quantities must not be negative")
		}
		if (e.QtyIn > 0) == (e.QtyOut > 0) {
			return apperror.Validation("stock movement must be either in or out")
		}
		if e.UnitCost.IsNegative() {
			return apperror.Validation("unit cost must not be negative")
		}
		e.EntryDate = e.EntryDate.UTC()
	}
	if err := s.repo.Append(ctx, entries...); err != nil {
		return fmt.Errorf("failed to append stock ledger: %w", err)
	}
	return nil
}

func (s *stockLedgerService) OnHand(ctx context.Context, productID uuid.UUID, asOf time.Time) (int, error) {
	qty, err := s.repo.OnHand(ctx, productID, asOf.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to compute on-hand: %w", err)
	}
	return qty, nil
}

func (s *stockLedgerService) Card(ctx context.Context, productID uuid.UUID, from, to *time.Time) (*StockCard, error) {
	card := &StockCard{ProductID: productID}
	if from != nil {
		opening, err := s.OnHand(ctx, productID, from.Add(-time.Nanosecond))
		if err != nil {
			return nil, err
		}
		card.OpeningBalance = opening
	}

	entries, err := s.repo.ListByProduct(ctx, productID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock ledger: %w", err)
	}

	balance := card.OpeningBalance
	card.Lines = make([]StockCardLine, 0, len(entries))
	for _, e := range entries {
		balance += e.QtyIn - e.QtyOut
		card.Lines = append(card.Lines, StockCardLine{StockLedgerEntry: e, Balance: balance})
	}
	card.ClosingBalance = balance
	return card, nil
}
