package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tradeops/ledger/internal/model"
	"github.com/tradeops/ledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type StockRegisterReport struct {
	Product ProductResponse `json:"product"`
	Card    *StockCard      `json:"card"`
	Lots    []LotResponse   `json:"lots"`
	// LotBalance is Σ lot closing; Unreconciled is on-hand minus that sum.
	// Open overrides make it negative, stock surpluses positive.
	LotBalance   int `json:"lot_balance"`
	Unreconciled int `json:"unreconciled"`
}

type COGSLine struct {
	SaleID            string  `json:"sale_id"`
	InvoiceNo         string  `json:"invoice_no"`
	SaleDate          string  `json:"sale_date"`
	ProductID         string  `json:"product_id"`
	LotID             *string `json:"lot_id"`
	Quantity          int     `json:"quantity"`
	UnitCost          string  `json:"unit_cost"`
	Cost              string  `json:"cost"`
	OverrideBeforeBoe bool    `json:"override_before_boe"`
	Resolved          bool    `json:"resolved"`
}

type COGSReport struct {
	Period           string     `json:"period"`
	Lines            []COGSLine `json:"lines"`
	TotalQuantity    int        `json:"total_quantity"`
	TotalCost        string     `json:"total_cost"`
	OverrideQuantity int        `json:"override_quantity"`
	OverrideCost     string     `json:"override_cost"` // estimated, included in TotalCost
	OpenOverrides    int        `json:"open_overrides"`
}

type VATReportMonth struct {
	Month           int    `json:"month"`
	Period          string `json:"period"`
	Computed        bool   `json:"computed"`
	Locked          bool   `json:"locked"`
	NetSales        string `json:"net_sales"`
	VATPayable      string `json:"vat_payable"`
	UsedFromBalance string `json:"used_from_closing_balance"`
	TreasuryNeeded  string `json:"treasury_needed"`
	TreasuryPaid    string `json:"treasury_paid"`
	Outstanding     string `json:"outstanding"` // needed − paid; negative means overpaid
	OpeningBalance  string `json:"opening_balance"`
	ClosingBalance  string `json:"closing_balance"`
	ExceedsBalance  bool   `json:"exceeds_closing_balance"`
	OpenOverrides   int    `json:"open_override_count"`
}

type VATReport struct {
	Year           int              `json:"year"`
	Months         []VATReportMonth `json:"months"`
	TotalPayable   string           `json:"total_vat_payable"`
	TotalNeeded    string           `json:"total_treasury_needed"`
	TotalPaid      string           `json:"total_treasury_paid"`
	TotalRemaining string           `json:"total_outstanding"`
}

// ReportService is read-only reconciliation over the ledgers
type ReportService interface {
	StockRegister(ctx context.Context, productID string, from, to *time.Time) (*StockRegisterReport, error)
	COGS(ctx context.Context, year, month int, productID string) (*COGSReport, error)
	VAT(ctx context.Context, year int) (*VATReport, error)
}

type reportService struct {
	inventory    InventoryService
	ledger       StockLedgerService
	allocRepo    repository.AllocationRepository
	vatRepo      repository.VATPeriodRepository
	balanceRepo  repository.ClosingBalanceRepository
	treasuryRepo repository.TreasuryRepository
}

func NewReportService(
	inventory InventoryService,
	ledger StockLedgerService,
	allocRepo repository.AllocationRepository,
	vatRepo repository.VATPeriodRepository,
	balanceRepo repository.ClosingBalanceRepository,
	treasuryRepo repository.TreasuryRepository,
) ReportService {
	return &reportService{
		inventory:    inventory,
		ledger:       ledger,
		allocRepo:    allocRepo,
		vatRepo:      vatRepo,
		balanceRepo:  balanceRepo,
		treasuryRepo: treasuryRepo,
	}
}

func (s *reportService) StockRegister(ctx context.Context, productID string, from, to *time.Time) (*StockRegisterReport, error) {
	product, err := s.inventory.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	lots, err := s.inventory.GetLots(ctx, productID)
	if err != nil {
		return nil, err
	}
	card, err := s.ledger.Card(ctx, uuid.MustParse(product.ID), from, to)
	if err != nil {
		return nil, err
	}
	report := &StockRegisterReport{Product: product, Card: card, Lots: lots}
	for _, l := range lots {
		report.LotBalance += l.ClosingQty
	}
	report.Unreconciled = product.OnHand - report.LotBalance
	return report, nil
}

func (s *reportService) COGS(ctx context.Context, year, month int, productID string) (*COGSReport, error) {
	if err := validatePeriod(year, month); err != nil {
		return nil, err
	}
	var filter *uuid.UUID
	if productID != "" {
		id, err := parseID("product id", productID)
		if err != nil {
			return nil, err
		}
		filter = &id
	}

	from, to := monthRange(year, month)
	rows, err := s.allocRepo.ListForPeriod(ctx, from, to, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}

	report := &COGSReport{Period: model.PeriodLabel(year, month), Lines: make([]COGSLine, 0, len(rows))}
	total, override := decimal.Zero, decimal.Zero
	for _, r := range rows {
		cost := r.Cost()
		line := COGSLine{
			SaleID:            r.SaleID.String(),
			InvoiceNo:         r.InvoiceNo,
			SaleDate:          r.SaleDate.Format(dateLayout),
			ProductID:         r.ProductID.String(),
			Quantity:          r.Quantity,
			UnitCost:          r.UnitCost.StringFixed(4),
			Cost:              cost.StringFixed(2),
			OverrideBeforeBoe: r.OverrideBeforeBoe,
			Resolved:          r.ResolvedAt != nil,
		}
		if r.LotID != nil {
			id := r.LotID.String()
			line.LotID = &id
		}
		report.Lines = append(report.Lines, line)

		report.TotalQuantity += r.Quantity
		total = total.Add(cost)
		if r.OverrideBeforeBoe {
			report.OverrideQuantity += r.Quantity
			override = override.Add(cost)
			if r.ResolvedAt == nil {
				report.OpenOverrides++
			}
		}
	}
	report.TotalCost = total.StringFixed(2)
	report.OverrideCost = override.StringFixed(2)
	return report, nil
}

func (s *reportService) VAT(ctx context.Context, year int) (*VATReport, error) {
	if err := validatePeriod(year, 1); err != nil {
		return nil, err
	}

	periods, err := s.vatRepo.ListByYear(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("failed to list vat periods: %w", err)
	}
	balances, err := s.balanceRepo.ListByYear(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("failed to list closing balances: %w", err)
	}
	payments, err := s.treasuryRepo.ListByYear(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("failed to list treasury payments: %w", err)
	}

	byMonth := make(map[int]model.VATPeriod, len(periods))
	for _, p := range periods {
		byMonth[p.Month] = p
	}
	balanceByMonth := make(map[int]model.ClosingBalance, len(balances))
	for _, b := range balances {
		balanceByMonth[b.Month] = b
	}
	paid := make(map[int]decimal.Decimal)
	for _, p := range payments {
		paid[p.Month] = paid[p.Month].Add(p.Amount)
	}

	report := &VATReport{Year: year, Months: make([]VATReportMonth, 0, 12)}
	totalPayable, totalNeeded, totalPaid := decimal.Zero, decimal.Zero, decimal.Zero
	for m := 1; m <= 12; m++ {
		p, computed := byMonth[m]
		b, hasBalance := balanceByMonth[m]
		monthPaid := paid[m]
		if !computed && !hasBalance && monthPaid.IsZero() {
			continue
		}

		row := VATReportMonth{
			Month:           m,
			Period:          model.PeriodLabel(year, m),
			Computed:        computed,
			Locked:          p.Locked,
			NetSales:        p.NetSales.StringFixed(2),
			VATPayable:      p.VATPayable.StringFixed(2),
			UsedFromBalance: p.UsedFromClosingBalance.StringFixed(2),
			TreasuryNeeded:  p.TreasuryNeeded.StringFixed(2),
			TreasuryPaid:    monthPaid.StringFixed(2),
			Outstanding:     p.TreasuryNeeded.Sub(monthPaid).StringFixed(2),
			OpeningBalance:  b.Opening.StringFixed(2),
			ClosingBalance:  b.Closing.StringFixed(2),
			ExceedsBalance:  p.ExceedsClosingBalance,
			OpenOverrides:   p.OpenOverrideCount,
		}
		report.Months = append(report.Months, row)

		totalPayable = totalPayable.Add(p.VATPayable)
		totalNeeded = totalNeeded.Add(p.TreasuryNeeded)
		totalPaid = totalPaid.Add(monthPaid)
	}

	report.TotalPayable = totalPayable.StringFixed(2)
	report.TotalNeeded = totalNeeded.StringFixed(2)
	report.TotalPaid = totalPaid.StringFixed(2)
	report.TotalRemaining = totalNeeded.Sub(totalPaid).StringFixed(2)
	return report, nil
}
