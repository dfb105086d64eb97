package service

import (
	"sort"
	"strings"
	"time"

	"github.com/tradeops/ledger/internal/model"
)

// CompareLotsFIFO orders lots by receipt date, then document number, then line number.
// It returns -1, 0 or 1. Storage order never matters.
func CompareLotsFIFO(a, b model.ImportLot) int {
	switch {
	case a.ReceivedAt.Before(b.ReceivedAt):
		return -1
	case a.ReceivedAt.After(b.ReceivedAt):
		return 1
	}
	if c := strings.Compare(a.DocumentNo, b.DocumentNo); c != 0 {
		return c
	}
	switch {
	case a.LineNo < b.LineNo:
		return -1
	case a.LineNo > b.LineNo:
		return 1
	}
	return 0
}

// SortLotsFIFO sorts lots in place, oldest first
func SortLotsFIFO(lots []model.ImportLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		return CompareLotsFIFO(lots[i], lots[j]) < 0
	})
}

// LotTake is the quantity drawn from one lot
type LotTake struct {
	Index    int // position in the sorted lot slice
	Quantity int
}

// FIFOPlan is the outcome of walking a sorted lot chain
type FIFOPlan struct {
	Takes     []LotTake
	Allocated int
	Shortfall int
	// ReceivedLater is stock held by lots received after the sale date; never drawn
	ReceivedLater int
}

// PlanFIFO walks lots (already FIFO sorted) and draws min(closing, remaining)
// from each lot received on or before saleDate until quantity is covered.
// It does not mutate lots.
func PlanFIFO(lots []model.ImportLot, quantity int, saleDate time.Time) FIFOPlan {
	plan := FIFOPlan{}
	remaining := quantity
	for i, lot := range lots {
		if lot.ClosingQty <= 0 {
			continue
		}
		if lot.ReceivedAt.After(saleDate) {
			plan.ReceivedLater += lot.ClosingQty
			continue
		}
		if remaining == 0 {
			continue
		}
		take := lot.ClosingQty
		if remaining < take {
			take = remaining
		}
		plan.Takes = append(plan.Takes, LotTake{Index: i, Quantity: take})
		plan.Allocated += take
		remaining -= take
	}
	plan.Shortfall = remaining
	return plan
}

// Available is the total remaining quantity across lots
func Available(lots []model.ImportLot) int {
	total := 0
	for _, l := range lots {
		total += l.ClosingQty
	}
	return total
}
