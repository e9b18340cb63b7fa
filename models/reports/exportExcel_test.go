package reports_test

import (
	"testing"

	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/models/reports"
	"github.com/shopspring/decimal"
)

func TestLedgerVerificationWorkbook(t *testing.T) {
	results := []*models.LedgerVerification{
		{
			BusinessId:      "biz-1",
			InventoryItemId: 3,
			ItemCode:        "PNL-100",
			Entries:         2,
			ReplayedBalance: decimal.NewFromInt(50),
			AvailableQty:    decimal.NewFromInt(50),
		},
		{
			BusinessId:      "biz-1",
			InventoryItemId: 4,
			ItemCode:        "BLT-8",
			Entries:         3,
			ReplayedBalance: decimal.NewFromInt(7),
			AvailableQty:    decimal.NewFromInt(9),
			Discrepancies: []models.LedgerDiscrepancy{
				{TransactionId: 11, Expected: decimal.NewFromInt(5), Recorded: decimal.NewFromInt(7)},
			},
		},
	}

	f, err := reports.LedgerVerificationWorkbook(results)
	if err != nil {
		t.Fatalf("LedgerVerificationWorkbook: %v", err)
	}
	summary, err := f.GetRows(reports.SummarySheet)
	if err != nil {
		t.Fatalf("GetRows summary: %v", err)
	}
	if len(summary) != 3 {
		t.Fatalf("summary rows = %d, want header + 2", len(summary))
	}
	if summary[1][2] != "PNL-100" || summary[1][6] != "YES" {
		t.Fatalf("consistent row = %v", summary[1])
	}
	if summary[2][5] != "9" || summary[2][6] != "NO" {
		t.Fatalf("inconsistent row = %v", summary[2])
	}

	discrepancies, err := f.GetRows(reports.DiscrepanciesSheet)
	if err != nil {
		t.Fatalf("GetRows discrepancies: %v", err)
	}
	if len(discrepancies) != 2 || discrepancies[1][3] != "11" || discrepancies[1][4] != "5" {
		t.Fatalf("discrepancy rows = %v", discrepancies)
	}
}
