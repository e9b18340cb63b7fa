package reports

import (
	"fmt"

	"github.com/mmdatafocus/factory_backend/models"
	"github.com/xuri/excelize/v2"
)

const (
	SummarySheet       = "Summary"
	DiscrepanciesSheet = "Discrepancies"
)

var (
	summaryHeader     = []interface{}{"Business", "Item Id", "Item Code", "Entries", "Replayed Balance", "Available Qty", "Consistent"}
	discrepancyHeader = []interface{}{"Business", "Item Id", "Item Code", "Transaction Id", "Expected Balance", "Recorded Balance"}
)

// LedgerVerificationWorkbook lays out one summary row per item and one row per mismatched transaction.
func LedgerVerificationWorkbook(results []*models.LedgerVerification) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(DiscrepanciesSheet); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(SummarySheet, "A1", &summaryHeader); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(DiscrepanciesSheet, "A1", &discrepancyHeader); err != nil {
		return nil, err
	}

	discrepancyRow := 2
	for i, v := range results {
		consistent := "NO"
		if v.Consistent() {
			consistent = "YES"
		}
		row := []interface{}{
			v.BusinessId,
			v.InventoryItemId,
			v.ItemCode,
			v.Entries,
			v.ReplayedBalance.String(),
			v.AvailableQty.String(),
			consistent,
		}
		if err := f.SetSheetRow(SummarySheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
		for _, d := range v.Discrepancies {
			row := []interface{}{v.BusinessId, v.InventoryItemId, v.ItemCode, d.TransactionId, d.Expected.String(), d.Recorded.String()}
			if err := f.SetSheetRow(DiscrepanciesSheet, fmt.Sprintf("A%d", discrepancyRow), &row); err != nil {
				return nil, err
			}
			discrepancyRow++
		}
	}
	return f, nil
}
