package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/models/reports"
)

// stockledger-verify replays every inventory item's stock ledger from zero and compares the
// result with each row's balance_after and the item's available_qty.
//
// Example:
//
//	go run ./cmd/stockledger-verify/ \
//	  -business-id=a195a02a-ee0c-4047-a6f4-443633d0aca4 \
//	  -xlsx=/tmp/ledger.xlsx
//
// Exit status is 3 when any ledger is inconsistent.
func main() {
	businessID := flag.String("business-id", "", "Optional: verify one business only. Empty verifies all businesses.")
	xlsxPath := flag.String("xlsx", "", "Optional: write the summary and discrepancies to this workbook")
	quiet := flag.Bool("quiet", false, "Print inconsistent items only")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	results, err := models.VerifyAllStockLedgers(context.Background(), db, strings.TrimSpace(*businessID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify failed: %v\n", err)
		os.Exit(1)
	}

	bad := 0
	for _, v := range results {
		ok := v.Consistent()
		if !ok {
			bad++
		}
		if ok && *quiet {
			continue
		}
		fmt.Printf("business_id=%s item_id=%d code=%q entries=%d replayed=%s available=%s consistent=%v\n",
			v.BusinessId, v.InventoryItemId, v.ItemCode, v.Entries, v.ReplayedBalance, v.AvailableQty, ok)
		for _, d := range v.Discrepancies {
			fmt.Printf("  transaction_id=%d expected=%s recorded=%s\n", d.TransactionId, d.Expected, d.Recorded)
		}
	}
	fmt.Printf("items=%d inconsistent=%d\n", len(results), bad)

	if *xlsxPath != "" {
		f, err := reports.LedgerVerificationWorkbook(results)
		if err != nil {
			fmt.Fprintf(os.Stderr, "build workbook: %v\n", err)
			os.Exit(1)
		}
		if err := f.SaveAs(*xlsxPath); err != nil {
			fmt.Fprintf(os.Stderr, "save workbook: %v\n", err)
			os.Exit(1)
		}
		_ = f.Close()
		fmt.Printf("wrote %s\n", *xlsxPath)
	}

	if bad > 0 {
		os.Exit(3)
	}
}
