package config

import (
	"os"
	"strings"
)

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// StrictScrapLedger makes scrap that would take stock below zero fail instead of clamping at 0.
//
// Set via env:
// - STRICT_SCRAP_LEDGER=true
func StrictScrapLedger() bool {
	return boolFromEnv("STRICT_SCRAP_LEDGER")
}

// StrictStockOnDispatch blocks dispatch when an item's balance would go negative.
//
// Set via env:
// - STRICT_STOCK_ON_DISPATCH=true
func StrictStockOnDispatch() bool {
	return boolFromEnv("STRICT_STOCK_ON_DISPATCH")
}

// ReleaseDriverOnDelivery clears vehicle.driver_id when a delivery note is delivered.
// Default keeps the driver attached to the vehicle.
func ReleaseDriverOnDelivery() bool {
	return boolFromEnv("RELEASE_DRIVER_ON_DELIVERY")
}

// VerifyDocumentRefs checks photo references against GCS_BUCKET before storing them.
func VerifyDocumentRefs() bool {
	return boolFromEnv("VERIFY_DOCUMENT_REFS")
}

// StageOverrideRoles lists roles allowed to move a production job to an earlier stage.
//
// Set via env:
// - STAGE_OVERRIDE_ROLES="ADMIN,PRODUCTION_MANAGER"
func StageOverrideRoles() []string {
	raw := os.Getenv("STAGE_OVERRIDE_ROLES")
	if strings.TrimSpace(raw) == "" {
		return []string{"ADMIN", "PRODUCTION_MANAGER"}
	}
	var roles []string
	for _, part := range strings.Split(raw, ",") {
		if r := strings.ToUpper(strings.TrimSpace(part)); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
