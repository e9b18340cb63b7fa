// seed-stages writes a tenant's production stage list.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  go run ./cmd/seed-stages -business-id=<uuid> -stages="CUTTING,WELDING,PAINTING,QC,PACKING"
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/utils"
)

const defaultStages = "CUTTING,ASSEMBLY,FINISHING,PACKING"

func main() {
	businessID := flag.String("business-id", "", "Required: business id")
	stages := flag.String("stages", defaultStages, "Comma separated stage names in order")
	userID := flag.Int("user-id", 1, "User id recorded on the audit event")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	actor := appctx.Actor{
		BusinessId: strings.TrimSpace(*businessID),
		UserId:     *userID,
		UserName:   "Seed",
		Role:       "ADMIN",
	}
	list, err := models.SetTenantStages(context.Background(), actor, utils.SplitAndTrim(*stages))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set stages (%s): %v\n", utils.KindOf(err), err)
		os.Exit(1)
	}
	fmt.Printf("business_id=%s stages=%s\n", actor.BusinessId, strings.Join(list, " -> "))
}
