package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/factory_backend/middlewares"
)

// Register mounts every /api/v1 route on r. SessionMiddleware and LoaderMiddleware must already be installed.
func Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")

	v1.PUT("/settings/stages", setTenantStages)
	v1.GET("/settings/stages", getTenantStages)

	v1.POST("/clients", createClient)
	v1.POST("/projects", createProject)
	v1.GET("/projects/:id", getProject)

	jobs := v1.Group("/production-jobs")
	jobs.POST("", createProductionJob)
	jobs.GET("", listProductionJobs)
	jobs.GET("/:id", getProductionJob)
	jobs.POST("/:id/status", transitionProductionJob)
	jobs.POST("/:id/stage", moveProductionJobStage)
	jobs.POST("/:id/work-logs", logProductionWork)
	jobs.POST("/:id/photos", attachStagePhotos)

	v1.POST("/qc-records", recordQC)
	v1.GET("/qc-records", listQCRecords)

	rework := v1.Group("/rework-jobs")
	rework.POST("", createReworkJob)
	rework.GET("", listReworkJobs)
	rework.GET("/:id", getReworkJob)
	rework.PATCH("/:id", updateReworkJob)

	dn := v1.Group("/delivery-notes")
	dn.POST("", createDeliveryNote)
	dn.GET("", listDeliveryNotes)
	dn.GET("/:id", getDeliveryNote)
	dn.POST("/:id/load", loadDeliveryNote)
	dn.POST("/:id/vehicle", assignVehicle)
	dn.POST("/:id/dispatch", dispatchDeliveryNote)
	dn.POST("/:id/tracking", addDeliveryTracking)
	dn.POST("/:id/deliver", deliverDeliveryNote)
	dn.POST("/:id/cancel", cancelDeliveryNote)

	returns := v1.Group("/returns")
	returns.POST("", createReturn)
	returns.GET("", listReturns)
	returns.GET("/:id", getReturn)
	returns.POST("/:id/inspect", inspectReturn)
	returns.GET("/:id/wastage", listWastageRecords)

	vehicles := v1.Group("/vehicles")
	vehicles.POST("", createVehicle)
	vehicles.GET("", listVehicles)
	vehicles.GET("/:id", getVehicle)
	vehicles.PUT("/:id", updateVehicle)
	vehicles.DELETE("/:id", deleteVehicle)

	drivers := v1.Group("/drivers")
	drivers.POST("", createDriver)
	drivers.GET("", listDrivers)
	drivers.GET("/:id", getDriver)
	drivers.PUT("/:id", updateDriver)
	drivers.DELETE("/:id", deleteDriver)

	items := v1.Group("/inventory-items")
	items.POST("", createInventoryItem)
	items.GET("", listInventoryItems)
	items.GET("/:id", getInventoryItem)
	items.POST("/:id/receive", receiveStock)
	items.POST("/:id/adjust", adjustStock)
	items.GET("/:id/transactions", listStockTransactions)
	items.GET("/:id/verify", verifyStockLedger)

	ops := r.Group("/internal/ops", middlewares.RequireRole("ADMIN"))
	ops.GET("/outbox", listOutboxEvents)
	ops.POST("/outbox/replay", replayOutboxEvent)
}
