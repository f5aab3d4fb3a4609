package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/fleetdatahub/parts_backend/config"
	"bitbucket.org/fleetdatahub/parts_backend/middlewares"
	"bitbucket.org/fleetdatahub/parts_backend/models"
	"bitbucket.org/fleetdatahub/parts_backend/utils"
	"bitbucket.org/fleetdatahub/parts_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8080"

func main() {
	_ = godotenv.Load()
	logger := config.GetLogger()

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-User-Id", "X-Username", "X-Correlation-Id")
	r.Use(cors.New(corsConfig))
	r.Use(middlewares.RequestContext())
	r.Use(errorLogger(logger))
	r.Use(gin.Recovery())

	registerRoutes(r)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if config.PubSubConfigured() {
		go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)
	} else {
		logger.WithFields(logrus.Fields{"field": "outbox"}).Warn("Pub/Sub not configured; outbox dispatcher disabled")
	}

	logger.WithFields(logrus.Fields{"info": "Connection Established"}).Info("listening on :", port)

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func registerRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/purchase-orders/from-demands", createPurchaseOrderFromDemandsHandler)
	r.GET("/purchase-orders/:id", getPurchaseOrderHandler)
	r.POST("/purchase-orders/:id/status", updatePurchaseOrderStatusHandler)
	r.GET("/purchase-order-lines/:id/linkage", getLinkageInfoHandler)

	r.POST("/arrivals", createPackageArrivalHandler)
	r.POST("/arrivals/:id/lines", addPartArrivalsHandler)

	r.POST("/links/arrival", createArrivalLinkHandler)
	r.PATCH("/links/arrival/:id", updateArrivalLinkHandler)
	r.DELETE("/links/arrival/:id", deleteArrivalLinkHandler)
	r.POST("/links/demand", createDemandLinkHandler)
	r.PATCH("/links/demand/:id", updateDemandLinkHandler)
	r.DELETE("/links/demand/:id", deleteDemandLinkHandler)

	r.POST("/demands/:id/status", updateDemandStatusHandler)

	r.POST("/inventory/assign", assignStockHandler)
	r.POST("/inventory/transfer", transferStockHandler)
	r.POST("/inventory/issue", issueStockHandler)
	r.POST("/inventory/adjust", adjustStockHandler)
	r.GET("/inventory/chain/:arrivalId", getTraceabilityChainHandler)
	r.GET("/inventory/movements", getMovementHistoryHandler)

	r.GET("/parts/:id/stock-summary", getStockSummaryHandler)
	r.GET("/reports/stock-summary.xlsx", stockSummaryReportHandler)
	r.GET("/maintenance/broken-demand-links", brokenDemandLinksHandler)
}

// respondError maps the domain error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, models.ErrNotFound) || errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrDuplicateIdentifier) || errors.Is(err, models.ErrDuplicateLink):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInsufficientCapacity),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrPreconditionFailed),
		errors.Is(err, models.ErrPartMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func createPurchaseOrderFromDemandsHandler(c *gin.Context) {
	var input workflow.NewPurchaseOrderFromDemands
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	po, err := workflow.CreatePurchaseOrderFromDemands(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, po)
}

func getPurchaseOrderHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	po, err := utils.FetchModel[models.PurchaseOrder](config.GetDB().WithContext(c.Request.Context()), id, "Lines")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, po)
}

func updatePurchaseOrderStatusHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		Status models.PurchaseOrderStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	changes, err := workflow.UpdatePurchaseOrderStatus(c.Request.Context(), id, body.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes})
}

func getLinkageInfoHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	info, err := models.GetLinkageInfo(config.GetDB().WithContext(c.Request.Context()), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func createPackageArrivalHandler(c *gin.Context) {
	var input workflow.NewPackageArrival
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	arrival, err := workflow.CreatePackageArrival(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, arrival)
}

func addPartArrivalsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		Lines []workflow.NewArrivalLine `json:"lines" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	arrival, err := workflow.AddPartArrivals(c.Request.Context(), id, body.Lines)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, arrival)
}

type linkBody struct {
	ArrivalLineId       int             `json:"arrival_line_id"`
	PartDemandId        int             `json:"part_demand_id"`
	PurchaseOrderLineId int             `json:"purchase_order_line_id" binding:"required"`
	Quantity            decimal.Decimal `json:"quantity" binding:"required"`
}

func createArrivalLinkHandler(c *gin.Context) {
	var body linkBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var link *models.ArrivalPurchaseOrderLink
	err := config.GetDB().WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var err error
		link, err = models.CreateArrivalLink(tx, body.ArrivalLineId, body.PurchaseOrderLineId, body.Quantity)
		if err != nil {
			return err
		}
		_, err = models.PropagatePurchaseOrderLineUpdate(tx, body.PurchaseOrderLineId)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

func updateArrivalLinkHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		Quantity decimal.Decimal `json:"quantity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var link *models.ArrivalPurchaseOrderLink
	err := config.GetDB().WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var err error
		link, err = models.UpdateArrivalLinkQuantity(tx, id, body.Quantity)
		if err != nil {
			return err
		}
		_, err = models.PropagatePurchaseOrderLineUpdate(tx, link.PurchaseOrderLineId)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, link)
}

func deleteArrivalLinkHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	err := config.GetDB().WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		return models.DeleteArrivalLink(tx, id)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func createDemandLinkHandler(c *gin.Context) {
	var body linkBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var link *models.PartDemandPurchaseOrderLink
	err := config.GetDB().WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var err error
		link, err = models.CreateDemandLink(tx, body.PartDemandId, body.PurchaseOrderLineId, body.Quantity)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

func updateDemandLinkHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		Quantity decimal.Decimal `json:"quantity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var link *models.PartDemandPurchaseOrderLink
	err := config.GetDB().WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var err error
		link, err = models.UpdateDemandLinkQuantity(tx, id, body.Quantity)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, link)
}

func deleteDemandLinkHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	err := config.GetDB().WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		return models.DeleteDemandLink(tx, id)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func updateDemandStatusHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		Status models.PartDemandStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var changes []models.StatusChange
	err := config.GetDB().WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var err error
		changes, err = models.PropagateDemandStatusUpdate(tx, id, body.Status)
		return err
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes})
}

func assignStockHandler(c *gin.Context) {
	var input workflow.AssignStockInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	movement, err := workflow.AssignStock(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, movement)
}

func transferStockHandler(c *gin.Context) {
	var input workflow.TransferStockInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	movement, err := workflow.TransferStock(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, movement)
}

func issueStockHandler(c *gin.Context) {
	var input workflow.IssueStockInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	movement, err := workflow.IssueStock(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, movement)
}

func adjustStockHandler(c *gin.Context) {
	var input workflow.AdjustStockInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	movement, err := workflow.AdjustStock(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, movement)
}

func getTraceabilityChainHandler(c *gin.Context) {
	id, ok := pathId(c, "arrivalId")
	if !ok {
		return
	}
	chain, err := models.GetTraceabilityChain(config.GetDB().WithContext(c.Request.Context()), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chain)
}

func getMovementHistoryHandler(c *gin.Context) {
	partId, err1 := strconv.Atoi(c.Query("part_id"))
	storeroomId, err2 := strconv.Atoi(c.Query("storeroom_id"))
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "part_id and storeroom_id are required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	movements, err := models.GetMovementHistory(config.GetDB().WithContext(c.Request.Context()), partId, storeroomId, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, movements)
}

func getStockSummaryHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	rows, err := models.GetStockSummary(config.GetDB().WithContext(c.Request.Context()), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func stockSummaryReportHandler(c *gin.Context) {
	db := config.GetDB().WithContext(c.Request.Context())
	var summaries []models.InventorySummary
	if err := db.Order("part_id asc, storeroom_id asc").Find(&summaries).Error; err != nil {
		respondError(c, err)
		return
	}

	headers := []string{"Part ID", "Storeroom ID", "Quantity On Hand", "Unit Cost Avg", "Last Receipt", "Last Issue"}
	rows := make([][]interface{}, 0, len(summaries))
	for _, s := range summaries {
		avg := ""
		if s.UnitCostAvg != nil {
			avg = s.UnitCostAvg.StringFixed(4)
		}
		lastReceipt := ""
		if s.LastReceiptDate != nil {
			lastReceipt = s.LastReceiptDate.Format(time.RFC3339)
		}
		lastIssue := ""
		if s.LastIssueDate != nil {
			lastIssue = s.LastIssueDate.Format(time.RFC3339)
		}
		qty, _ := s.QuantityOnHand.Float64()
		rows = append(rows, []interface{}{s.PartId, s.StoreroomId, qty, avg, lastReceipt, lastIssue})
	}

	f, err := utils.BuildWorkbook("Stock Summary", headers, rows)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="stock-summary.xlsx"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		_ = c.Error(err)
	}
}

func brokenDemandLinksHandler(c *gin.Context) {
	broken, err := models.DetectBrokenDemandLinks(config.GetDB().WithContext(c.Request.Context()))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, broken)
}

// errorLogger logs only requests that collected errors.
func errorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}
