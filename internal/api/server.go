package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"eventchain/internal/config"
	"eventchain/internal/connection"
	apperrors "eventchain/internal/errors"
	"eventchain/internal/journal"
	"eventchain/internal/validation"
	"eventchain/internal/workflow"
	"eventchain/pkg/models"
)

// Server API服务器
type Server struct {
	workflow     *workflow.EventWorkflow
	journal      *journal.Store // 可为nil
	pool         *connection.ConnectionPool
	errorHandler *apperrors.ErrorHandler
	config       *config.Config
	logger       *logrus.Logger
	logManager   *LogManager
	server       *http.Server
	port         int
}

// Deps 服务器依赖，除Workflow外都可为nil
type Deps struct {
	Workflow     *workflow.EventWorkflow
	Journal      *journal.Store
	Pool         *connection.ConnectionPool
	ErrorHandler *apperrors.ErrorHandler
	Config       *config.Config
}

// NewServer 创建新的API服务器
func NewServer(deps Deps, logger *logrus.Logger, port int) *Server {
	// 最多保存1000条日志
	logManager := NewLogManager(1000)
	logger.AddHook(NewLogHook(logManager))

	return &Server{
		workflow:     deps.Workflow,
		journal:      deps.Journal,
		pool:         deps.Pool,
		errorHandler: deps.ErrorHandler,
		config:       deps.Config,
		logger:       logger,
		logManager:   logManager,
		port:         port,
	}
}

// Router 创建路由
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// CORS
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	router.Use(gin.Recovery())

	s.setupRoutes(router)
	return router
}

// Start 启动API服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止API服务器，等待进行中的请求完成
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)

	api := router.Group("/api/v1")
	{
		// 合约绑定
		api.GET("/binding", s.getBinding)
		api.PUT("/binding/account", s.setAccount)

		// 活动
		api.GET("/events", s.listEvents)
		api.POST("/events", s.createEvent)
		api.POST("/events/:id/tickets", s.buyTicket)

		// 操作记录
		api.GET("/activity", s.getActivity)

		// 节点与配置
		api.GET("/nodes", s.getNodes)
		api.GET("/config", s.getConfig)

		// 错误统计
		api.GET("/errors", s.getErrorStats)

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	status := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "eventchain-api",
	}
	if b := s.workflow.Binding(); b != nil {
		status["network_id"] = b.NetworkID
		status["contract"] = b.Contract.Address.Hex()
	}
	c.JSON(http.StatusOK, status)
}

// getBinding 当前绑定
func (s *Server) getBinding(c *gin.Context) {
	b := s.workflow.Binding()
	if b == nil {
		s.writeError(c, apperrors.Newf(apperrors.ErrNotInitialized, "尚未绑定合约"))
		return
	}
	c.JSON(http.StatusOK, b.Info())
}

// setAccount 切换活跃账户
func (s *Server) setAccount(c *gin.Context) {
	var req struct {
		Account string `json:"account" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误", "message": err.Error()})
		return
	}

	b, err := s.workflow.SetActiveAccount(req.Account)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b.Info())
}

// listEvents 重新列举活动。失败时返回错误和上一次成功的列表
func (s *Server) listEvents(c *gin.Context) {
	events, err := s.workflow.ListEvents(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":  errorBody(err),
			"events": eventViews(s.workflow.Events()),
			"stale":  true,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": eventViews(events),
		"total":  len(events),
	})
}

// createEventBody 创建活动请求，date可以是Unix秒、YYYY-MM-DD或RFC3339
type createEventBody struct {
	Name         string `json:"name"`
	Date         string `json:"date"`
	UnitPrice    string `json:"unit_price"`
	TotalTickets uint64 `json:"total_tickets"`
}

// createEvent 创建活动
func (s *Server) createEvent(c *gin.Context) {
	var body createEventBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误", "message": err.Error()})
		return
	}

	date, err := validation.ParseDate(body.Date)
	if err != nil {
		s.writeError(c, apperrors.From(apperrors.ErrInvalidInput, err).WithContext("field", "date"))
		return
	}

	res, err := s.workflow.CreateEvent(c.Request.Context(), models.CreateEventRequest{
		Name:         body.Name,
		Date:         date,
		UnitPrice:    body.UnitPrice,
		TotalTickets: body.TotalTickets,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, writeResponse(res))
}

// buyTicket 购票，活动必须在最近一次列举的结果中
func (s *Server) buyTicket(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		s.writeError(c, apperrors.Newf(apperrors.ErrInvalidInput, "无效的活动id: %q", c.Param("id")))
		return
	}

	var body struct {
		Quantity uint64 `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误", "message": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if s.workflow.Snapshot() == nil {
		// 还没有列举过
		if _, err := s.workflow.ListEvents(ctx); err != nil {
			s.writeError(c, err)
			return
		}
	}

	res, err := s.workflow.BuyTicket(ctx, models.PurchaseIntent{EventID: id, Quantity: body.Quantity}, s.workflow.Events())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, writeResponse(res))
}

// getActivity 查询本地操作记录
func (s *Server) getActivity(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "操作记录未启用"})
		return
	}

	filter := journal.Filter{
		Kind:  models.ActivityKind(c.Query("kind")),
		Limit: 50,
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Limit = n
		}
	}
	if v := c.Query("event_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的event_id"})
			return
		}
		filter.EventID = &id
	}

	activities, err := s.journal.History(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if activities == nil {
		activities = []*models.Activity{}
	}
	c.JSON(http.StatusOK, gin.H{
		"activities": activities,
		"total":      len(activities),
		"stats":      s.journal.GetStats(),
	})
}

// getErrorStats 错误统计
func (s *Server) getErrorStats(c *gin.Context) {
	if s.errorHandler == nil {
		c.JSON(http.StatusOK, apperrors.NewErrorStats())
		return
	}
	c.JSON(http.StatusOK, s.errorHandler.GetStats())
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")

	page := 1
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}
	pageSize := 20
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}

	logs, total := s.logManager.GetLogsWithPagination(level, page, pageSize)
	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()
	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}

// eventView 活动的展示字段，额外给出ether单位的价格
type eventView struct {
	*models.EventRecord
	PriceEther string `json:"price_ether"`
	SoldOut    bool   `json:"sold_out"`
}

func eventViews(events []*models.EventRecord) []eventView {
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{EventRecord: e, PriceEther: e.PriceEther(), SoldOut: e.SoldOut()})
	}
	return out
}

func writeResponse(res *workflow.WriteResult) gin.H {
	body := gin.H{
		"activity": res.Activity,
		"relisted": res.Relisted,
	}
	if res.Relisted {
		body["events"] = eventViews(res.Events)
	}
	if res.RelistError != nil {
		body["relist_error"] = errorBody(res.RelistError)
	}
	return body
}

func (s *Server) writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": errorBody(err)})
}

// errorBody 错误的JSON视图
func errorBody(err error) gin.H {
	var wfErr *apperrors.WorkflowError
	if !errors.As(err, &wfErr) {
		return gin.H{"message": err.Error()}
	}
	body := gin.H{
		"kind":    wfErr.Kind.String(),
		"code":    wfErr.Code,
		"message": wfErr.Error(),
	}
	if wfErr.TxHash != nil {
		body["tx_hash"] = *wfErr.TxHash
	}
	if wfErr.EventID != nil {
		body["event_id"] = *wfErr.EventID
	}
	return body
}

// statusFor 错误类型到HTTP状态码的映射
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput), errors.Is(err, apperrors.ErrAccountNotFound):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrCreationFailed), errors.Is(err, apperrors.ErrPurchaseFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrDeploymentNotFound), errors.Is(err, apperrors.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrListFailed), errors.Is(err, apperrors.ErrConnectionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
