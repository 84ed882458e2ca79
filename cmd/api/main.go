package main

import (
	"context"
	"flag"
	"os"
	"time"

	"eventchain/internal/api"
	"eventchain/internal/app"
	"eventchain/internal/config"
	"eventchain/internal/logging"
	"eventchain/internal/shutdown"
	"eventchain/pkg/models"

	"github.com/sirupsen/logrus"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	port       = flag.Int("port", 0, "API 服务端口，0表示使用配置文件中的端口")
	verbose    = flag.Bool("verbose", false, "详细输出")
	watch      = flag.Bool("watch", true, "后台跟踪合约变化并刷新活动列表")
)

func main() {
	flag.Parse()

	bootLogger := logrus.New()
	bootLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// 自动检测并加载配置
	cfg, err := config.LoadConfig(*configPath, bootLogger)
	if err != nil {
		bootLogger.Fatalf("加载配置失败: %v", err)
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		bootLogger.Fatalf("创建日志器失败: %v", err)
	}

	gs := shutdown.NewGracefulShutdown(30*time.Second, logger)
	gs.Start()
	ctx := gs.Context()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("初始化失败: %v", err)
	}
	a.RegisterShutdown(gs)

	listenPort := cfg.API.Port
	if *port != 0 {
		listenPort = *port
	}

	// 创建API服务器
	server := api.NewServer(api.Deps{
		Workflow:     a.Workflow,
		Journal:      a.Journal,
		Pool:         a.Pool,
		ErrorHandler: a.ErrorHandler,
		Config:       cfg,
	}, logger, listenPort)
	gs.Register("api", shutdown.OrderStopServer, server.Stop)

	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("启动服务器失败: %v", err)
			gs.Shutdown()
		}
	}()
	logger.Infof("API服务器已启动，监听端口: %d", listenPort)

	go a.MonitorConnection(ctx, cfg.Workflow.WatchPoll())

	if *watch {
		watchCtx, stopWatch := context.WithCancel(ctx)
		watchDone := make(chan struct{})
		gs.Register("watcher", shutdown.OrderStopWatchers, func(context.Context) error {
			stopWatch()
			<-watchDone
			return nil
		})
		go func() {
			defer close(watchDone)
			err := a.Workflow.Watch(watchCtx, func(events []*models.EventRecord) {
				logger.WithField("events", len(events)).Debug("活动列表已刷新")
			})
			if err != nil {
				logger.Warnf("跟踪合约变化失败: %v", err)
			}
		}()
	}

	if err := gs.Wait(); err != nil {
		logger.Errorf("关闭过程中出现错误: %v", err)
		os.Exit(1)
	}
	logger.Info("服务器已关闭")
}
