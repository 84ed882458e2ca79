package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"eventchain/internal/app"
	"eventchain/internal/config"
	"eventchain/internal/logging"
)

var (
	configFile string
	verbose    bool
	account    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "eventctl",
		Short:         "链上活动与购票工具",
		Long:          `连接EventContract合约，列举活动、创建活动和购票`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.PersistentFlags().StringVar(&account, "account", "", "活跃账户，默认使用节点的第一个账户")

	rootCmd.AddCommand(
		newAccountsCmd(),
		newEventsCmd(),
		newTicketsCmd(),
		newWatchCmd(),
		newHistoryCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 加载配置并创建日志器
func loadConfig() (*config.Config, *logrus.Logger, error) {
	bootLogger := logrus.New()
	cfg, err := config.LoadConfig(configFile, bootLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("创建日志器失败: %w", err)
	}

	if account != "" {
		cfg.Workflow.Account = account
	}
	return cfg, logger, nil
}

// connect 加载配置、连接节点并完成合约绑定
func connect(cmd *cobra.Command) (*app.App, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, logger)
}
