// cmd/server/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Corphon/SceneForge/internal/app"
	"github.com/Corphon/SceneForge/internal/config"
	"github.com/Corphon/SceneForge/internal/utils"
)

func main() {
	log.Println("启动 SceneForge 服务器...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("创建目录失败: %v", err)
	}

	// 2. 初始化日志
	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "server.log")); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	level, _ := utils.ParseLogLevel(cfg.LogLevel)
	logger := utils.GetLogger()
	logger.SetLogLevel(level)
	defer logger.Close()

	// 3. 组装服务
	application, err := app.New(cfg)
	if err != nil {
		logger.Fatal("初始化应用失败", map[string]interface{}{"error": err.Error()})
	}
	defer application.Close()

	// 4. 运行直到收到中断信号
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("服务器异常退出", map[string]interface{}{"error": err.Error()})
		return
	}
	logger.Info("服务器优雅关闭完成", nil)
}
