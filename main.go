package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gamehub/games"
	"gamehub/server"
)

// GameHub 入口：TCP 游戏协议端口 + HTTP（管理接口与 WebSocket 网关）
func main() {
	var (
		addr       string
		httpAddr   string
		configPath string
		multiLogin bool
	)
	flag.StringVar(&addr, "addr", "", "TCP listen address, e.g. :7777 (overrides config)")
	flag.StringVar(&httpAddr, "http", "", "HTTP listen address for /ws and admin endpoints (overrides config)")
	flag.StringVar(&configPath, "config", "", "path to JSON config file")
	flag.BoolVar(&multiLogin, "multilogin", false, "allow the same login on multiple connections")
	flag.Parse()

	cfg := server.DefaultConfig()
	if configPath != "" {
		loaded, err := server.LoadConfig(configPath)
		if err != nil {
			panic(err)
		}
		cfg = loaded
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if multiLogin {
		cfg.AllowMultiLogin = true
	}

	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := server.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	// 消息注册表与游戏登记表：启动期填充完毕，运行期只读
	reg := server.NewRegistry()
	server.RegisterSystemMessages(reg)
	catalog := server.NewCatalog()
	games.RegisterRPS(reg, catalog)
	if cfg.LuaDir != "" {
		if err := games.LoadLuaDir(reg, catalog, cfg.LuaDir); err != nil {
			server.Log.Fatalf("load lua games: %v", err)
		}
	}

	srv := server.NewServer(cfg, reg, server.NewMemoryIdentity(), catalog, nil)

	// 管理与监控接口 + WebSocket 网关
	if cfg.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", srv.HandleWS)
		mux.HandleFunc("/metrics", srv.HandleMetrics)
		mux.HandleFunc("/admin/sessions", srv.HandleSessions)
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		})
		go func() {
			server.Log.Infof("admin/ws listening on %s", cfg.HTTPAddr)
			if err := http.ListenAndServe(cfg.HTTPAddr, mux); err != nil && err != http.ErrServerClosed {
				server.Log.Errorf("http listen: %v", err)
			}
		}()
	}

	go func() {
		server.Log.Infof("GameHub listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil {
			// 绑定失败不自动重试：换个端口重启
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	server.Log.Info("Shutting down...")
	srv.Stop()
}
