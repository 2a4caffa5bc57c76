package server

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config 服务配置：监听地址、多重登录策略、保活参数、日志
type Config struct {
	ListenAddr      string // TCP 游戏协议
	HTTPAddr        string // 管理接口 + WebSocket 网关；空则不启
	AllowMultiLogin bool   // 允许同一登录名多开（回环地址总是放行）

	KeepAliveInterval time.Duration
	MaxMissedProbes   int // 连续几轮没应答判定失联

	LogFile  string
	LogLevel string

	LuaDir string // Lua 规则脚本目录；空则只有编译进来的游戏
}

// DefaultConfig 可直接跑起来的默认值
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":7777",
		HTTPAddr:          ":8080",
		KeepAliveInterval: 10 * time.Second,
		MaxMissedProbes:   3,
		LogFile:           "gamehub.log",
		LogLevel:          "info",
	}
}

// fileConfig JSON 配置文件的形状；时间以秒为单位
type fileConfig struct {
	ListenAddr        *string `json:"listen_addr,omitempty"`
	HTTPAddr          *string `json:"http_addr,omitempty"`
	AllowMultiLogin   *bool   `json:"allow_multi_login,omitempty"`
	KeepAliveSeconds  *int    `json:"keepalive_seconds,omitempty"`
	MaxMissedProbes   *int    `json:"max_missed_probes,omitempty"`
	LogFile           *string `json:"log_file,omitempty"`
	LogLevel          *string `json:"log_level,omitempty"`
	LuaDir            *string `json:"lua_dir,omitempty"`
}

// LoadConfig 在默认值之上套用 JSON 文件里给出的字段
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if fc.ListenAddr != nil {
		cfg.ListenAddr = *fc.ListenAddr
	}
	if fc.HTTPAddr != nil {
		cfg.HTTPAddr = *fc.HTTPAddr
	}
	if fc.AllowMultiLogin != nil {
		cfg.AllowMultiLogin = *fc.AllowMultiLogin
	}
	if fc.KeepAliveSeconds != nil {
		cfg.KeepAliveInterval = time.Duration(*fc.KeepAliveSeconds) * time.Second
	}
	if fc.MaxMissedProbes != nil {
		cfg.MaxMissedProbes = *fc.MaxMissedProbes
	}
	if fc.LogFile != nil {
		cfg.LogFile = *fc.LogFile
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	if fc.LuaDir != nil {
		cfg.LuaDir = *fc.LuaDir
	}
	return cfg, nil
}
