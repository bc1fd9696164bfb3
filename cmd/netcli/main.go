// netcli 命令行入口：按清单批量执行、单台执行、离线解析与设备模拟
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	_ "github.com/sshcollectorpro/netsession/addone/platform/platforms/all"
	"github.com/sshcollectorpro/netsession/internal/config"
	"github.com/sshcollectorpro/netsession/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
)

// 全局参数
var (
	configPath string
	debug      bool
	output     string
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "netcli",
	Short: "NetSession - telnet/ssh network device sessions",
	Long: `netcli logs in to network devices over telnet or ssh, runs commands,
and prints sanitized (optionally TextFSM-structured) output.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default configs/config.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "text", "Output format: text, json, yaml")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(platformsCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(simulateCmd)
}

// loadConfig 读取配置并初始化日志；CLI 日志默认输出到 stderr
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	lc := cfg.Log.LoggerConfig()
	if lc.Output == "" || lc.Output == "stdout" {
		lc.Output = "stderr"
	}
	if debug {
		lc.Level = "debug"
	}
	if err := logger.Init(lc); err != nil {
		return nil, err
	}
	return cfg, nil
}
