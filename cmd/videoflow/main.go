// =============================================================================
// VideoFlow 主入口
// =============================================================================
// 多层级视频片段生成编排器的命令行入口
//
// 使用方法:
//
//	videoflow generate --prompt "..." --duration 20          # 生成一个序列
//	videoflow generate --config config.yaml --continuity     # 指定配置文件
//	videoflow generate --plans-file plans.json               # 并发执行多个序列
//	videoflow version                                        # 显示版本信息
// =============================================================================
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/videoflow"
	"github.com/BaSui01/videoflow/config"
	"github.com/BaSui01/videoflow/orchestrator"
	"github.com/BaSui01/videoflow/types"
)

// 版本信息（构建时注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate":
		runGenerate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// generate 命令
// =============================================================================

func runGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	prompt := fs.String("prompt", "", "Prompt for the clip sequence")
	duration := fs.Float64("duration", 20, "Total sequence duration in seconds")
	clipLength := fs.Float64("clip-length", 8, "Target length of each clip in seconds")
	aspect := fs.String("aspect", "16:9", "Aspect ratio (16:9, 9:16, 1:1)")
	continuity := fs.Bool("continuity", false, "Thread last frames between clips")
	withAudio := fs.Bool("with-audio", false, "Request audio where the tier supports it")
	plansFile := fs.String("plans-file", "", "JSON file with multiple sequence requests to run concurrently")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting VideoFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	stack, err := videoflow.NewStack(cfg, videoflow.WithLogger(logger))
	if err != nil {
		logger.Fatal("Failed to build stack", zap.Error(err))
	}
	defer stack.Close()

	// SIGINT/SIGTERM 触发 ctx 取消，进行中的等待与轮询随之退出
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var reqs []orchestrator.SequenceRequest
	if *plansFile != "" {
		reqs, err = loadPlans(*plansFile)
		if err != nil {
			logger.Fatal("Failed to load plans file", zap.Error(err))
		}
	} else {
		if *prompt == "" {
			fmt.Fprintln(os.Stderr, "Either --prompt or --plans-file is required")
			os.Exit(1)
		}
		reqs = []orchestrator.SequenceRequest{{
			Prompt:        *prompt,
			TotalDuration: *duration,
			ClipLength:    *clipLength,
			AspectRatio:   *aspect,
			Continuity:    *continuity,
			WithAudio:     *withAudio,
		}}
	}

	if err := runPlans(ctx, stack, reqs, logger); err != nil {
		logger.Fatal("Generation failed", zap.Error(err))
	}
	logger.Info("VideoFlow finished")
}

// runPlans 并发执行多个序列。序列之间共享同一个配额注册表，
// 各层级的调用节奏由配额层串行化。
func runPlans(ctx context.Context, stack *videoflow.Stack, reqs []orchestrator.SequenceRequest, logger *zap.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	results := make([][]*types.GenerationResult, len(reqs))

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			res, err := stack.GenerateSequence(ctx, req)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, res := range results {
		for _, clip := range res {
			logger.Info("clip ready",
				zap.Int("plan", i),
				zap.String("clip_id", clip.ClipID),
				zap.String("file", clip.FilePath),
				zap.Float64("duration", clip.Duration),
				zap.String("tier", clip.Tier.String()),
				zap.Bool("degraded", clip.Degraded()),
			)
		}
	}
	return nil
}

// loadPlans 从 JSON 文件读取序列请求列表。
func loadPlans(path string) ([]orchestrator.SequenceRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file: %w", err)
	}
	var reqs []orchestrator.SequenceRequest
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, fmt.Errorf("parse plans file: %w", err)
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("plans file is empty")
	}
	return reqs, nil
}

// =============================================================================
// 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("VideoFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`VideoFlow - quota-aware multi-tier video clip generation

Usage:
  videoflow <command> [options]

Commands:
  generate  Generate a clip sequence
  version   Show version information
  help      Show this help message

Options for 'generate':
  --config <path>       Path to configuration file (YAML)
  --prompt <text>       Prompt for the sequence
  --duration <seconds>  Total sequence duration (default 20)
  --clip-length <s>     Target clip length (default 8)
  --aspect <ratio>      Aspect ratio: 16:9, 9:16, 1:1 (default 16:9)
  --continuity          Thread last frames between clips
  --with-audio          Request audio where supported
  --plans-file <path>   JSON list of sequence requests, run concurrently

Examples:
  videoflow generate --prompt "city timelapse at dusk" --duration 20
  videoflow generate --config /etc/videoflow/config.yaml --continuity
  videoflow generate --plans-file plans.json
  videoflow version`)
}

// =============================================================================
// 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
