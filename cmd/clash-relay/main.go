package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pectics/clash-relay/internal/config"
	"github.com/pectics/clash-relay/internal/httpapi"
	"github.com/pectics/clash-relay/internal/logging"
	"github.com/pectics/clash-relay/internal/secret"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var envFiles []string

	root := &cobra.Command{
		Use:           "clash-relay",
		Short:         "Rewrites an upstream Clash subscription and serves it to clients",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotenv(envFiles...)
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", config.DotenvFiles, "dotenv 文件（按顺序加载，已存在的环境变量优先）")
	root.PersistentFlags().String("listen", "127.0.0.1:3000", "HTTP 监听地址")
	_ = v.BindPFlag(config.KeyListen, root.PersistentFlags().Lookup("listen"))

	root.AddCommand(newServeCmd(v), newRotateTokenCmd(), newHealthcheckCmd(v))
	return root
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	f := cmd.Flags()
	f.String("policy", "filter-only", "转换策略：filter-only | filter-and-rename")
	f.String("log-level", "info", "日志级别：debug | info | warn | error")
	f.String("log-format", "json", "日志格式：json | console")
	f.Duration("fetch-timeout", 30*time.Second, "拉取上游配置的超时")
	f.Duration("shutdown-timeout", 10*time.Second, "收到退出信号后的优雅退出等待时间")
	f.Float64("rate-limit", 0, "/internal 每秒请求上限（0 表示不限）")
	f.Int("rate-burst", 10, "/internal 突发请求上限")

	for key, flag := range map[string]string{
		config.KeyPolicy:          "policy",
		config.KeyLogLevel:        "log-level",
		config.KeyLogFormat:       "log-format",
		config.KeyFetchTimeout:    "fetch-timeout",
		config.KeyShutdownTimeout: "shutdown-timeout",
		config.KeyRateLimit:       "rate-limit",
		config.KeyRateBurst:       "rate-burst",
	} {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.BaseURL == "" {
		log.Warn("CLASH_CONFIG_BASE_URL is not set; /internal/clash-config will fail")
	}
	if cfg.Token == "" {
		log.Warn("INTERNAL_TOKEN is not set; every /internal request will fail")
	}
	if _, err := cfg.Environment(); err != nil {
		log.Warn("residential proxy disabled", zap.Error(err))
	}

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: httpapi.NewHandler(httpapi.Options{
			BaseURL:           cfg.BaseURL,
			Token:             cfg.Token,
			Policy:            cfg.Policy,
			ISPHost:           cfg.ISPHost,
			ISPPort:           cfg.ISPPort,
			ISPUsername:       cfg.ISPUsername,
			ISPPassword:       cfg.ISPPassword,
			UserAgent:         cfg.UserAgent,
			ProfileWebPageURL: cfg.ProfileWebPageURL,
			FetchTimeout:      cfg.FetchTimeout,
			RateLimit:         cfg.RateLimit,
			RateBurst:         cfg.RateBurst,
			Logger:            log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          zap.NewStdLog(log),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", "http://"+cfg.Listen), zap.Stringer("policy", cfg.Policy))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func newRotateTokenCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "rotate-token",
		Short: "Generate a new INTERNAL_TOKEN and write it to a dotenv file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := secret.Rotate(file, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s updated in %s\n", secret.TokenKey, file)
			fmt.Fprintln(out, token)
			fmt.Fprintln(out, "update the token in every deployment environment as well")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", ".env.local", "要写入的 dotenv 文件")
	return cmd
}

func newHealthcheckCmd(v *viper.Viper) *cobra.Command {
	var (
		target  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe /healthz of a running server (for container HEALTHCHECK)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				u, err := deriveHealthzURL(v.GetString(config.KeyListen))
				if err != nil {
					return err
				}
				target = u
			}
			return runHealthcheck(target, timeout)
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "健康检查 URL（默认由 --listen 推导）")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "健康检查超时")
	return cmd
}

// deriveHealthzURL turns a listen address into a URL reachable from the same
// host. Wildcard hosts become 127.0.0.1.
func deriveHealthzURL(listen string) (string, error) {
	s := strings.TrimSpace(listen)
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", err
		}
		u.Path = "/healthz"
		u.RawQuery = ""
		return u.String(), nil
	}
	if !strings.Contains(s, ":") {
		s = ":" + s
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	if port == "" {
		return "", fmt.Errorf("listen address %q has no port", listen)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/healthz", nil
}

func runHealthcheck(target string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(target)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, target)
	}
	return nil
}
