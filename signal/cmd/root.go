package cmd

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegram/yegram/formatter"
	"github.com/yegram/yegram/signal/server"
	"github.com/yegram/yegram/util"
	"github.com/yegram/yegram/version"
)

type Config struct {
	ListenAddress  string
	MetricsPort    int
	ProbeInterval  time.Duration
	RateLimit      float64
	RateBurst      int
	QueueSize      int
	AllowedOrigins []string
	LogLevel       string
	LogFile        string
	LogFormat      string
}

func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.ListenAddress, err)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port %d: must be between 0 and 65535", c.MetricsPort)
	}
	if c.ProbeInterval < time.Second {
		return fmt.Errorf("probe interval %s is too short, minimum is 1s", c.ProbeInterval)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate burst must be positive when rate limiting is enabled")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be positive")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin is required, use * to allow any")
	}
	switch c.LogFormat {
	case formatter.FormatText, formatter.FormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

func (c Config) serverOptions() []server.Option {
	return []server.Option{
		server.WithProbeInterval(c.ProbeInterval),
		server.WithRateLimit(c.RateLimit, c.RateBurst),
		server.WithQueueSize(c.QueueSize),
		server.WithAllowedOrigins(c.AllowedOrigins),
	}
}

var (
	cobraConfig *Config
	rootCmd     = &cobra.Command{
		Use:           "yegram-signal",
		Short:         "Yegram rendezvous relay",
		Long:          "Rendezvous relay that lets Yegram clients find each other and exchange connection offers, answers and candidates",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.YegramVersion(),
	}
)

func init() {
	_ = util.InitLog("trace", util.LogConsole)
	cobraConfig = &Config{}
	rootCmd.PersistentFlags().StringVarP(&cobraConfig.ListenAddress, "listen-address", "l", ":10000", "listen address of the websocket and health endpoints")
	rootCmd.PersistentFlags().IntVar(&cobraConfig.MetricsPort, "metrics-port", 9090, "metrics endpoint http port. Metrics are accessible under host:metrics-port/metrics")
	rootCmd.PersistentFlags().DurationVar(&cobraConfig.ProbeInterval, "probe-interval", server.DefaultProbeInterval, "interval of the connection liveness probe")
	rootCmd.PersistentFlags().Float64Var(&cobraConfig.RateLimit, "rate-limit", server.DefaultRateLimit, "inbound frames per second allowed per connection, 0 disables the limit")
	rootCmd.PersistentFlags().IntVar(&cobraConfig.RateBurst, "rate-burst", server.DefaultRateBurst, "inbound frame burst allowed per connection")
	rootCmd.PersistentFlags().IntVar(&cobraConfig.QueueSize, "queue-size", server.DefaultQueueSize, "outbound frames buffered per connection")
	rootCmd.PersistentFlags().StringSliceVar(&cobraConfig.AllowedOrigins, "allowed-origins", []string{"*"}, "origins allowed to open websocket connections and query the health endpoint")
	rootCmd.PersistentFlags().StringVar(&cobraConfig.LogLevel, "log-level", "info", "log level")
	rootCmd.PersistentFlags().StringVar(&cobraConfig.LogFile, "log-file", util.LogConsole, "log file, console logs to stderr")
	rootCmd.PersistentFlags().StringVar(&cobraConfig.LogFormat, "log-format", formatter.FormatText, "log format, text or json")

	rootCmd.AddCommand(runCmd)
	util.SetFlagsFromEnvVars(rootCmd)
}

func Execute() error {
	return rootCmd.Execute()
}
