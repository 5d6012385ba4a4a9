package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/yegram/yegram/client/internal"
	"github.com/yegram/yegram/client/internal/store"
	"github.com/yegram/yegram/formatter"
	"github.com/yegram/yegram/util"
	"github.com/yegram/yegram/version"
)

const (
	relayURLFlag        = "relay-url"
	dataDirFlag         = "data-dir"
	storeEngineFlag     = "store-engine"
	iceURLsFlag         = "ice-urls"
	includeLoopbackFlag = "include-loopback"
)

var (
	configPath        string
	defaultConfigPath string
	logLevel          string
	logFile           string
	logFormat         string
	relayURL          string
	dataDir           string
	storeEngine       string
	iceURLs           []string
	includeLoopback   bool
	rootCmd           = &cobra.Command{
		Use:               "yegram",
		Short:             "Yegram peer-to-peer chat client",
		Long:              "Chat client that finds its peers through a Yegram relay and talks to them over direct channels",
		SilenceUsage:      true,
		Version:           version.YegramVersion(),
		PersistentPreRunE: initLog,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultConfigPath = filepath.Join(".yegram", "config.json")
	if dir, err := os.UserConfigDir(); err == nil {
		defaultConfigPath = filepath.Join(dir, "yegram", "config.json")
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Yegram config file location")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "warn", "sets Yegram log level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", util.LogConsole, "sets Yegram log path. If console is specified the log will be output to stderr")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", formatter.FormatText, "log format, text or json")
	rootCmd.PersistentFlags().StringVarP(&relayURL, relayURLFlag, "r", "", fmt.Sprintf("Relay URL [ws|wss]://[host]:[port]/ws (default \"%s\")", internal.DefaultRelayURL))
	rootCmd.PersistentFlags().StringVar(&dataDir, dataDirFlag, "", "directory of the identity, roster and history (default \"data\" next to the config file)")
	rootCmd.PersistentFlags().StringVar(&storeEngine, storeEngineFlag, "", fmt.Sprintf("store engine, one of memory, jsonfile or sqlite (default \"%s\")", internal.DefaultStoreEngine))
	rootCmd.PersistentFlags().StringSliceVar(&iceURLs, iceURLsFlag, nil, "comma separated list of STUN server URLs")
	rootCmd.PersistentFlags().BoolVar(&includeLoopback, includeLoopbackFlag, false, "gather loopback candidates, for peers on the same host")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(rosterCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(versionCmd)

	rosterCmd.AddCommand(rosterAddCmd, rosterListCmd, rosterRemoveCmd)

	util.SetFlagsFromEnvVars(rootCmd)
}

func initLog(_ *cobra.Command, _ []string) error {
	switch logFormat {
	case formatter.FormatText, formatter.FormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", logFormat)
	}
	if err := util.InitLogWithFormat(logLevel, logFile, logFormat); err != nil {
		return fmt.Errorf("failed initializing log %v", err)
	}
	return nil
}

// configInput carries the flags set on the command line or through YG_ variables. Unset flags keep the
// stored configuration.
func configInput() internal.ConfigInput {
	flags := rootCmd.PersistentFlags()
	input := internal.ConfigInput{ConfigPath: configPath}
	if changed(flags, relayURLFlag) {
		input.RelayURL = relayURL
	}
	if changed(flags, dataDirFlag) {
		input.DataDir = dataDir
	}
	if changed(flags, storeEngineFlag) {
		input.StoreEngine = storeEngine
	}
	if changed(flags, iceURLsFlag) {
		input.ICEURLs = iceURLs
	}
	if changed(flags, includeLoopbackFlag) {
		input.IncludeLoopback = &includeLoopback
	}
	return input
}

func changed(flags *pflag.FlagSet, name string) bool {
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

// openStore loads the configuration and opens the store it names
func openStore() (*internal.Config, *store.Store, error) {
	config, err := internal.UpdateOrCreateConfig(configInput())
	if err != nil {
		return nil, nil, fmt.Errorf("get config file: %v", err)
	}
	st, err := internal.OpenStore(config)
	if err != nil {
		return nil, nil, err
	}
	return config, st, nil
}
