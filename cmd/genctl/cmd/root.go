package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/gentrack/pkg/gateway"
	"github.com/psantana5/gentrack/pkg/logging"
	"github.com/psantana5/gentrack/pkg/metrics"
	"github.com/psantana5/gentrack/pkg/tenancy"
	tlsconfig "github.com/psantana5/gentrack/pkg/tls"
	"github.com/psantana5/gentrack/pkg/tracing"
)

// version is set at build time with -ldflags "-X .../cmd.version=..."
var version = "dev"

var (
	apiURL       string
	apiKey       string
	accountID    string
	outputFormat string
	cfgFile      string
	logLevel     string
	insecureTLS  bool
	caFile       string
	certFile     string
	keyFile      string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "genctl",
	Short: "CLI for submitting and tracking generation jobs",
	Long: `genctl submits video, quiz, lesson and course generation jobs and follows them
until they finish. Observers of the same job share one poller, and the queue is
refreshed at most once per second.`,
	SilenceUsage: true,
	Version:      version,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.genctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API URL (default from config or http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "bearer credential sent with every request")
	rootCmd.PersistentFlags().StringVar(&accountID, "account", "", "account the requests act on")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&insecureTLS, "insecure", false, "skip TLS certificate verification")
	rootCmd.PersistentFlags().StringVar(&caFile, "ca", "", "CA certificate to verify the API server")
	rootCmd.PersistentFlags().StringVar(&certFile, "cert", "", "client certificate for mTLS")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key", "", "client key for mTLS")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(filepath.Join(home, ".genctl"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GENCTL")
	viper.AutomaticEnv()
	_ = viper.BindEnv("api_url", "GENCTL_API_URL")
	_ = viper.BindEnv("api_key", "GENCTL_API_KEY")
	_ = viper.BindEnv("account", "GENCTL_ACCOUNT")
	viper.SetDefault("api_url", "http://localhost:8000")
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4318")

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	}

	// Flags win over config and environment
	if apiURL == "" {
		apiURL = viper.GetString("api_url")
	}
	if apiKey == "" {
		apiKey = viper.GetString("api_key")
	}
	if accountID == "" {
		accountID = viper.GetString("account")
	}
}

// GetAPIURL returns the configured API URL with trailing slashes removed
func GetAPIURL() string {
	return strings.TrimRight(apiURL, "/")
}

// newLogger builds the CLI logger; logs go to stderr so output stays parseable
func newLogger() *logging.Logger {
	return logging.NewLogger(logging.ParseLevel(logLevel), false)
}

// newClient builds a gateway client for the configured API and account
func newClient(logger *logging.Logger, collector *metrics.Collector, tracer *tracing.Provider) (*gateway.Client, error) {
	if accountID != "" && !tenancy.IsValidAccountID(accountID) {
		return nil, fmt.Errorf("invalid account %q: %w", accountID, tenancy.ErrInvalidAccountID)
	}

	cfg := gateway.DefaultConfig(GetAPIURL())
	tlsOpts := tlsconfig.ClientOptions{CertFile: certFile, KeyFile: keyFile, CAFile: caFile, Insecure: insecureTLS}
	if !tlsOpts.IsZero() {
		tlsCfg, err := tlsconfig.LoadClientTLSConfig(tlsOpts)
		if err != nil {
			return nil, err
		}
		cfg.TLSConfig = tlsCfg
	}
	if tracer == nil {
		tracer = tracing.Noop()
	}

	return gateway.NewClient(cfg, tenancy.NewSession(apiKey, accountID),
		gateway.WithLogger(logger),
		gateway.WithMetrics(collector),
		gateway.WithTracer(tracer),
	), nil
}

// newTracer starts an OTLP exporter when tracing is enabled in the config
func newTracer() (*tracing.Provider, error) {
	if !viper.GetBool("tracing.enabled") {
		return tracing.Noop(), nil
	}
	return tracing.InitTracer(tracing.Config{
		ServiceName:    "genctl",
		ServiceVersion: version,
		OTLPEndpoint:   viper.GetString("tracing.endpoint"),
		Enabled:        true,
	})
}

// isStructuredOutput reports whether json or yaml output is requested
func isStructuredOutput() bool {
	return outputFormat == "json" || outputFormat == "yaml"
}

// printStructured writes v as JSON or YAML
func printStructured(v interface{}) error {
	switch outputFormat {
	case "yaml":
		out, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Print(string(out))
	default:
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(out))
	}
	return nil
}
