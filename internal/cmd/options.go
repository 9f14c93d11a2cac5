package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/fcchbjm/webguard/cachestore"
	"github.com/fcchbjm/webguard/provider"
	"gopkg.in/yaml.v3"
)

// argConfigPath is matched before regular flag parsing so that command-line
// options override the ones from the configuration file.
const argConfigPath = "--config-path="

// Default values of the configuration options that must not be empty.
const (
	defaultAPIAddr     = "localhost:8867"
	defaultDBPath      = "webguard.db"
	defaultWarningPage = "http://localhost:8868"
)

// configuration represents the daemon settings, read from the YAML
// configuration file first and the command line second.
type configuration struct {
	// ConfigPath is the path to the YAML configuration file.  It is read
	// without the flag package so that flag defaults do not override the file.
	ConfigPath string

	// LogOutput is the path to the log file.  Empty means stdout.
	LogOutput string `yaml:"output"`

	// APIAddr is the listen address of the HTTP API.
	APIAddr string `yaml:"api-addr"`

	// DBPath is the path to the bbolt database file persisting the verdict
	// caches.  Empty disables persistence.
	DBPath string `yaml:"db-path"`

	// RedisAddr is the address of a Redis server persisting the verdict
	// caches.  When set, it takes precedence over DBPath.
	RedisAddr string `yaml:"redis-addr"`

	// WarningPage is the origin serving the warning page.  It is also the only
	// origin privileged messages are accepted from.
	WarningPage string `yaml:"warning-page"`

	// NewTabURL is the fallback page for tabs whose redirect to the warning
	// page fails.
	NewTabURL string `yaml:"new-tab-url"`

	// Reference is the URL of the non-filtering dns-json resolver the DNS
	// providers compare their answers against.
	Reference string `yaml:"reference"`

	// CategoryURL is the URL of the partner category REST API.  Empty disables
	// the provider.
	CategoryURL string `yaml:"category-url"`

	// VerdictURL is the URL of the partner verdict REST API.  Empty disables
	// the provider.
	VerdictURL string `yaml:"verdict-url"`

	// DisableProviders lists cache names of providers disabled at startup.
	DisableProviders []string `yaml:"disable-provider"`

	// CacheTTL is the lifetime of allowed and blocked cache entries.
	CacheTTL timeutil.Duration `yaml:"cache-ttl"`

	// Timeout is the timeout of a single outbound provider request.
	Timeout timeutil.Duration `yaml:"timeout"`

	// NonPartnerDelay is how long non-partner provider checks are held back
	// when a partner provider is active.  Negative disables the delay.
	NonPartnerDelay timeutil.Duration `yaml:"non-partner-delay"`

	// Ratelimit is the maximum number of requests per second per provider.
	Ratelimit int `yaml:"ratelimit"`

	// help makes the daemon print the usage message and exit.
	help bool

	// Pprof defines whether the pprof information needs to be exposed via
	// localhost:6060 or not.
	Pprof bool `yaml:"pprof"`

	// Version, if true, prints the program version, and exits.
	Version bool `yaml:"version"`

	// Verbose controls the verbosity of the output.
	Verbose bool `yaml:"verbose"`

	// HTTP3 enables HTTP/3 support for the DNS-over-HTTPS providers.
	HTTP3 bool `yaml:"http3"`

	// Notify enables user notifications on blocked navigations.
	Notify bool `yaml:"notify"`

	// CheckSubFrames enables checking non-main-frame navigations.
	CheckSubFrames bool `yaml:"check-subframes"`
}

// defaultConfiguration returns a configuration filled with the default
// settings.
func defaultConfiguration() (conf *configuration) {
	return &configuration{
		APIAddr:     defaultAPIAddr,
		DBPath:      defaultDBPath,
		WarningPage: defaultWarningPage,
		Reference:   provider.DefaultReference,
		CacheTTL:    timeutil.Duration(cachestore.DefaultTTL),
		Timeout:     timeutil.Duration(provider.DefaultTimeout),
	}
}

// parseConfigFile fills conf with the settings from file read by the given
// path.
func parseConfigFile(conf *configuration, confPath string) (err error) {
	// #nosec G304 -- Trust the file path that is given in the args.
	b, err := os.ReadFile(confPath)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	err = yaml.Unmarshal(b, conf)
	if err != nil {
		return fmt.Errorf("unmarshalling file: %w", err)
	}

	return nil
}

// parseConfig returns the daemon configuration parsed from the configuration
// file and the command-line arguments.  A nil configuration with a success
// exit code means the program should exit right away, for example after
// printing the version.
func parseConfig() (conf *configuration, exitCode int, err error) {
	conf = defaultConfiguration()

	for _, arg := range os.Args {
		if strings.HasPrefix(arg, argConfigPath) {
			confPath := strings.TrimPrefix(arg, argConfigPath)

			err = parseConfigFile(conf, confPath)
			if err != nil {
				return nil, osutil.ExitCodeFailure, fmt.Errorf(
					"parsing config file %s: %w",
					confPath,
					err,
				)
			}
		}
	}

	parseErr := parseCmdLineOptions(conf)
	exitCode, needExit := processCmdLineOptions(conf, parseErr)
	if needExit {
		return nil, exitCode, nil
	}

	return conf, osutil.ExitCodeSuccess, nil
}
