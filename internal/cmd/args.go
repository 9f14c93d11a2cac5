package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/fcchbjm/webguard/internal/version"
)

// Indexes to help with the [commandLineOptions] initialization.
const (
	configPathIdx = iota
	logOutputIdx
	apiAddrIdx
	dbPathIdx
	redisAddrIdx
	warningPageIdx
	newTabURLIdx
	referenceIdx
	categoryURLIdx
	verdictURLIdx
	disableProviderIdx
	cacheTTLIdx
	timeoutIdx
	nonPartnerDelayIdx
	ratelimitIdx
	helpIdx
	pprofIdx
	versionIdx
	verboseIdx
	http3Idx
	notifyIdx
	checkSubFramesIdx
)

// commandLineOption contains information about a command-line option: its long
// and, if there is one, short forms, the value type, and the description.
type commandLineOption struct {
	description string
	long        string
	short       string
	valueType   string
}

// commandLineOptions are all command-line options currently supported by the
// binary.
var commandLineOptions = []*commandLineOption{
	configPathIdx: {
		description: "YAML configuration file. Options passed through command line will override " +
			"the ones from this file.",
		long:      "config-path",
		short:     "",
		valueType: "path",
	},
	logOutputIdx: {
		description: "Path to the log file.",
		long:        "output",
		short:       "o",
		valueType:   "path",
	},
	apiAddrIdx: {
		description: "Listen address of the HTTP API.",
		long:        "api-addr",
		short:       "l",
		valueType:   "address",
	},
	dbPathIdx: {
		description: "Path to the database file persisting the verdict caches. An empty value " +
			"disables persistence.",
		long:      "db-path",
		short:     "",
		valueType: "path",
	},
	redisAddrIdx: {
		description: "Address of a Redis server persisting the verdict caches. Takes precedence " +
			"over --db-path.",
		long:      "redis-addr",
		short:     "",
		valueType: "address",
	},
	warningPageIdx: {
		description: "Origin serving the warning page. Privileged messages are accepted from " +
			"this origin only.",
		long:      "warning-page",
		short:     "",
		valueType: "url",
	},
	newTabURLIdx: {
		description: "Fallback page for tabs whose redirect to the warning page fails.",
		long:        "new-tab-url",
		short:       "",
		valueType:   "url",
	},
	referenceIdx: {
		description: "URL of the non-filtering dns-json resolver the DNS providers compare " +
			"their answers against.",
		long:      "reference",
		short:     "",
		valueType: "url",
	},
	categoryURLIdx: {
		description: "URL of the partner category REST API. An empty value disables the provider.",
		long:        "category-url",
		short:       "",
		valueType:   "url",
	},
	verdictURLIdx: {
		description: "URL of the partner verdict REST API. An empty value disables the provider.",
		long:        "verdict-url",
		short:       "",
		valueType:   "url",
	},
	disableProviderIdx: {
		description: "Name of a provider disabled at startup, can be specified multiple times.",
		long:        "disable-provider",
		short:       "",
		valueType:   "name",
	},
	cacheTTLIdx: {
		description: "Lifetime of allowed and blocked cache entries in a human-readable form.",
		long:        "cache-ttl",
		short:       "",
		valueType:   "duration",
	},
	timeoutIdx: {
		description: "Timeout of a single outbound provider request in a human-readable form.",
		long:        "timeout",
		short:       "",
		valueType:   "duration",
	},
	nonPartnerDelayIdx: {
		description: "How long non-partner provider checks are held back when a partner provider " +
			"is active. A negative value disables the delay.",
		long:      "non-partner-delay",
		short:     "",
		valueType: "duration",
	},
	ratelimitIdx: {
		description: "Ratelimit (requests per second per provider).",
		long:        "ratelimit",
		short:       "r",
		valueType:   "int",
	},
	helpIdx: {
		description: "Print this help message and quit.",
		long:        "help",
		short:       "h",
		valueType:   "",
	},
	pprofIdx: {
		description: "If present, exposes pprof information on localhost:6060.",
		long:        "pprof",
		short:       "",
		valueType:   "",
	},
	versionIdx: {
		description: "Prints the program version.",
		long:        "version",
		short:       "",
		valueType:   "",
	},
	verboseIdx: {
		description: "Verbose output.",
		long:        "verbose",
		short:       "v",
		valueType:   "",
	},
	http3Idx: {
		description: "Enable HTTP/3 support for the DNS-over-HTTPS providers.",
		long:        "http3",
		short:       "",
		valueType:   "",
	},
	notifyIdx: {
		description: "If specified, show a user notification on blocked navigations.",
		long:        "notify",
		short:       "",
		valueType:   "",
	},
	checkSubFramesIdx: {
		description: "If specified, non-main-frame navigations are checked as well.",
		long:        "check-subframes",
		short:       "",
		valueType:   "",
	},
}

// parseCmdLineOptions parses the command-line options.  conf must not be nil.
func parseCmdLineOptions(conf *configuration) (err error) {
	cmdName, args := os.Args[0], os.Args[1:]

	flags := flag.NewFlagSet(cmdName, flag.ContinueOnError)
	for i, fieldPtr := range []any{
		configPathIdx:      &conf.ConfigPath,
		logOutputIdx:       &conf.LogOutput,
		apiAddrIdx:         &conf.APIAddr,
		dbPathIdx:          &conf.DBPath,
		redisAddrIdx:       &conf.RedisAddr,
		warningPageIdx:     &conf.WarningPage,
		newTabURLIdx:       &conf.NewTabURL,
		referenceIdx:       &conf.Reference,
		categoryURLIdx:     &conf.CategoryURL,
		verdictURLIdx:      &conf.VerdictURL,
		disableProviderIdx: &conf.DisableProviders,
		cacheTTLIdx:        &conf.CacheTTL,
		timeoutIdx:         &conf.Timeout,
		nonPartnerDelayIdx: &conf.NonPartnerDelay,
		ratelimitIdx:       &conf.Ratelimit,
		helpIdx:            &conf.help,
		pprofIdx:           &conf.Pprof,
		versionIdx:         &conf.Version,
		verboseIdx:         &conf.Verbose,
		http3Idx:           &conf.HTTP3,
		notifyIdx:          &conf.Notify,
		checkSubFramesIdx:  &conf.CheckSubFrames,
	} {
		addOption(flags, fieldPtr, commandLineOptions[i])
	}

	flags.Usage = func() { usage(cmdName, os.Stderr) }

	err = flags.Parse(args)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	return nil
}

// defineFlag defines a flag with specified setFlag function.  o must not be
// nil.
func defineFlag[T any](
	fieldPtr *T,
	o *commandLineOption,
	setFlag func(p *T, name string, value T, usage string),
) {
	setFlag(fieldPtr, o.long, *fieldPtr, o.description)
	if o.short != "" {
		setFlag(fieldPtr, o.short, *fieldPtr, o.description)
	}
}

// defineFlagVar defines a flag with the specified [flag.Value] value.  o must
// not be nil.
func defineFlagVar(flags *flag.FlagSet, value flag.Value, o *commandLineOption) {
	flags.Var(value, o.long, o.description)
	if o.short != "" {
		flags.Var(value, o.short, o.description)
	}
}

// defineTimeutilDurationFlag defines a flag with for the specified
// [*timeutil.Duration] pointer and command line option.  o must not be nil.
func defineTimeutilDurationFlag(
	flags *flag.FlagSet,
	fieldPtr *timeutil.Duration,
	o *commandLineOption,
) {
	flags.TextVar(fieldPtr, o.long, *fieldPtr, o.description)
	if o.short != "" {
		flags.TextVar(fieldPtr, o.short, *fieldPtr, o.description)
	}
}

// addOption adds the command-line option described by o to flags using fieldPtr
// as the pointer to the value.
func addOption(flags *flag.FlagSet, fieldPtr any, o *commandLineOption) {
	switch fieldPtr := fieldPtr.(type) {
	case *string:
		defineFlag(fieldPtr, o, flags.StringVar)
	case *bool:
		defineFlag(fieldPtr, o, flags.BoolVar)
	case *int:
		defineFlag(fieldPtr, o, flags.IntVar)
	case *[]string:
		defineFlagVar(flags, newStringSliceValue(fieldPtr), o)
	case *timeutil.Duration:
		defineTimeutilDurationFlag(flags, fieldPtr, o)
	default:
		panic(fmt.Errorf("unexpected field pointer type %T: %w", fieldPtr, errors.ErrBadEnumValue))
	}
}

// usage prints a usage message similar to the one printed by package flag but
// taking long vs. short versions into account as well as using more informative
// value hints.
func usage(cmdName string, output io.Writer) {
	options := slices.Clone(commandLineOptions)
	slices.SortStableFunc(options, func(a, b *commandLineOption) (res int) {
		return strings.Compare(a.long, b.long)
	})

	b := &strings.Builder{}
	_, _ = fmt.Fprintf(b, "Usage of %s:\n", cmdName)

	for _, o := range options {
		writeUsageLine(b, o)

		// Use four spaces before the tab to trigger good alignment for both 4-
		// and 8-space tab stops.
		_, _ = fmt.Fprintf(b, "    \t%s\n", o.description)
	}

	_, _ = io.WriteString(output, b.String())
}

// writeUsageLine writes the usage line for the provided command-line option.
func writeUsageLine(b *strings.Builder, o *commandLineOption) {
	if o.short == "" {
		if o.valueType == "" {
			_, _ = fmt.Fprintf(b, "  --%s\n", o.long)
		} else {
			_, _ = fmt.Fprintf(b, "  --%s=%s\n", o.long, o.valueType)
		}

		return
	}

	if o.valueType == "" {
		_, _ = fmt.Fprintf(b, "  --%s/-%s\n", o.long, o.short)
	} else {
		_, _ = fmt.Fprintf(b, "  --%[1]s=%[3]s/-%[2]s %[3]s\n", o.long, o.short, o.valueType)
	}
}

// processCmdLineOptions decides if webguard should exit depending on the
// results of command-line option parsing.
func processCmdLineOptions(conf *configuration, parseErr error) (exitCode int, needExit bool) {
	if parseErr != nil {
		// Assume that usage has already been printed.
		return osutil.ExitCodeArgumentError, true
	}

	if conf.help {
		usage(os.Args[0], os.Stdout)

		return osutil.ExitCodeSuccess, true
	}

	if conf.Version {
		fmt.Printf("webguard version %s\n", version.Version())

		return osutil.ExitCodeSuccess, true
	}

	return osutil.ExitCodeSuccess, false
}
