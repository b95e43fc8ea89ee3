package logs

import (
	"bytes"
	"fmt"
	"log"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/component-base/featuregate"
	"k8s.io/component-base/logs"
	logsapi "k8s.io/component-base/logs/api/v1"

	_ "k8s.io/component-base/logs/json/register"
)

// Logs are written in the Kubernetes text format unless --logging-format=json
// is given. Levels are numeric (see Info, Debug and Trace below). Errors go to
// stderr and everything else to stdout.
//
// Passwords, verification codes, tokens and key material must never be passed
// to a logger, at any level.

var (
	// Only these flags are shown in --help; the rest still parse.
	visibleFlagNames = sets.New[string]("v", "vmodule", "logging-format")
	configuration    = logsapi.NewLoggingConfiguration()
	features         = featuregate.NewFeatureGate()
)

// Verbosity levels used with logr V().
const (
	Info  = 0
	Debug = 1
	Trace = 2
)

func init() {
	runtime.Must(logsapi.AddFeatureGates(features))
	// Split-stream output is an alpha logging option.
	runtime.Must(features.OverrideDefault(logsapi.LoggingAlphaOptions, true))
}

// AddFlags adds the logging flags to fs. Split-stream output is on by
// default and --v is exposed as --log-level.
func AddFlags(fs *pflag.FlagSet) {
	var tfs pflag.FlagSet
	logsapi.AddFlags(configuration, &tfs)
	features.AddFlag(&tfs)
	tfs.VisitAll(func(f *pflag.Flag) {
		if !visibleFlagNames.Has(f.Name) {
			_ = tfs.MarkHidden(f.Name)
		}

		switch f.Name {
		case "logging-format":
			f.Usage = `Sets the log format. Permitted formats: "json", "text".`
		case "log-text-split-stream", "log-json-split-stream":
			f.DefValue = "true"
			runtime.Must(f.Value.Set("true"))
		case "v":
			f.Name = "log-level"
			f.Shorthand = "v"
			f.Usage = fmt.Sprintf("%s. 0=Info, 1=Debug, 2=Trace. Use 6-9 to log HTTP requests to the server. (default: 0)", f.Usage)
		}
	})
	fs.AddFlagSet(&tfs)
}

// Initialize applies the flag values and points klog, slog and the standard
// library logger at the same output.
func Initialize() error {
	logs.InitLogs()
	if err := logsapi.ValidateAndApply(configuration, features); err != nil {
		return fmt.Errorf("Error in logging configuration: %s", err)
	}

	// slog.Default is backed by klog after InitLogs.
	log.Default().SetOutput(LogToSlogWriter{Slog: slog.Default(), Source: "stdlib"})

	return nil
}

// LogToSlogWriter adapts a slog.Logger to an io.Writer for use with the
// standard library log package. Lines mentioning an error or failure are
// logged at error level.
type LogToSlogWriter struct {
	Slog   *slog.Logger
	Source string
}

func (w LogToSlogWriter) Write(p []byte) (n int, err error) {
	n = len(p)

	p = bytes.TrimSuffix(p, []byte("\n"))

	message := string(p)
	if strings.Contains(message, "error") ||
		strings.Contains(message, "failed") {
		w.Slog.With("source", w.Source).Error(message)
	} else {
		w.Slog.With("source", w.Source).Info(message)
	}
	return n, nil
}
