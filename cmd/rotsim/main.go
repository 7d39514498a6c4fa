// Binary rotsim boots the root-of-trust kernel on a simulated RV32 hart.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

var (
	debug     = flag.Bool("debug", false, "enable debug logging")
	logFormat = flag.String("log-format", "text", "log format: text or json")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Boot), "")
	subcommands.Register(new(Layout), "")
	subcommands.Register(new(Scenarios), "")

	flag.Parse()

	switch *logFormat {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		Fatalf("invalid log format %q, must be 'text' or 'json'", *logFormat)
	}
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetOutput(os.Stderr)

	os.Exit(int(subcommands.Execute(context.Background())))
}

// Fatalf logs the error and exits with status 128.
func Fatalf(format string, args ...interface{}) {
	logrus.Errorf(format, args...)
	os.Exit(128)
}
