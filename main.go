package main

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/provetools/coqstm/internal/config"
	"github.com/provetools/coqstm/internal/server"
)

var version = "0.1.0"

func main() {
	configPath := pflag.String("config", "", "path to a TOML settings file")
	coqtopPath := pflag.String("coqtop", "", "coqidetop binary to run")
	verbosity := pflag.Int("verbosity", 1, "log verbosity")
	logPath := pflag.String("log", "", "log file (stderr when empty)")
	showVersion := pflag.Bool("version", false, "print the version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	var logFile *string
	if *logPath != "" {
		logFile = logPath
	}
	commonlog.Configure(*verbosity, logFile)

	cfg := config.NewConfig()
	cfg.LoadFile(*configPath)
	if *coqtopPath != "" {
		cfg.CoqtopPath = *coqtopPath
	}

	s := server.NewServer(cfg)
	s.Run()
}
