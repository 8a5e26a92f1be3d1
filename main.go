package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/quokkadb/quokkadb/conf"
	"github.com/quokkadb/quokkadb/logger"
	"github.com/quokkadb/quokkadb/server/net"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "configPath", "", "path to the quokka.ini or quokka.toml config file")
	flag.Parse()

	config, err := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: configPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		ErrorLogPath: config.LogError,
		InfoLogPath:  config.LogInfos,
		Level:        config.LogLevel,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	logger.Infof("%s starting, data dir %s", config.AppName, config.DataDir)
	server := net.NewQuokkaServer(config)
	if err := server.Start(); err != nil {
		logger.Errorf("server start: %v", err)
		os.Exit(1)
	}
}
