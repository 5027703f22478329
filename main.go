// Package main is the entry point for the fieldauth application
package main

import (
	"github.com/jaktapp/fieldauth/cmd"
	"github.com/jaktapp/fieldauth/internal/config"
	"github.com/jaktapp/fieldauth/internal/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	cmd.Execute(cfg)
}
