package main

import (
	"log"

	"go.uber.org/zap"

	"github.com/iurnickita/encargos/internal/auth"
	"github.com/iurnickita/encargos/internal/config"
	"github.com/iurnickita/encargos/internal/handler"
	"github.com/iurnickita/encargos/internal/logger"
	"github.com/iurnickita/encargos/internal/service"
	"github.com/iurnickita/encargos/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.GetConfig()

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		zaplog.Error("store init failed", zap.Error(err))
		return err
	}

	auth := auth.NewAuth(cfg.Auth, store, zaplog)
	service := service.NewService(cfg.Service, store, zaplog)

	return handler.Serve(cfg.Handler, auth, service, zaplog)
}
