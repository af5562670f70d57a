// Package main is the entry point for the ccrouter gateway.
package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/hnolan/ccrouter/internal/account"
	"github.com/hnolan/ccrouter/internal/config"
	"github.com/hnolan/ccrouter/internal/server"
	"github.com/hnolan/ccrouter/internal/token"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	accounts, err := account.Load(cfg.Accounts.Path)
	if err != nil {
		log.Fatalf("failed to load accounts: %v", err)
	}
	accounts.SetStrategy(account.ParseStrategy(cfg.Accounts.Strategy))
	accounts.SetQuotaThreshold(cfg.Accounts.QuotaThreshold)

	tokens := token.New(accounts, http.DefaultClient)

	srv := server.New(cfg, accounts, tokens)

	host := cfg.Server.Host
	if host == "" {
		host = "127.0.0.1"
	}
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("ccrouter listening on %s:%d", host, cfg.Server.Port)

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
