package main

import (
	"net/http"

	"github.com/angeloszaimis/api-gateway/internal/admin"
	"github.com/angeloszaimis/api-gateway/internal/dispatcher"
	"github.com/angeloszaimis/api-gateway/internal/metrics"
)

func setupRouter(disp *dispatcher.Dispatcher, adminHandler *admin.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	adminHandler.Register(mux)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", disp)

	return mux
}
