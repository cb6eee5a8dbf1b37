package main

import (
	"github.com/corray333/order-ingest/internal/app"
	"github.com/corray333/order-ingest/internal/config"
)

func main() {
	config.MustInit()
	app.MustNewApp().Run()
}
