package main

import (
	"context"
	"time"

	"lending_portal/app"
	"lending_portal/config"
	"lending_portal/routes"

	"go.uber.org/zap"
)

func main() {
	config.LoadEnv()
	application := app.MustNew()
	defer application.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	app.CheckBackend(ctx, application.Backend, application.Logger)
	cancel()

	r := application.Router
	routes.RegisterRoutes(r, application)

	port := application.Config.Port
	application.Logger.Info("listening", zap.String("port", port))
	if err := r.Run(":" + port); err != nil {
		application.Logger.Error("server stopped", zap.Error(err))
	}
}
