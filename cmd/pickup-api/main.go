package main

import (
	"context"
	"errors"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env необязателен, в контейнере переменные приходят из окружения
	_ = godotenv.Load()

	app := mustBootstrapPickupAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		app.logger.Fatal("pickup-api stopped", zap.Error(err))
	}
}
