package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/yamabiko/tabiroku-backend/internal/app"
)

func main() {
	// Local development convenience; deployed environments set real env vars.
	_ = godotenv.Load()

	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(); err != nil {
		a.Log.Fatal("Server exited", "error", err)
	}
}
