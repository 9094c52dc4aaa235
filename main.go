package main

import (
	"os"

	"sendmail-oauth2/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
