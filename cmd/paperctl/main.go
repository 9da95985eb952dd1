package main

import (
	"paperflow/internal/cli"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	cli.Execute()
}
