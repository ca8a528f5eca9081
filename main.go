package main

import (
	"github.com/joho/godotenv"

	"github.com/wentf9/xops-mcp/cmd"
)

func main() {
	// Absent .env is the normal case; real environment variables win anyway.
	_ = godotenv.Load()
	cmd.Execute()
}
