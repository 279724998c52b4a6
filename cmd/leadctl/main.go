// Command leadctl runs administrative tasks against the lead store.
package main

import (
	"fmt"
	"os"

	"leadhero/internal/util"
)

const Version = "0.1.0"

func main() {
	util.InitLogger(os.Getenv("LOG_LEVEL"))
	if err := rootCmd(openGormStore).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
