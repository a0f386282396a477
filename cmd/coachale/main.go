package main

import (
	"fmt"
	"os"

	"github.com/AlessioChianetta/Coachale-sub034/cmd/coachale/commands"
	"github.com/AlessioChianetta/Coachale-sub034/logger"
)

func main() {
	defer logger.Cleanup()
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
