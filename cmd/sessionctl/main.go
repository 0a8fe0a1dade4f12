// cmd/sessionctl/main.go
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Corphon/SceneForge/internal/utils"
)

func main() {
	utils.GetLogger().SetOutput(os.Stderr)
	utils.GetLogger().SetLogLevel(utils.WARNING)

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
