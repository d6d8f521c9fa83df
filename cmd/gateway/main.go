package main

import (
	"context"
	"os"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/cmd/gateway/cmd"
)

// gitsha is set at build time via -ldflags
var gitsha = "dev"

func main() {
	if err := cmd.NewRoot(context.Background(), gitsha).Execute(); err != nil {
		os.Exit(1)
	}
}
