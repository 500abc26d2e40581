package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"merchant-verify-client/internal/bootstrap"
)

func main() {
	configPath := flag.String("config", "", "path to the yaml config file (default .config.yaml or $VERIFY_CLIENT_CONFIG)")
	flag.Parse()

	fmt.Printf("[%s] [INFO] [引导] 开始启动 merchant-verify-client...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.Run(context.Background(), *configPath); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "merchant-verify-client failed: %v\n", err)
		os.Exit(1)
	}
}
