package main

import (
	"context"
	"fmt"
	"os"

	"github.com/shpitdev/intacct-gateway-go/pkg/gateway/redact"
)

func main() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %s\n", redact.Secrets(err.Error()))
		os.Exit(exitCode(err))
	}
}
