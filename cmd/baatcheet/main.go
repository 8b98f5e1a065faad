package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	app := newApp(os.Stdout)

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
