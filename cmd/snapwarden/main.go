// snapwarden - EBS snapshot, power and teardown tool for EC2 instances
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	// SNAPWARDEN_* settings may also come from a .env file in the working directory
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	c := newCLI(os.Stdin, os.Stdout, os.Stderr, awsGateway)
	code := execute(ctx, newRootCmd(c), os.Args[1:], os.Stderr)

	stop()
	os.Exit(code)
}
