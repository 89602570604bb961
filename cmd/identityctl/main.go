// Command identityctl operates an identity store from the shell: it applies
// migrations, resolves accounts and drives the external sign in flows.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const usage = `usage: identityctl [-env file] [-audit] <command> [flags]

commands:
  migrate                       apply the identity schema
  create   -email -password     create a local credentials account
  lookup   -channel -value      resolve an account on one channel
  login    -email -password     verify local credentials
  otp send -phone [-hash]       request an OTP code
  otp verify -phone -code -session
                                verify a code and provision the account
  google   -token               sign in with a Google token
`

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run returns the process exit code so deferred cleanup finishes before
// main exits.
func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("identityctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env", ".env", "env file loaded before the environment")
	audit := fs.Bool("audit", false, "log activity events")
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, *envFile, *audit)
	if err != nil {
		fmt.Fprintf(stderr, "identityctl: %v\n", err)
		return 1
	}
	defer app.Close()

	if err := app.run(ctx, fs.Args()); err != nil {
		app.logger.Error("%s failed: %v", fs.Arg(0), err)
		fmt.Fprintf(stderr, "identityctl: %v\n", err)
		return 1
	}
	return 0
}
