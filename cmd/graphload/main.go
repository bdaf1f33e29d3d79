package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const rootUsage = `graphload: batched GraphQL over relational storage

USAGE:
  graphload <command> [flags]

COMMANDS:
  serve            Run the HTTP GraphQL endpoint over the catalog
  store            Serve the in-memory catalog as a gRPC store
  check            Report the cost and depth of a query without running it
  help             Show help for any command
`

const commonUsage = `  -config <file>                      YAML configuration file
  -limits.max-depth N                 Maximum selection depth, 0 for none (default: 10)
  -limits.max-cost N                  Maximum estimated cost, 0 for none (default: 50000)
  -limits.max-selections N            Maximum selected fields, 0 for none (default: 5000)
  -limits.max-page-size N             Largest page a query may request (default: 100)
  -limits.default-page-size N         Page size when none is given (default: 20)
  -cursor.secret <string>             Secret signing pagination cursors
  -log.level <level>                  debug, info, warn or error (default: info)
  -log.dev                            Human readable development logs
`

const serveUsage = `serve FLAGS:
` + commonUsage + `  -server.addr <addr>                 HTTP listen address (default: :8080)
  -server.pretty                      Pretty-print JSON responses
  -server.timeout <duration>          Per-request timeout, e.g. 10s (default: 10s)
  -server.max-body-bytes N            Largest accepted request body (default: 1048576)
  -server.document-cache N            Parsed documents kept, 0 disables (default: 512)
  -server.max-batch-operations N      Operations per batched request, 0 for none (default: 10)
  -server.stats                       Report execution statistics in extensions
  -server.cors-origin <origin>        Allowed CORS origin. Repeatable
  -server.metadata-header <name>      Forward HTTP header to gRPC metadata. Repeatable
  -limits.max-batch-keys N            Keys merged into one storage call (default: 1000)
  -limits.max-ticks N                 Scheduler ticks per request (default: 64)
  -limits.parallelism N               Resolvers run concurrently per wave
  -limits.flush-concurrency N         Storage calls in flight per tick, 0 for all
  -storage.backend <memory|grpc>      Where records come from (default: memory)
  -storage.endpoint <host:port>       gRPC store endpoint. Repeatable
  -storage.max-conns-per-endpoint N   Max TCP conns per endpoint (default: 2)
  -storage.rpc-timeout <duration>     RPC timeout, e.g. 3s (default: 3s)
  -otel.endpoint <addr>               OTLP collector endpoint
  -otel.service <name>                OpenTelemetry service name (default: graphload)
`

const storeUsage = `store FLAGS:
` + commonUsage + `  -store.addr <addr>                  gRPC listen address (default: :9090)
`

const checkUsage = `check FLAGS:
` + commonUsage + `  -query <file>                       Query document, - for stdin (required)
  -operation <name>                   Operation to check
  -variables <json>                   Variables as a JSON object
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "graphload:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	global := flag.NewFlagSet("graphload", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(ctx, cmdArgs)
	case "store":
		return cmdStore(ctx, cmdArgs)
	case "check":
		return cmdCheck(cmdArgs, os.Stdin, stdout)
	case "help":
		return cmdHelp(cmdArgs, stdout)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string, w io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(w, rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Fprint(w, serveUsage)
	case "store":
		fmt.Fprint(w, storeUsage)
	case "check":
		fmt.Fprint(w, checkUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}
