// Command flowkit runs the workflow engine behind its webhook HTTP surface.
// Workflow definition files given as arguments are imported at startup.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/debug"
	"goa.design/clue/log"

	"github.com/flowkit-dev/flowkit/engine"
	"github.com/flowkit-dev/flowkit/node"
	"github.com/flowkit-dev/flowkit/nodes"
	"github.com/flowkit-dev/flowkit/store"
	"github.com/flowkit-dev/flowkit/store/memory"
	mongostore "github.com/flowkit-dev/flowkit/store/mongo"
	"github.com/flowkit-dev/flowkit/telemetry"
	"github.com/flowkit-dev/flowkit/webhook"
	"github.com/flowkit-dev/flowkit/workflow"
)

func main() {
	// Define command line flags, add any other flag required to configure
	// the service.
	var (
		httpAddrF = flag.String("http-addr", ":8080", "HTTP listen address")
		mongoF    = flag.String("mongo-uri", "", "MongoDB connection URI (empty runs the in-memory store)")
		mongoDBF  = flag.String("mongo-db", "flowkit", "MongoDB database name")
		strictF   = flag.Bool("strict-params", false, "Validate node parameters against their schemas before executing")
		dbgF      = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	// Setup logger. Replace logger with your own log package of choice.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	log.Print(ctx, log.KV{K: "http-addr", V: *httpAddrF})

	// Initialize the store.
	var st store.Store
	if *mongoF != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(*mongoF))
		if err != nil {
			log.Fatalf(ctx, err, "connect to MongoDB at %q", *mongoF)
		}
		defer func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Errorf(ctx, err, "disconnect from MongoDB")
			}
		}()
		ms := mongostore.New(client.Database(*mongoDBF))
		if err := ms.EnsureIndexes(ctx); err != nil {
			log.Fatalf(ctx, err, "ensure MongoDB indexes")
		}
		st = ms
		log.Print(ctx, log.KV{K: "store", V: "mongodb"}, log.KV{K: "db", V: *mongoDBF})
	} else {
		st = memory.New()
		log.Print(ctx, log.KV{K: "store", V: "memory"})
	}

	// Initialize the engine and the node catalog.
	opts := []engine.Option{
		engine.WithLogger(telemetry.NewClueLogger()),
		engine.WithMetrics(telemetry.NewClueMetrics()),
		engine.WithTracer(telemetry.NewClueTracer()),
	}
	if *strictF {
		opts = append(opts, engine.WithStrictParameterValidation())
	}
	registry := node.NewRegistry()
	eng := engine.New(st, registry, opts...)
	nodes.Register(registry, nodes.Deps{
		Runner:   eng,
		Store:    st,
		Circuits: eng.Circuits(),
		Logger:   telemetry.NewClueLogger(),
	})

	// Import workflow definition files passed on the command line.
	for _, path := range flag.Args() {
		if err := importFile(ctx, st, registry, path); err != nil {
			log.Fatalf(ctx, err, "import workflow %q", path)
		}
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	// Setup interrupt handler. This optional step configures the process so
	// that SIGINT and SIGTERM signals cause the service to stop gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(ctx)

	// Mount the webhook surface plus the debug endpoints and start the
	// server.
	mux := http.NewServeMux()
	mux.Handle("/webhook/", webhook.NewServer(eng).Handler(ctx))
	debug.MountDebugLogEnabler(mux)
	debug.MountPprofHandlers(mux)

	var handler http.Handler = mux
	if *dbgF {
		handler = debug.HTTP()(handler)
	}
	srv := &http.Server{Addr: *httpAddrF, Handler: handler, ReadHeaderTimeout: time.Second * 60}

	go func() {
		log.Printf(ctx, "HTTP server listening on %q", *httpAddrF)
		errc <- srv.ListenAndServe()
	}()

	// Wait for signal.
	log.Printf(ctx, "exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()

	// Shutdown gracefully with a 30s timeout.
	sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Errorf(ctx, err, "failed to shutdown HTTP server")
	}
	log.Printf(ctx, "exited")
}

// importFile parses a YAML workflow definition, validates it against the node
// catalog, and persists it active.
func importFile(ctx context.Context, st store.Store, registry *node.Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	def, err := workflow.Parse(data)
	if err != nil {
		return err
	}
	if err := def.ValidateWithRegistry(registry); err != nil {
		return err
	}
	wf, err := st.ImportWorkflow(ctx, def)
	if err != nil {
		return err
	}
	log.Print(ctx, log.KV{K: "imported", V: wf.Name}, log.KV{K: "workflow_id", V: wf.ID})
	return nil
}
