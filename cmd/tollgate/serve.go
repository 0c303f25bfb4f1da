package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kingrea/tollgate/internal/engine"
	"github.com/kingrea/tollgate/internal/eventbridge"
	"github.com/kingrea/tollgate/internal/trigger"
)

const (
	catalogSettle   = 250 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

var errShutdown = errors.New("tollgate: shutting down")

func serveCommand(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("serve", stderr)
	project := fs.StringP("project", "C", ".", "project directory")
	host := fs.String("host", "", "listen host (default from config)")
	port := fs.Int("port", -1, "listen port, 0 picks a free one (default from config)")
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	ws, err := openWorkspace(*project)
	if err != nil {
		return err
	}
	defer ws.Close()
	if err := ws.catalog.Reload(); err != nil {
		return err
	}

	settings := eventbridge.SettingsFromConfig(ws.cfg)
	if *host != "" {
		settings.Host = *host
	}
	if *port >= 0 {
		settings.Port = *port
	}
	if !settings.Enabled {
		return configError(fmt.Errorf("the trigger bridge is disabled in %s", ws.cfg.ProjectConfigPath()))
	}

	eng, err := ws.newEngine()
	if err != nil {
		return err
	}
	supervisor := engine.NewSupervisor(eng)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := ws.catalog.Watch(ctx, catalogSettle); err != nil {
			ws.log.Printf("catalog watch stopped: %v", err)
		}
	}()

	bridgeLog := ws.log.With("component", "bridge")
	router := eventbridge.NewRouter(eventbridge.RouterWithLogger(bridgeLog))
	sub := router.Subscribe()
	defer sub.Close()

	server := eventbridge.NewServer(settings,
		eventbridge.WithProcessor(router),
		eventbridge.WithRuns(ws.repo),
		eventbridge.WithActiveRuns(supervisor.Active),
		eventbridge.WithLogger(bridgeLog),
	)
	if err := server.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "tollgate listening on %s (pipelines: %s)\n", server.BaseURL(), ws.catalog.Dir())

	dispatcher := trigger.NewDispatcher(ws.catalog)
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			err := server.Shutdown(shutdownCtx)
			cancel()
			supervisor.Shutdown(errShutdown)
			return err
		case evt, ok := <-sub.Events:
			if !ok {
				return nil
			}
			// runs outlive the signal context so Shutdown can name the cause
			dispatch(context.Background(), ws, dispatcher, supervisor, evt)
		}
	}
}

// dispatch starts one supervised run per pipeline the event triggers. A run
// on the same pipeline and ref as an active one replaces it.
func dispatch(ctx context.Context, ws *workspace, dispatcher *trigger.Dispatcher, supervisor *engine.Supervisor, evt eventbridge.Event) {
	event := evt.Trigger()
	defs := dispatcher.Dispatch(event)
	started := 0
	for _, def := range defs {
		if evt.Pipeline != "" && def.ID != evt.Pipeline {
			continue
		}
		handle := supervisor.Start(ctx, engine.Request{
			Definition: def,
			Event:      event,
			APIDiff:    evt.Classification(),
		})
		started++
		go watchRun(ws, def.ID, handle)
	}
	if started == 0 {
		ws.log.Printf("event %s (%s %s) triggered no pipeline", evt.EventID, event.Kind, eventTarget(event))
	}
}

func watchRun(ws *workspace, pipelineID string, handle *engine.Handle) {
	rep, err := handle.Wait()
	switch {
	case errors.Is(err, engine.ErrSuperseded):
		ws.log.Printf("run %s of %s stopped: %v", handle.RunID, pipelineID, err)
	case err != nil:
		ws.log.Printf("run %s of %s failed to start: %v", handle.RunID, pipelineID, err)
	default:
		ws.log.Printf("run %s of %s finished: %s", rep.RunID, pipelineID, rep.Status)
	}
}
