package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/assist/automation"
	"github.com/aschepis/backscratcher/assist/correlation"
	assistlogger "github.com/aschepis/backscratcher/assist/logger"
)

// runAutomation runs one task through the policy runner. Browser control is
// not part of this binary: real runs only log the task they would perform.
func runAutomation(args []string) error {
	fs := flag.NewFlagSet("assist automation", flag.ContinueOnError)
	var (
		common  commonFlags
		action  = fs.String("action", string(automation.ActionGetData), "Task action: place_order or get_data")
		payload = fs.String("payload", "{}", "Task payload as a JSON object")
		dryRun  = fs.Bool("dry-run", false, "Simulate the task without executing it")
		taskArg = fs.String("task", "", "Complete task as JSON; overrides -action, -payload and -dry-run")
	)
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := setup(&common, assistlogger.SourceRunner)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	serveMetrics(ctx, common.metricsAddr, a.log)

	raw := []byte(*taskArg)
	if *taskArg == "" {
		var p map[string]any
		if err := json.Unmarshal([]byte(*payload), &p); err != nil {
			return fmt.Errorf("invalid -payload: %w", err)
		}
		raw, err = json.Marshal(automation.Task{Action: automation.Action(*action), Payload: p, DryRun: *dryRun})
		if err != nil {
			return fmt.Errorf("failed to encode task: %w", err)
		}
	}

	cid := correlation.NewID()
	decoded := automation.DecodeTask(raw, cid)
	task, ok := decoded.Value()
	if !ok {
		a.events.LogError("Rejected automation task", decoded.Err())
		printFailure(os.Stdout, decoded.Err().Message, decoded.Err().SuggestedAction)
		return nil
	}

	registry := automation.NewRegistry(a.log)
	registry.Register(automation.ActionGetData, loggingHandler(a.log))
	registry.Register(automation.ActionPlaceOrder, loggingHandler(a.log))

	runner := automation.NewPolicyRunner(a.cfg.Demo(), registry,
		automation.WithTimeout(time.Duration(a.cfg.Automation.Timeout)*time.Second),
		automation.WithLogger(a.events),
	)
	service := automation.NewService(automation.LocalDispatcher{Runner: runner}, a.events)

	res := service.RunTask(ctx, task, cid)
	out, ok := res.Value()
	if !ok {
		printFailure(os.Stdout, res.Err().Message, res.Err().SuggestedAction)
		return nil
	}
	fmt.Fprintln(os.Stdout, out.Message)
	if len(out.Data) > 0 {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Data)
	}
	return nil
}

// loggingHandler records the task it was asked to perform.
func loggingHandler(log zerolog.Logger) automation.Handler {
	return func(ctx context.Context, task automation.Task) (map[string]any, error) {
		log.Info().Str("action", string(task.Action)).Interface("payload", task.Payload).Msg("Automation task accepted")
		return map[string]any{"action": string(task.Action), "accepted": true}, nil
	}
}
