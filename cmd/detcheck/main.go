// Command detcheck replays seeded in-process battles in parallel and fails
// when peers, or repeated runs of the same seed, disagree on the final state.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/remeh/sizedwaitgroup"

	battle "real-pet/battle"
	"real-pet/battle/internal/app"
	"real-pet/battle/internal/script"
	"real-pet/battle/internal/sim"
)

type options struct {
	runs     int
	frames   int
	parallel int
	players  int
	delay    int
	seed     uint64
	script   string
}

type outcome struct {
	run    int
	result app.DuelResult
	err    error
}

func main() {
	var opts options
	flag.IntVar(&opts.runs, "runs", 8, "number of replays")
	flag.IntVar(&opts.frames, "frames", 600, "frames per replay")
	flag.IntVar(&opts.parallel, "parallel", runtime.NumCPU(), "replays running at once")
	flag.IntVar(&opts.players, "players", 2, "peers per replay")
	flag.IntVar(&opts.delay, "delay", 8, "maximum packet delay in ticks")
	flag.Uint64Var(&opts.seed, "seed", 1, "seed shared by every replay")
	flag.StringVar(&opts.script, "script", "", "optional battle script package")
	flag.Parse()

	if err := run(context.Background(), opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := duelConfig(opts)
	if err != nil {
		return err
	}

	outcomes := replay(ctx, cfg, opts.runs, opts.parallel)

	var reference *sim.Digest
	failed := 0
	for _, o := range outcomes {
		switch {
		case o.err != nil:
			fmt.Printf("run %d: %v\n", o.run, o.err)
			failed++
		case !o.result.Converged():
			fmt.Printf("run %d: peers diverged %v\n", o.run, o.result.Digests)
			failed++
		default:
			digest := o.result.Digests[0]
			if reference == nil {
				reference = &digest
			}
			if digest != *reference {
				fmt.Printf("run %d: digest %s differs from %s\n", o.run, digest, *reference)
				failed++
				continue
			}
			fmt.Printf("run %d: %s frames=%d hits=%d\n", o.run, digest, o.result.Frames, o.result.Stats[0].Hits)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(outcomes))
	}
	return nil
}

func duelConfig(opts options) (app.DuelConfig, error) {
	cfg := app.DuelConfig{
		Players:  opts.players,
		Frames:   opts.frames,
		Seed:     opts.seed,
		MaxDelay: opts.delay,
		Battle:   battle.DefaultConfig(),
	}
	if opts.script != "" {
		source, err := os.ReadFile(opts.script)
		if err != nil {
			return cfg, fmt.Errorf("read script: %w", err)
		}
		cfg.Script = &script.Package{ID: "detcheck", Path: opts.script, Source: string(source)}
	}
	return cfg, nil
}

// replay runs cfg count times with at most parallel runs in flight. Outcomes
// are returned in run order.
func replay(ctx context.Context, cfg app.DuelConfig, count, parallel int) []outcome {
	if parallel < 1 {
		parallel = 1
	}
	outcomes := make([]outcome, count)
	var mu sync.Mutex
	swg := sizedwaitgroup.New(parallel)
	for i := 0; i < count; i++ {
		swg.Add()
		go func(run int) {
			defer swg.Done()
			result, err := app.RunDuel(ctx, cfg)
			mu.Lock()
			outcomes[run] = outcome{run: run, result: result, err: err}
			mu.Unlock()
		}(i)
	}
	swg.Wait()
	return outcomes
}
