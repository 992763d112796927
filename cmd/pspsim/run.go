package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/pspsim/asm"
	"github.com/sarchlab/pspsim/config"
	"github.com/sarchlab/pspsim/emu"
	"github.com/sarchlab/pspsim/gpu"
	"github.com/sarchlab/pspsim/gpu/texture"
	"github.com/sarchlab/pspsim/loader"
	"github.com/sarchlab/pspsim/runner"
)

type runFlags struct {
	interp          bool
	worker          bool
	gpuThread       bool
	maxInstructions uint64
	entry           string
	stats           bool
}

func newRunCommand(global *globalFlags) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run <program.elf|program.s>",
		Short: "Run a guest program until its main thread exits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			if flags.interp {
				cfg.Dynarec = false
			}
			if flags.worker {
				cfg.BackgroundCompilation = true
			}

			code, err := run(cmd, cfg, &flags, args[0])
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(int(code))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flags.interp, "interp", false, "disable the dynarec")
	cmd.Flags().BoolVar(&flags.worker, "worker", false, "compile on a background worker")
	cmd.Flags().BoolVar(&flags.gpuThread, "gpu-thread", false, "process display lists on their own goroutine")
	cmd.Flags().Uint64Var(&flags.maxInstructions, "max-instructions", 0, "stop after this many instructions (0 means no limit)")
	cmd.Flags().StringVar(&flags.entry, "entry", "main", "entry label for assembly sources")
	cmd.Flags().BoolVar(&flags.stats, "stats", false, "print cache statistics on exit")

	return cmd
}

func run(cmd *cobra.Command, cfg *config.Config, flags *runFlags, path string) (int32, error) {
	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	cpu, err := runner.New(ctx, cfg,
		runner.WithLogger(log),
		runner.WithInstructionLimit(flags.maxInstructions),
		runner.WithStdout(cmd.OutOrStdout()),
	)
	if err != nil {
		return 0, err
	}
	defer cpu.Close()

	processor := newProcessor(cfg, cpu.Memory, log)
	cpu.AttachGPU(processor, !flags.gpuThread)

	entry, sp, err := loadProgram(cpu, path, flags.entry)
	if err != nil {
		return 0, err
	}
	log.V(1).Info("loaded program", "path", path, "entry", fmt.Sprintf("0x%08x", entry))

	thread := cpu.NewThread(entry, sp)

	runCtx, cancel := context.WithCancel(ctx)
	if flags.gpuThread {
		g.Go(func() error { return processor.Serve(runCtx) })
	}
	g.Go(func() error {
		defer cancel()
		return cpu.Run(runCtx, thread)
	})
	err = g.Wait()

	if flags.stats {
		printStats(cmd, cpu, processor, thread)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return 0, err
	}
	return thread.ExitCode, nil
}

func newProcessor(cfg *config.Config, mem *emu.Memory, log logr.Logger) *gpu.Processor {
	textures := texture.New(mem, texture.NewMemoryBackend(),
		texture.WithLogger(log.WithName("texture")),
		texture.WithConfig(texture.Config{Sets: cfg.TextureCacheSets, Ways: cfg.TextureCacheWays}),
	)
	return gpu.NewProcessor(mem,
		gpu.WithLogger(log.WithName("gpu")),
		gpu.WithTextureCache(textures),
		gpu.WithFatalUnknownCommands(cfg.FatalUnknownCommands),
		gpu.WithNoticeUnimplemented(cfg.NoticeUnimplementedCommands),
	)
}

// loadProgram places an ELF executable or an assembly source into guest
// memory and returns its entry point and initial stack pointer.
func loadProgram(cpu *runner.CPU, path, entryLabel string) (uint32, uint32, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".s", ".asm":
		src, err := os.ReadFile(path)
		if err != nil {
			return 0, 0, err
		}
		prog, err := asm.New().AssembleTo(cpu.Memory, string(src))
		if err != nil {
			return 0, 0, err
		}
		if addr, ok := prog.Labels[entryLabel]; ok {
			return addr, loader.DefaultStackTop, nil
		}
		if len(prog.Chunks) == 0 {
			return 0, 0, fmt.Errorf("%s: no code", path)
		}
		return prog.Chunks[0].Address, loader.DefaultStackTop, nil
	}

	prog, err := loader.Load(path)
	if err != nil {
		return 0, 0, err
	}
	if err := prog.LoadInto(cpu.Memory); err != nil {
		return 0, 0, err
	}
	return prog.EntryPoint, prog.InitialSP, nil
}

func printStats(cmd *cobra.Command, cpu *runner.CPU, processor *gpu.Processor, thread *emu.ThreadState) {
	methods := cpu.Cache.Stats()
	textures := processor.Textures().Stats()

	printf(cmd, "instructions: %d\n", thread.InstructionCount)
	printf(cmd, "emulated time: %v at %d MHz\n", cpu.EmulatedTime(thread), cpu.Config.CpuFrequencyMHz)
	printf(cmd, "functions: %d live, %d compiled, %d evicted, %d rejected\n",
		cpu.Cache.Len(), methods.Inserts, methods.Evictions, methods.Rejected)
	printf(cmd, "method cache: %d hits, %d misses\n", methods.Hits, methods.Misses)
	printf(cmd, "textures: %d hits, %d decodes, %d rechecks\n",
		textures.Hits, textures.Decodes, textures.Rechecks)
}
