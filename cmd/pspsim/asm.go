package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sarchlab/pspsim/asm"
)

func newAsmCommand(global *globalFlags) *cobra.Command {
	var (
		output  string
		listing bool
	)

	cmd := &cobra.Command{
		Use:   "asm <program.s>",
		Short: "Assemble a source file into little-endian machine words",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			a := asm.New(asm.WithLogger(newLogger(cfg.LogLevel)))
			prog, err := a.Assemble(string(src))
			if err != nil {
				return err
			}

			if listing {
				for _, c := range prog.Chunks {
					for i, w := range c.Words {
						printf(cmd, "0x%08x: 0x%08x\n", c.Address+uint32(4*i), w)
					}
				}
			}
			if output == "" {
				output = strings.TrimSuffix(args[0], ".s") + ".bin"
			}
			return writeWords(output, prog.Words())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: input with .bin extension)")
	cmd.Flags().BoolVarP(&listing, "list", "l", false, "print an address listing")

	return cmd
}

func writeWords(path string, words []uint32) error {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
