package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/simp-lee/polish"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var (
		output     string
		name       string
		mediaType  string
		spineIndex int
	)
	cmd := &cobra.Command{
		Use:   "add <book> <file>",
		Short: "Add a file to a book and its manifest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[1], err)
			}
			return ctx.editBook(cmd, args[0], output, func(book *polish.Container) error {
				target := name
				if target == "" {
					target = path.Join(path.Dir(book.OPFName()), filepath.Base(args[1]))
				}
				opts := polish.AddOptions{MediaType: mediaType, ModifyNameIfNeeded: true}
				if cmd.Flags().Changed("spine-index") {
					opts.SpineIndex = &spineIndex
				}
				added, err := book.AddFile(target, data, opts)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), added)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the book here instead of overwriting it")
	cmd.Flags().StringVar(&name, "name", "", "Name inside the book (default: next to the OPF)")
	cmd.Flags().StringVar(&mediaType, "media-type", "", "Media type (default: guessed from the extension)")
	cmd.Flags().IntVar(&spineIndex, "spine-index", 0, "Spine position for content documents (default: append)")
	return cmd
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:     "rm <book> <name>...",
		Aliases: []string{"remove"},
		Short:   "Remove files from a book",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.editBook(cmd, args[0], output, func(book *polish.Container) error {
				for _, name := range args[1:] {
					if err := book.RemoveItem(name, true); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the book here instead of overwriting it")
	return cmd
}

func newMoveCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:     "mv <book> <old>=<new>...",
		Aliases: []string{"rename"},
		Short:   "Rename files and update every link to them",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			renames := make(map[string]string, len(args)-1)
			for _, arg := range args[1:] {
				oldName, newName, ok := strings.Cut(arg, "=")
				if !ok || oldName == "" || newName == "" {
					return fmt.Errorf("invalid rename %q, want old=new", arg)
				}
				renames[oldName] = newName
			}
			return ctx.editBook(cmd, args[0], output, func(book *polish.Container) error {
				return book.RenameFiles(renames)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the book here instead of overwriting it")
	return cmd
}

func newRoundtripCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "roundtrip <book> [output]",
		Short: "Open and save a book without changes",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var output string
			if len(args) == 2 {
				output = args[1]
			}
			return ctx.editBook(cmd, args[0], output, func(*polish.Container) error { return nil })
		},
	}
}
