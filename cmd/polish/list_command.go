package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/simp-lee/polish"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "ls <book>",
		Aliases: []string{"list"},
		Short:   "List the files of a book",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBook(cmd, args[0], func(book *polish.Container) error {
				rows := make([][]string, 0, len(book.Names()))
				for _, name := range book.Names() {
					mt, _ := book.MimeType(name)
					size, err := book.FileSize(name)
					if err != nil {
						return err
					}
					spine := "-"
					if i := book.IndexInSpine(name); i >= 0 {
						spine = strconv.Itoa(i)
					}
					rows = append(rows, []string{
						name,
						mt,
						strconv.FormatInt(size, 10),
						yesNo(book.ManifestHasName(name)),
						spine,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Name", "Media type", "Size", "Manifest", "Spine"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}
