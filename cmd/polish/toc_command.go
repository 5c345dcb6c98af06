package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/simp-lee/polish"
)

func newTOCCommand(ctx *commandContext) *cobra.Command {
	var landmarks bool

	cmd := &cobra.Command{
		Use:   "toc <book>",
		Short: "Show the table of contents of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBook(cmd, args[0], func(book *polish.Container) error {
				items, err := book.TOC()
				if landmarks {
					items, err = book.Landmarks()
				}
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No entries")
					return nil
				}
				var rows [][]string
				appendTOCRows(&rows, items, 0)
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Title", "Target", "Spine"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&landmarks, "landmarks", false, "Show the EPUB 3 landmarks instead")
	return cmd
}

func appendTOCRows(rows *[][]string, items []polish.TOCItem, depth int) {
	for _, it := range items {
		target := it.Name
		if target == "" {
			target = "-"
		} else if it.Frag != "" {
			target += "#" + it.Frag
		}
		spine := "-"
		if it.SpineIndex >= 0 {
			spine = strconv.Itoa(it.SpineIndex)
		}
		*rows = append(*rows, []string{strings.Repeat("  ", depth) + it.Title, target, spine})
		appendTOCRows(rows, it.Children, depth+1)
	}
}
