package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/simp-lee/polish"
)

func newInfoCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "info <book>",
		Short: "Show the metadata and cover of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withBook(cmd, args[0], func(book *polish.Container) error {
				md, err := book.Metadata()
				if err != nil {
					return err
				}
				cover, err := book.CoverName()
				if errors.Is(err, polish.ErrNoCover) {
					cover = "-"
				} else if err != nil {
					return err
				}

				authors := make([]string, len(md.Authors))
				for i, a := range md.Authors {
					authors[i] = a.Name
				}
				rows := [][]string{
					{"Format", book.BookTypeForDisplay()},
					{"Package", firstNonEmpty(md.Version, book.OPFVersion())},
					{"Title", strings.Join(md.Titles, "; ")},
					{"Authors", strings.Join(authors, "; ")},
					{"Language", strings.Join(md.Language, ", ")},
					{"Identifier", md.UniqueIdentifier},
					{"Publisher", md.Publisher},
					{"Modified", md.Modified},
					{"OPF", book.OPFName()},
					{"Cover", cover},
					{"Spine", fmt.Sprintf("%d documents", len(book.SpineNames()))},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
				return nil
			})
		},
	}
}
