package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/simp-lee/polish"
	"github.com/simp-lee/polish/check"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "check <book>",
		Short: "Report broken links, malformed files and manifest problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("workers") {
				workers = cfg.Check.Workers
			}
			return ctx.withBook(cmd, args[0], func(book *polish.Container) error {
				problems, err := check.Book(cmd.Context(), book, workers)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(problems) == 0 {
					fmt.Fprintln(out, "No problems found")
					return nil
				}
				rows := make([][]string, len(problems))
				for i, p := range problems {
					line := ""
					if p.Line > 0 {
						line = strconv.Itoa(p.Line)
					}
					rows[i] = []string{p.Level.String(), p.Name, line, p.Check, p.Message}
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Level", "File", "Line", "Check", "Message"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
				))
				if check.HasErrors(problems) {
					return fmt.Errorf("%s: %d problems found", args[0], len(problems))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "j", 0, "Files checked concurrently (0 means one per CPU)")
	return cmd
}
