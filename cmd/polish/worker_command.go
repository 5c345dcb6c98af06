package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/simp-lee/polish"
	"github.com/simp-lee/polish/internal/worker"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Serve one codec request on stdin",
		Hidden: true,
		Args:   cobra.NoArgs,
		Annotations: map[string]string{
			"skipConfigLoad": "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveWorker(cmd.Context(), cmd)
		},
	}
}

func serveWorker(ctx context.Context, cmd *cobra.Command) error {
	return worker.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), polish.ServeCodec(builtinCodec{}))
}

// builtinCodec is served when no external codec is configured. It has no
// MOBI support of its own.
type builtinCodec struct{}

func (builtinCodec) Explode(context.Context, string, string) (string, []string, error) {
	return "", nil, fmt.Errorf("%w: set [worker] command in %s", polish.ErrNoCodec, configHint())
}

func (builtinCodec) Rebuild(context.Context, string, string, []string) error {
	return fmt.Errorf("%w: set [worker] command in %s", polish.ErrNoCodec, configHint())
}

func configHint() string {
	if p := os.Getenv("POLISH_CONFIG"); p != "" {
		return p
	}
	return "the configuration file"
}
