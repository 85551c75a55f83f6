package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/bnema/sketchmotion/internal/port"
	"github.com/bnema/sketchmotion/internal/service"
)

type StatusReader interface {
	Status(ctx context.Context, id string) (*service.PipelineView, error)
}

func Status(ctx context.Context, w io.Writer, pipelines StatusReader, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: sketchmotion status <pipeline-id>")
	}
	view, err := pipelines.Status(ctx, args[0])
	if err != nil {
		return fmt.Errorf("pipeline %s: %w", args[0], err)
	}
	_, err = io.WriteString(w, RenderPipeline(view))
	return err
}

// Resources prints the health last persisted by the server.
func Resources(ctx context.Context, w io.Writer, store port.ResourceStore) error {
	resources, err := store.ListResources(ctx)
	if err != nil {
		return fmt.Errorf("list resources: %w", err)
	}
	_, err = io.WriteString(w, RenderResources(resources, time.Now()))
	return err
}

// HashToken prints the bcrypt hash to configure as AUTH_TOKEN_HASH.
func HashToken(w io.Writer, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: sketchmotion hash-token <token>")
	}
	hash, err := service.HashToken(args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}

func PrintUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, titleStyle.Render("sketchmotion: animation job pipeline"))
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Commands:")
	_, _ = fmt.Fprintln(w, "  serve                  run the API server and the scheduler (default)")
	_, _ = fmt.Fprintln(w, "  status <pipeline-id>   show a pipeline and its jobs")
	_, _ = fmt.Fprintln(w, "  resources              show resource health")
	_, _ = fmt.Fprintln(w, "  deposit <user> <n>     add credits to a user's balance")
	_, _ = fmt.Fprintln(w, "  hash-token <token>     print the AUTH_TOKEN_HASH for an operator token")
}

type Depositor interface {
	Deposit(ctx context.Context, userRef string, amount int64) error
	Balance(ctx context.Context, userRef string) (int64, error)
}

// Deposit adds credits to a user's balance and prints the new balance.
func Deposit(ctx context.Context, w io.Writer, ledger Depositor, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: sketchmotion deposit <user> <amount>")
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		return fmt.Errorf("invalid amount %q", args[1])
	}
	if err := ledger.Deposit(ctx, args[0], amount); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	balance, err := ledger.Balance(ctx, args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s balance %d\n", okStyle.Render(args[0]), balance)
	return err
}
