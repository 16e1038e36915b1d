package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestShutdownGivesEachStepItsOwnTimeout(t *testing.T) {
	var order []string
	var laterErr error
	shutdown([]shutdownStep{
		{name: "slow", run: func(ctx context.Context) error {
			order = append(order, "slow")
			<-ctx.Done()
			return ctx.Err()
		}},
		{name: "next", run: func(ctx context.Context) error {
			order = append(order, "next")
			laterErr = ctx.Err()
			if _, ok := ctx.Deadline(); !ok {
				t.Errorf("step context has no deadline")
			}
			return nil
		}},
	}, 20*time.Millisecond, zerolog.Nop())

	if len(order) != 2 || order[0] != "slow" || order[1] != "next" {
		t.Fatalf("order = %v", order)
	}
	if laterErr != nil {
		t.Fatalf("second step started with expired context: %v", laterErr)
	}
}
