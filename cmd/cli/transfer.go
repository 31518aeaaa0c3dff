package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jaywantadh/ThreadByte/internal/transfer"
)

// followTask prints the progress of task until it ends. Cancelling ctx
// cancels the transfer at its next chunk boundary.
func followTask(ctx context.Context, out io.Writer, task *transfer.Task, label string) error {
	stop := context.AfterFunc(ctx, task.Cancel)
	defer stop()

	for sm := range task.Subscribe() {
		if sm.Failed {
			fmt.Fprintf(out, "\r%s: failed\n", label)
			continue
		}
		res := task.Result()
		fmt.Fprintf(out, "\r%s: %5.1f%% (%s, %d chunks)", label, sm.Percent, transfer.FormatBytes(res.Bytes), res.Chunks)
	}

	if err := task.Wait(context.Background()); err != nil {
		return err
	}
	info := task.Info()
	fmt.Fprintf(out, "\n✅ %s finished in %s\n", label, transfer.FormatDuration(info.FinishedAt.Sub(info.StartedAt)))
	return nil
}
