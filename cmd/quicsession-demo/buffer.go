package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caddyserver/quictransport/internal/buffer"
)

func newBufferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buffer",
		Short: "Walk through a ChunkedSendBuffer push/seek/consume/cancel lifecycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var b buffer.Chunked

			done := make(chan buffer.CompletionStatus, 1)
			chunkA := []byte("first chunk: 26 bytes long")
			chunkB := []byte("second chunk, 26 bytes too")
			if err := b.Push(func(status buffer.CompletionStatus) { done <- status }, chunkA, chunkB); err != nil {
				return err
			}
			fmt.Fprintf(out, "pushed group: length=%d remaining=%d (invisible until Seek)\n", b.Length(), b.Remaining())

			revealed := b.Seek(2)
			fmt.Fprintf(out, "seek(2) revealed %d chunks: remaining=%d\n", revealed, b.Remaining())

			for _, n := range []int64{25, 25, 25, 25} {
				consumed := b.Consume(n)
				fmt.Fprintf(out, "consume(%d) -> %d actually consumed; length now %d\n", n, consumed, b.Length())
			}

			select {
			case status := <-done:
				fmt.Fprintf(out, "completion fired: %v\n", status == buffer.StatusOK)
			default:
				fmt.Fprintln(out, "completion has not fired (unexpected for a fully consumed group)")
			}

			canceled := make(chan buffer.CompletionStatus, 1)
			if err := b.Push(func(status buffer.CompletionStatus) { canceled <- status }, make([]byte, 50)); err != nil {
				return err
			}
			b.Seek(1)
			b.Consume(25)
			b.Cancel()
			status := <-canceled
			fmt.Fprintf(out, "cancel() after consuming 25 of 50 bytes: canceled=%v\n", status == buffer.StatusCanceled)
			return nil
		},
	}
}
