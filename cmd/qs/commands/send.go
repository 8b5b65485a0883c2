package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/qstransfer/qs/internal/endpoint/wsendpoint"
	"github.com/qstransfer/qs/internal/engine"
	"github.com/qstransfer/qs/internal/events"
	"github.com/qstransfer/qs/internal/fstree"
)

// Send builds the `qs send` command (spec.md §6 "upload_files").
func Send(version string) *cobra.Command {
	sendCmd := &cobra.Command{
		Use:   "send file1 file2...",
		Short: "Send one or more files or directories",
		Long:  "The send command offers one or more files or directories to a single receiver, directly, over an authenticated encrypted connection.",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("rendezvous", cmd.Flags().Lookup("rendezvous")); err != nil {
				return fmt.Errorf("binding rendezvous flag: %w", err)
			}
			if err := viper.BindPFlag("concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return fmt.Errorf("binding concurrency flag: %w", err)
			}
			if err := viper.BindPFlag("tui", cmd.Flags().Lookup("tui")); err != nil {
				return fmt.Errorf("binding tui flag: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(args)
		},
	}
	sendCmd.Flags().StringP("rendezvous", "r", "", rendezvousFlagDesc)
	sendCmd.Flags().IntP("concurrency", "k", 0, "Number of concurrent per-file streams (spec.md §4.5 K); 0 uses the package default")
	sendCmd.Flags().Bool("tui", false, "Render transfer progress with a live progress bar instead of plain log lines")
	return sendCmd
}

func runSend(paths []string) error {
	relayAddr := viper.GetString("rendezvous")
	if err := validateAddress(relayAddr); err != nil {
		return err
	}

	// spec.md §4 SUPPLEMENTED FEATURES: whole-tree size precomputation
	// before offering, so the operator sees "X files, Y total" before
	// the ticket is even published.
	entries, err := fstree.OSProvider{}.Walk(paths)
	if err != nil {
		return fmt.Errorf("qs: scanning %v: %w", paths, err)
	}
	var fileCount int
	for _, e := range entries {
		if !e.IsDir {
			fileCount++
		}
	}
	fmt.Printf("%d file(s), %s total\n", fileCount, formatBytes(fstree.TotalSize(entries)))

	ept, err := wsendpoint.New(relayAddr)
	if err != nil {
		return fmt.Errorf("qs: binding endpoint: %w", err)
	}
	defer ept.Close()

	eventCh := make(chan events.Event, 32)
	sink := events.SinkFunc(func(e events.Event) { eventCh <- e })

	absPaths := make([]string, len(paths))
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("qs: resolving %q: %w", p, err)
		}
		absPaths[i] = abs
	}

	session := engine.NewSender(ept, sink, absPaths)
	if k := viper.GetInt("concurrency"); k > 0 {
		session.SetConcurrency(k)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		session.CancelTransfer()
	}()

	runErrCh := make(chan error, 1)
	go func() {
		defer close(eventCh)
		runErrCh <- session.Run(ctx)
	}()

	useTUI := viper.GetBool("tui")
	var relay *progressRelay

	err = awaitOutcome(eventCh, runErrCh, func(e events.Event) {
		switch e.Kind {
		case events.ConnectedToServer:
			fmt.Println("connected to rendezvous relay")
		case events.TicketReady:
			fmt.Printf("ticket: %s\n", e.Ticket)
			// Best effort; clipboard access is never fatal (spec.md §2.4).
			_ = clipboard.WriteAll(fmt.Sprintf("qs receive %s", e.Ticket))
		case events.PeerConnected:
			fmt.Printf("peer connected (%s)\n", e.Class)
		case events.FilesDecision:
			if e.Accepted {
				if useTUI {
					relay = startProgressTUI("sending", fstree.TotalSize(entries))
				} else {
					fmt.Println("offer accepted, transferring...")
				}
			} else {
				printErrLine("offer rejected by receiver")
			}
		case events.BytesTransferred:
			if relay != nil {
				relay.forward(e)
			} else {
				fmt.Printf("\r%s transferred", formatBytes(e.TotalSoFar))
			}
		case events.TransferFinished:
			if relay != nil {
				relay.forward(e)
			} else {
				fmt.Println("\ntransfer finished")
			}
		case events.TransferCancelled:
			if relay != nil {
				relay.forward(e)
			} else {
				fmt.Printf("\ntransfer cancelled: %s\n", e.Reason)
			}
		case events.Error:
			if relay != nil {
				relay.forward(e)
			} else {
				printErrLine("error: %s: %s", e.ErrorKind, e.Message)
			}
		}
	})
	if relay != nil {
		relay.finish()
	}
	return err
}
