package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/erikgeiser/promptkit/confirmation"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/qstransfer/qs/internal/endpoint/wsendpoint"
	"github.com/qstransfer/qs/internal/engine"
	"github.com/qstransfer/qs/internal/events"
	"github.com/qstransfer/qs/internal/ticket"
)

// Receive builds the `qs receive` command (spec.md §6 "download_files",
// "accept_files", "reject_files").
func Receive(version string) *cobra.Command {
	receiveCmd := &cobra.Command{
		Use:   "receive ticket",
		Short: "Receive files or directories offered by a ticket",
		Long:  "The receive command redeems a ticket published by a sender, then prompts to accept or reject the resulting offer.",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("rendezvous", cmd.Flags().Lookup("rendezvous")); err != nil {
				return fmt.Errorf("binding rendezvous flag: %w", err)
			}
			if err := viper.BindPFlag("dest", cmd.Flags().Lookup("dest")); err != nil {
				return fmt.Errorf("binding dest flag: %w", err)
			}
			if err := viper.BindPFlag("yes", cmd.Flags().Lookup("yes")); err != nil {
				return fmt.Errorf("binding yes flag: %w", err)
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
			return runReceive(args[0])
		},
	}
	receiveCmd.Flags().StringP("rendezvous", "r", "127.0.0.1:7465", rendezvousFlagDesc)
	receiveCmd.Flags().StringP("dest", "d", ".", destFlagDesc)
	receiveCmd.Flags().BoolP("yes", "y", false, "Accept the offer without an interactive [Y/n] prompt")
	receiveCmd.Flags().IntP("concurrency", "k", 0, "Number of concurrent per-file streams; 0 uses the package default")
	receiveCmd.Flags().Bool("tui", false, "Render transfer progress with a live progress bar instead of plain log lines")
	return receiveCmd
}

func runReceive(ticketStr string) error {
	t, err := ticket.Parse(ticketStr)
	if err != nil {
		return fmt.Errorf("qs: invalid ticket: %w", err)
	}

	relayAddr := viper.GetString("rendezvous")
	if err := validateAddress(relayAddr); err != nil {
		return err
	}
	ept, err := wsendpoint.New(relayAddr)
	if err != nil {
		return fmt.Errorf("qs: binding endpoint: %w", err)
	}
	defer ept.Close()

	eventCh := make(chan events.Event, 32)
	sink := events.SinkFunc(func(e events.Event) { eventCh <- e })

	session := engine.NewReceiver(ept, sink, t)
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

	destDir := viper.GetString("dest")
	autoAccept := viper.GetBool("yes")
	useTUI := viper.GetBool("tui")
	var relay *progressRelay

	err = awaitOutcome(eventCh, runErrCh, func(e events.Event) {
		switch e.Kind {
		case events.ConnectedToServer:
			fmt.Println("connected to rendezvous relay")
		case events.PeerConnected:
			fmt.Printf("peer connected (%s)\n", e.Class)
		case events.OfferReceived:
			total := printOffer(e.Entries)
			if autoAccept || confirmAccept() {
				session.AcceptFiles(destDir)
				if useTUI {
					relay = startProgressTUI("receiving", total)
				}
			} else {
				session.RejectFiles("declined by receiver")
			}
		case events.InitialProgress:
			var already uint64
			for _, b := range e.PerFileBytesAlready {
				already += b
			}
			if already > 0 {
				fmt.Printf("resuming, %s already present\n", formatBytes(already))
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

// printOffer prints the offered entries and returns the total byte
// size of the non-directory entries, so callers can seed a progress
// display without a second pass over e.Entries.
func printOffer(entries []events.FileEntryInfo) uint64 {
	fmt.Println("offer:")
	var total uint64
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		total += e.Size
		fmt.Printf("  %s (%s)\n", strings.Join(e.RelativePath, "/"), formatBytes(e.Size))
	}
	fmt.Printf("%d entries, %s total\n", len(entries), formatBytes(total))
	return total
}

// confirmAccept prompts for the offer accept/reject decision the same
// way the TUI's overwrite prompt does (spec.md §6 "accept_files",
// "reject_files"), just run standalone rather than embedded in a
// bubbletea model.
func confirmAccept() bool {
	input := confirmation.New("Accept this offer?", confirmation.Yes)
	ok, err := input.RunPrompt()
	if err != nil {
		return false
	}
	return ok
}
