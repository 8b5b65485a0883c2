package commands

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/qstransfer/qs/cmd/qs/tui"
	"github.com/qstransfer/qs/internal/engine"
	"github.com/qstransfer/qs/internal/events"
)

const (
	rendezvousFlagDesc = `Address of the rendezvous relay. Accepted formats:
  - 127.0.0.1:7465
  - somedomain.com:7465
	`
	destFlagDesc = "Destination directory to materialize the transfer into"
)

// ErrRejected and ErrCancelled are the sentinel outcomes main.go maps
// to the exit codes named in spec.md §6 (2 and 3 respectively); they
// are expected terminal outcomes, not failures (spec.md §7 "User").
var (
	ErrRejected  = errors.New("qs: offer rejected")
	ErrCancelled = errors.New("qs: transfer cancelled")
)

// IsNetworkError reports whether err is a *engine.SessionError of kind
// NetworkError, mapping to exit code 4 (spec.md §6).
func IsNetworkError(err error) bool {
	var se *engine.SessionError
	return errors.As(err, &se) && se.Kind == events.NetworkError
}

// validateAddress validates a host:port pair supplied for --rendezvous.
func validateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("qs: invalid rendezvous address %q: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("qs: invalid rendezvous address %q: empty host", addr)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("qs: invalid rendezvous address %q: bad port", addr)
	}
	return nil
}

// formatBytes renders a byte count for the plain event log lines.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func printErrLine(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// progressRelay forwards the progress-phase events of a transfer
// (BytesTransferred/TransferFinished/TransferCancelled/Error) into a
// live cmd/qs/tui.Model instead of the plain log lines send.go/
// receive.go otherwise print, for the opt-in `--tui` flag.
type progressRelay struct {
	ch   chan events.Event
	done chan struct{}
}

// startProgressTUI launches a bubbletea program rendering title's
// progress against total expected bytes (0 renders a bar that never
// fills, still an accurate "unknown total" signal per tui.New). The
// caller must call finish once the surrounding event loop is done.
func startProgressTUI(title string, total uint64) *progressRelay {
	ch := make(chan events.Event, 32)
	prog := tea.NewProgram(tui.New(title, total, ch))
	done := make(chan struct{})
	go func() {
		_, _ = prog.Run()
		close(done)
	}()
	return &progressRelay{ch: ch, done: done}
}

func (r *progressRelay) forward(e events.Event) { r.ch <- e }

func (r *progressRelay) finish() {
	close(r.ch)
	<-r.done
}

// awaitOutcome drains a session's event channel until a terminal event
// arrives, passing every event to onEvent (when non-nil) first. A
// FilesDecision with Accepted false yields ErrRejected and
// TransferCancelled yields ErrCancelled; TransferFinished and Error
// return whatever the session's Run goroutine reported.
func awaitOutcome(eventCh <-chan events.Event, runErrCh <-chan error, onEvent func(events.Event)) error {
	for e := range eventCh {
		if onEvent != nil {
			onEvent(e)
		}
		switch e.Kind {
		case events.FilesDecision:
			if !e.Accepted {
				<-runErrCh
				return ErrRejected
			}
		case events.TransferFinished:
			return <-runErrCh
		case events.TransferCancelled:
			<-runErrCh
			return ErrCancelled
		case events.Error:
			return <-runErrCh
		}
	}
	return <-runErrCh
}
