package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"goflare.io/aegis"
	"goflare.io/aegis/internal/notify"
	"goflare.io/aegis/internal/realtime"
)

// printNotifier writes surfaced notifications as JSON lines.
type printNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printNotifier) Show(n aegis.Notification, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return writeJSON(p.w, n)
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect the realtime channel and print notifications",
		Long: `Watch keeps the realtime notification channel open, reconnecting with
backoff, and prints every notification the user's preferences allow.
Connection state changes are reported on stderr. Interrupt to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			notifier := &printNotifier{w: cmd.OutOrStdout()}
			granted := notify.PermissionFunc(func() bool { return true })

			client, err := newClient(cmd.Context(), rootOpts, aegis.WithNotifier(notifier, granted))
			if err != nil {
				return err
			}
			defer client.Close()

			channel := client.Realtime()
			if channel == nil {
				return aegis.ErrRealtimeDisabled
			}
			errOut := cmd.ErrOrStderr()
			channel.OnStateChange(func(s realtime.State) {
				fmt.Fprintf(errOut, "realtime: %s\n", s)
			})

			if err := client.Connect(cmd.Context()); err != nil {
				return err
			}
			<-cmd.Context().Done()
			client.Disconnect()
			return nil
		},
	}
	return cmd
}
