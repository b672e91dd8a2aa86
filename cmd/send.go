// cmd/send.go
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/n0call/cwengine/internal/config"
	"github.com/n0call/cwengine/internal/engine"
	"github.com/n0call/cwengine/internal/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Send CW (Morse code) to an audio sink",
	Long: `Sends text as keyed CW tones through the configured audio sink.
With no arguments, text is read line by line from standard input.`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().IntP("send-wpm", "s", 15, "send speed in words per minute")
	sendCmd.Flags().StringP("sink", "k", "", "sink variant: silent|console|oss|alsa|capture-loopback")

	cobra.CheckErr(viper.BindPFlag("send_wpm", sendCmd.Flags().Lookup("send-wpm")))
	cobra.CheckErr(viper.BindPFlag("sink_variant", sendCmd.Flags().Lookup("sink")))
}

func runSend(cmd *cobra.Command, args []string) error {
	settings, err := config.Get()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var reg *metrics.Registry
	if settings.MetricsAddr != "" {
		reg = metrics.New()
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go func() {
			if err := reg.Serve(ctx, settings.MetricsAddr); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "metrics listener: %v\n", err)
			}
		}()
	}

	h, err := engine.New(settings, reg)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	defer func() {
		if err := h.Delete(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error tearing down engine: %v\n", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		h.CompleteReset()
	}()

	if err := h.Start(); err != nil {
		return fmt.Errorf("start sink: %w", err)
	}

	if len(args) > 0 {
		return sendLine(h, args[0])
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := sendLine(h, scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

// sendLine enqueues each character of line that has a Morse
// representation, then blocks until the dispatcher has fully drained it
// before returning. Spaces are skipped without enqueuing any word gap, and
// characters with no representation are reported on stderr and skipped.
func sendLine(h *engine.Handle, line string) error {
	for _, ch := range line {
		if ch == ' ' {
			continue
		}
		if err := h.SendCharacter(ch); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "skipping %q: %v\n", ch, err)
			continue
		}
	}
	return h.Queue().WaitForQueue()
}
