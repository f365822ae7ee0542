package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"transcoder/internal/contentstore"
	"transcoder/internal/ipc"
	"transcoder/internal/services"
)

type submitFlags struct {
	priority int
	wait     bool
	timeout  time.Duration
}

func (f *submitFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.priority, "priority", "p", 0, "Job priority; higher runs first (default: scheduler.default_priority)")
	cmd.Flags().BoolVarP(&f.wait, "wait", "w", false, "Block until the job finishes")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Give up waiting after this long (0 waits indefinitely)")
}

func (f *submitFlags) priorityPtr(cmd *cobra.Command) *int {
	if !cmd.Flags().Changed("priority") {
		return nil
	}
	p := f.priority
	return &p
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var flags submitFlags
	var submit bool
	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Import a source file into the content store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := contentstore.NewFS(cfg.Paths.StoreDir)
			if err != nil {
				return err
			}
			hash, err := store.AddFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			if !submit {
				return nil
			}
			return submitJob(ctx, cmd, hash, &flags, false)
		},
	}
	cmd.Flags().BoolVar(&submit, "submit", false, "Submit a transcode job for the imported file")
	flags.register(cmd)
	return cmd
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var flags submitFlags
	cmd := &cobra.Command{
		Use:   "submit <content-hash>",
		Short: "Submit a transcode job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitJob(ctx, cmd, strings.TrimSpace(args[0]), &flags, false)
		},
	}
	flags.register(cmd)
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var flags submitFlags
	cmd := &cobra.Command{
		Use:   "retry <content-hash>",
		Short: "Re-admit a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitJob(ctx, cmd, strings.TrimSpace(args[0]), &flags, true)
		},
	}
	flags.register(cmd)
	return cmd
}

func submitJob(ctx *commandContext, cmd *cobra.Command, hash string, flags *submitFlags, retry bool) error {
	return ctx.withClient(func(client *ipc.Client) error {
		callCtx, cancel := callContext(cmd)
		defer cancel()

		var (
			resp *ipc.JobResponse
			err  error
		)
		if retry {
			resp, err = client.Retry(callCtx, hash, flags.priorityPtr(cmd))
		} else {
			resp, err = client.Submit(callCtx, hash, flags.priorityPtr(cmd))
		}
		if err != nil {
			return describeFailure(err)
		}

		out := cmd.OutOrStdout()
		if resp.Admitted {
			fmt.Fprintf(out, "Job %s queued (priority %d)\n", resp.JobID, resp.Priority)
		} else {
			fmt.Fprintf(out, "Job for %s already %s\n", shortHash(hash), statusLabel(resp.Status))
		}
		if !flags.wait {
			return nil
		}
		return waitJob(cmd, client, hash, flags.timeout)
	})
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <content-hash>",
		Short: "Show the stored status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				callCtx, cancel := callContext(cmd)
				defer cancel()
				resp, err := client.Status(callCtx, strings.TrimSpace(args[0]))
				if err != nil {
					return describeFailure(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), statusLabel(resp.Status))
				return nil
			})
		},
	}
}

func newWaitCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <content-hash>",
		Short: "Block until a job finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				return waitJob(cmd, client, strings.TrimSpace(args[0]), timeout)
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits indefinitely)")
	return cmd
}

func waitJob(cmd *cobra.Command, client *ipc.Client, hash string, timeout time.Duration) error {
	waitCtx := cmd.Context()
	if waitCtx == nil {
		waitCtx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, timeout)
		defer cancel()
	}
	resp, err := client.Wait(waitCtx, hash, timeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timed out waiting for %s", shortHash(hash))
		}
		return describeFailure(err)
	}
	renderWaitResult(cmd.OutOrStdout(), resp)
	return nil
}

func renderWaitResult(out io.Writer, resp *ipc.WaitResponse) {
	fmt.Fprintf(out, "Status: %s\n", statusLabel(resp.Status))
	if resp.Result == nil {
		return
	}
	res := resp.Result
	fmt.Fprintf(out, "Bundle: %s\n", res.BundleHash)
	fmt.Fprintf(out, "Duration: %s\n", (time.Duration(res.DurationMS) * time.Millisecond).Round(time.Millisecond))
	if len(res.Renditions) > 0 {
		rows := make([][]string, 0, len(res.Renditions))
		for _, r := range res.Renditions {
			rows = append(rows, []string{r.Label, fmt.Sprintf("%d", r.Bandwidth), r.Playlist})
		}
		fmt.Fprintln(out, renderTable([]string{"Rendition", "Bandwidth", "Playlist"}, rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft}))
	}
	if len(res.Screenshots) > 0 {
		fmt.Fprintf(out, "Screenshots: %s\n", strings.Join(res.Screenshots, ", "))
	}
	if res.PreviewError != "" {
		fmt.Fprintf(out, "Preview warning: %s\n", res.PreviewError)
	}
}

// describeFailure prefixes a classified error with its kind for display while
// keeping it matchable with errors.Is.
func describeFailure(err error) error {
	kind := services.Kind(err)
	if kind == services.KindUnknown || kind == services.KindCanceled {
		return err
	}
	return fmt.Errorf("%s error: %w", kindLabel(kind), err)
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
