package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/threadrelay/event"
	"github.com/randalmurphal/threadrelay/fault"
	"github.com/randalmurphal/threadrelay/runtime"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models the CLI offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				models, err := a.svc.ListModels(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tVISION\tREASONING")
				for _, m := range models {
					reasoning := "-"
					if m.SupportsReasoningEffort {
						reasoning = strings.Join(m.SupportedReasoningEfforts, ",")
					}
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", m.ID, m.Name, m.SupportsVision, reasoning)
				}
				return w.Flush()
			})
		},
	}
}

func newAuthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Show whether the CLI is authenticated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				status, err := a.svc.AuthStatus(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, status.StatusMessage)
				if status.Login != "" {
					fmt.Fprintf(out, "login: %s@%s\n", status.Login, status.Host)
				}
				return nil
			})
		},
	}
}

func newWorkspaceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage workspaces",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <folder>",
			Short: "Register a folder as a workspace",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(opts, func(a *app) error {
					ws, err := a.resolver.Add(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ws.ID, ws.RootPath)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List workspaces",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(opts, func(a *app) error {
					list, err := a.store.ListWorkspaces(cmd.Context())
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tNAME\tPATH")
					for _, ws := range list {
						fmt.Fprintf(w, "%s\t%s\t%s\n", ws.ID, ws.Name, ws.RootPath)
					}
					return w.Flush()
				})
			},
		},
	)
	return cmd
}

func newThreadCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Manage threads",
	}

	var model string
	create := &cobra.Command{
		Use:   "create <workspace-id>",
		Short: "Create a thread and open its session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				th, err := a.svc.CreateThread(cmd.Context(), args[0], model)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), th.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&model, "model", "", "Model for the thread")

	cmd.AddCommand(
		create,
		&cobra.Command{
			Use:   "list <workspace-id>",
			Short: "List the threads of a workspace",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(opts, func(a *app) error {
					threads, err := a.store.ListThreads(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tTITLE\tMODEL\tUPDATED")
					for _, th := range threads {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", th.ID, th.Title, orDash(th.Model), th.UpdatedAt.Local().Format(time.DateTime))
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "resume <thread-id>",
			Short: "Reopen the session of a thread",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(opts, func(a *app) error {
					th, err := a.svc.ResumeThread(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tsession %s\n", th.ID, th.SessionID)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "archive <thread-id>",
			Short: "Hide a thread from listings",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(opts, func(a *app) error {
					return a.store.ArchiveThread(cmd.Context(), args[0])
				})
			},
		},
	)
	return cmd
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	var (
		model       string
		attachments []string
	)
	cmd := &cobra.Command{
		Use:   "send <thread-id> <prompt>",
		Short: "Send a prompt and stream the reply",
		Long: `Send a prompt to a thread and stream the assistant reply to stdout.
Tool activity is printed to stderr. Ctrl-C aborts the turn.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID, prompt := args[0], args[1]
			return withApp(opts, func(a *app) error {
				in := runtime.SendInput{ThreadID: threadID, Prompt: prompt, Model: model}
				for _, p := range attachments {
					abs, err := filepath.Abs(p)
					if err != nil {
						return err
					}
					in.Attachments = append(in.Attachments, event.Attachment{Path: abs})
				}

				unsubscribe := a.svc.OnThreadEvent(threadID, printer(cmd.OutOrStdout(), cmd.ErrOrStderr()))
				defer unsubscribe()

				interrupts := make(chan os.Signal, 1)
				signal.Notify(interrupts, os.Interrupt)
				defer signal.Stop(interrupts)
				done := make(chan struct{})
				defer close(done)
				go func() {
					select {
					case <-interrupts:
						_ = a.svc.Abort(cmd.Context(), threadID)
					case <-done:
					}
				}()

				err := a.svc.SendMessage(cmd.Context(), in)
				if errors.Is(err, fault.ErrAborted) {
					fmt.Fprintln(cmd.ErrOrStderr(), "\naborted")
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Switch the thread to this model")
	cmd.Flags().StringSliceVarP(&attachments, "attach", "a", nil, "Attach a file (repeatable)")
	return cmd
}

// printer streams deltas to out and tool and session activity to errOut.
func printer(out, errOut io.Writer) runtime.Handler {
	return func(ev event.Event) {
		switch p := ev.Payload.(type) {
		case event.AssistantDelta:
			fmt.Fprint(out, p.DeltaContent)
		case event.SessionIdle:
			fmt.Fprintln(out)
		case event.ToolStart:
			fmt.Fprintf(errOut, "[tool] %s\n", p.ToolName)
		case event.ToolComplete:
			if !p.Success && p.Error != nil {
				fmt.Fprintf(errOut, "[tool] failed: %s\n", p.Error.Message)
			}
		case event.SessionError:
			fmt.Fprintf(errOut, "[error] %s\n", p.Message)
		case event.ModelChange:
			fmt.Fprintf(errOut, "[model] %s\n", p.NewModel)
		}
	}
}

func newMessagesCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "messages <thread-id>",
		Short: "Print the transcript of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				msgs, err := a.svc.ListMessages(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					for _, m := range msgs {
						if err := enc.Encode(m); err != nil {
							return err
						}
					}
					return nil
				}
				for _, m := range msgs {
					fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per message")
	return cmd
}

func newSkillsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "skills <workspace-id>",
		Short: "List the skills available to a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				skills, err := a.resolver.Skills(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSCOPE\tDESCRIPTION")
				for _, s := range skills {
					fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Scope, orDash(s.Description))
				}
				return w.Flush()
			})
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the event envelope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := json.MarshalIndent(event.Schema(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
