package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ragchat.dev/doc-chatbot/internal/chat"
)

func main() {
	root := rootCMD()
	root.AddCommand(askCMD(), healthCMD(), infoCMD())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCMD() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragchat",
		Short: "Chat with the document chatbot",
		Long:  "Ask questions about the ingested documents. Lines ending in \\ continue on the next line, /quit exits.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session := chat.NewSession(newClient(), chat.WithMaxSources(viper.GetInt("max-sources")))
			return runREPL(cmd.Context(), os.Stdin, cmd.OutOrStdout(), session, renderOptions()...)
		},
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("server", chat.DefaultBaseURL, "chatbot API base URL")
	flags.Int("max-sources", chat.DefaultMaxSources, "maximum number of sources per answer (1-10)")
	flags.Bool("no-snippets", false, "hide source snippets")

	viper.SetEnvPrefix("RAGCHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{"server", "max-sources", "no-snippets"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	return root
}

func askCMD() *cobra.Command {
	return &cobra.Command{
		Use:          "ask <question>",
		Short:        "Ask a single question and print the answer",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			session := chat.NewSession(newClient(), chat.WithMaxSources(viper.GetInt("max-sources")))
			if err := session.Send(cmd.Context(), strings.Join(args, " ")); err != nil {
				if session.Err() != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), session.Err())
				}
				return err
			}

			msgs := session.Messages()
			return chat.RenderMessage(cmd.OutOrStdout(), msgs[len(msgs)-1], renderOptions()...)
		},
	}
}

func healthCMD() *cobra.Command {
	return &cobra.Command{
		Use:          "health",
		Short:        "Print server health",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			health, err := newClient().Health(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, health)
		},
	}
}

func infoCMD() *cobra.Command {
	return &cobra.Command{
		Use:          "info",
		Short:        "Print collection info",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := newClient().CollectionInfo(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, info)
		},
	}
}

func newClient() *chat.Client {
	return chat.NewClient(viper.GetString("server"))
}

func renderOptions() []chat.RenderOption {
	return []chat.RenderOption{chat.WithSnippets(!viper.GetBool("no-snippets"))}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
