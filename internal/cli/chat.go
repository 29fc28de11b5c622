package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/shopassist/server/internal/agent/graph/tools"
	"github.com/shopassist/server/internal/agent/model"
	errx "github.com/shopassist/server/internal/core/error"
	"github.com/shopassist/server/internal/server"
)

const chatHelp = `Commands:
  /history          show the thread transcript
  /cart             show the cart
  /resolve [note]   approve the pending escalation as a supervisor
  /reset            delete the thread and start over
  /thread           print the thread id
  /quit             leave`

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, app, err := setup(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			threadID, _ := cmd.Flags().GetString("thread")
			plain, _ := cmd.Flags().GetBool("plain")

			s := &chatSession{
				assistant: app.Runner,
				catalog:   app.Catalog,
				threadID:  threadID,
				out:       cmd.OutOrStdout(),
				render:    newRenderer(plain),
			}
			return s.run(cmd.Context(), cmd.InOrStdin())
		},
	}
	cmd.Flags().String("thread", "", "Resume an existing thread id")
	cmd.Flags().Bool("plain", false, "Print replies without markdown rendering")
	cmd.Flags().String("store", "", "Conversation store backend: memory or redis (overrides STORE_BACKEND)")
	return cmd
}

// newRenderer renders replies as markdown when stdout is a terminal.
func newRenderer(plain bool) func(string) string {
	fd := int(os.Stdout.Fd())
	if plain || !term.IsTerminal(fd) {
		return func(s string) string { return s }
	}

	width := 100
	if w, _, err := term.GetSize(fd); err == nil && w > 20 {
		width = w - 4
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return func(s string) string { return s }
	}
	return func(s string) string {
		out, err := r.Render(s)
		if err != nil {
			return s
		}
		return strings.TrimRight(out, "\n")
	}
}

// chatSession is one interactive conversation on a single thread.
type chatSession struct {
	assistant server.Assistant
	catalog   tools.Catalog
	threadID  string
	out       io.Writer
	render    func(string) string
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(s.out, "Type a message, or /help for commands.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		quit, err := s.handle(ctx, line)
		if err != nil {
			fmt.Fprintf(s.out, "error: %s\n", describe(err))
		}
		if quit {
			return nil
		}
	}
}

// handle processes one input line and reports whether the session should end.
func (s *chatSession) handle(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, s.turn(ctx, line)
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(s.out, chatHelp)
	case "/thread":
		fmt.Fprintln(s.out, s.threadOrNone())
	case "/history":
		conv, err := s.conversation(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprint(s.out, formatHistory(conv))
	case "/cart":
		conv, err := s.conversation(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, tools.FormatCart(conv.Cart, s.catalog))
	case "/resolve":
		if s.threadID == "" {
			return false, errx.InvalidArgument("no thread yet")
		}
		if _, err := s.assistant.ResolveEscalation(ctx, s.threadID, arg); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "Escalation resolved.")
	case "/reset":
		if s.threadID != "" {
			if err := s.assistant.Reset(ctx, s.threadID); err != nil {
				return false, err
			}
		}
		fmt.Fprintln(s.out, "Conversation reset.")
	default:
		return false, errx.InvalidArgument("unknown command %s", name)
	}
	return false, nil
}

func (s *chatSession) turn(ctx context.Context, text string) error {
	res, err := s.assistant.RunSingleTurn(ctx, s.threadID, text)
	if err != nil {
		return err
	}
	s.threadID = res.ThreadID

	fmt.Fprintf(s.out, "[%s] %s\n", res.ActiveAgent, s.render(res.Reply))
	if res.Status != model.TurnCompleted {
		fmt.Fprintf(s.out, "(%s)\n", res.Status)
	}
	return nil
}

func (s *chatSession) conversation(ctx context.Context) (*model.Conversation, error) {
	if s.threadID == "" {
		return nil, errx.InvalidArgument("no thread yet")
	}
	return s.assistant.Conversation(ctx, s.threadID)
}

func (s *chatSession) threadOrNone() string {
	if s.threadID == "" {
		return "(new thread)"
	}
	return s.threadID
}

// formatHistory prints one line per transcript entry.
func formatHistory(conv *model.Conversation) string {
	var sb strings.Builder
	for _, m := range conv.Messages {
		switch m.Role {
		case schema.User:
			who := "user"
			if m.Name != "" {
				who = m.Name
			}
			fmt.Fprintf(&sb, "%s: %s\n", who, m.Content)
		case schema.Assistant:
			agent, _ := m.Extra[model.ExtraAgent].(string)
			if agent == "" {
				agent = "assistant"
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&sb, "%s -> %s(%s) [%s]\n", agent, tc.Function.Name, tc.Function.Arguments, tc.ID)
			}
			if m.Content != "" {
				fmt.Fprintf(&sb, "%s: %s\n", agent, m.Content)
			}
		case schema.Tool:
			status, _ := m.Extra[model.ExtraStatus].(string)
			fmt.Fprintf(&sb, "  %s [%s] %s\n", m.ToolCallID, status, firstLine(m.Content))
		}
	}
	return sb.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func describe(err error) string {
	kind := errx.KindOf(err)
	if kind == "InternalError" {
		return err.Error()
	}
	return fmt.Sprintf("%s: %s", kind, errx.MessageOf(err))
}
