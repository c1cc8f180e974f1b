package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"support-chat-be/pkg/chatclient"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type Options struct {
	Server    string
	WsURL     string
	User      string
	StorePath string
	Name      string
	Email     string
	Phone     string
}

func (o *Options) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.Server, "server", "s", "http://localhost:3000", "support service base url")
	flagSet.StringVar(&o.WsURL, "ws", "", "live channel url (default derived from --server)")
	flagSet.StringVarP(&o.User, "user", "u", "", "visitor identifier (default: hostname)")
	flagSet.StringVar(&o.StorePath, "store", ".support-session.json", "file keeping the resumable session")
	flagSet.StringVar(&o.Name, "name", "", "intake: visitor name")
	flagSet.StringVar(&o.Email, "email", "", "intake: visitor email")
	flagSet.StringVar(&o.Phone, "phone", "", "intake: visitor phone")
}

func (o *Options) wsURL() string {
	if o.WsURL != "" {
		return o.WsURL
	}
	base := strings.Replace(o.Server, "http", "ws", 1)
	return strings.TrimRight(base, "/") + "/api/support/ws"
}

func (o *Options) intake() *chatclient.Intake {
	if o.Name == "" && o.Email == "" && o.Phone == "" {
		return nil
	}
	return &chatclient.Intake{Name: o.Name, Email: o.Email, Phone: o.Phone}
}

func main() {
	opts := &Options{}
	root := &cobra.Command{
		Use:   "chat-client",
		Short: "terminal visitor for the support chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts)
		},
	}
	opts.AddFlags(root.PersistentFlags())

	root.AddCommand(&cobra.Command{
		Use:   "forget",
		Short: "drop the saved session so the next run starts a new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return chatclient.NewFileStore(opts.StorePath).Clear()
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runChat(ctx context.Context, opts *Options) error {
	if opts.User == "" {
		opts.User, _ = os.Hostname()
	}

	view := newPrinter()
	manager := chatclient.NewManager(
		chatclient.NewHTTPAPI(opts.Server),
		chatclient.NewWSDialer(opts.wsURL()),
		chatclient.NewFileStore(opts.StorePath),
		chatclient.Config{
			UserIdentifier: opts.User,
			Intake:         opts.intake(),
			OnChange:       view.render,
		},
	)

	if err := manager.Open(ctx); err != nil {
		color.Red("Failed to open chat: %v", err)
		return err
	}
	defer manager.Close()

	color.Cyan("Support chat %s. Type a message, /end to finish the conversation, /quit to leave.", manager.Snapshot().SessionID)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(line) {
			case "":
				continue
			case "/quit":
				return nil
			case "/end":
				if err := manager.EndChat(ctx); err != nil {
					color.Red("Failed to end chat: %v", err)
					continue
				}
				color.Cyan("Conversation closed.")
				return nil
			}
			if err := manager.Send(ctx, line); err != nil {
				color.Red("Not sent: %v", err)
			}
		}
	}
}

// printer writes each confirmed message once and reports state changes.
type printer struct {
	mu       sync.Mutex
	seen     map[string]bool
	state    chatclient.State
	status   string
	position int
	notice   string
}

func newPrinter() *printer {
	return &printer{seen: make(map[string]bool), position: -1}
}

func (p *printer) render(s chatclient.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.State != p.state {
		p.state = s.State
		color.HiBlack("[%s]", s.State)
	}

	pos := -1
	if s.QueuePosition != nil {
		pos = *s.QueuePosition
	}
	if s.Status != p.status || pos != p.position {
		p.status, p.position = s.Status, pos
		switch {
		case s.Status == "queued" && pos >= 0:
			color.Yellow("Waiting for an operator, %d ahead of you", pos)
		case s.Status == "active":
			color.Green("An operator is with you")
		case s.Status == "closed":
			color.Cyan("The conversation was closed")
		}
	}

	for _, m := range s.Messages {
		if m.Pending || p.seen[m.ID] {
			continue
		}
		p.seen[m.ID] = true
		if m.SenderType == "manager" {
			color.Magenta("%s operator: %s", m.Timestamp.Format("15:04"), m.Text)
		} else {
			fmt.Printf("%s you: %s\n", m.Timestamp.Format("15:04"), m.Text)
		}
	}

	if s.Notice != "" && s.Notice != p.notice {
		color.Red("%s", s.Notice)
	}
	p.notice = s.Notice
}
