package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"docsage/internal/domain"
)

// CLI implements domain.Channel for interactive terminal chat. Pagination
// buttons have no terminal equivalent, so paged responses are navigated with
// /next, /prev and /done.
type CLI struct {
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	// nav is the pagination session of the last rendered response.
	nav   *domain.NavControls
	navMu sync.Mutex

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until context is cancelled.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound("cli", func(msg domain.OutboundMessage) {
		c.stopThinking()
		c.render(msg)
	})

	_, _ = fmt.Fprintln(c.out, "docsage CLI. Type your question and press Enter. Type /quit to exit.")
	_, _ = fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}
		if dir, ok := navCommand(line); ok {
			c.navigate(dir)
			continue
		}

		c.startThinking()
		c.bus.Publish(domain.InboundMessage{
			Channel:      "cli",
			ChatID:       "direct",
			SenderID:     "local",
			SenderName:   "local",
			Content:      line,
			BotMentioned: true,
			Timestamp:    time.Now(),
		})
	}
}

func navCommand(line string) (domain.NavDirection, bool) {
	switch line {
	case "/next", "/n":
		return domain.NavForward, true
	case "/prev", "/p":
		return domain.NavBackward, true
	case "/done", "/close":
		return domain.NavClose, true
	}
	return "", false
}

func (c *CLI) navigate(dir domain.NavDirection) {
	c.navMu.Lock()
	nav := c.nav
	c.navMu.Unlock()

	if nav == nil {
		_, _ = fmt.Fprintln(c.out, "No paged response to navigate.")
		_, _ = fmt.Fprint(c.out, "You> ")
		return
	}
	c.bus.PublishNavigation(domain.NavigationEvent{
		SessionKey: nav.SessionKey,
		Direction:  dir,
		ActorID:    "local",
		Channel:    "cli",
		ChatID:     "direct",
	})
}

func (c *CLI) render(msg domain.OutboundMessage) {
	c.navMu.Lock()
	c.nav = msg.Nav
	c.navMu.Unlock()

	_, _ = fmt.Fprintln(c.out, "\r\033[K") // Clear spinner line
	_, _ = fmt.Fprintln(c.out, "--- docsage ---")
	_, _ = fmt.Fprintln(c.out, msg.Content)
	if msg.Nav != nil {
		_, _ = fmt.Fprintf(c.out, "[page %d/%d] /next /prev /done\n", msg.Nav.Page+1, msg.Nav.TotalPages)
	}
	_, _ = fmt.Fprintln(c.out, "---------------")
	_, _ = fmt.Fprint(c.out, "You> ")
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-c.thinkStop:
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }
