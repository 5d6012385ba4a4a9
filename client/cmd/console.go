package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/yegram/yegram/client/internal"
	"github.com/yegram/yegram/client/internal/chat"
	"github.com/yegram/yegram/client/internal/store"
)

const consoleHelp = `commands:
  /connect <id|@username>       connect to a peer
  /msg <id|@username> <text>    send a message
  /typing <id|@username> on|off announce typing
  /close <id|@username>         close the session with a peer
  /peers                        list the sessions
  /roster                       list the known peers
  /history <id|@username>       print the conversation
  /reconnect                    reconnect to every known peer
  /quit                         leave`

type chatEngine interface {
	Connect(idOrAlias string) error
	Disconnect(peerID string) error
	SendMessage(peerID, text string) (string, error)
	SetTyping(peerID string, typing bool) error
	ReconnectAll() error
	Sessions() []internal.SessionInfo
}

// console is the line oriented front end of the up command. It prints the engine notifications.
type console struct {
	store *store.Store

	mu     sync.Mutex
	out    io.Writer
	engine chatEngine
}

func newConsole(st *store.Store, out io.Writer) *console {
	return &console{store: st, out: out}
}

func (c *console) attach(engine chatEngine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engine = engine
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format+"\n", args...)
}

// run reads commands until /quit or the end of the input
func (c *console) run(in io.Reader) error {
	c.printf("type /help for the commands")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if quit := c.handle(scanner.Text()); quit {
			return nil
		}
	}
	return scanner.Err()
}

func (c *console) handle(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	c.mu.Lock()
	engine := c.engine
	c.mu.Unlock()
	if engine == nil {
		c.printf("engine is not running")
		return false
	}

	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch command {
	case "/quit", "/exit":
		return true
	case "/help":
		c.printf(consoleHelp)
	case "/connect":
		if rest == "" {
			c.printf("usage: /connect <id|@username>")
			return false
		}
		if err := engine.Connect(rest); err != nil {
			c.printf("connect %s: %v", rest, err)
			return false
		}
		c.printf("connecting to %s", rest)
	case "/msg":
		target, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if target == "" || text == "" {
			c.printf("usage: /msg <id|@username> <text>")
			return false
		}
		id, ok := c.resolve(target)
		if !ok {
			return false
		}
		if _, err := engine.SendMessage(id, text); err != nil {
			c.printf("send to %s: %v", target, err)
		}
	case "/typing":
		target, state, _ := strings.Cut(rest, " ")
		id, ok := c.resolve(target)
		if !ok {
			return false
		}
		if err := engine.SetTyping(id, strings.TrimSpace(state) != "off"); err != nil {
			c.printf("typing to %s: %v", target, err)
		}
	case "/close":
		id, ok := c.resolve(rest)
		if !ok {
			return false
		}
		if err := engine.Disconnect(id); err != nil {
			c.printf("close %s: %v", rest, err)
		}
	case "/peers":
		sessions := engine.Sessions()
		if len(sessions) == 0 {
			c.printf("no sessions")
		}
		for _, s := range sessions {
			c.printf("%s %s %s attempt %d", c.displayName(s.PeerID), s.State, s.Role, s.Attempt)
		}
	case "/roster":
		peers, err := c.store.Roster()
		if err != nil {
			c.printf("roster: %v", err)
			return false
		}
		for _, p := range peers {
			c.printf("%s", formatPeer(p))
		}
	case "/history":
		id, ok := c.resolve(rest)
		if !ok {
			return false
		}
		messages, err := c.store.History(id)
		if err != nil {
			c.printf("history: %v", err)
			return false
		}
		for _, msg := range messages {
			c.printf("%s", formatMessage(msg))
		}
	case "/reconnect":
		if err := engine.ReconnectAll(); err != nil {
			c.printf("reconnect: %v", err)
		}
	default:
		c.printf("unknown command %q, type /help for the commands", command)
	}
	return false
}

func (c *console) resolve(idOrAlias string) (string, bool) {
	if idOrAlias == "" {
		c.printf("a peer id or @username is required")
		return "", false
	}
	id, err := c.store.ResolveAlias(idOrAlias)
	if err != nil {
		c.printf("%v", err)
		return "", false
	}
	return id, true
}

func (c *console) displayName(peerID string) string {
	if p, err := c.store.Peer(peerID); err == nil {
		return p.DisplayName()
	}
	return peerID
}

func (c *console) OnPeerConnected(peerID string) {
	c.printf("* connected to %s", c.displayName(peerID))
}

func (c *console) OnPeerRetrying(peerID string, err error, delay time.Duration) {
	c.printf("* connection to %s failed, retrying in %s: %v", c.displayName(peerID), delay, err)
}

func (c *console) OnPeerFailed(peerID string, err error) {
	c.printf("* could not connect to %s: %v", c.displayName(peerID), err)
}

func (c *console) OnPeerClosed(peerID string) {
	c.printf("* session with %s closed", c.displayName(peerID))
}

func (c *console) OnMessage(peerID string, msg chat.Message) {
	c.printf("[%s] %s", c.displayName(peerID), msg.Content)
}

func (c *console) OnDelivered(peerID string, messageID string) {
	c.printf("* delivered to %s", c.displayName(peerID))
}

func (c *console) OnTyping(peerID string, typing bool) {
	if typing {
		c.printf("* %s is typing", c.displayName(peerID))
	}
}

func (c *console) OnRelayStatus(connected bool) {
	if connected {
		c.printf("* relay connected")
	} else {
		c.printf("* relay disconnected")
	}
}
