package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"peerchat/pkg/logging"
	"peerchat/pkg/peer"
	"peerchat/pkg/protocol"
)

func main() {
	// Defaults, then saved settings, then PEERCHAT_* env, then flags.
	cfg := peer.DefaultConfig()
	settings := peer.LoadSettings()
	if settings.RegistryAddr != "" {
		cfg.RegistryAddr = settings.RegistryAddr
	}
	if settings.HeartbeatAddr != "" {
		cfg.HeartbeatAddr = settings.HeartbeatAddr
	}
	_ = godotenv.Load()
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment config: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.RegistryAddr, "registry", cfg.RegistryAddr, "Registry TCP control address")
	flag.StringVar(&cfg.HeartbeatAddr, "heartbeat", cfg.HeartbeatAddr, "Registry UDP heartbeat address")
	flag.IntVar(&cfg.ListenerPort, "port", cfg.ListenerPort, "Session listener port (0 probes a free one)")
	flag.IntVar(&cfg.DatagramPort, "udp-port", cfg.DatagramPort, "Datagram port (0 probes a free one)")

	logLevel := flag.String("log-level", "warn", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stderr,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	p := peer.New(cfg)
	if err := p.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach registry at %s: %v\n", cfg.RegistryAddr, err)
		os.Exit(1)
	}
	defer p.Close()

	c := &cli{peer: p, settings: settings, out: os.Stdout}
	c.wireCallbacks()
	c.run(bufio.NewScanner(os.Stdin))
}

// cli is the interactive frontend. One goroutine owns stdin; peer callbacks
// only print and store the pending request, so the read loop stays the single
// decision point.
type cli struct {
	peer     *peer.Peer
	settings *peer.Settings
	out      *os.File

	pending pendingSlot
}

// pendingSlot holds the one outstanding incoming chat request. The listener
// callback goroutine stores it; the stdin goroutine takes it.
type pendingSlot struct {
	mu  sync.Mutex
	req *peer.IncomingChat
}

func (p *pendingSlot) set(req *peer.IncomingChat) {
	p.mu.Lock()
	p.req = req
	p.mu.Unlock()
}

// take returns the pending request and clears the slot, or nil.
func (p *pendingSlot) take() *peer.IncomingChat {
	p.mu.Lock()
	defer p.mu.Unlock()
	req := p.req
	p.req = nil
	return req
}

func (c *cli) wireCallbacks() {
	c.peer.OnChatRequest = func(req *peer.IncomingChat) {
		c.pending.set(req)
		fmt.Fprintf(c.out, "\n%s wants to chat. Type 'accept' or 'reject'.\n> ", req.From)
	}
	c.peer.OnMessage = func(from, text string) {
		fmt.Fprintf(c.out, "\n[%s] %s\n> ", from, text)
	}
	c.peer.OnSessionEnd = func(remote string, reason peer.EndReason) {
		switch reason {
		case peer.EndedRemote:
			fmt.Fprintf(c.out, "\n%s ended the chat.\n> ", remote)
		case peer.EndedAbrupt:
			fmt.Fprintf(c.out, "\nLost the connection to %s.\n> ", remote)
		default:
			fmt.Fprintf(c.out, "\nChat with %s ended.\n> ", remote)
		}
	}
	c.peer.OnRoomEvent = func(ev protocol.RoomEvent) {
		switch ev.Kind {
		case protocol.EventMemberJoined:
			fmt.Fprintf(c.out, "\n%s joined the room.\n> ", ev.Member.Username)
		case protocol.EventMemberLeft:
			fmt.Fprintf(c.out, "\n%s left the room.\n> ", ev.Member.Username)
		}
	}
	c.peer.OnRoomMessage = func(from, text string) {
		fmt.Fprintf(c.out, "\n[%s] %s\n> ", from, text)
	}
}

func (c *cli) run(in *bufio.Scanner) {
	fmt.Fprintln(c.out, "peerchat. Type 'help' for commands.")
	fmt.Fprint(c.out, "> ")

	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		if line != "" {
			if quit := c.handle(line); quit {
				return
			}
		}
		fmt.Fprint(c.out, "> ")
	}
}

// handle runs one input line. While a chat or room is active, plain lines
// are messages and the quit marker leaves the chat or room.
func (c *cli) handle(line string) (quit bool) {
	if s := c.peer.ActiveSession(); s != nil {
		if strings.TrimSpace(line) == protocol.QuitMarker {
			s.Quit()
			return false
		}
		if err := s.Send(line); err != nil {
			fmt.Fprintf(c.out, "send failed: %v\n", err)
		}
		return false
	}
	if r := c.peer.ActiveRoom(); r != nil {
		if strings.TrimSpace(line) == protocol.QuitMarker {
			if err := r.Leave(); err != nil {
				fmt.Fprintf(c.out, "leave failed: %v\n", err)
			}
			return false
		}
		r.Broadcast(c.peer.Username() + ": " + line)
		return false
	}

	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help":
		c.printHelp()
	case "signup":
		c.withCreds(args, func(u, pw string) error {
			if err := c.peer.CreateAccount(u, pw); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "account created")
			return nil
		})
	case "login":
		c.withCreds(args, func(u, pw string) error {
			if err := c.peer.Login(u, pw); err != nil {
				return err
			}
			c.settings.LastUsername = u
			_ = c.settings.Save()
			fmt.Fprintf(c.out, "logged in as %s\n", u)
			return nil
		})
	case "logout":
		c.report(c.peer.Logout())
	case "users":
		users, err := c.peer.ListOnline()
		if err != nil {
			c.report(err)
			return false
		}
		fmt.Fprintln(c.out, strings.Join(users, " "))
	case "search":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "usage: search <user>")
			return false
		}
		ep, err := c.peer.Search(args[0])
		if err != nil {
			c.report(err)
			return false
		}
		fmt.Fprintf(c.out, "%s is online at %s\n", args[0], ep.String())
	case "port":
		port, err := c.peer.DatagramPort()
		if err != nil {
			c.report(err)
			return false
		}
		if port == 0 {
			fmt.Fprintln(c.out, "no datagram port recorded yet")
			return false
		}
		fmt.Fprintf(c.out, "registry sees datagram port %d\n", port)
	case "chat":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "usage: chat <user>")
			return false
		}
		fmt.Fprintf(c.out, "waiting for %s to answer...\n", args[0])
		if _, err := c.peer.RequestChat(args[0]); err != nil {
			c.report(err)
			return false
		}
		fmt.Fprintf(c.out, "chat started. Send messages; %s ends the chat.\n", protocol.QuitMarker)
	case "accept":
		req := c.pending.take()
		if req == nil {
			fmt.Fprintln(c.out, "no pending chat request")
			return false
		}
		if _, err := req.Accept(); err != nil {
			c.report(err)
			return false
		}
		fmt.Fprintf(c.out, "chat with %s started. %s ends the chat.\n", req.From, protocol.QuitMarker)
	case "reject":
		req := c.pending.take()
		if req == nil {
			fmt.Fprintln(c.out, "no pending chat request")
			return false
		}
		req.Reject()
	case "rooms":
		rooms, err := c.peer.ListRooms()
		if err != nil {
			c.report(err)
			return false
		}
		if len(rooms) == 0 {
			fmt.Fprintln(c.out, "no rooms exist yet")
			return false
		}
		fmt.Fprintln(c.out, strings.Join(rooms, " "))
	case "mkroom":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "usage: mkroom <name>")
			return false
		}
		c.report(c.peer.CreateRoom(args[0]))
	case "join":
		if len(args) != 1 {
			fmt.Fprintln(c.out, "usage: join <name>")
			return false
		}
		r, err := c.peer.JoinRoom(args[0])
		if err != nil {
			c.report(err)
			return false
		}
		names := make([]string, 0, len(r.Members()))
		for _, m := range r.Members() {
			names = append(names, m.Username)
		}
		fmt.Fprintf(c.out, "joined %s (members: %s). Lines broadcast; %s leaves.\n",
			r.Name, strings.Join(names, " "), protocol.QuitMarker)
	case "quit", "exit":
		if c.peer.Username() != "" {
			_ = c.peer.Logout()
		}
		return true
	default:
		fmt.Fprintf(c.out, "unknown command %q, try 'help'\n", cmd)
	}
	return false
}

// withCreds parses "<user> <password>" args, defaulting the username to the
// last one used.
func (c *cli) withCreds(args []string, fn func(u, pw string) error) {
	var u, pw string
	switch len(args) {
	case 2:
		u, pw = args[0], args[1]
	case 1:
		if c.settings.LastUsername == "" {
			fmt.Fprintln(c.out, "usage: <command> <user> <password>")
			return
		}
		u, pw = c.settings.LastUsername, args[0]
	default:
		fmt.Fprintln(c.out, "usage: <command> <user> <password>")
		return
	}
	c.report(fn(u, pw))
}

func (c *cli) report(err error) {
	if err != nil {
		fmt.Fprintln(c.out, err.Error())
	}
}

func (c *cli) printHelp() {
	fmt.Fprint(c.out, `commands:
  signup <user> <password>   create an account
  login <user> <password>    log in (uses last username when omitted)
  logout                     log out
  users                      list online users
  search <user>              look up a user's chat endpoint
  port                       show the datagram port the registry recorded
  chat <user>                request a one-to-one chat
  accept / reject            answer a pending chat request
  rooms                      list chat rooms
  mkroom <name>              create a chat room
  join <name>                join a room and broadcast lines
  quit                       log out and exit

While chatting or in a room, lines are messages and `+protocol.QuitMarker+` ends it.
`)
}
