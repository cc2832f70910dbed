package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/rtmaster/iothub/internal/demotransport"
	"github.com/rtmaster/iothub/iotdevice"
)

// Shell is the interactive command loop for iotdevice-cli, modeled on
// the teacher's cmd/mash-device/interactive.InteractiveDevice but
// driven by github.com/chzyer/readline instead of a bare bufio.Reader
// so history and line editing come for free.
type Shell struct {
	rl        *readline.Instance
	client    *iotdevice.Client
	transport *demotransport.Transport

	lastMessage iotdevice.Message
	haveLast    bool
}

// NewShell constructs a Shell over client and its bound demo transport.
func NewShell(client *iotdevice.Client, transport *demotransport.Transport) (*Shell, error) {
	rl, err := readline.New("device> ")
	if err != nil {
		return nil, fmt.Errorf("iotdevice-cli: open readline: %w", err)
	}
	return &Shell{rl: rl, client: client, transport: transport}, nil
}

// Stdout returns the writer log output should go through while the
// shell owns the terminal, so prompt redraws don't interleave with log
// lines.
func (s *Shell) Stdout() io.Writer { return s.rl.Stdout() }

// Close releases the underlying terminal state.
func (s *Shell) Close() error { return s.rl.Close() }

// Run starts the command loop. It returns when ctx is cancelled or the
// user types quit/exit.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		cmd := strings.ToLower(fields[0])
		args := fields[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()
		case "open":
			s.cmdOpen(ctx)
		case "close":
			s.cmdClose(ctx)
		case "send":
			s.cmdSend(ctx, args)
		case "complete":
			s.cmdSettle(ctx, s.client.Complete, args)
		case "reject":
			s.cmdSettle(ctx, s.client.Reject, args)
		case "abandon":
			s.cmdSettle(ctx, s.client.Abandon, args)
		case "method":
			s.cmdMethod(ctx, args)
		case "update-credential":
			s.cmdUpdateCredential(ctx, args)
		case "inject":
			s.cmdInject(args)
		case "inject-method":
			s.cmdInjectMethod(args)
		case "drop":
			s.transport.Drop(fmt.Errorf("simulated drop"))
		case "status":
			fmt.Fprintf(s.Stdout(), "state: %s\n", s.client.State())
		case "quit", "exit", "q":
			fmt.Fprintln(s.Stdout(), "Exiting...")
			cancel()
			return
		default:
			fmt.Fprintf(s.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.Stdout(), `
iotdevice-cli commands:
  open                         - connect the session
  close                        - disconnect the session
  send <text>                  - send a device-to-cloud message
  complete|reject|abandon      - settle the last received message
  method <name>                - register a direct method handler that echoes its body
  update-credential <sig>      - rotate the signature
  inject <text>                - deliver a synthetic cloud-to-device message
  inject-method <name> <body>  - invoke a registered direct method
  drop                         - simulate a spontaneous disconnect
  status                       - show the current session state
  help                         - show this help
  quit                         - exit
`)
}

func (s *Shell) cmdOpen(ctx context.Context) {
	s.client.OnMessage(func(msg iotdevice.Message) {
		s.lastMessage = msg
		s.haveLast = true
		fmt.Fprintf(s.Stdout(), "[message] id=%s body=%q\n", msg.ID, msg.Body)
	})
	v, err := s.client.Open(ctx)
	s.report(v, err)
}

func (s *Shell) cmdClose(ctx context.Context) {
	v, err := s.client.Close(ctx)
	s.report(v, err)
}

func (s *Shell) cmdSend(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.Stdout(), "Usage: send <text>")
		return
	}
	v, err := s.client.SendEvent(ctx, iotdevice.Message{Body: []byte(strings.Join(args, " "))})
	s.report(v, err)
}

func (s *Shell) cmdSettle(ctx context.Context, op func(context.Context, iotdevice.Message) (iotdevice.SettlementResult, error), args []string) {
	msg := s.lastMessage
	if len(args) > 0 {
		msg = iotdevice.Message{ID: args[0]}
	} else if !s.haveLast {
		fmt.Fprintln(s.Stdout(), "No message to settle; pass an id or receive one first")
		return
	}
	res, err := op(ctx, msg)
	if err != nil {
		fmt.Fprintf(s.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.Stdout(), "%s\n", res.Action)
}

func (s *Shell) cmdMethod(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.Stdout(), "Usage: method <name>")
		return
	}
	name := args[0]
	err := s.client.OnDeviceMethod(ctx, name, func(ctx context.Context, req iotdevice.MethodRequest) (iotdevice.MethodResponse, error) {
		fmt.Fprintf(s.Stdout(), "[method] %s invoked: %q\n", req.Name, req.Body)
		return iotdevice.MethodResponse{RequestID: req.RequestID, Status: 200, Body: req.Body}, nil
	})
	if err != nil {
		fmt.Fprintf(s.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.Stdout(), "registered %s\n", name)
}

func (s *Shell) cmdUpdateCredential(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.Stdout(), "Usage: update-credential <signature>")
		return
	}
	res, err := s.client.UpdateCredential(ctx, args[0])
	if err != nil {
		fmt.Fprintf(s.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.Stdout(), "reconnected=%v\n", res.Reconnected)
}

func (s *Shell) cmdInject(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.Stdout(), "Usage: inject <text>")
		return
	}
	s.transport.Inject(strings.Join(args, " "))
}

func (s *Shell) cmdInjectMethod(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.Stdout(), "Usage: inject-method <name> <body>")
		return
	}
	s.transport.InjectMethod(args[0], strings.Join(args[1:], " "))
}

func (s *Shell) report(value string, err error) {
	if err != nil {
		fmt.Fprintf(s.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintln(s.Stdout(), value)
}
