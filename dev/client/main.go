// The terminal client signs in as one user, follows pushes and polls the open
// conversation. Type /help for commands.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/pairchat/client/chatsync"
	"github.com/mqy/pairchat/client/ledger"
	"github.com/mqy/pairchat/client/localstore"
	"github.com/mqy/pairchat/client/notify"
	"github.com/mqy/pairchat/client/remote"
	"github.com/mqy/pairchat/model"
)

var (
	flagServer      = flag.String("server", "http://127.0.0.1:5001", "pairchat server root url")
	flagUser        = flag.String("user", "", "user id to sign in as")
	flagStateDir    = flag.String("state-dir", ".", "dir of the local state file")
	flagPoll        = flag.Duration("poll", chatsync.DefaultPollInterval, "poll interval of the open conversation")
	flagAllowAlerts = flag.Bool("allow-alerts", true, "answer of the simulated alert permission prompt")
)

const help = `commands:
  /users          list conversations
  /open <id>      open the conversation with <id>
  /image <url>    send an image
  /clear          clear the open conversation on this device
  /notify on|off  toggle alerts
  /online         list online users
  /quit
anything else is sent as text to the open conversation`

type console struct{}

func (console) Alert(title, body string) error {
	fmt.Printf("\a[alert] %s: %s\n", title, body)
	return nil
}

func (console) Info(msg string)  { fmt.Printf("[info] %s\n", msg) }
func (console) Error(msg string) { fmt.Printf("[error] %s\n", msg) }

// permission simulates a platform prompt answered by --allow-alerts.
type permission struct {
	sync.Mutex
	allow  bool
	status notify.PermissionStatus
}

func (p *permission) Supported() bool { return true }

func (p *permission) Status() notify.PermissionStatus {
	p.Lock()
	defer p.Unlock()
	return p.status
}

func (p *permission) Request(ctx context.Context) (notify.PermissionStatus, error) {
	p.Lock()
	defer p.Unlock()
	p.status = notify.PermissionDenied
	if p.allow {
		p.status = notify.PermissionGranted
	}
	return p.status, nil
}

type listener struct{}

func (listener) Changed()         {}
func (listener) Failed(err error) { fmt.Printf("[error] %v\n", err) }

// printer hands pushes to the engine and prints those merged into the open conversation.
type printer struct {
	engine *chatsync.Engine
	out    io.Writer
}

func (p printer) OnPush(msg *model.Message) bool {
	if !p.engine.OnPush(msg) {
		return false
	}
	printMessage(p.out, p.engine, msg)
	return true
}

func (p printer) OnRoster(ids []string) {
	p.engine.OnRoster(ids)
	glog.V(5).Infof("online: %v", ids)
}

func printMessage(w io.Writer, e *chatsync.Engine, m *model.Message) {
	who := m.SenderID
	if e.IsOwn(m) {
		who = "me"
	}
	body := m.Text
	if m.Image != "" {
		body = strings.TrimSpace(body + " [image " + m.Image + "]")
	}
	fmt.Fprintf(w, "%s %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), who, body)
}

func main() {
	flag.Parse()
	defer glog.Flush()

	if *flagUser == "" {
		fmt.Fprintln(os.Stderr, "--user is required")
		os.Exit(2)
	}
	if err := run(); err != nil {
		glog.Error(err)
		glog.Flush()
		os.Exit(1)
	}
}

func run() error {
	state, err := localstore.Open(filepath.Join(*flagStateDir, fmt.Sprintf("pairchat-%s.db", *flagUser)))
	if err != nil {
		return err
	}
	defer state.Close()

	led := ledger.New(state)
	if err := led.Load(*flagUser); err != nil {
		return err
	}

	dispatcher, err := notify.New(notify.Config{
		Permission: &permission{allow: *flagAllowAlerts},
		Alerter:    console{},
		Reporter:   console{},
		Flags:      state,
	})
	if err != nil {
		return err
	}

	engine := chatsync.New(chatsync.Config{
		Self:     *flagUser,
		Store:    remote.NewHTTPStore(*flagServer, *flagUser, nil),
		Ledger:   led,
		Notifier: dispatcher,
		Listener: listener{},
	})
	dispatcher.SetDirectory(engine)

	push, err := remote.NewPushConn(*flagServer, *flagUser, printer{engine: engine, out: os.Stdout})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go push.Run(ctx)
	go engine.Run(ctx, *flagPoll)

	if err := engine.LoadUsers(ctx); err == nil {
		printUsers(engine)
	}
	fmt.Println(help)

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
			if quit := handle(ctx, engine, dispatcher, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func handle(ctx context.Context, e *chatsync.Engine, d *notify.Dispatcher, line string) bool {
	cmd, arg := line, ""
	if i := strings.IndexByte(line, ' '); i > 0 {
		cmd, arg = line[:i], strings.TrimSpace(line[i+1:])
	}

	switch {
	case line == "":
	case cmd == "/quit":
		return true
	case cmd == "/help":
		fmt.Println(help)
	case cmd == "/users":
		if e.LoadUsers(ctx) == nil {
			printUsers(e)
		}
	case cmd == "/online":
		fmt.Printf("online: %s\n", strings.Join(e.Online(), ", "))
	case cmd == "/open":
		if e.LoadConversation(ctx, arg) == nil {
			msgs := e.Messages()
			for i := range msgs {
				printMessage(os.Stdout, e, &msgs[i])
			}
		}
	case cmd == "/image":
		send(ctx, e, model.Payload{Image: arg})
	case cmd == "/clear":
		if err := e.DeleteConversation(); err == nil {
			fmt.Println("conversation cleared on this device")
		}
	case cmd == "/notify":
		if arg == "off" {
			d.Disable()
		} else {
			enableCtx, cancel := context.WithTimeout(ctx, time.Minute)
			_ = d.Enable(enableCtx)
			cancel()
		}
	case strings.HasPrefix(cmd, "/"):
		fmt.Printf("unknown command %s, try /help\n", cmd)
	default:
		send(ctx, e, model.Payload{Text: line})
	}
	return false
}

func send(ctx context.Context, e *chatsync.Engine, payload model.Payload) {
	msg, err := e.SendMessage(ctx, "", payload)
	if errors.Is(err, chatsync.ErrNoConversation) {
		fmt.Println("open a conversation first: /open <id>")
		return
	}
	if err == nil {
		printMessage(os.Stdout, e, msg)
	}
}

func printUsers(e *chatsync.Engine) {
	for _, u := range e.Users() {
		mark := " "
		if e.IsOnline(u.ID) {
			mark = "*"
		}
		fmt.Printf("%s %s  %s\n", mark, u.ID, u.FullName)
	}
}
