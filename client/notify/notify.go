// Package notify decides whether an incoming message raises a desktop style alert, and
// owns the user's opt-in to alerts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/mqy/pairchat/identity"
	"github.com/mqy/pairchat/model"
)

var (
	ErrPermissionDenied = errors.New("notification permission denied")
	ErrPending          = errors.New("notification permission request in progress")
	ErrUnsupported      = errors.New("notifications are not supported")
	ErrCanceled         = errors.New("notifications disabled while waiting for permission")
)

const (
	fallbackTitle = "New message"
	imageBody     = "Sent you an image"
)

type State int

const (
	Disabled State = iota
	PendingPermission
	Enabled
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case PendingPermission:
		return "pending"
	case Enabled:
		return "enabled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type PermissionStatus int

const (
	PermissionDefault PermissionStatus = iota
	PermissionGranted
	PermissionDenied
)

// Permission is the platform's alert permission.
type Permission interface {
	// Supported is false when the platform cannot show alerts at all.
	Supported() bool
	// Status is the current permission, it may change outside of pairchat.
	Status() PermissionStatus
	// Request asks the user, blocking until they answer or ctx is done.
	Request(ctx context.Context) (PermissionStatus, error)
}

type Alerter interface {
	Alert(title, body string) error
}

// Reporter shows short user visible outcomes.
type Reporter interface {
	Info(msg string)
	Error(msg string)
}

// FlagStore persists the opt-in, see localstore.Store.
type FlagStore interface {
	LoadNotificationsEnabled() (bool, error)
	SaveNotificationsEnabled(enabled bool) error
}

// Directory resolves a user id to a display name.
type Directory interface {
	FullName(id string) (string, bool)
}

type Config struct {
	Permission Permission
	Alerter    Alerter
	Reporter   Reporter
	Flags      FlagStore
	Directory  Directory
}

type Dispatcher struct {
	sync.Mutex
	conf  Config
	state State
}

// New loads the persisted opt-in. A pending request is never persisted, so the initial
// state is either Enabled or Disabled.
func New(conf Config) (*Dispatcher, error) {
	enabled, err := conf.Flags.LoadNotificationsEnabled()
	if err != nil {
		return nil, fmt.Errorf("load notification flag error: %w", err)
	}
	d := &Dispatcher{conf: conf, state: Disabled}
	if enabled {
		d.state = Enabled
	}
	return d, nil
}

// SetDirectory replaces the sender name directory. Typically the sync engine, which is
// built after the dispatcher.
func (d *Dispatcher) SetDirectory(dir Directory) {
	d.Lock()
	d.conf.Directory = dir
	d.Unlock()
}

func (d *Dispatcher) State() State {
	d.Lock()
	defer d.Unlock()
	return d.state
}

// Enable asks for permission when needed and turns alerts on once it is granted.
func (d *Dispatcher) Enable(ctx context.Context) error {
	d.Lock()
	switch d.state {
	case Enabled:
		d.Unlock()
		return nil
	case PendingPermission:
		d.Unlock()
		return ErrPending
	}
	if !d.conf.Permission.Supported() {
		d.Unlock()
		d.conf.Reporter.Error("Browser notifications are not supported")
		return ErrUnsupported
	}
	d.state = PendingPermission
	d.Unlock()

	status, err := d.conf.Permission.Request(ctx)

	d.Lock()
	if d.state != PendingPermission {
		// Disable won the race.
		d.Unlock()
		return ErrCanceled
	}
	if err != nil || status != PermissionGranted {
		d.state = Disabled
		d.Unlock()
		if err != nil {
			glog.Errorf("notify: request permission error: %v", err)
		}
		d.persist(false)
		d.conf.Reporter.Error("Notification permission denied")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return ErrPermissionDenied
	}
	d.state = Enabled
	d.Unlock()

	d.persist(true)
	d.conf.Reporter.Info("Notifications enabled")
	return nil
}

// Disable turns alerts off, also cancelling a pending Enable.
func (d *Dispatcher) Disable() {
	d.Lock()
	d.state = Disabled
	d.Unlock()

	d.persist(false)
	d.conf.Reporter.Info("Notifications disabled")
}

// Evaluate raises an alert for msg unless alerts are off or msg comes from the
// conversation the user is looking at. It reports whether an alert was raised.
func (d *Dispatcher) Evaluate(msg *model.Message, openPeer string) bool {
	d.Lock()
	state, dir := d.state, d.conf.Directory
	d.Unlock()

	if state != Enabled || d.conf.Permission.Status() != PermissionGranted {
		return false
	}
	sender := identity.Normalize(msg.SenderID)
	if openPeer = identity.Normalize(openPeer); openPeer != "" && sender == openPeer {
		return false
	}

	title := fallbackTitle
	if dir != nil {
		if name, ok := dir.FullName(sender); ok && name != "" {
			title = name
		}
	}
	body := msg.Text
	if body == "" {
		body = imageBody
	}

	if err := d.conf.Alerter.Alert(title, body); err != nil {
		glog.Errorf("notify: alert for message %s error: %v", msg.ID, err)
		return false
	}
	return true
}

func (d *Dispatcher) persist(enabled bool) {
	if err := d.conf.Flags.SaveNotificationsEnabled(enabled); err != nil {
		glog.Errorf("notify: save notification flag error: %v", err)
	}
}
