package systemd

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/coreos/go-systemd/v22/util"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/juju/errors"
)

// ServiceManager starts, stops and queries systemd units
type ServiceManager interface {
	IsActive(ctx context.Context, name string) (bool, error)
	Stop(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
}

// DBusAPI is the subset of *dbus.Conn used by Controller
type DBusAPI interface {
	Close()
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	GetUnitPropertyContext(ctx context.Context, unit string, propertyName string) (*dbus.Property, error)
}

// DBusFactory opens a new D-Bus connection
type DBusFactory func(ctx context.Context) (DBusAPI, error)

func newSystemConn(ctx context.Context) (DBusAPI, error) {
	return dbus.NewWithContext(ctx)
}

// Controller manages units over the systemd D-Bus API. A connection is
// opened per call so a restarted systemd never leaves a stale handle.
type Controller struct {
	newConn DBusFactory
}

// NewController creates a D-Bus backed controller
func NewController() *Controller {
	return &Controller{newConn: newSystemConn}
}

// WithFactory sets the D-Bus connection factory
func (c *Controller) WithFactory(factory DBusFactory) *Controller {
	c.newConn = factory
	return c
}

// UnitName appends ".service" when name has no unit suffix
func UnitName(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

func (c *Controller) conn(ctx context.Context) (DBusAPI, error) {
	conn, err := c.newConn(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "failed to connect to systemd over dbus")
	}
	return conn, nil
}

// IsActive reports whether the unit's ActiveState is "active"
func (c *Controller) IsActive(ctx context.Context, name string) (bool, error) {
	conn, err := c.conn(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	defer conn.Close()

	prop, err := conn.GetUnitPropertyContext(ctx, UnitName(name), "ActiveState")
	if err != nil {
		return false, errors.Annotatef(err, "failed to query state of %s", name)
	}

	state, ok := prop.Value.Value().(string)
	if !ok {
		return false, errors.Errorf("unexpected ActiveState value %v for %s", prop.Value, name)
	}
	return state == "active", nil
}

// Stop stops the unit and waits for the job to finish
func (c *Controller) Stop(ctx context.Context, name string) error {
	conn, err := c.conn(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer conn.Close()

	statusCh := make(chan string, 1)
	if _, err := conn.StopUnitContext(ctx, UnitName(name), "replace", statusCh); err != nil {
		return errors.Annotatef(err, "dbus stop request for %s failed", name)
	}
	return errors.Trace(wait(ctx, "stop", name, statusCh))
}

// Start starts the unit and waits for the job to finish
func (c *Controller) Start(ctx context.Context, name string) error {
	conn, err := c.conn(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer conn.Close()

	statusCh := make(chan string, 1)
	if _, err := conn.StartUnitContext(ctx, UnitName(name), "replace", statusCh); err != nil {
		return errors.Annotatef(err, "dbus start request for %s failed", name)
	}
	return errors.Trace(wait(ctx, "start", name, statusCh))
}

func wait(ctx context.Context, op, name string, statusCh <-chan string) error {
	select {
	case <-ctx.Done():
		return errors.Annotatef(ctx.Err(), "waiting for %s of %s", op, name)
	case status := <-statusCh:
		if status != "done" {
			return errors.Errorf("failed to %s %s (job result %q)", op, name, status)
		}
		logger := log.WithComponent("systemd")
		logger.Debug().Str("unit", name).Str("op", op).Msg("Unit job done")
		return nil
	}
}

// CommandController manages units by running systemctl. It is used where
// the system bus socket is not reachable.
type CommandController struct {
	// Command is the systemctl binary (default: "systemctl")
	Command string

	// Timeout bounds each invocation (default: 60 seconds)
	Timeout time.Duration
}

// NewCommandController creates a systemctl backed controller
func NewCommandController() *CommandController {
	return &CommandController{
		Command: "systemctl",
		Timeout: 60 * time.Second,
	}
}

// IsActive runs "systemctl is-active". A non-zero exit means inactive.
func (c *CommandController) IsActive(ctx context.Context, name string) (bool, error) {
	out, err := c.run(ctx, "is-active", name)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, errors.Trace(err)
	}
	return strings.TrimSpace(out) == "active", nil
}

// Stop runs "systemctl stop"
func (c *CommandController) Stop(ctx context.Context, name string) error {
	_, err := c.run(ctx, "stop", name)
	return errors.Trace(err)
}

// Start runs "systemctl start"
func (c *CommandController) Start(ctx context.Context, name string) error {
	_, err := c.run(ctx, "start", name)
	return errors.Trace(err)
}

func (c *CommandController) run(ctx context.Context, args ...string) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, c.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return stdout.String(), errors.Annotatef(err, "systemctl %s", strings.Join(args, " "))
		}
		return stdout.String(), errors.Annotatef(err, "systemctl %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.String(), nil
}

// Detect returns a D-Bus controller when systemd is the init system and
// its bus answers, otherwise a systemctl controller.
func Detect(ctx context.Context) ServiceManager {
	logger := log.WithComponent("systemd")
	if !util.IsRunningSystemd() {
		logger.Warn().Msg("systemd is not the init system; falling back to systemctl")
		return NewCommandController()
	}

	conn, err := newSystemConn(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("System bus unavailable; falling back to systemctl")
		return NewCommandController()
	}
	conn.Close()
	return NewController()
}
