// Package controlchannel keeps the kiosk connected to the dispatcher, registers
// it, and executes the administrative commands the dispatcher pushes.
//
// All inbound frames are read and dispatched by one goroutine. Commands are
// handed to a single worker, so at most one command runs at a time and a
// command whose type is already queued or running is dropped.
package controlchannel

import (
	"context"
	"errors"
	"fmt"
	"kiosk-agent/internal/metrics"
	"kiosk-agent/internal/model"
	"kiosk-agent/internal/osexec"
	"kiosk-agent/internal/service"
	apperrors "kiosk-agent/pkg/errors"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the connection state of the channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateRegistered
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const commandQueueSize = 8

const errExiting = "kiosk is shutting down"

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("control channel already started")

// Registrar is the computer registration the channel reports through.
type Registrar interface {
	MachineID(ctx context.Context) (string, error)
	SetComputerOffline(ctx context.Context) error
	CurrentSpecs(ctx context.Context) (model.Specs, error)
}

// SessionCloser ends the active billing session before a power action.
type SessionCloser interface {
	CloseActiveSession(ctx context.Context) error
}

// HostActions performs power and logout actions on the host.
type HostActions interface {
	Do(ctx context.Context, action osexec.Action) error
}

// Status is a snapshot of the channel for the local API.
type Status struct {
	State      string `json:"state"`
	Registered bool   `json:"registered"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	LastError  string `json:"last_error,omitempty"`
}

// Channel is the kiosk's connection to the dispatcher.
type Channel struct {
	opts      Options
	dialer    Dialer
	registrar Registrar
	sessions  SessionCloser
	host      HostActions
	notifier  service.Notifier
	logger    *zap.Logger
	exit      func()
	platform  string

	mu         sync.Mutex
	state      State
	conn       Conn
	registered bool
	retryCount int
	closing    bool
	started    bool
	exiting    bool
	lastErr    error
	inFlight   map[string]bool
	newTimer   func(time.Duration) *time.Timer

	writeMu  sync.Mutex
	commands chan CommandPayload
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Deps groups the collaborators of a Channel.
type Deps struct {
	Dialer    Dialer
	Registrar Registrar
	Sessions  SessionCloser
	Host      HostActions
	Notifier  service.Notifier
	Logger    *zap.Logger
	// Exit terminates the process after a successful power command.
	Exit func()
}

// New creates a channel. It does not connect until Start is called.
func New(opts Options, deps Deps) *Channel {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = service.NopNotifier{}
	}
	if deps.Dialer == nil {
		deps.Dialer = WebsocketDialer{HandshakeTimeout: opts.ConnectTimeout}
	}
	if deps.Exit == nil {
		deps.Exit = func() {}
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = osexec.DefaultTimeout
	}

	return &Channel{
		opts:      opts,
		dialer:    deps.Dialer,
		registrar: deps.Registrar,
		sessions:  deps.Sessions,
		host:      deps.Host,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		exit:      deps.Exit,
		platform:  runtime.GOOS,
		inFlight:  make(map[string]bool),
		newTimer:  time.NewTimer,
		commands:  make(chan CommandPayload, commandQueueSize),
	}
}

// Start connects in the background and keeps reconnecting per the options.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(2)
	go c.worker()
	go c.run()
	return nil
}

// Close tears the connection down locally. No reconnect follows.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "kiosk shutting down"))
		c.writeMu.Unlock()
		err = conn.Close()
	}

	c.wg.Wait()
	c.setState(StateDisconnected)
	c.logger.Info("control channel closed")
	return err
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot for the local API.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := Status{
		State:      c.state.String(),
		Registered: c.registered,
		RetryCount: c.retryCount,
		MaxRetries: c.opts.ReconnectionAttempts,
	}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
	}
	return status
}

func (c *Channel) run() {
	defer c.wg.Done()

	for {
		err := c.session()
		if c.isClosing() {
			return
		}
		transportErr := apperrors.TransportError(err)
		c.mu.Lock()
		c.lastErr = transportErr
		c.mu.Unlock()
		c.logger.Warn("control channel transport error",
			zap.String("code", string(transportErr.Code)),
			zap.Error(err))

		if !c.waitForRetry() {
			return
		}
	}
}

// session dials, registers and reads frames until the transport fails.
func (c *Channel) session() error {
	c.setState(StateConnecting)
	c.notify(service.Notice{
		Type:    service.NoticeConnecting,
		Title:   "Connecting",
		Message: "Connecting to the café server...",
	})

	dialCtx, cancel := context.WithTimeout(c.ctx, c.opts.ConnectTimeout)
	conn, err := c.dialer.Dial(dialCtx, c.opts.URL)
	cancel()
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.retryCount = 0
	c.registered = false
	c.mu.Unlock()

	c.setState(StateConnected)
	c.logger.Info("control channel connected", zap.String("url", c.opts.URL))
	c.notify(service.Notice{
		Type:    service.NoticeConnected,
		Title:   "Connected",
		Message: "Connected to the café server.",
	})

	c.register()

	err = c.readLoop(conn)

	c.mu.Lock()
	c.conn = nil
	c.registered = false
	closing := c.closing
	c.mu.Unlock()
	conn.Close()

	c.setState(StateDisconnected)
	if !closing {
		c.notify(service.Notice{
			Type:    service.NoticeConnectionLost,
			Title:   "Connection lost",
			Message: "Lost connection to the café server.",
		})
	}
	return err
}

func (c *Channel) register() {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.CommandTimeout)
	defer cancel()

	machineID, err := c.registrar.MachineID(ctx)
	if err != nil {
		c.logger.Error("cannot register without a machine id", zap.Error(err))
		c.notify(service.Notice{
			Type:    service.NoticeRegistrationFailed,
			Title:   "Registration failed",
			Message: "This computer could not identify itself to the café server.",
		})
		return
	}

	if err := c.send(EventRegister, RegisterPayload{MachineID: machineID}); err != nil {
		c.logger.Warn("failed to send registration", zap.Error(err))
	}
}

func (c *Channel) readLoop(conn Conn) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		msg, err := decode(frame)
		if err != nil {
			c.logger.Warn("discarding malformed frame", zap.Error(err))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Channel) dispatch(msg inbound) {
	switch m := msg.(type) {
	case registeredMsg:
		c.onRegistered(RegisteredPayload(m))
	case commandMsg:
		c.onCommand(CommandPayload(m))
	case systemMetricsMsg:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.onSystemMetrics()
		}()
	case unknownMsg:
		c.logger.Debug("ignoring unknown event", zap.String("event", m.event))
	}
}

func (c *Channel) onRegistered(p RegisteredPayload) {
	if !p.Success {
		c.mu.Lock()
		c.registered = false
		c.mu.Unlock()

		c.logger.Error("dispatcher rejected registration", zap.String("error", p.Error))
		c.notify(service.Notice{
			Type:     service.NoticeRegistrationFailed,
			Title:    "Registration failed",
			Message:  fmt.Sprintf("The café server rejected this computer: %s", p.Error),
			Metadata: map[string]string{"error": p.Error},
		})
		return
	}

	c.mu.Lock()
	c.registered = true
	c.mu.Unlock()
	c.setState(StateRegistered)

	c.logger.Info("kiosk registered with dispatcher")
	c.notify(service.Notice{
		Type:    service.NoticeRegistrationSucceeded,
		Title:   "Registered",
		Message: "This computer is registered with the café server.",
	})
}

func (c *Channel) onCommand(cmd CommandPayload) {
	c.mu.Lock()
	registered := c.registered
	if !registered {
		c.mu.Unlock()
		c.logger.Warn("rejecting command while unregistered", zap.String("type", cmd.Type))
		metrics.ObserveCommand(cmd.Type, false)
		c.respond(CommandResponsePayload{Success: false, Type: cmd.Type, Error: errNotRegistered})
		return
	}
	if c.inFlight[cmd.Type] {
		c.mu.Unlock()
		c.logger.Warn("dropping duplicate command", zap.String("type", cmd.Type))
		return
	}
	c.inFlight[cmd.Type] = true
	c.mu.Unlock()

	select {
	case c.commands <- cmd:
	default:
		c.mu.Lock()
		delete(c.inFlight, cmd.Type)
		c.mu.Unlock()
		c.logger.Warn("command queue full, dropping command", zap.String("type", cmd.Type))
	}
}

func (c *Channel) onSystemMetrics() {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.CommandTimeout)
	defer cancel()

	specs, err := c.registrar.CurrentSpecs(ctx)
	resp := SystemMetricsResponsePayload{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
		c.logger.Warn("failed to collect system metrics", zap.Error(err))
	} else {
		resp.Data = &specs
	}

	if err := c.send(EventSystemMetricsResponse, resp); err != nil {
		c.logger.Warn("failed to send system metrics", zap.Error(err))
	}
}

func (c *Channel) worker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case cmd := <-c.commands:
			c.execute(cmd)

			c.mu.Lock()
			delete(c.inFlight, cmd.Type)
			c.mu.Unlock()
		}
	}
}

func (c *Channel) execute(cmd CommandPayload) {
	c.logger.Info("executing command", zap.String("type", cmd.Type))

	if c.isExiting() && isPowerCommand(cmd.Type) {
		c.logger.Warn("rejecting command, exit already scheduled", zap.String("type", cmd.Type))
		metrics.ObserveCommand(cmd.Type, false)
		c.respond(CommandResponsePayload{Success: false, Type: cmd.Type, Error: errExiting, Platform: c.platform})
		return
	}

	switch cmd.Type {
	case CommandShutdown:
		c.executePower(cmd.Type, osexec.ActionShutdown)
	case CommandRestart:
		c.executePower(cmd.Type, osexec.ActionRestart)
	case CommandLogout:
		c.executePower(cmd.Type, osexec.ActionLogout)
	default:
		metrics.ObserveCommand(cmd.Type, false)
		c.respond(CommandResponsePayload{
			Success: false,
			Type:    cmd.Type,
			Error:   fmt.Sprintf("unsupported command type: %s", cmd.Type),
		})
	}
}

// executePower closes the session, takes the computer offline, performs the
// host action, reports the outcome and, on success, exits the process.
func (c *Channel) executePower(commandType string, action osexec.Action) {
	if c.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.CommandTimeout)
		if err := c.sessions.CloseActiveSession(ctx); err != nil {
			c.logger.Error("failed to close active session before power action", zap.Error(err))
		}
		cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.CommandTimeout)
	if err := c.registrar.SetComputerOffline(ctx); err != nil {
		c.logger.Error("failed to set computer offline", zap.Error(err))
	}
	cancel()

	err := c.host.Do(context.Background(), action)

	resp := CommandResponsePayload{Success: err == nil, Type: commandType, Platform: c.platform}
	if err != nil {
		resp.Error = err.Error()
		c.logger.Error("command failed", zap.String("type", commandType), zap.Error(err))
		c.notify(service.Notice{
			Type:     service.NoticeCommandFailed,
			Title:    "Command failed",
			Message:  fmt.Sprintf("The %s command could not be carried out.", commandType),
			Metadata: map[string]string{"command": commandType},
		})
	} else {
		resp.Message = fmt.Sprintf("%s initiated", commandType)
	}
	metrics.ObserveCommand(commandType, err == nil)

	c.respond(resp)

	if err == nil {
		c.mu.Lock()
		c.exiting = true
		c.mu.Unlock()
		c.logger.Info("exiting after command", zap.String("type", commandType), zap.Duration("delay", c.opts.ExitDelay))
		time.AfterFunc(c.opts.ExitDelay, c.exit)
	}
}

func (c *Channel) respond(resp CommandResponsePayload) {
	if err := c.send(EventCommandResponse, resp); err != nil {
		c.logger.Warn("failed to send command response", zap.String("type", resp.Type), zap.Error(err))
	}
}

func (c *Channel) send(event string, payload interface{}) error {
	frame, err := encode(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// waitForRetry applies the reconnection policy. It returns false when no
// further attempt will be made.
func (c *Channel) waitForRetry() bool {
	if !c.opts.Reconnection {
		return false
	}

	c.mu.Lock()
	if c.retryCount >= c.opts.ReconnectionAttempts {
		attempts := c.retryCount
		c.mu.Unlock()

		c.logger.Error("giving up on control channel", zap.Int("attempts", attempts))
		c.notify(service.Notice{
			Type:    service.NoticeReconnectExhausted,
			Title:   "Connection failed",
			Message: "Could not reach the café server. Restart the kiosk to try again.",
		})
		return false
	}
	c.retryCount++
	attempt := c.retryCount
	c.mu.Unlock()

	metrics.IncReconnectAttempts()
	delay := c.opts.Backoff()
	c.logger.Info("scheduling reconnect", zap.Int("attempt", attempt), zap.Duration("delay", delay))
	c.notify(service.Notice{
		Type:    service.NoticeReconnecting,
		Title:   "Reconnecting",
		Message: fmt.Sprintf("Reconnecting (%d/%d)...", attempt, c.opts.ReconnectionAttempts),
		Metadata: map[string]string{
			"attempt":      fmt.Sprint(attempt),
			"max_attempts": fmt.Sprint(c.opts.ReconnectionAttempts),
		},
	})

	timer := c.newTimer(delay)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-timer.C:
		return !c.isClosing()
	}
}

func (c *Channel) isExiting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exiting
}

func isPowerCommand(commandType string) bool {
	switch commandType {
	case CommandShutdown, CommandRestart, CommandLogout:
		return true
	}
	return false
}

func (c *Channel) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing || c.ctx.Err() != nil
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	metrics.SetChannelState(int(s))
}

func (c *Channel) notify(notice service.Notice) {
	if err := c.notifier.Notify(c.ctx, notice); err != nil {
		c.logger.Warn("failed to deliver notice", zap.String("type", string(notice.Type)), zap.Error(err))
	}
}
