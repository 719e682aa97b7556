// Package command frames debugger commands on top of the variant codec.
//
// Inbound, the engine sends a flat stream of Variants: a command name followed
// by that command's parameters. The Dispatcher reassembles those tokens into
// complete commands, whatever the packet boundaries were. Outbound, the Sender
// queues encoded commands and writes them in order while the transport
// accepts data.
package command

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/ctagard/godot-dap-mcp/internal/variant"
)

// Handler receives the complete parameter list of a command.
type Handler func(params []variant.Value)

// Command describes one inbound command the dispatcher recognizes.
type Command struct {
	Name string

	// Arity is the fixed number of parameters. Ignored when ArityFunc is set.
	Arity int

	// ArityFunc computes the parameter count, this first parameter included,
	// from the first parameter. Results below 1 are treated as 1.
	ArityFunc func(first variant.Value) int

	// Handler may be nil for commands that are only consumed.
	Handler Handler
}

// SelfDescribing returns a command whose first parameter is the number of
// parameters that follow it. The handler receives the count as params[0].
func SelfDescribing(name string, h Handler) Command {
	return Command{
		Name: name,
		ArityFunc: func(first variant.Value) int {
			n, _ := variant.AsInt(first)
			return int(n) + 1
		},
		Handler: h,
	}
}

// ErrDuplicateCommand is returned when a name is registered twice.
var ErrDuplicateCommand = errors.New("command already registered")

// Dispatcher matches a token stream against registered commands. It is not
// safe for concurrent use; feed it from one goroutine.
type Dispatcher struct {
	commands map[string]*Command
	logger   *log.Logger

	// In-flight command. expected is -1 until the first parameter of an
	// ArityFunc command has arrived.
	active   *Command
	expected int
	params   []variant.Value
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		commands: make(map[string]*Command),
		logger:   logger,
	}
}

// Register adds commands. Registration stops at the first invalid or
// duplicate command.
func (d *Dispatcher) Register(cmds ...Command) error {
	for i := range cmds {
		cmd := cmds[i]
		if cmd.Name == "" {
			return errors.New("command name is empty")
		}
		if cmd.Arity < 0 {
			return fmt.Errorf("command %q: negative arity %d", cmd.Name, cmd.Arity)
		}
		if _, ok := d.commands[cmd.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateCommand, cmd.Name)
		}
		d.commands[cmd.Name] = &cmd
	}
	return nil
}

// Feed consumes tokens in order. Handlers run synchronously, before the next
// token is looked at. A command may be split across any number of calls.
func (d *Dispatcher) Feed(tokens []variant.Value) {
	for _, tok := range tokens {
		d.feed(tok)
	}
}

func (d *Dispatcher) feed(tok variant.Value) {
	if d.active == nil {
		d.begin(tok)
		return
	}

	d.params = append(d.params, tok)
	if d.expected < 0 {
		d.expected = max(d.active.ArityFunc(tok), 1)
	}
	if len(d.params) >= d.expected {
		d.fire()
	}
}

func (d *Dispatcher) begin(tok variant.Value) {
	name, ok := variant.AsString(tok)
	if !ok {
		d.logger.Warn("unexpected token outside a command", "token", variant.Render(tok))
		return
	}
	cmd, ok := d.commands[name]
	if !ok {
		d.logger.Warn("unknown command", "name", name)
		return
	}

	d.active = cmd
	d.params = nil
	if cmd.ArityFunc != nil {
		d.expected = -1
		return
	}
	d.expected = cmd.Arity
	if d.expected == 0 {
		d.fire()
	}
}

// fire clears the in-flight state before calling the handler, so a handler
// may Reset or Feed without seeing stale parameters.
func (d *Dispatcher) fire() {
	cmd, params := d.active, d.params
	d.active, d.params, d.expected = nil, nil, 0
	if params == nil {
		params = []variant.Value{}
	}
	if cmd.Handler != nil {
		cmd.Handler(params)
	}
}

// Reset drops any partially accumulated command without calling its handler.
func (d *Dispatcher) Reset() {
	if d.active != nil {
		d.logger.Debug("dropping partial command", "name", d.active.Name, "received", len(d.params))
	}
	d.active, d.params, d.expected = nil, nil, 0
}

// Idle reports whether no command is being accumulated.
func (d *Dispatcher) Idle() bool {
	return d.active == nil
}

// Pending returns the name of the command being accumulated, if any.
func (d *Dispatcher) Pending() string {
	if d.active == nil {
		return ""
	}
	return d.active.Name
}
