// Package host defines the message contract with the privileged host executor
// and the executors that carry it.
package host

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind is the command discriminator sent to the host.
type Kind string

const (
	CmdGetComponentStatus       Kind = "getComponentStatus"
	CmdSetComponentDesiredState Kind = "setComponentDesiredState"
)

var (
	ErrInvalidCommand = errors.New("host: invalid command")
	ErrInvalidUpdate  = errors.New("host: invalid status update")
)

// Command is a fire-and-forget message to the host executor.
type Command struct {
	Cmd       Kind   `json:"cmd"`
	Name      string `json:"name"`
	State     string `json:"state,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusQuery builds a getComponentStatus command.
func StatusQuery(name string) Command {
	return Command{
		Cmd:       CmdGetComponentStatus,
		Name:      name,
		RequestID: uuid.New().String(),
	}
}

// SetDesired builds a setComponentDesiredState command.
func SetDesired(name, state string) Command {
	return Command{
		Cmd:       CmdSetComponentDesiredState,
		Name:      name,
		State:     state,
		RequestID: uuid.New().String(),
	}
}

// Validate checks the command shape.
func (c Command) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidCommand)
	}
	switch c.Cmd {
	case CmdGetComponentStatus:
		return nil
	case CmdSetComponentDesiredState:
		if c.State != "installed" && c.State != "uninstalled" {
			return fmt.Errorf("%w: unsupported target state %q", ErrInvalidCommand, c.State)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown cmd %q", ErrInvalidCommand, c.Cmd)
	}
}

func (c Command) String() string {
	if c.State != "" {
		return fmt.Sprintf("{cmd=%s, name=%s, state=%s}", c.Cmd, c.Name, c.State)
	}
	return fmt.Sprintf("{cmd=%s, name=%s}", c.Cmd, c.Name)
}

// Update is a status report pushed back by the host, out of band.
type Update struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	RequestID string `json:"request_id,omitempty"`
}

// Validate checks the update shape. State values are checked by the receiver.
func (u Update) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidUpdate)
	}
	if strings.TrimSpace(u.State) == "" {
		return fmt.Errorf("%w: missing state", ErrInvalidUpdate)
	}
	return nil
}

// Data flattens the update for the event bus.
func (u Update) Data() map[string]any {
	return map[string]any{
		"name":       u.Name,
		"state":      u.State,
		"request_id": u.RequestID,
	}
}

// UpdateFromData is the inverse of Data.
func UpdateFromData(data map[string]any) (Update, error) {
	name, _ := data["name"].(string)
	state, _ := data["state"].(string)
	requestID, _ := data["request_id"].(string)
	u := Update{Name: name, State: state, RequestID: requestID}
	return u, u.Validate()
}

// Reporter receives status updates from an executor.
type Reporter func(Update)

// Executor delivers commands to the host. Delivery is best effort; results
// never come back through the return value, only through a Reporter.
type Executor interface {
	Send(ctx context.Context, cmd Command) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, cmd Command) error

func (f ExecutorFunc) Send(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}
