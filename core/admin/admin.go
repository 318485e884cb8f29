// Package admin answers operator requests (inventory repair and provisioning)
// over bus request/reply.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cordum/gridstore/core/directory"
	"github.com/cordum/gridstore/core/infra/bus"
	"github.com/cordum/gridstore/core/infra/locks"
	"github.com/cordum/gridstore/core/infra/logging"
	"github.com/cordum/gridstore/core/inventory"
	"github.com/google/uuid"
)

const (
	component      = "admin"
	queueGroup     = "gridstore-admin"
	defaultTimeout = 2 * time.Minute
)

var (
	// ErrUnknownAccount is reported when neither an agent id nor a resolvable
	// name was supplied.
	ErrUnknownAccount = errors.New("unknown account")
	errMissingName    = errors.New("first and last name required")
)

// Request names the target account. AgentID wins over the name when set.
type Request struct {
	First   string    `json:"first,omitempty"`
	Last    string    `json:"last,omitempty"`
	AgentID uuid.UUID `json:"agent_id,omitempty"`
}

// Response is the reply to both operator subjects.
type Response struct {
	OK      bool                    `json:"ok"`
	Error   string                  `json:"error,omitempty"`
	Owner   uuid.UUID               `json:"owner,omitempty"`
	Report  *inventory.RepairReport `json:"report,omitempty"`
	Created bool                    `json:"created,omitempty"`
}

// Inventory is the slice of the tree engine the operator surface drives.
type Inventory interface {
	FixInventory(ctx context.Context, owner uuid.UUID) (*inventory.RepairReport, error)
	CreateUserInventory(ctx context.Context, owner uuid.UUID, withDefaults bool) (bool, error)
}

// Service binds the operator subjects to the engine.
type Service struct {
	bus          bus.Bus
	inventory    Inventory
	directory    directory.Resolver
	withDefaults bool
	timeout      time.Duration
}

func NewService(b bus.Bus, inv Inventory, dir directory.Resolver, withDefaults bool) *Service {
	return &Service{
		bus:          b,
		inventory:    inv,
		directory:    dir,
		withDefaults: withDefaults,
		timeout:      defaultTimeout,
	}
}

// Start subscribes with a queue group so one replica answers each request.
func (s *Service) Start() error {
	if err := s.bus.Subscribe(bus.SubjectFixInventory, queueGroup, s.handleFix); err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.SubjectFixInventory, err)
	}
	if err := s.bus.Subscribe(bus.SubjectCreateInventory, queueGroup, s.handleCreate); err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.SubjectCreateInventory, err)
	}
	return nil
}

func (s *Service) handleFix(msg *bus.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	owner, err := s.target(ctx, msg)
	if err != nil {
		return msg.Respond(failure(uuid.Nil, err))
	}
	report, err := s.inventory.FixInventory(ctx, owner)
	if err != nil {
		if errors.Is(err, locks.ErrHeld) {
			logging.Warn(component, "repair already running", "owner", owner)
		} else {
			logging.Error(component, "repair failed", "owner", owner, "error", err)
		}
		resp := failure(owner, err)
		resp.Report = report
		return msg.Respond(resp)
	}
	logging.Info(component, "repair finished", "owner", owner, "changes", report.Changes())
	return msg.Respond(Response{OK: true, Owner: owner, Report: report})
}

func (s *Service) handleCreate(msg *bus.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	owner, err := s.target(ctx, msg)
	if err != nil {
		return msg.Respond(failure(uuid.Nil, err))
	}
	created, err := s.inventory.CreateUserInventory(ctx, owner, s.withDefaults)
	if err != nil {
		logging.Error(component, "create inventory failed", "owner", owner, "error", err)
		return msg.Respond(failure(owner, err))
	}
	logging.Info(component, "inventory provisioned", "owner", owner, "created", created)
	return msg.Respond(Response{OK: true, Owner: owner, Created: created})
}

func (s *Service) target(ctx context.Context, msg *bus.Message) (uuid.UUID, error) {
	var req Request
	if err := msg.Decode(&req); err != nil {
		return uuid.Nil, err
	}
	if req.AgentID != uuid.Nil {
		return req.AgentID, nil
	}
	first, last := strings.TrimSpace(req.First), strings.TrimSpace(req.Last)
	if first == "" || last == "" {
		return uuid.Nil, errMissingName
	}
	if s.directory == nil {
		return uuid.Nil, fmt.Errorf("%s %s: %w", first, last, ErrUnknownAccount)
	}
	id, ok, err := s.directory.ResolveName(ctx, first, last)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve %s %s: %w", first, last, err)
	}
	if !ok || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%s %s: %w", first, last, ErrUnknownAccount)
	}
	return id, nil
}

func failure(owner uuid.UUID, err error) Response {
	return Response{Owner: owner, Error: err.Error()}
}
