// ABOUTME: Variable and group service shared by the token API and the admin UI
// ABOUTME: Enforces name uniqueness and group integrity, and records every value change in the ledger

package vars

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/valueapi/internal/history"
	"github.com/2389/valueapi/internal/store"
)

// Filter narrows ListVariables. Empty fields match everything.
type Filter struct {
	NamePrefix string
	GroupID    string
}

func (f Filter) matches(v store.Variable) bool {
	if f.NamePrefix != "" && !strings.HasPrefix(v.Name, f.NamePrefix) {
		return false
	}
	if f.GroupID != "" && v.GroupID != f.GroupID {
		return false
	}
	return true
}

type sourceKey struct{}

// WithSource attaches the caller's network address to ctx. It is recorded in
// history entries for mutations made with that context.
func WithSource(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, sourceKey{}, addr)
}

// SourceFromContext returns the address set by WithSource, or ""
func SourceFromContext(ctx context.Context) string {
	addr, _ := ctx.Value(sourceKey{}).(string)
	return addr
}

// Service is the single entry point for reading and changing variables and
// groups. Each mutation runs load, mutate, save and ledger append while
// holding the service lock, so concurrent callers are serialized.
type Service struct {
	config *store.ConfigStore
	ledger *history.Ledger
	logger *slog.Logger
	newID  func() string

	mu sync.Mutex
}

// NewService creates a service over the config store and history ledger
func NewService(config *store.ConfigStore, ledger *history.Ledger) *Service {
	return &Service{
		config: config,
		ledger: ledger,
		logger: slog.Default().With("component", "vars"),
		newID:  func() string { return uuid.New().String() },
	}
}

// GetVariable returns the named variable
func (s *Service) GetVariable(ctx context.Context, name string) (store.Variable, error) {
	if name == "" {
		return store.Variable{}, fmt.Errorf("%w: variable name is required", store.ErrInvalidArgument)
	}
	doc := s.config.Load(ctx)
	i := doc.VariableIndex(name)
	if i < 0 {
		return store.Variable{}, fmt.Errorf("variable %q: %w", name, store.ErrNotFound)
	}
	return doc.Variables[i], nil
}

// ListVariables returns the variables matching f in document order
func (s *Service) ListVariables(ctx context.Context, f Filter) []store.Variable {
	doc := s.config.Load(ctx)
	out := make([]store.Variable, 0, len(doc.Variables))
	for _, v := range doc.Variables {
		if f.matches(v) {
			out = append(out, v)
		}
	}
	return out
}

// CreateVariable adds a variable. An empty groupID selects the default group.
func (s *Service) CreateVariable(ctx context.Context, name, value, groupID string) (store.Variable, error) {
	if name == "" {
		return store.Variable{}, fmt.Errorf("%w: variable name is required", store.ErrInvalidArgument)
	}
	if groupID == "" {
		groupID = store.DefaultGroupID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := store.Variable{Name: name, Value: value, GroupID: groupID}
	err := s.config.Update(ctx, func(doc *store.Document) error {
		if doc.VariableIndex(name) >= 0 {
			return fmt.Errorf("variable %q: %w", name, store.ErrAlreadyExists)
		}
		if doc.GroupIndex(groupID) < 0 {
			return fmt.Errorf("group %q: %w", groupID, store.ErrInvalidGroup)
		}
		doc.Variables = append(doc.Variables, created)
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "create variable", name, err)
		return store.Variable{}, err
	}

	s.record(ctx, history.Entry{Name: name, NewValue: history.Value(value), Action: history.ActionCreate})
	s.logger.Info("variable created", "name", name, "group", groupID, "ip", SourceFromContext(ctx))
	return created, nil
}

// UpdateVariable replaces the value of an existing variable
func (s *Service) UpdateVariable(ctx context.Context, name, value string) (store.Variable, error) {
	if name == "" {
		return store.Variable{}, fmt.Errorf("%w: variable name is required", store.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var updated store.Variable
	var old string
	err := s.config.Update(ctx, func(doc *store.Document) error {
		i := doc.VariableIndex(name)
		if i < 0 {
			return fmt.Errorf("variable %q: %w", name, store.ErrNotFound)
		}
		old = doc.Variables[i].Value
		doc.Variables[i].Value = value
		updated = doc.Variables[i]
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "update variable", name, err)
		return store.Variable{}, err
	}

	s.record(ctx, history.Entry{
		Name:     name,
		OldValue: history.Value(old),
		NewValue: history.Value(value),
		Action:   history.ActionUpdate,
	})
	s.logger.Info("variable updated", "name", name, "ip", SourceFromContext(ctx))
	return updated, nil
}

// DeleteVariable removes a variable
func (s *Service) DeleteVariable(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: variable name is required", store.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var old string
	err := s.config.Update(ctx, func(doc *store.Document) error {
		i := doc.VariableIndex(name)
		if i < 0 {
			return fmt.Errorf("variable %q: %w", name, store.ErrNotFound)
		}
		old = doc.Variables[i].Value
		doc.Variables = append(doc.Variables[:i], doc.Variables[i+1:]...)
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "delete variable", name, err)
		return err
	}

	s.record(ctx, history.Entry{Name: name, OldValue: history.Value(old), Action: history.ActionDelete})
	s.logger.Info("variable deleted", "name", name, "ip", SourceFromContext(ctx))
	return nil
}

// MoveVariable assigns a variable to another group. The value is unchanged,
// so no history entry is written.
func (s *Service) MoveVariable(ctx context.Context, name, groupID string) (store.Variable, error) {
	if name == "" {
		return store.Variable{}, fmt.Errorf("%w: variable name is required", store.ErrInvalidArgument)
	}
	if groupID == "" {
		groupID = store.DefaultGroupID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var moved store.Variable
	err := s.config.Update(ctx, func(doc *store.Document) error {
		i := doc.VariableIndex(name)
		if i < 0 {
			return fmt.Errorf("variable %q: %w", name, store.ErrNotFound)
		}
		if doc.GroupIndex(groupID) < 0 {
			return fmt.Errorf("group %q: %w", groupID, store.ErrInvalidGroup)
		}
		moved = doc.Variables[i]
		if moved.GroupID == groupID {
			return store.ErrUnchanged
		}
		doc.Variables[i].GroupID = groupID
		moved.GroupID = groupID
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "move variable", name, err)
		return store.Variable{}, err
	}

	s.logger.Info("variable moved", "name", name, "group", groupID, "ip", SourceFromContext(ctx))
	return moved, nil
}

// ListGroups returns every group, default first
func (s *Service) ListGroups(ctx context.Context) []store.Group {
	return s.config.Load(ctx).Groups
}

// GetGroup returns the group with the given id
func (s *Service) GetGroup(ctx context.Context, id string) (store.Group, error) {
	doc := s.config.Load(ctx)
	i := doc.GroupIndex(id)
	if i < 0 {
		return store.Group{}, fmt.Errorf("group %q: %w", id, store.ErrNotFound)
	}
	return doc.Groups[i], nil
}

// CreateGroup adds a group with a freshly generated id
func (s *Service) CreateGroup(ctx context.Context, name string) (store.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Group{}, fmt.Errorf("%w: group name is required", store.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := store.Group{ID: s.newID(), Name: name}
	err := s.config.Update(ctx, func(doc *store.Document) error {
		if doc.GroupIndex(created.ID) >= 0 {
			return fmt.Errorf("group %q: %w", created.ID, store.ErrAlreadyExists)
		}
		doc.Groups = append(doc.Groups, created)
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "create group", name, err)
		return store.Group{}, err
	}

	s.logger.Info("group created", "id", created.ID, "name", name, "ip", SourceFromContext(ctx))
	return created, nil
}

// RenameGroup changes a group's display name. The default group keeps its name.
func (s *Service) RenameGroup(ctx context.Context, id, name string) (store.Group, error) {
	if id == store.DefaultGroupID {
		return store.Group{}, fmt.Errorf("group %q: %w", id, store.ErrProtected)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Group{}, fmt.Errorf("%w: group name is required", store.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var renamed store.Group
	err := s.config.Update(ctx, func(doc *store.Document) error {
		i := doc.GroupIndex(id)
		if i < 0 {
			return fmt.Errorf("group %q: %w", id, store.ErrNotFound)
		}
		doc.Groups[i].Name = name
		renamed = doc.Groups[i]
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "rename group", id, err)
		return store.Group{}, err
	}

	s.logger.Info("group renamed", "id", id, "name", name, "ip", SourceFromContext(ctx))
	return renamed, nil
}

// DeleteGroup removes a group after moving its variables to the default
// group. Both changes are applied to one private copy and saved together; if
// the save fails neither is visible.
func (s *Service) DeleteGroup(ctx context.Context, id string) error {
	if id == store.DefaultGroupID {
		return fmt.Errorf("group %q: %w", id, store.ErrProtected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	moved := 0
	err := s.config.Update(ctx, func(doc *store.Document) error {
		i := doc.GroupIndex(id)
		if i < 0 {
			return fmt.Errorf("group %q: %w", id, store.ErrNotFound)
		}
		for j := range doc.Variables {
			if doc.Variables[j].GroupID == id {
				doc.Variables[j].GroupID = store.DefaultGroupID
				moved++
			}
		}
		doc.Groups = append(doc.Groups[:i], doc.Groups[i+1:]...)
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "delete group", id, err)
		return err
	}

	s.logger.Info("group deleted", "id", id, "reassigned", moved, "ip", SourceFromContext(ctx))
	return nil
}

// VariableHistory returns the ledger entries for one variable, newest first
func (s *Service) VariableHistory(ctx context.Context, name string) []history.Entry {
	return s.ledger.ForName(ctx, name)
}

// History returns the whole ledger, newest first
func (s *Service) History(ctx context.Context) []history.Entry {
	return s.ledger.All(ctx)
}

// record appends to the ledger. The document is already saved at this point,
// so a ledger failure is logged rather than returned.
func (s *Service) record(ctx context.Context, e history.Entry) {
	e.IP = SourceFromContext(ctx)
	if err := s.ledger.Append(ctx, e); err != nil {
		s.logger.Error("failed to record history", "name", e.Name, "action", e.Action, "error", err)
	}
}

func (s *Service) logFailure(ctx context.Context, op, key string, err error) {
	attrs := []any{"op", op, "key", key, "ip", SourceFromContext(ctx), "error", err}
	if errors.Is(err, store.ErrIO) {
		s.logger.Error("operation failed", attrs...)
		return
	}
	s.logger.Warn("operation rejected", attrs...)
}
