package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sprite-ai/crev/internal/model"
	"github.com/sprite-ai/crev/internal/store"
)

var ErrNameExists = errors.New("policy name already exists")

// Store is the persistence Admin needs.
type Store interface {
	SavePolicy(ctx context.Context, doc *model.PolicyDocument) error
	Policy(ctx context.Context, id int64) (*model.PolicyDocument, error)
	ActivePolicy(ctx context.Context) (*model.PolicyDocument, error)
	Policies(ctx context.Context) ([]model.PolicyDocument, error)
	PolicyVersions(ctx context.Context, name string) ([]model.PolicyDocument, error)
}

// Transactor runs fn inside a transaction of the worker bound to ctx.
type Transactor interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Admin manages versioned policy documents.
type Admin struct {
	store  Store
	tx     Transactor
	logger *slog.Logger
	now    func() time.Time
}

// NewAdmin returns an Admin backed by st.
func NewAdmin(st Store, tx Transactor, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Admin{store: st, tx: tx, logger: logger, now: time.Now}
}

// Create stores version 1 of a new, inactive policy.
func (a *Admin) Create(ctx context.Context, name, description, rules string, createdBy int64) (*model.PolicyDocument, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("policy name is required")
	}
	if err := Validate([]byte(rules)); err != nil {
		return nil, err
	}

	doc := &model.PolicyDocument{
		Name:        name,
		Description: description,
		Version:     1,
		Rules:       rules,
		CreatedBy:   createdBy,
		CreatedAt:   a.now(),
	}
	err := a.tx.Do(ctx, func(ctx context.Context) error {
		existing, err := a.store.PolicyVersions(ctx, name)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%q: %w", name, ErrNameExists)
		}
		return a.store.SavePolicy(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("policy created", "name", name, "id", doc.ID)
	return doc, nil
}

// NewVersion stores rules as the next version of the named policy. The new
// version starts inactive; earlier versions are kept.
func (a *Admin) NewVersion(ctx context.Context, name, rules string) (*model.PolicyDocument, error) {
	if err := Validate([]byte(rules)); err != nil {
		return nil, err
	}

	var doc *model.PolicyDocument
	err := a.tx.Do(ctx, func(ctx context.Context) error {
		versions, err := a.store.PolicyVersions(ctx, name)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			return &store.Error{Op: "get", Entity: "policy", ID: name, Err: store.ErrNotFound}
		}
		latest := versions[len(versions)-1]
		now := a.now()
		doc = &model.PolicyDocument{
			Name:        latest.Name,
			Description: latest.Description,
			Version:     latest.Version + 1,
			Rules:       rules,
			CreatedBy:   latest.CreatedBy,
			CreatedAt:   now,
			UpdatedAt:   &now,
		}
		return a.store.SavePolicy(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("policy versioned", "name", name, "version", doc.Version, "id", doc.ID)
	return doc, nil
}

// Activate makes id the only active policy document.
func (a *Admin) Activate(ctx context.Context, id int64) (*model.PolicyDocument, error) {
	var doc *model.PolicyDocument
	err := a.tx.Do(ctx, func(ctx context.Context) error {
		target, err := a.store.Policy(ctx, id)
		if err != nil {
			return err
		}
		current, err := a.store.ActivePolicy(ctx)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		case current.ID != id:
			current.Active = false
			if err := a.store.SavePolicy(ctx, current); err != nil {
				return err
			}
		}
		target.Active = true
		doc = target
		return a.store.SavePolicy(ctx, target)
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("policy activated", "name", doc.Name, "version", doc.Version, "id", id)
	return doc, nil
}

// Get loads one policy version.
func (a *Admin) Get(ctx context.Context, id int64) (*model.PolicyDocument, error) {
	return a.store.Policy(ctx, id)
}

// Active returns the active policy, or nil when none is active.
func (a *Admin) Active(ctx context.Context) (*model.PolicyDocument, error) {
	doc, err := a.store.ActivePolicy(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return doc, err
}

// List returns every stored policy version.
func (a *Admin) List(ctx context.Context) ([]model.PolicyDocument, error) {
	return a.store.Policies(ctx)
}

// Versions returns the versions of the named policy, oldest first.
func (a *Admin) Versions(ctx context.Context, name string) ([]model.PolicyDocument, error) {
	return a.store.PolicyVersions(ctx, name)
}

// ImportFile reads a rules document from path and stores it as a new policy
// or as the next version of an existing one. An empty name is derived from
// the file name.
func (a *Admin) ImportFile(ctx context.Context, path, name string, createdBy int64) (*model.PolicyDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	versions, err := a.store.PolicyVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(versions) > 0 {
		return a.NewVersion(ctx, name, string(data))
	}
	description := ""
	if d, err := Parse(data); err == nil {
		description = d.Description
	}
	return a.Create(ctx, name, description, string(data), createdBy)
}
