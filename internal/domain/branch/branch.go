package branch

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrIDRequired   = errors.New("branch: id is required")
	ErrNameRequired = errors.New("branch: name is required")
	ErrAlreadyExist = errors.New("branch: id already in use")
	ErrNotFound     = errors.New("branch: not found")
)

// Branch is a clinic location. The identifier is chosen by the operator at
// creation time and never changes afterwards.
type Branch struct {
	ID        string
	Name      string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreateParams struct {
	ID      string
	Name    string
	Address string
	Now     time.Time
}

func New(params CreateParams) (*Branch, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return nil, ErrIDRequired
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	return &Branch{
		ID:        id,
		Name:      name,
		Address:   strings.TrimSpace(params.Address),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (b *Branch) Update(name, address string, now time.Time) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ErrNameRequired
	}
	b.Name = trimmed
	b.Address = strings.TrimSpace(address)
	if now.IsZero() {
		now = time.Now()
	}
	b.UpdatedAt = now.UTC()
	return nil
}

type Repository interface {
	ByID(ctx context.Context, id string) (*Branch, error)
	List(ctx context.Context) ([]Branch, error)
	Create(ctx context.Context, b *Branch) error
	Save(ctx context.Context, b *Branch) error
	Delete(ctx context.Context, id string) error
}
