// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"bcpea_notifier/internal/model"
)

// MaxCourt is the highest court code served by the auction site. Code 0 means all courts.
const MaxCourt = 28

// Sentinel errors returned by Storage implementations.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidCourt    = errors.New("invalid court")
	ErrInvalidCategory = errors.New("invalid category")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	ApproveUser(ctx context.Context, id int64) error
	DeleteUser(ctx context.Context, id int64) error

	CreateFilterGroup(ctx context.Context, g *model.FilterGroup) error
	UpdateFilterGroup(ctx context.Context, g *model.FilterGroup) error
	GetFilterGroup(ctx context.Context, id int64) (*model.FilterGroup, error)
	ListFilterGroups(ctx context.Context) ([]model.FilterGroup, error)
	DeleteFilterGroup(ctx context.Context, id int64) error

	ActiveFilterRows(ctx context.Context) ([]model.FilterRow, error)

	Close() error
}
