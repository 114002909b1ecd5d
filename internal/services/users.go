package services

import (
	"context"
	"fmt"

	"budgetly/internal/core"
	"budgetly/internal/store"
)

// UserService backs the admin user table.
type UserService struct {
	store store.UserStore
}

func NewUserService(st store.UserStore) *UserService {
	return &UserService{store: st}
}

// List returns one page of users with passwords removed.
func (s *UserService) List(ctx context.Context, q store.Query) (store.Page[core.User], error) {
	page, err := s.store.ListUsers(ctx, q)
	if err != nil {
		return store.Page[core.User]{}, fmt.Errorf("list users: %w", err)
	}
	for i := range page.Items {
		page.Items[i].Password = ""
	}
	return page, nil
}

func (s *UserService) SetStatus(ctx context.Context, id core.ID, active bool) (core.User, error) {
	u, err := s.store.SetUserStatus(ctx, id, active)
	if err != nil {
		return core.User{}, fmt.Errorf("set user %s status=%t: %w", id, active, err)
	}
	u.Password = ""
	return u, nil
}
