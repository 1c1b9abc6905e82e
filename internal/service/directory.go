package service

import (
	"context"

	"github.com/simeonov123/MedicalRecords-sub000/internal/keycloak"
)

// IdentityDirectory — операции Keycloak Admin API, которые используют сервисы.
// Реализуется *keycloak.Client.
type IdentityDirectory interface {
	Realm() string
	ListUsers(ctx context.Context, query string, first, max int) ([]keycloak.KeycloakUser, error)
	CountUsers(ctx context.Context) (int, error)
	GetUser(ctx context.Context, id string) (*keycloak.KeycloakUser, error)
	CreateUser(ctx context.Context, req keycloak.CreateUserRequest) (string, error)
	DeleteUser(ctx context.Context, id string) error
	UpdateUserDetails(ctx context.Context, id string, upd keycloak.UserUpdate) error
	SetEmailVerified(ctx context.Context, id string, verified bool) error
	GetRealmRoles(ctx context.Context, userID string) ([]string, error)
	AssignRole(ctx context.Context, userID, roleName string) error
	RemoveRoles(ctx context.Context, userID string, roleNames []string) error
	RealmInfo(ctx context.Context) (*keycloak.RealmRepresentation, error)
}

var _ IdentityDirectory = (*keycloak.Client)(nil)
