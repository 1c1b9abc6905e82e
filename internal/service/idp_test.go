package service

import (
	"context"
	"errors"
	"testing"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/rbac"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository/memstore"
)

func TestIDPStatus(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(d *fakeDirectory)
		wantConnected bool
		wantUsers     bool
	}{
		{"realm доступен", func(*fakeDirectory) {}, true, true},
		{"Keycloak недоступен", func(d *fakeDirectory) { d.fail("RealmInfo", idpDown("RealmInfo")) }, false, false},
		{"realm отключён", func(d *fakeDirectory) { d.disabled = true }, false, false},
		{"ошибка подсчёта пользователей", func(d *fakeDirectory) { d.fail("CountUsers", idpDown("CountUsers")) }, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := memstore.New()
			seedIdentity(t, st, "u1", rbac.RoleAdmin)
			dir := newFakeDirectory()
			dir.addUser("u1", "u1", "", "")
			dir.addUser("u2", "u2", "", "")
			tt.setup(dir)

			status := NewIDPService(dir, st, nil, "https://keycloak.local", testLogger()).GetStatus(context.Background())

			if status.Connected != tt.wantConnected {
				t.Errorf("Connected = %v, ожидалось %v", status.Connected, tt.wantConnected)
			}
			if !tt.wantConnected && status.Error == nil {
				t.Error("Error не заполнен")
			}
			if (status.UsersCount != nil) != tt.wantUsers {
				t.Errorf("UsersCount = %v", status.UsersCount)
			}
			if tt.wantUsers && *status.UsersCount != 2 {
				t.Errorf("UsersCount = %d, ожидалось 2", *status.UsersCount)
			}
			// Локальная часть доступна и без Keycloak
			if status.LocalIdentities == nil || *status.LocalIdentities != 1 {
				t.Errorf("LocalIdentities = %v", status.LocalIdentities)
			}
			if status.Realm != testRealm || status.KeycloakURL != "https://keycloak.local" {
				t.Errorf("Realm=%q KeycloakURL=%q", status.Realm, status.KeycloakURL)
			}
		})
	}
}

func TestIDPSyncUsers(t *testing.T) {
	st := memstore.New()
	dir := newFakeDirectory()
	dir.addUser("u1", "u1", "", "", rbac.RolePatient)

	svc := NewIDPService(dir, st, NewUserSyncService(dir, st, nil, 0, 0, testLogger()), "", testLogger())
	result, err := svc.SyncUsers(context.Background())
	if err != nil {
		t.Fatalf("SyncUsers: %v", err)
	}
	if result.Created != 1 {
		t.Errorf("Created = %d", result.Created)
	}

	status := svc.GetStatus(context.Background())
	if status.LastUserSyncAt == nil {
		t.Error("LastUserSyncAt не заполнен после синхронизации")
	}

	dir.fail("ListUsers", idpDown("ListUsers"))
	if _, err := svc.SyncUsers(context.Background()); !errors.Is(err, ErrIDPUnavailable) {
		t.Errorf("ошибка = %v, ожидалось ErrIDPUnavailable", err)
	}
}
