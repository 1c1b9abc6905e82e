package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/rbac"
	"github.com/simeonov123/MedicalRecords-sub000/internal/events"
	"github.com/simeonov123/MedicalRecords-sub000/internal/keycloak"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository/memstore"
)

const testRealm = "clinic"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDirectory — Keycloak в памяти.
type fakeDirectory struct {
	mu       sync.Mutex
	users    map[string]*keycloak.KeycloakUser
	order    []string
	roles    map[string][]string
	errs     map[string]error
	roleErrs map[string]error
	calls    map[string]int
	firsts   []int
	disabled bool
	nextID   int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:    map[string]*keycloak.KeycloakUser{},
		roles:    map[string][]string{},
		errs:     map[string]error{},
		roleErrs: map[string]error{},
		calls:    map[string]int{},
	}
}

// addUser добавляет пользователя с ролью default-roles-<realm> и ролями roles.
func (d *fakeDirectory) addUser(id, username, firstName, lastName string, roles ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[id] = &keycloak.KeycloakUser{
		ID:        id,
		Username:  username,
		FirstName: firstName,
		LastName:  lastName,
		Email:     username + "@clinic.local",
		Enabled:   true,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
	}
	d.order = append(d.order, id)
	d.roles[id] = append([]string{rbac.DefaultRealmRole(testRealm)}, roles...)
}

func (d *fakeDirectory) fail(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[op] = err
}

func (d *fakeDirectory) failRoles(userID string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roleErrs[userID] = err
}

func (d *fakeDirectory) rolesOf(id string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.roles[id])
}

func (d *fakeDirectory) hasUser(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.users[id]
	return ok
}

func (d *fakeDirectory) callCount(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// begin учитывает вызов и возвращает заданную для операции ошибку.
// Вызывается под d.mu.
func (d *fakeDirectory) begin(op string) error {
	d.calls[op]++
	return d.errs[op]
}

func notFound(op string) error {
	return &keycloak.RequestFailedError{Operation: op, Status: http.StatusNotFound, Body: "not found"}
}

func idpDown(op string) error {
	return fmt.Errorf("%s: %w: connection refused", op, keycloak.ErrIdpUnavailable)
}

func (d *fakeDirectory) Realm() string { return testRealm }

func (d *fakeDirectory) ListUsers(_ context.Context, _ string, first, max int) ([]keycloak.KeycloakUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("ListUsers"); err != nil {
		return nil, err
	}
	d.firsts = append(d.firsts, first)
	var page []keycloak.KeycloakUser
	for i := first; i < len(d.order) && len(page) < max; i++ {
		page = append(page, *d.users[d.order[i]])
	}
	return page, nil
}

func (d *fakeDirectory) CountUsers(_ context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("CountUsers"); err != nil {
		return 0, err
	}
	return len(d.users), nil
}

func (d *fakeDirectory) GetUser(_ context.Context, id string) (*keycloak.KeycloakUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("GetUser"); err != nil {
		return nil, err
	}
	u, ok := d.users[id]
	if !ok {
		return nil, notFound("GetUser")
	}
	cp := *u
	return &cp, nil
}

func (d *fakeDirectory) CreateUser(_ context.Context, req keycloak.CreateUserRequest) (string, error) {
	d.mu.Lock()
	if err := d.begin("CreateUser"); err != nil {
		d.mu.Unlock()
		return "", err
	}
	for _, u := range d.users {
		if u.Username == req.Username {
			d.mu.Unlock()
			return "", &keycloak.RequestFailedError{Operation: "CreateUser", Status: http.StatusConflict, Body: "exists"}
		}
	}
	d.nextID++
	id := fmt.Sprintf("kc-%d", d.nextID)
	d.mu.Unlock()

	d.addUser(id, req.Username, req.FirstName, req.LastName)
	return id, nil
}

func (d *fakeDirectory) DeleteUser(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("DeleteUser"); err != nil {
		return err
	}
	if _, ok := d.users[id]; !ok {
		return notFound("DeleteUser")
	}
	delete(d.users, id)
	delete(d.roles, id)
	d.order = slices.DeleteFunc(d.order, func(v string) bool { return v == id })
	return nil
}

func (d *fakeDirectory) UpdateUserDetails(_ context.Context, id string, upd keycloak.UserUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("UpdateUserDetails"); err != nil {
		return err
	}
	u, ok := d.users[id]
	if !ok {
		return notFound("UpdateUserDetails")
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	return nil
}

func (d *fakeDirectory) SetEmailVerified(_ context.Context, id string, verified bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("SetEmailVerified"); err != nil {
		return err
	}
	u, ok := d.users[id]
	if !ok {
		return notFound("SetEmailVerified")
	}
	u.EmailVerified = verified
	return nil
}

func (d *fakeDirectory) GetRealmRoles(_ context.Context, userID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("GetRealmRoles"); err != nil {
		return nil, err
	}
	if err, ok := d.roleErrs[userID]; ok {
		return nil, err
	}
	if _, ok := d.users[userID]; !ok {
		return nil, notFound("GetRealmRoles")
	}
	return slices.Clone(d.roles[userID]), nil
}

func (d *fakeDirectory) AssignRole(_ context.Context, userID, roleName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("AssignRole"); err != nil {
		return err
	}
	if !slices.Contains(d.roles[userID], roleName) {
		d.roles[userID] = append(d.roles[userID], roleName)
	}
	return nil
}

func (d *fakeDirectory) RemoveRoles(_ context.Context, userID string, roleNames []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("RemoveRoles"); err != nil {
		return err
	}
	d.roles[userID] = slices.DeleteFunc(d.roles[userID], func(r string) bool {
		return slices.Contains(roleNames, r)
	})
	return nil
}

func (d *fakeDirectory) RealmInfo(_ context.Context) (*keycloak.RealmRepresentation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("RealmInfo"); err != nil {
		return nil, err
	}
	return &keycloak.RealmRepresentation{Realm: testRealm, Enabled: !d.disabled}, nil
}

// recordingPublisher запоминает опубликованные события.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]string, 0, len(p.events))
	for _, e := range p.events {
		result = append(result, e.Type)
	}
	return result
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

// --- фикстуры ---

func admin(id string) model.Principal {
	return model.Principal{IdentityID: id, Username: id, Role: rbac.RoleAdmin, Roles: []string{rbac.RoleAdmin}}
}

func doctor(id string) model.Principal {
	return model.Principal{IdentityID: id, Username: id, Role: rbac.RoleDoctor, Roles: []string{rbac.RoleDoctor}}
}

func patient(id string) model.Principal {
	return model.Principal{IdentityID: id, Username: id, Role: rbac.RolePatient, Roles: []string{rbac.RolePatient}}
}

// seedIdentity создаёт идентичность с ролью role и профилем, если он положен роли.
func seedIdentity(t *testing.T, st *memstore.Store, id, role string) {
	t.Helper()
	err := st.InTx(context.Background(), func(s *repository.Store) error {
		ctx := context.Background()
		if err := s.Identities.Create(ctx, &model.Identity{
			ExternalID:  id,
			Username:    id,
			DisplayName: id,
			Role:        role,
		}); err != nil {
			return err
		}
		switch role {
		case rbac.RoleDoctor:
			return s.Doctors.Create(ctx, &model.DoctorProfile{ExternalID: id, Name: id, Specialties: model.DefaultSpecialties})
		case rbac.RolePatient:
			return s.Patients.Create(ctx, &model.PatientProfile{ExternalID: id, Name: id})
		}
		return nil
	})
	if err != nil {
		t.Fatalf("подготовка идентичности %s: %v", id, err)
	}
}

// seedAppointment создаёт приём напрямую в хранилище.
func seedAppointment(t *testing.T, st *memstore.Store, doctorID, patientID string) *model.Appointment {
	t.Helper()
	appt := &model.Appointment{
		DoctorID:    doctorID,
		PatientID:   patientID,
		ScheduledAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	err := st.InTx(context.Background(), func(s *repository.Store) error {
		return s.Appointments.Create(context.Background(), appt)
	})
	if err != nil {
		t.Fatalf("подготовка приёма: %v", err)
	}
	return appt
}

// setPrimaryDoctor назначает пациенту лечащего врача напрямую в хранилище.
func setPrimaryDoctor(t *testing.T, st *memstore.Store, patientID, doctorID string) {
	t.Helper()
	err := st.InTx(context.Background(), func(s *repository.Store) error {
		ctx := context.Background()
		p, err := s.Patients.GetByExternalID(ctx, patientID)
		if err != nil {
			return err
		}
		p.PrimaryDoctorID = &doctorID
		return s.Patients.Update(ctx, p)
	})
	if err != nil {
		t.Fatalf("назначение лечащего врача: %v", err)
	}
}
