package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/simeonov123/MedicalRecords-sub000/internal/api/middleware"
	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/rbac"
	"github.com/simeonov123/MedicalRecords-sub000/internal/keycloak"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository/memstore"
	"github.com/simeonov123/MedicalRecords-sub000/internal/service"
)

const testRealm = "clinic"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubDirectory — Keycloak в памяти: только чтение пользователей и ролей.
// Операции записи возвращают ErrIdpUnavailable.
type stubDirectory struct {
	mu    sync.Mutex
	users []keycloak.KeycloakUser
	roles map[string][]string
	down  bool
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{roles: map[string][]string{}}
}

func (d *stubDirectory) add(id, username, role string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = append(d.users, keycloak.KeycloakUser{ID: id, Username: username, Enabled: true})
	d.roles[id] = []string{rbac.DefaultRealmRole(testRealm), role}
}

func (d *stubDirectory) err(op string) error {
	if d.down {
		return fmt.Errorf("%s: %w", op, keycloak.ErrIdpUnavailable)
	}
	return nil
}

func (d *stubDirectory) Realm() string { return testRealm }

func (d *stubDirectory) ListUsers(_ context.Context, _ string, first, max int) ([]keycloak.KeycloakUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("ListUsers"); err != nil {
		return nil, err
	}
	if first >= len(d.users) {
		return nil, nil
	}
	end := min(first+max, len(d.users))
	return append([]keycloak.KeycloakUser(nil), d.users[first:end]...), nil
}

func (d *stubDirectory) CountUsers(context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("CountUsers"); err != nil {
		return 0, err
	}
	return len(d.users), nil
}

func (d *stubDirectory) GetUser(_ context.Context, id string) (*keycloak.KeycloakUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("GetUser"); err != nil {
		return nil, err
	}
	for i := range d.users {
		if d.users[i].ID == id {
			u := d.users[i]
			return &u, nil
		}
	}
	return nil, &keycloak.RequestFailedError{Operation: "GetUser", Status: http.StatusNotFound}
}

func (d *stubDirectory) GetRealmRoles(_ context.Context, userID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err("GetRealmRoles"); err != nil {
		return nil, err
	}
	return append([]string(nil), d.roles[userID]...), nil
}

func (d *stubDirectory) RealmInfo(context.Context) (*keycloak.RealmRepresentation, error) {
	if err := d.err("RealmInfo"); err != nil {
		return nil, err
	}
	return &keycloak.RealmRepresentation{Realm: testRealm, Enabled: true}, nil
}

func (d *stubDirectory) CreateUser(context.Context, keycloak.CreateUserRequest) (string, error) {
	return "", keycloak.ErrIdpUnavailable
}

func (d *stubDirectory) DeleteUser(context.Context, string) error { return keycloak.ErrIdpUnavailable }

func (d *stubDirectory) UpdateUserDetails(context.Context, string, keycloak.UserUpdate) error {
	return keycloak.ErrIdpUnavailable
}

func (d *stubDirectory) SetEmailVerified(context.Context, string, bool) error {
	return keycloak.ErrIdpUnavailable
}

func (d *stubDirectory) AssignRole(context.Context, string, string) error {
	return keycloak.ErrIdpUnavailable
}

func (d *stubDirectory) RemoveRoles(context.Context, string, []string) error {
	return keycloak.ErrIdpUnavailable
}

// testAPI — роутер /api/v1 поверх memstore и stubDirectory.
type testAPI struct {
	router http.Handler
	store  *memstore.Store
	dir    *stubDirectory
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st := memstore.New()
	dir := newStubDirectory()
	logger := testLogger()

	authz := service.NewClinicalAuthorizer(logger)
	reconciler := service.NewRoleReconciler(dir, st, nil, logger)
	userSync := service.NewUserSyncService(dir, st, nil, 0, 0, logger)

	api := NewAPIHandler(Services{
		AdminUsers:    service.NewAdminUserService(dir, st, reconciler, nil, logger),
		IDP:           service.NewIDPService(dir, st, userSync, "https://keycloak.test", logger),
		Profiles:      service.NewProfileService(st, nil, logger),
		Appointments:  service.NewAppointmentService(st, authz, logger),
		Diagnoses:     service.NewDiagnosisService(st, authz, logger),
		SickLeaves:    service.NewSickLeaveService(st, authz, logger),
		Treatments:    service.NewTreatmentService(st, authz, logger),
		Prescriptions: service.NewPrescriptionService(st, authz, logger),
		Medications:   service.NewMedicationService(st, logger),
	}, logger)

	r := chi.NewRouter()
	r.Route("/api/v1", api.Routes)
	return &testAPI{router: r, store: st, dir: dir}
}

func principal(id, role string) *model.Principal {
	return &model.Principal{IdentityID: id, Username: id, Role: role, Roles: []string{role}}
}

// do выполняет запрос от имени p (nil — без субъекта).
func (a *testAPI) do(t *testing.T, p *model.Principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if p != nil {
		req = req.WithContext(middleware.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// login выполняет первый вход (GET /me), создавая идентичность и профиль.
func (a *testAPI) login(t *testing.T, p *model.Principal) {
	t.Helper()
	if rec := a.do(t, p, http.MethodGet, "/api/v1/me", nil); rec.Code != http.StatusOK {
		t.Fatalf("первый вход %s: статус %d, тело: %s", p.IdentityID, rec.Code, rec.Body.String())
	}
}

// decode разбирает тело ответа в map.
func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("некорректный JSON ответа: %v, тело: %s", err, rec.Body.String())
	}
	return out
}

// errorCode возвращает error.code из тела ответа с ошибкой.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	e, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("нет поля error в ответе: %s", rec.Body.String())
	}
	code, _ := e["code"].(string)
	return code
}

// expectStatus проверяет статус-код ответа.
func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("ожидался статус %d, получен %d, тело: %s", want, rec.Code, rec.Body.String())
	}
}
