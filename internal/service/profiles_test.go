package service

import (
	"context"
	"errors"
	"testing"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/rbac"
	"github.com/simeonov123/MedicalRecords-sub000/internal/events"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository/memstore"
)

func TestEnsureIdentity_FirstLogin(t *testing.T) {
	st := memstore.New()
	pub := &recordingPublisher{}
	svc := NewProfileService(st, pub, testLogger())

	p := doctor("d9")
	p.FirstName, p.LastName = "Greg", "House"

	overview, err := svc.EnsureIdentity(context.Background(), p)
	if err != nil {
		t.Fatalf("EnsureIdentity: %v", err)
	}
	if overview.Identity.Role != rbac.RoleDoctor || overview.Identity.DisplayName != "Greg House" {
		t.Errorf("идентичность = %+v", overview.Identity)
	}
	if overview.Doctor == nil || overview.Doctor.Specialties != model.DefaultSpecialties {
		t.Errorf("профиль врача = %+v", overview.Doctor)
	}
	if types := pub.types(); len(types) != 1 || types[0] != events.TypeIdentityCreated {
		t.Errorf("события = %v", types)
	}

	// Повторный вход ничего не создаёт
	if _, err := svc.EnsureIdentity(context.Background(), p); err != nil {
		t.Fatalf("повторный EnsureIdentity: %v", err)
	}
	if c := st.Counts(); c.Identities != 1 || c.Doctors != 1 {
		t.Errorf("Counts = %+v", c)
	}
	if len(pub.types()) != 1 {
		t.Errorf("повторное событие: %v", pub.types())
	}
}

func TestEnsureIdentity_NoProfile(t *testing.T) {
	tests := []struct {
		name       string
		storedRole string
		principal  model.Principal
	}{
		{"метка роли расходится с токеном", rbac.RoleAdmin, doctor("u1")},
		{"роль без профиля", "", model.Principal{IdentityID: "u1", Username: "u1", Role: rbac.RoleUser}},
		{"администратор", "", admin("u1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := memstore.New()
			if tt.storedRole != "" {
				seedIdentity(t, st, "u1", tt.storedRole)
			}

			overview, err := NewProfileService(st, nil, testLogger()).EnsureIdentity(context.Background(), tt.principal)
			if err != nil {
				t.Fatalf("EnsureIdentity: %v", err)
			}
			if overview.Doctor != nil || overview.Patient != nil {
				t.Errorf("создан профиль: %+v", overview)
			}
			if c := st.Counts(); c.Doctors != 0 || c.Patients != 0 {
				t.Errorf("Counts = %+v", c)
			}
		})
	}
}

func TestEnsureIdentity_Unauthenticated(t *testing.T) {
	svc := NewProfileService(memstore.New(), nil, testLogger())
	if _, err := svc.EnsureIdentity(context.Background(), model.Principal{}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("ошибка = %v, ожидалось ErrUnauthenticated", err)
	}
}

func TestUpdatePatient(t *testing.T) {
	st := memstore.New()
	seedIdentity(t, st, "d1", rbac.RoleDoctor)
	seedIdentity(t, st, "p1", rbac.RolePatient)
	seedIdentity(t, st, "p2", rbac.RolePatient)
	svc := NewProfileService(st, nil, testLogger())
	ctx := context.Background()

	paid := true
	d1, p2, none := "d1", "p2", ""

	tests := []struct {
		name    string
		p       model.Principal
		upd     PatientUpdate
		wantErr error
	}{
		{"пациент меняет страховку", patient("p1"), PatientUpdate{InsurancePaid: &paid}, ErrForbidden},
		{"пациент меняет чужой профиль", patient("p2"), PatientUpdate{PrimaryDoctorID: &d1}, ErrForbidden},
		{"врач меняет профиль пациента", doctor("d1"), PatientUpdate{PrimaryDoctorID: &d1}, ErrForbidden},
		{"лечащий врач без профиля врача", patient("p1"), PatientUpdate{PrimaryDoctorID: &p2}, ErrProfileNotFound},
		{"пациент выбирает лечащего врача", patient("p1"), PatientUpdate{PrimaryDoctorID: &d1}, nil},
		{"администратор меняет страховку", admin("a1"), PatientUpdate{InsurancePaid: &paid}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdatePatient(ctx, tt.p, "p1", tt.upd)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("неожиданная ошибка: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ошибка = %v, ожидалось %v", err, tt.wantErr)
			}
		})
	}

	pp := st.Patient("p1")
	if !pp.InsurancePaid || pp.PrimaryDoctorID == nil || *pp.PrimaryDoctorID != "d1" {
		t.Errorf("профиль пациента = %+v", pp)
	}

	// Пустая строка снимает лечащего врача
	if _, err := svc.UpdatePatient(ctx, patient("p1"), "p1", PatientUpdate{PrimaryDoctorID: &none}); err != nil {
		t.Fatalf("снятие лечащего врача: %v", err)
	}
	if st.Patient("p1").PrimaryDoctorID != nil {
		t.Error("лечащий врач не снят")
	}
}

func TestUpdateDoctor(t *testing.T) {
	st := memstore.New()
	seedIdentity(t, st, "d1", rbac.RoleDoctor)
	seedIdentity(t, st, "d2", rbac.RoleDoctor)
	svc := NewProfileService(st, nil, testLogger())
	ctx := context.Background()

	specialty, empty, primary := "Кардиология", " ", true

	if _, err := svc.UpdateDoctor(ctx, doctor("d2"), "d1", DoctorUpdate{Specialties: &specialty}); !errors.Is(err, ErrForbidden) {
		t.Errorf("чужой профиль: %v", err)
	}
	if _, err := svc.UpdateDoctor(ctx, doctor("d1"), "d1", DoctorUpdate{Name: &empty}); !errors.Is(err, ErrValidation) {
		t.Errorf("пустое имя: %v", err)
	}

	d, err := svc.UpdateDoctor(ctx, doctor("d1"), "d1", DoctorUpdate{Specialties: &specialty, PrimaryCare: &primary})
	if err != nil {
		t.Fatalf("UpdateDoctor: %v", err)
	}
	if d.Specialties != "Кардиология" || !d.PrimaryCare || d.Name != "d1" {
		t.Errorf("профиль = %+v", d)
	}

	if _, err := svc.UpdateDoctor(ctx, admin("a1"), "missing", DoctorUpdate{Specialties: &specialty}); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("нет профиля: %v", err)
	}
}

func TestOverview(t *testing.T) {
	st := memstore.New()
	seedIdentity(t, st, "p1", rbac.RolePatient)
	svc := NewProfileService(st, nil, testLogger())

	overview, err := svc.Overview(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if overview.Patient == nil || overview.Doctor != nil {
		t.Errorf("overview = %+v", overview)
	}

	if _, err := svc.Overview(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("нет идентичности: %v", err)
	}
	if _, err := svc.GetDoctor(context.Background(), "p1"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("GetDoctor у пациента: %v", err)
	}
}
