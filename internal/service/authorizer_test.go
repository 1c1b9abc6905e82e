package service

import (
	"context"
	"errors"
	"testing"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/rbac"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository/memstore"
)

func TestAuthorizeAppointment(t *testing.T) {
	st := memstore.New()
	seedIdentity(t, st, "d1", rbac.RoleDoctor)
	seedIdentity(t, st, "d2", rbac.RoleDoctor)
	seedIdentity(t, st, "p1", rbac.RolePatient)
	seedIdentity(t, st, "a1", rbac.RoleAdmin)
	appt := seedAppointment(t, st, "d1", "p1")

	authz := NewClinicalAuthorizer(testLogger())

	tests := []struct {
		name      string
		principal model.Principal
		wantErr   error
	}{
		{"администратор", admin("a1"), nil},
		{"назначенный врач", doctor("d1"), nil},
		{"другой врач", doctor("d2"), ErrDoctorNotAssigned},
		{"врач без профиля", doctor("d3"), ErrDoctorNotAssigned},
		{"пациент приёма", patient("p1"), ErrForbidden},
		{"роль user", model.Principal{IdentityID: "u1", Role: rbac.RoleUser}, ErrForbidden},
		{"не аутентифицирован", model.Principal{}, ErrUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authz.AuthorizeAppointment(context.Background(), st, tt.principal, appt.ID)
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
}

func TestAuthorizeAppointment_DoctorNotAssignedDetails(t *testing.T) {
	st := memstore.New()
	seedIdentity(t, st, "d1", rbac.RoleDoctor)
	seedIdentity(t, st, "d2", rbac.RoleDoctor)
	seedIdentity(t, st, "p1", rbac.RolePatient)
	appt := seedAppointment(t, st, "d1", "p1")

	err := NewClinicalAuthorizer(testLogger()).AuthorizeAppointment(context.Background(), st, doctor("d2"), appt.ID)

	var dna *DoctorNotAssignedError
	if !errors.As(err, &dna) {
		t.Fatalf("ожидалась *DoctorNotAssignedError, получено %v", err)
	}
	if dna.AppointmentID != appt.ID || dna.IdentityID != "d2" {
		t.Errorf("DoctorNotAssignedError = %+v", dna)
	}
}

func TestAuthorizeAppointment_NotFoundBeforePrincipal(t *testing.T) {
	st := memstore.New()
	authz := NewClinicalAuthorizer(testLogger())

	for _, p := range []model.Principal{{}, admin("a1"), doctor("d1")} {
		err := authz.AuthorizeAppointment(context.Background(), st, p, "missing")
		if !errors.Is(err, ErrAppointmentNotFound) {
			t.Errorf("роль %q: ошибка = %v, ожидалось ErrAppointmentNotFound", p.Role, err)
		}
	}
}
