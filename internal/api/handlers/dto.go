// dto.go — типы запросов и ответов HTTP API и маппинг domain → API.
package handlers

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
)

// --- Запросы ---

type createUserRequest struct {
	Username  string              `json:"username" validate:"required"`
	Email     openapi_types.Email `json:"email" validate:"required,email"`
	Password  string              `json:"password" validate:"required,min=8"`
	FirstName string              `json:"first_name"`
	LastName  string              `json:"last_name"`
	Role      string              `json:"role" validate:"omitempty,oneof=admin doctor patient user"`
}

type updateUserRequest struct {
	Email     *openapi_types.Email `json:"email" validate:"omitempty,email"`
	FirstName *string              `json:"first_name"`
	LastName  *string              `json:"last_name"`
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

type emailVerifiedRequest struct {
	Verified *bool `json:"verified" validate:"required"`
}

type doctorUpdateRequest struct {
	Name        *string `json:"name"`
	Specialties *string `json:"specialties"`
	PrimaryCare *bool   `json:"primary_care"`
}

type patientUpdateRequest struct {
	InsurancePaid *bool `json:"insurance_paid"`
	// PrimaryDoctorID — "" снимает лечащего врача
	PrimaryDoctorID *string `json:"primary_doctor_id"`
}

type appointmentCreateRequest struct {
	// PatientID и DoctorID подставляются из токена для пациента и врача соответственно
	PatientID   string    `json:"patient_id"`
	DoctorID    string    `json:"doctor_id"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

type appointmentUpdateRequest struct {
	PatientID   *string    `json:"patient_id"`
	DoctorID    *string    `json:"doctor_id"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

type diagnosisRequest struct {
	Statement   string    `json:"statement" validate:"required"`
	DiagnosedAt time.Time `json:"diagnosed_at" validate:"required"`
}

type sickLeaveRequest struct {
	Reason       string             `json:"reason" validate:"required"`
	StartDate    openapi_types.Date `json:"start_date" validate:"required"`
	DurationDays int                `json:"duration_days" validate:"gt=0"`
}

type treatmentRequest struct {
	Description string              `json:"description" validate:"required"`
	StartDate   openapi_types.Date  `json:"start_date" validate:"required"`
	EndDate     *openapi_types.Date `json:"end_date"`
}

type prescriptionRequest struct {
	MedicationID string `json:"medication_id" validate:"required"`
	Dosage       string `json:"dosage" validate:"required"`
	DurationDays int    `json:"duration_days" validate:"gt=0"`
}

type medicationRequest struct {
	Name       string `json:"name" validate:"required"`
	DosageForm string `json:"dosage_form"`
}

// --- Ответы ---

type adminUserResponse struct {
	ID            string               `json:"id"`
	Username      string               `json:"username"`
	Email         *openapi_types.Email `json:"email,omitempty"`
	FirstName     *string              `json:"first_name,omitempty"`
	LastName      *string              `json:"last_name,omitempty"`
	Enabled       bool                 `json:"enabled"`
	EmailVerified bool                 `json:"email_verified"`
	IdpRole       string               `json:"idp_role"`
	LocalRole     *string              `json:"local_role,omitempty"`
	ProfileKind   *string              `json:"profile_kind,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

type adminUserListResponse struct {
	Items   []adminUserResponse `json:"items"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
	HasMore bool                `json:"has_more"`
}

type identityResponse struct {
	ID            string               `json:"id"`
	ExternalID    string               `json:"external_id"`
	Username      string               `json:"username"`
	Email         *openapi_types.Email `json:"email,omitempty"`
	DisplayName   string               `json:"display_name"`
	EmailVerified bool                 `json:"email_verified"`
	Role          string               `json:"role"`
	CreatedAt     time.Time            `json:"created_at"`
}

type doctorResponse struct {
	ID          string    `json:"id"`
	IdentityID  string    `json:"identity_id"`
	Name        string    `json:"name"`
	Specialties string    `json:"specialties"`
	PrimaryCare bool      `json:"primary_care"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type patientResponse struct {
	ID              string    `json:"id"`
	IdentityID      string    `json:"identity_id"`
	Name            string    `json:"name"`
	InsurancePaid   bool      `json:"insurance_paid"`
	PrimaryDoctorID *string   `json:"primary_doctor_id,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type meResponse struct {
	Identity identityResponse `json:"identity"`
	Roles    []string         `json:"roles"`
	Doctor   *doctorResponse  `json:"doctor,omitempty"`
	Patient  *patientResponse `json:"patient,omitempty"`
}

type idpStatusResponse struct {
	Connected            bool       `json:"connected"`
	Realm                string     `json:"realm"`
	KeycloakURL          *string    `json:"keycloak_url,omitempty"`
	UsersCount           *int       `json:"users_count,omitempty"`
	LocalIdentities      *int       `json:"local_identities,omitempty"`
	LastUserSyncAt       *time.Time `json:"last_user_sync_at,omitempty"`
	LastUserSyncFailures int        `json:"last_user_sync_failures"`
	Error                *string    `json:"error,omitempty"`
}

type syncFailureResponse struct {
	IdentityID string `json:"identity_id"`
	Stage      string `json:"stage"`
	Error      string `json:"error"`
}

type userSyncResponse struct {
	TotalRemote int                   `json:"total_remote"`
	TotalLocal  int                   `json:"total_local"`
	Created     int                   `json:"created"`
	Deleted     int                   `json:"deleted"`
	Unchanged   int                   `json:"unchanged"`
	Failures    []syncFailureResponse `json:"failures"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt time.Time             `json:"completed_at"`
}

type appointmentResponse struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	DoctorID    string    `json:"doctor_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type diagnosisResponse struct {
	ID            string    `json:"id"`
	AppointmentID string    `json:"appointment_id"`
	Statement     string    `json:"statement"`
	DiagnosedAt   time.Time `json:"diagnosed_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type sickLeaveResponse struct {
	ID            string             `json:"id"`
	AppointmentID string             `json:"appointment_id"`
	Reason        string             `json:"reason"`
	StartDate     openapi_types.Date `json:"start_date"`
	DurationDays  int                `json:"duration_days"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type treatmentResponse struct {
	ID          string              `json:"id"`
	DiagnosisID string              `json:"diagnosis_id"`
	Description string              `json:"description"`
	StartDate   openapi_types.Date  `json:"start_date"`
	EndDate     *openapi_types.Date `json:"end_date,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

type prescriptionResponse struct {
	ID           string    `json:"id"`
	TreatmentID  string    `json:"treatment_id"`
	MedicationID string    `json:"medication_id"`
	Dosage       string    `json:"dosage"`
	DurationDays int       `json:"duration_days"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type medicationResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	DosageForm string    `json:"dosage_form,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type treatmentRecordResponse struct {
	treatmentResponse
	Prescriptions []prescriptionResponse `json:"prescriptions"`
}

type diagnosisRecordResponse struct {
	diagnosisResponse
	Treatments []treatmentRecordResponse `json:"treatments"`
}

type appointmentRecordResponse struct {
	appointmentResponse
	Diagnoses  []diagnosisRecordResponse `json:"diagnoses"`
	SickLeaves []sickLeaveResponse       `json:"sick_leaves"`
}

// --- Маппинг domain → API ---

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optEmail(s string) *openapi_types.Email {
	if s == "" {
		return nil
	}
	e := openapi_types.Email(s)
	return &e
}

func toDate(t time.Time) openapi_types.Date {
	return openapi_types.Date{Time: t}
}

func mapAdminUser(u *model.AdminUser) adminUserResponse {
	return adminUserResponse{
		ID:            u.ID,
		Username:      u.Username,
		Email:         optEmail(u.Email),
		FirstName:     optString(u.FirstName),
		LastName:      optString(u.LastName),
		Enabled:       u.Enabled,
		EmailVerified: u.EmailVerified,
		IdpRole:       u.IdpRole,
		LocalRole:     optString(u.LocalRole),
		ProfileKind:   optString(u.ProfileKind),
		CreatedAt:     u.CreatedAt,
	}
}

func mapIdentity(i *model.Identity) identityResponse {
	return identityResponse{
		ID:            i.ID,
		ExternalID:    i.ExternalID,
		Username:      i.Username,
		Email:         optEmail(i.Email),
		DisplayName:   i.DisplayName,
		EmailVerified: i.EmailVerified,
		Role:          i.Role,
		CreatedAt:     i.CreatedAt,
	}
}

func mapDoctor(d *model.DoctorProfile) *doctorResponse {
	if d == nil {
		return nil
	}
	return &doctorResponse{
		ID:          d.ID,
		IdentityID:  d.ExternalID,
		Name:        d.Name,
		Specialties: d.Specialties,
		PrimaryCare: d.PrimaryCare,
		UpdatedAt:   d.UpdatedAt,
	}
}

func mapPatient(p *model.PatientProfile) *patientResponse {
	if p == nil {
		return nil
	}
	return &patientResponse{
		ID:              p.ID,
		IdentityID:      p.ExternalID,
		Name:            p.Name,
		InsurancePaid:   p.InsurancePaid,
		PrimaryDoctorID: p.PrimaryDoctorID,
		UpdatedAt:       p.UpdatedAt,
	}
}

func mapSyncResult(r *model.UserSyncResult) userSyncResponse {
	resp := userSyncResponse{
		TotalRemote: r.TotalRemote,
		TotalLocal:  r.TotalLocal,
		Created:     r.Created,
		Deleted:     r.Deleted,
		Unchanged:   r.Unchanged,
		Failures:    make([]syncFailureResponse, 0, len(r.Failures)),
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	for _, f := range r.Failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		resp.Failures = append(resp.Failures, syncFailureResponse{
			IdentityID: f.IdentityID,
			Stage:      f.Stage,
			Error:      msg,
		})
	}
	return resp
}

func mapAppointment(a *model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:          a.ID,
		PatientID:   a.PatientID,
		DoctorID:    a.DoctorID,
		ScheduledAt: a.ScheduledAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func mapDiagnosis(d *model.Diagnosis) diagnosisResponse {
	return diagnosisResponse{
		ID:            d.ID,
		AppointmentID: d.AppointmentID,
		Statement:     d.Statement,
		DiagnosedAt:   d.DiagnosedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func mapSickLeave(s *model.SickLeave) sickLeaveResponse {
	return sickLeaveResponse{
		ID:            s.ID,
		AppointmentID: s.AppointmentID,
		Reason:        s.Reason,
		StartDate:     toDate(s.StartDate),
		DurationDays:  s.DurationDays,
		UpdatedAt:     s.UpdatedAt,
	}
}

func mapTreatment(t *model.Treatment) treatmentResponse {
	resp := treatmentResponse{
		ID:          t.ID,
		DiagnosisID: t.DiagnosisID,
		Description: t.Description,
		StartDate:   toDate(t.StartDate),
		UpdatedAt:   t.UpdatedAt,
	}
	if t.EndDate != nil {
		end := toDate(*t.EndDate)
		resp.EndDate = &end
	}
	return resp
}

func mapPrescription(p *model.Prescription) prescriptionResponse {
	return prescriptionResponse{
		ID:           p.ID,
		TreatmentID:  p.TreatmentID,
		MedicationID: p.MedicationID,
		Dosage:       p.Dosage,
		DurationDays: p.DurationDays,
		UpdatedAt:    p.UpdatedAt,
	}
}

func mapMedication(m *model.Medication) medicationResponse {
	return medicationResponse{
		ID:         m.ID,
		Name:       m.Name,
		DosageForm: m.DosageForm,
		CreatedAt:  m.CreatedAt,
	}
}

func mapRecord(rec *model.AppointmentRecord) appointmentRecordResponse {
	resp := appointmentRecordResponse{
		appointmentResponse: mapAppointment(rec.Appointment),
		Diagnoses:           make([]diagnosisRecordResponse, 0, len(rec.Diagnoses)),
		SickLeaves:          make([]sickLeaveResponse, 0, len(rec.SickLeaves)),
	}
	for _, d := range rec.Diagnoses {
		dr := diagnosisRecordResponse{
			diagnosisResponse: mapDiagnosis(d.Diagnosis),
			Treatments:        make([]treatmentRecordResponse, 0, len(d.Treatments)),
		}
		for _, t := range d.Treatments {
			tr := treatmentRecordResponse{
				treatmentResponse: mapTreatment(t.Treatment),
				Prescriptions:     make([]prescriptionResponse, 0, len(t.Prescriptions)),
			}
			for _, p := range t.Prescriptions {
				tr.Prescriptions = append(tr.Prescriptions, mapPrescription(p))
			}
			dr.Treatments = append(dr.Treatments, tr)
		}
		resp.Diagnoses = append(resp.Diagnoses, dr)
	}
	for _, s := range rec.SickLeaves {
		resp.SickLeaves = append(resp.SickLeaves, mapSickLeave(s))
	}
	return resp
}
