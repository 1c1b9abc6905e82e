package model

import "time"

// Appointment — приём, корень клинического дерева.
// PatientID и DoctorID — ExternalID идентичностей пациента и врача.
type Appointment struct {
	ID          string
	PatientID   string
	DoctorID    string
	ScheduledAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Diagnosis — диагноз, принадлежит ровно одному приёму.
type Diagnosis struct {
	ID            string
	AppointmentID string
	Statement     string
	DiagnosedAt   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SickLeave — больничный лист, принадлежит ровно одному приёму.
type SickLeave struct {
	ID            string
	AppointmentID string
	Reason        string
	StartDate     time.Time
	DurationDays  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Treatment — лечение, принадлежит ровно одному диагнозу.
type Treatment struct {
	ID          string
	DiagnosisID string
	Description string
	StartDate   time.Time
	// EndDate — nil, если лечение не завершено
	EndDate   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Prescription — назначение, принадлежит ровно одному лечению.
type Prescription struct {
	ID           string
	TreatmentID  string
	MedicationID string
	Dosage       string
	DurationDays int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Medication — справочная запись медикамента.
type Medication struct {
	ID         string
	Name       string
	DosageForm string
	CreatedAt  time.Time
}

// AppointmentRecord — приём со всеми клиническими записями.
type AppointmentRecord struct {
	Appointment *Appointment
	Diagnoses   []DiagnosisRecord
	SickLeaves  []*SickLeave
}

// DiagnosisRecord — диагноз с лечениями.
type DiagnosisRecord struct {
	Diagnosis  *Diagnosis
	Treatments []TreatmentRecord
}

// TreatmentRecord — лечение с назначениями.
type TreatmentRecord struct {
	Treatment     *Treatment
	Prescriptions []*Prescription
}
