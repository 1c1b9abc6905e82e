package model

import "time"

// Identity — локальная теневая запись пользователя Keycloak.
// Хранится в таблице identities; external_id уникален.
type Identity struct {
	// ID — UUID записи
	ID string
	// ExternalID — идентификатор пользователя в Keycloak (sub)
	ExternalID string
	// Username — кэшированное имя пользователя
	Username string
	// Email — адрес электронной почты
	Email string
	// FirstName — имя
	FirstName string
	// LastName — фамилия
	LastName string
	// DisplayName — "Имя Фамилия" или username
	DisplayName string
	// EmailVerified — подтверждён ли email
	EmailVerified bool
	// Role — метка роли: admin, doctor, patient, user или непрозрачная роль IdP
	Role string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// DoctorProfile — профиль врача. Существует тогда и только тогда,
// когда роль идентичности — doctor.
type DoctorProfile struct {
	// ID — UUID профиля
	ID string
	// ExternalID — идентификатор владельца в Keycloak
	ExternalID string
	// Name — отображаемое имя на момент создания профиля
	Name string
	// Specialties — специализации (по умолчанию "N/A")
	Specialties string
	// PrimaryCare — врач первичного звена
	PrimaryCare bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PatientProfile — профиль пациента. Существует тогда и только тогда,
// когда роль идентичности — patient.
type PatientProfile struct {
	// ID — UUID профиля
	ID string
	// ExternalID — идентификатор владельца в Keycloak
	ExternalID string
	// Name — отображаемое имя на момент создания профиля
	Name string
	// InsurancePaid — оплачена ли страховка
	InsurancePaid bool
	// PrimaryDoctorID — ExternalID лечащего врача (nil — не назначен)
	PrimaryDoctorID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DefaultSpecialties — специализация нового профиля врача.
const DefaultSpecialties = "N/A"

// Principal — аутентифицированный субъект запроса.
// Передаётся в сервисы явным параметром.
type Principal struct {
	// IdentityID — Keycloak user ID (sub)
	IdentityID string
	// Username — preferred_username
	Username string
	// Email — email из токена
	Email string
	// FirstName, LastName — given_name / family_name из токена
	FirstName string
	LastName  string
	// Role — роль приложения (admin, doctor, patient, user)
	Role string
	// Roles — все realm roles из токена
	Roles []string
}

// Authenticated сообщает, установлен ли субъект запроса.
func (p Principal) Authenticated() bool {
	return p.IdentityID != ""
}

// IdentityOverview — идентичность вместе с её профилем (если есть).
type IdentityOverview struct {
	Identity *Identity
	Doctor   *DoctorProfile
	Patient  *PatientProfile
}
