// Пакет memstore — in-memory реализация repository.Transactor для тестов
// сервисов и HTTP-обработчиков без PostgreSQL.
// Транзакции сериализуются, изменения применяются только при успешном
// завершении функции. Ограничения внешних ключей воспроизводят схему
// миграций: удаление родителя с потомками и удаление идентичности,
// на которую ссылаются профили или приёмы, возвращают ErrReferenced.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
)

// Store — in-memory хранилище с транзакционной семантикой.
type Store struct {
	mu       sync.Mutex
	data     *state
	failures map[string]error
	txCount  int
}

type state struct {
	identities    map[string]model.Identity
	doctors       map[string]model.DoctorProfile
	patients      map[string]model.PatientProfile
	appointments  map[string]model.Appointment
	diagnoses     map[string]model.Diagnosis
	sickLeaves    map[string]model.SickLeave
	treatments    map[string]model.Treatment
	prescriptions map[string]model.Prescription
	medications   map[string]model.Medication
	syncState     model.SyncState
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		data: &state{
			identities:    map[string]model.Identity{},
			doctors:       map[string]model.DoctorProfile{},
			patients:      map[string]model.PatientProfile{},
			appointments:  map[string]model.Appointment{},
			diagnoses:     map[string]model.Diagnosis{},
			sickLeaves:    map[string]model.SickLeave{},
			treatments:    map[string]model.Treatment{},
			prescriptions: map[string]model.Prescription{},
			medications:   map[string]model.Medication{},
		},
		failures: map[string]error{},
	}
}

// Fail заставляет операцию op (например, "doctors.create") возвращать err.
// nil снимает ошибку.
func (m *Store) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// TxCount возвращает число успешно зафиксированных транзакций.
func (m *Store) TxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCount
}

// InTx реализует repository.Transactor.
func (m *Store) InTx(ctx context.Context, fn func(s *repository.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := m.data.clone()
	tx := &tx{st: work, failures: m.failures}
	if err := fn(tx.store()); err != nil {
		return err
	}
	if err := work.checkDeferred(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	m.data = work
	m.txCount++
	return nil
}

// --- Чтение состояния для проверок в тестах ---

// Identity возвращает копию идентичности или nil.
func (m *Store) Identity(externalID string) *model.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data.identities[externalID]; ok {
		return &v
	}
	return nil
}

// Doctor возвращает копию профиля врача или nil.
func (m *Store) Doctor(externalID string) *model.DoctorProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data.doctors[externalID]; ok {
		return &v
	}
	return nil
}

// Patient возвращает копию профиля пациента или nil.
func (m *Store) Patient(externalID string) *model.PatientProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data.patients[externalID]; ok {
		return &v
	}
	return nil
}

// Appointment возвращает копию приёма или nil.
func (m *Store) Appointment(id string) *model.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data.appointments[id]; ok {
		return &v
	}
	return nil
}

// ExternalIDs возвращает отсортированный список external_id идентичностей.
func (m *Store) ExternalIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.externalIDs()
}

// Counts — количество записей по таблицам.
type Counts struct {
	Identities, Doctors, Patients, Appointments      int
	Diagnoses, SickLeaves, Treatments, Prescriptions int
}

// Counts возвращает количество записей по таблицам.
func (m *Store) Counts() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Counts{
		Identities:    len(m.data.identities),
		Doctors:       len(m.data.doctors),
		Patients:      len(m.data.patients),
		Appointments:  len(m.data.appointments),
		Diagnoses:     len(m.data.diagnoses),
		SickLeaves:    len(m.data.sickLeaves),
		Treatments:    len(m.data.treatments),
		Prescriptions: len(m.data.prescriptions),
	}
}

// --- state ---

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (s *state) clone() *state {
	return &state{
		identities:    cloneMap(s.identities),
		doctors:       cloneMap(s.doctors),
		patients:      cloneMap(s.patients),
		appointments:  cloneMap(s.appointments),
		diagnoses:     cloneMap(s.diagnoses),
		sickLeaves:    cloneMap(s.sickLeaves),
		treatments:    cloneMap(s.treatments),
		prescriptions: cloneMap(s.prescriptions),
		medications:   cloneMap(s.medications),
		syncState:     s.syncState,
	}
}

func (s *state) externalIDs() []string {
	ids := make([]string, 0, len(s.identities))
	for id := range s.identities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// checkDeferred воспроизводит отложенную проверку
// patient_profiles.primary_doctor_id -> doctor_profiles.external_id.
func (s *state) checkDeferred() error {
	for _, p := range s.patients {
		if p.PrimaryDoctorID == nil {
			continue
		}
		if _, ok := s.doctors[*p.PrimaryDoctorID]; !ok {
			return fmt.Errorf("лечащий врач %s пациента %s: %w", *p.PrimaryDoctorID, p.ExternalID, repository.ErrReferenced)
		}
	}
	return nil
}

// --- tx ---

type tx struct {
	st       *state
	failures map[string]error
}

func (t *tx) fail(op string) error {
	if err, ok := t.failures[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (t *tx) store() *repository.Store {
	return &repository.Store{
		Identities:    identities{t},
		Doctors:       doctors{t},
		Patients:      patients{t},
		Appointments:  appointments{t},
		Diagnoses:     diagnoses{t},
		SickLeaves:    sickLeaves{t},
		Treatments:    treatments{t},
		Prescriptions: prescriptions{t},
		Medications:   medications{t},
		SyncState:     syncState{t},
	}
}

func newID(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	return id
}

// --- identities ---

type identities struct{ t *tx }

func (r identities) Lock(_ context.Context, _ string) error {
	return r.t.fail("identities.lock")
}

func (r identities) Create(_ context.Context, ident *model.Identity) error {
	if err := r.t.fail("identities.create"); err != nil {
		return err
	}
	if _, ok := r.t.st.identities[ident.ExternalID]; ok {
		return repository.ErrConflict
	}
	now := time.Now().UTC()
	ident.ID = newID(ident.ID)
	ident.CreatedAt, ident.UpdatedAt = now, now
	r.t.st.identities[ident.ExternalID] = *ident
	return nil
}

func (r identities) Upsert(_ context.Context, ident *model.Identity) error {
	if err := r.t.fail("identities.upsert"); err != nil {
		return err
	}
	now := time.Now().UTC()
	if existing, ok := r.t.st.identities[ident.ExternalID]; ok {
		ident.ID = existing.ID
		ident.CreatedAt = existing.CreatedAt
	} else {
		ident.ID = newID(ident.ID)
		ident.CreatedAt = now
	}
	ident.UpdatedAt = now
	r.t.st.identities[ident.ExternalID] = *ident
	return nil
}

func (r identities) GetByExternalID(_ context.Context, externalID string) (*model.Identity, error) {
	if err := r.t.fail("identities.get"); err != nil {
		return nil, err
	}
	v, ok := r.t.st.identities[externalID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

func (r identities) UpdateDetails(_ context.Context, ident *model.Identity) error {
	if err := r.t.fail("identities.update_details"); err != nil {
		return err
	}
	v, ok := r.t.st.identities[ident.ExternalID]
	if !ok {
		return repository.ErrNotFound
	}
	v.Username, v.Email = ident.Username, ident.Email
	v.FirstName, v.LastName = ident.FirstName, ident.LastName
	v.DisplayName, v.EmailVerified = ident.DisplayName, ident.EmailVerified
	v.UpdatedAt = time.Now().UTC()
	ident.UpdatedAt = v.UpdatedAt
	r.t.st.identities[ident.ExternalID] = v
	return nil
}

func (r identities) Delete(_ context.Context, externalID string) error {
	if err := r.t.fail("identities.delete"); err != nil {
		return err
	}
	if _, ok := r.t.st.identities[externalID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.t.st.doctors[externalID]; ok {
		return fmt.Errorf("удаления идентичности: %w", repository.ErrReferenced)
	}
	if _, ok := r.t.st.patients[externalID]; ok {
		return fmt.Errorf("удаления идентичности: %w", repository.ErrReferenced)
	}
	for _, a := range r.t.st.appointments {
		if a.DoctorID == externalID || a.PatientID == externalID {
			return fmt.Errorf("удаления идентичности: %w", repository.ErrReferenced)
		}
	}
	delete(r.t.st.identities, externalID)
	return nil
}

func (r identities) ListExternalIDs(_ context.Context) ([]string, error) {
	if err := r.t.fail("identities.list"); err != nil {
		return nil, err
	}
	return r.t.st.externalIDs(), nil
}

func (r identities) List(_ context.Context, limit, offset int) ([]*model.Identity, error) {
	if err := r.t.fail("identities.list"); err != nil {
		return nil, err
	}
	ids := r.t.st.externalIDs()
	var result []*model.Identity
	for i := offset; i < len(ids) && len(result) < limit; i++ {
		v := r.t.st.identities[ids[i]]
		result = append(result, &v)
	}
	return result, nil
}

func (r identities) Count(_ context.Context) (int, error) {
	return len(r.t.st.identities), nil
}

// --- doctors ---

type doctors struct{ t *tx }

func (r doctors) Create(_ context.Context, p *model.DoctorProfile) error {
	if err := r.t.fail("doctors.create"); err != nil {
		return err
	}
	if _, ok := r.t.st.identities[p.ExternalID]; !ok {
		return fmt.Errorf("создания профиля врача: %w", repository.ErrReferenced)
	}
	if _, ok := r.t.st.doctors[p.ExternalID]; ok {
		return repository.ErrConflict
	}
	now := time.Now().UTC()
	p.ID = newID(p.ID)
	p.CreatedAt, p.UpdatedAt = now, now
	r.t.st.doctors[p.ExternalID] = *p
	return nil
}

func (r doctors) GetByExternalID(_ context.Context, externalID string) (*model.DoctorProfile, error) {
	if err := r.t.fail("doctors.get"); err != nil {
		return nil, err
	}
	v, ok := r.t.st.doctors[externalID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

func (r doctors) Update(_ context.Context, p *model.DoctorProfile) error {
	if err := r.t.fail("doctors.update"); err != nil {
		return err
	}
	v, ok := r.t.st.doctors[p.ExternalID]
	if !ok {
		return repository.ErrNotFound
	}
	v.Name, v.Specialties, v.PrimaryCare = p.Name, p.Specialties, p.PrimaryCare
	v.UpdatedAt = time.Now().UTC()
	p.UpdatedAt = v.UpdatedAt
	r.t.st.doctors[p.ExternalID] = v
	return nil
}

func (r doctors) DeleteByExternalID(_ context.Context, externalID string) (bool, error) {
	if err := r.t.fail("doctors.delete"); err != nil {
		return false, err
	}
	if _, ok := r.t.st.doctors[externalID]; !ok {
		return false, nil
	}
	delete(r.t.st.doctors, externalID)
	return true, nil
}

// --- patients ---

type patients struct{ t *tx }

func (r patients) Create(_ context.Context, p *model.PatientProfile) error {
	if err := r.t.fail("patients.create"); err != nil {
		return err
	}
	if _, ok := r.t.st.identities[p.ExternalID]; !ok {
		return fmt.Errorf("создания профиля пациента: %w", repository.ErrReferenced)
	}
	if _, ok := r.t.st.patients[p.ExternalID]; ok {
		return repository.ErrConflict
	}
	now := time.Now().UTC()
	p.ID = newID(p.ID)
	p.CreatedAt, p.UpdatedAt = now, now
	r.t.st.patients[p.ExternalID] = clonePatient(*p)
	return nil
}

func clonePatient(p model.PatientProfile) model.PatientProfile {
	if p.PrimaryDoctorID != nil {
		id := *p.PrimaryDoctorID
		p.PrimaryDoctorID = &id
	}
	return p
}

func (r patients) GetByExternalID(_ context.Context, externalID string) (*model.PatientProfile, error) {
	if err := r.t.fail("patients.get"); err != nil {
		return nil, err
	}
	v, ok := r.t.st.patients[externalID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	v = clonePatient(v)
	return &v, nil
}

func (r patients) Update(_ context.Context, p *model.PatientProfile) error {
	if err := r.t.fail("patients.update"); err != nil {
		return err
	}
	v, ok := r.t.st.patients[p.ExternalID]
	if !ok {
		return repository.ErrNotFound
	}
	v.Name, v.InsurancePaid, v.PrimaryDoctorID = p.Name, p.InsurancePaid, p.PrimaryDoctorID
	v.UpdatedAt = time.Now().UTC()
	p.UpdatedAt = v.UpdatedAt
	r.t.st.patients[p.ExternalID] = clonePatient(v)
	return nil
}

func (r patients) DeleteByExternalID(_ context.Context, externalID string) (bool, error) {
	if err := r.t.fail("patients.delete"); err != nil {
		return false, err
	}
	if _, ok := r.t.st.patients[externalID]; !ok {
		return false, nil
	}
	delete(r.t.st.patients, externalID)
	return true, nil
}

func (r patients) ClearPrimaryDoctor(_ context.Context, doctorExternalID string) (int64, error) {
	var n int64
	for id, p := range r.t.st.patients {
		if p.PrimaryDoctorID != nil && *p.PrimaryDoctorID == doctorExternalID {
			p.PrimaryDoctorID = nil
			r.t.st.patients[id] = p
			n++
		}
	}
	return n, nil
}

// --- appointments ---

type appointments struct{ t *tx }

func (r appointments) Create(_ context.Context, a *model.Appointment) error {
	if err := r.t.fail("appointments.create"); err != nil {
		return err
	}
	if !r.identitiesExist(a) {
		return fmt.Errorf("создания приёма: %w", repository.ErrReferenced)
	}
	now := time.Now().UTC()
	a.ID = newID(a.ID)
	a.CreatedAt, a.UpdatedAt = now, now
	r.t.st.appointments[a.ID] = *a
	return nil
}

func (r appointments) identitiesExist(a *model.Appointment) bool {
	_, okD := r.t.st.identities[a.DoctorID]
	_, okP := r.t.st.identities[a.PatientID]
	return okD && okP
}

func (r appointments) GetByID(_ context.Context, id string) (*model.Appointment, error) {
	if err := r.t.fail("appointments.get"); err != nil {
		return nil, err
	}
	v, ok := r.t.st.appointments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

func (r appointments) GetByIDForUpdate(ctx context.Context, id string) (*model.Appointment, error) {
	return r.GetByID(ctx, id)
}

func (r appointments) Update(_ context.Context, a *model.Appointment) error {
	if err := r.t.fail("appointments.update"); err != nil {
		return err
	}
	v, ok := r.t.st.appointments[a.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if !r.identitiesExist(a) {
		return fmt.Errorf("обновления приёма: %w", repository.ErrReferenced)
	}
	v.PatientID, v.DoctorID, v.ScheduledAt, v.UpdatedAt = a.PatientID, a.DoctorID, a.ScheduledAt, a.UpdatedAt
	r.t.st.appointments[a.ID] = v
	return nil
}

func (r appointments) Touch(_ context.Context, id string, at time.Time) error {
	if err := r.t.fail("appointments.touch"); err != nil {
		return err
	}
	v, ok := r.t.st.appointments[id]
	if !ok {
		return repository.ErrNotFound
	}
	v.UpdatedAt = at
	r.t.st.appointments[id] = v
	return nil
}

func (r appointments) Delete(_ context.Context, id string) error {
	if err := r.t.fail("appointments.delete"); err != nil {
		return err
	}
	if _, ok := r.t.st.appointments[id]; !ok {
		return repository.ErrNotFound
	}
	for _, d := range r.t.st.diagnoses {
		if d.AppointmentID == id {
			return fmt.Errorf("удаления приёма: %w", repository.ErrReferenced)
		}
	}
	for _, s := range r.t.st.sickLeaves {
		if s.AppointmentID == id {
			return fmt.Errorf("удаления приёма: %w", repository.ErrReferenced)
		}
	}
	delete(r.t.st.appointments, id)
	return nil
}

func (r appointments) CountByIdentity(_ context.Context, externalID string) (int, error) {
	n := 0
	for _, a := range r.t.st.appointments {
		if a.DoctorID == externalID || a.PatientID == externalID {
			n++
		}
	}
	return n, nil
}

// --- diagnoses ---

type diagnoses struct{ t *tx }

func (r diagnoses) Create(_ context.Context, d *model.Diagnosis) error {
	if err := r.t.fail("diagnoses.create"); err != nil {
		return err
	}
	if _, ok := r.t.st.appointments[d.AppointmentID]; !ok {
		return fmt.Errorf("создания диагноза: %w", repository.ErrReferenced)
	}
	now := time.Now().UTC()
	d.ID = newID(d.ID)
	d.CreatedAt, d.UpdatedAt = now, now
	r.t.st.diagnoses[d.ID] = *d
	return nil
}

func (r diagnoses) GetByID(_ context.Context, id string) (*model.Diagnosis, error) {
	v, ok := r.t.st.diagnoses[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

func (r diagnoses) Update(_ context.Context, d *model.Diagnosis) error {
	if err := r.t.fail("diagnoses.update"); err != nil {
		return err
	}
	v, ok := r.t.st.diagnoses[d.ID]
	if !ok {
		return repository.ErrNotFound
	}
	v.Statement, v.DiagnosedAt, v.UpdatedAt = d.Statement, d.DiagnosedAt, d.UpdatedAt
	r.t.st.diagnoses[d.ID] = v
	return nil
}

func (r diagnoses) Delete(_ context.Context, id string) error {
	if err := r.t.fail("diagnoses.delete"); err != nil {
		return err
	}
	if _, ok := r.t.st.diagnoses[id]; !ok {
		return repository.ErrNotFound
	}
	for _, t := range r.t.st.treatments {
		if t.DiagnosisID == id {
			return fmt.Errorf("удаления диагноза: %w", repository.ErrReferenced)
		}
	}
	delete(r.t.st.diagnoses, id)
	return nil
}

func (r diagnoses) ListByAppointment(_ context.Context, appointmentID string) ([]*model.Diagnosis, error) {
	var result []*model.Diagnosis
	for _, d := range r.t.st.diagnoses {
		if d.AppointmentID == appointmentID {
			v := d
			result = append(result, &v)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// --- sick leaves ---

type sickLeaves struct{ t *tx }

func (r sickLeaves) Create(_ context.Context, s *model.SickLeave) error {
	if err := r.t.fail("sick_leaves.create"); err != nil {
		return err
	}
	if _, ok := r.t.st.appointments[s.AppointmentID]; !ok {
		return fmt.Errorf("создания больничного: %w", repository.ErrReferenced)
	}
	now := time.Now().UTC()
	s.ID = newID(s.ID)
	s.CreatedAt, s.UpdatedAt = now, now
	r.t.st.sickLeaves[s.ID] = *s
	return nil
}

func (r sickLeaves) GetByID(_ context.Context, id string) (*model.SickLeave, error) {
	v, ok := r.t.st.sickLeaves[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

func (r sickLeaves) Update(_ context.Context, s *model.SickLeave) error {
	if err := r.t.fail("sick_leaves.update"); err != nil {
		return err
	}
	v, ok := r.t.st.sickLeaves[s.ID]
	if !ok {
		return repository.ErrNotFound
	}
	v.Reason, v.StartDate, v.DurationDays, v.UpdatedAt = s.Reason, s.StartDate, s.DurationDays, s.UpdatedAt
	r.t.st.sickLeaves[s.ID] = v
	return nil
}

func (r sickLeaves) Delete(_ context.Context, id string) error {
	if err := r.t.fail("sick_leaves.delete"); err != nil {
		return err
	}
	if _, ok := r.t.st.sickLeaves[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.t.st.sickLeaves, id)
	return nil
}

func (r sickLeaves) ListByAppointment(_ context.Context, appointmentID string) ([]*model.SickLeave, error) {
	var result []*model.SickLeave
	for _, s := range r.t.st.sickLeaves {
		if s.AppointmentID == appointmentID {
			v := s
			result = append(result, &v)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r sickLeaves) DeleteByAppointment(_ context.Context, appointmentID string) (int64, error) {
	var n int64
	for id, s := range r.t.st.sickLeaves {
		if s.AppointmentID == appointmentID {
			delete(r.t.st.sickLeaves, id)
			n++
		}
	}
	return n, nil
}

// --- treatments ---

type treatments struct{ t *tx }

func (r treatments) Create(_ context.Context, t *model.Treatment) error {
	if err := r.t.fail("treatments.create"); err != nil {
		return err
	}
	if _, ok := r.t.st.diagnoses[t.DiagnosisID]; !ok {
		return fmt.Errorf("создания лечения: %w", repository.ErrReferenced)
	}
	now := time.Now().UTC()
	t.ID = newID(t.ID)
	t.CreatedAt, t.UpdatedAt = now, now
	r.t.st.treatments[t.ID] = *t
	return nil
}

func (r treatments) GetByID(_ context.Context, id string) (*model.Treatment, error) {
	v, ok := r.t.st.treatments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

func (r treatments) Update(_ context.Context, t *model.Treatment) error {
	if err := r.t.fail("treatments.update"); err != nil {
		return err
	}
	v, ok := r.t.st.treatments[t.ID]
	if !ok {
		return repository.ErrNotFound
	}
	v.Description, v.StartDate, v.EndDate, v.UpdatedAt = t.Description, t.StartDate, t.EndDate, t.UpdatedAt
	r.t.st.treatments[t.ID] = v
	return nil
}

func (r treatments) Delete(_ context.Context, id string) error {
	if err := r.t.fail("treatments.delete"); err != nil {
		return err
	}
	if _, ok := r.t.st.treatments[id]; !ok {
		return repository.ErrNotFound
	}
	for _, p := range r.t.st.prescriptions {
		if p.TreatmentID == id {
			return fmt.Errorf("удаления лечения: %w", repository.ErrReferenced)
		}
	}
	delete(r.t.st.treatments, id)
	return nil
}

func (r treatments) ListByDiagnosis(_ context.Context, diagnosisID string) ([]*model.Treatment, error) {
	var result []*model.Treatment
	for _, t := range r.t.st.treatments {
		if t.DiagnosisID == diagnosisID {
			v := t
			result = append(result, &v)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r treatments) DeleteByDiagnosis(_ context.Context, diagnosisID string) (int64, error) {
	var n int64
	for id, t := range r.t.st.treatments {
		if t.DiagnosisID != diagnosisID {
			continue
		}
		for _, p := range r.t.st.prescriptions {
			if p.TreatmentID == id {
				return 0, fmt.Errorf("удаления лечений диагноза: %w", repository.ErrReferenced)
			}
		}
	}
	for id, t := range r.t.st.treatments {
		if t.DiagnosisID == diagnosisID {
			delete(r.t.st.treatments, id)
			n++
		}
	}
	return n, nil
}

// --- prescriptions ---

type prescriptions struct{ t *tx }

func (r prescriptions) Create(_ context.Context, p *model.Prescription) error {
	if err := r.t.fail("prescriptions.create"); err != nil {
		return err
	}
	if _, ok := r.t.st.treatments[p.TreatmentID]; !ok {
		return fmt.Errorf("создания назначения: %w", repository.ErrReferenced)
	}
	if _, ok := r.t.st.medications[p.MedicationID]; !ok {
		return fmt.Errorf("создания назначения: %w", repository.ErrReferenced)
	}
	now := time.Now().UTC()
	p.ID = newID(p.ID)
	p.CreatedAt, p.UpdatedAt = now, now
	r.t.st.prescriptions[p.ID] = *p
	return nil
}

func (r prescriptions) GetByID(_ context.Context, id string) (*model.Prescription, error) {
	v, ok := r.t.st.prescriptions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

func (r prescriptions) Update(_ context.Context, p *model.Prescription) error {
	if err := r.t.fail("prescriptions.update"); err != nil {
		return err
	}
	v, ok := r.t.st.prescriptions[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.t.st.medications[p.MedicationID]; !ok {
		return fmt.Errorf("обновления назначения: %w", repository.ErrReferenced)
	}
	v.MedicationID, v.Dosage, v.DurationDays, v.UpdatedAt = p.MedicationID, p.Dosage, p.DurationDays, p.UpdatedAt
	r.t.st.prescriptions[p.ID] = v
	return nil
}

func (r prescriptions) Delete(_ context.Context, id string) error {
	if err := r.t.fail("prescriptions.delete"); err != nil {
		return err
	}
	if _, ok := r.t.st.prescriptions[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.t.st.prescriptions, id)
	return nil
}

func (r prescriptions) ListByTreatment(_ context.Context, treatmentID string) ([]*model.Prescription, error) {
	var result []*model.Prescription
	for _, p := range r.t.st.prescriptions {
		if p.TreatmentID == treatmentID {
			v := p
			result = append(result, &v)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r prescriptions) DeleteByTreatment(_ context.Context, treatmentID string) (int64, error) {
	var n int64
	for id, p := range r.t.st.prescriptions {
		if p.TreatmentID == treatmentID {
			delete(r.t.st.prescriptions, id)
			n++
		}
	}
	return n, nil
}

// --- medications ---

type medications struct{ t *tx }

func (r medications) Create(_ context.Context, m *model.Medication) error {
	for _, existing := range r.t.st.medications {
		if existing.Name == m.Name {
			return repository.ErrConflict
		}
	}
	m.ID = newID(m.ID)
	m.CreatedAt = time.Now().UTC()
	r.t.st.medications[m.ID] = *m
	return nil
}

func (r medications) GetByID(_ context.Context, id string) (*model.Medication, error) {
	v, ok := r.t.st.medications[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

// --- sync state ---

type syncState struct{ t *tx }

func (r syncState) Get(_ context.Context) (*model.SyncState, error) {
	v := r.t.st.syncState
	return &v, nil
}

func (r syncState) UpdateUserSync(_ context.Context, t time.Time, failures int) error {
	if err := r.t.fail("sync_state.update"); err != nil {
		return err
	}
	r.t.st.syncState.LastUserSyncAt = &t
	r.t.st.syncState.LastUserSyncFailures = failures
	r.t.st.syncState.UpdatedAt = time.Now().UTC()
	return nil
}
