// profiles.go — профили врачей и пациентов, первый вход пользователя.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/model"
	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/rbac"
	"github.com/simeonov123/MedicalRecords-sub000/internal/events"
	"github.com/simeonov123/MedicalRecords-sub000/internal/repository"
)

// DoctorUpdate — изменяемые поля профиля врача. nil — не менять.
type DoctorUpdate struct {
	Name        *string
	Specialties *string
	PrimaryCare *bool
}

// PatientUpdate — изменяемые поля профиля пациента. nil — не менять.
type PatientUpdate struct {
	InsurancePaid *bool
	// PrimaryDoctorID — пустая строка снимает лечащего врача
	PrimaryDoctorID *string
}

// ProfileService — профили и локальные идентичности.
type ProfileService struct {
	tx        repository.Transactor
	publisher events.Publisher
	logger    *slog.Logger
}

// NewProfileService создаёт сервис профилей.
func NewProfileService(tx repository.Transactor, publisher events.Publisher, logger *slog.Logger) *ProfileService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &ProfileService{
		tx:        tx,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "profile_service")),
	}
}

// EnsureIdentity возвращает идентичность субъекта, создавая её при первом входе.
// Для врача или пациента без профиля создаётся профиль по умолчанию, если
// сохранённая метка роли совпадает с ролью из токена.
func (s *ProfileService) EnsureIdentity(ctx context.Context, p model.Principal) (*model.IdentityOverview, error) {
	if !p.Authenticated() {
		return nil, ErrUnauthenticated
	}

	overview := &model.IdentityOverview{}
	created := false
	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		if err := st.Identities.Lock(ctx, p.IdentityID); err != nil {
			return err
		}

		ident, err := st.Identities.GetByExternalID(ctx, p.IdentityID)
		if errors.Is(err, repository.ErrNotFound) {
			ident = &model.Identity{
				ExternalID:  p.IdentityID,
				Username:    p.Username,
				Email:       p.Email,
				FirstName:   p.FirstName,
				LastName:    p.LastName,
				DisplayName: rbac.DisplayName(p.FirstName, p.LastName, p.Username),
				Role:        p.Role,
			}
			if err := st.Identities.Create(ctx, ident); err != nil {
				return storeError("создание идентичности", err)
			}
			created = true
		} else if err != nil {
			return fmt.Errorf("получение идентичности: %w", err)
		}
		overview.Identity = ident

		if err := loadProfiles(ctx, st, overview); err != nil {
			return err
		}
		if overview.Doctor != nil || overview.Patient != nil || ident.Role != p.Role {
			return nil
		}

		switch ident.Role {
		case rbac.RoleDoctor:
			d := &model.DoctorProfile{ExternalID: ident.ExternalID, Name: ident.DisplayName, Specialties: model.DefaultSpecialties}
			if err := st.Doctors.Create(ctx, d); err != nil {
				return storeError("создание профиля врача", err)
			}
			overview.Doctor = d
		case rbac.RolePatient:
			pp := &model.PatientProfile{ExternalID: ident.ExternalID, Name: ident.DisplayName}
			if err := st.Patients.Create(ctx, pp); err != nil {
				return storeError("создание профиля пациента", err)
			}
			overview.Patient = pp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.logger.Info("Идентичность создана при первом входе",
			slog.String("identity_id", p.IdentityID),
			slog.String("role", p.Role),
		)
		events.Emit(ctx, s.publisher, s.logger, events.Event{
			Type:       events.TypeIdentityCreated,
			IdentityID: p.IdentityID,
			ActorID:    p.IdentityID,
			Role:       p.Role,
			Source:     events.SourceAPI,
		})
	}
	return overview, nil
}

// Overview возвращает идентичность с профилем.
func (s *ProfileService) Overview(ctx context.Context, identityID string) (*model.IdentityOverview, error) {
	overview := &model.IdentityOverview{}
	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		ident, err := st.Identities.GetByExternalID(ctx, identityID)
		if err != nil {
			return storeError("получение идентичности", err)
		}
		overview.Identity = ident
		return loadProfiles(ctx, st, overview)
	})
	if err != nil {
		return nil, err
	}
	return overview, nil
}

// GetDoctor возвращает профиль врача.
func (s *ProfileService) GetDoctor(ctx context.Context, identityID string) (*model.DoctorProfile, error) {
	var d *model.DoctorProfile
	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		var err error
		d, err = getDoctor(ctx, st, identityID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateDoctor изменяет профиль врача. Доступно администратору и самому врачу.
func (s *ProfileService) UpdateDoctor(ctx context.Context, p model.Principal, identityID string, upd DoctorUpdate) (*model.DoctorProfile, error) {
	if !p.Authenticated() {
		return nil, ErrUnauthenticated
	}
	if p.Role != rbac.RoleAdmin && !(p.Role == rbac.RoleDoctor && p.IdentityID == identityID) {
		return nil, fmt.Errorf("%w: изменение чужого профиля врача", ErrForbidden)
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, validationError("name не может быть пустым")
	}
	if upd.Specialties != nil && strings.TrimSpace(*upd.Specialties) == "" {
		return nil, validationError("specialties не может быть пустым")
	}

	var d *model.DoctorProfile
	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		if err := st.Identities.Lock(ctx, identityID); err != nil {
			return err
		}
		var err error
		d, err = getDoctor(ctx, st, identityID)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			d.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Specialties != nil {
			d.Specialties = strings.TrimSpace(*upd.Specialties)
		}
		if upd.PrimaryCare != nil {
			d.PrimaryCare = *upd.PrimaryCare
		}
		return wrapStore("обновление профиля врача", st.Doctors.Update(ctx, d))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Профиль врача обновлён",
		slog.String("identity_id", identityID),
		slog.String("actor_id", p.IdentityID),
	)
	return d, nil
}

// GetPatient возвращает профиль пациента.
func (s *ProfileService) GetPatient(ctx context.Context, identityID string) (*model.PatientProfile, error) {
	var pp *model.PatientProfile
	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		var err error
		pp, err = getPatient(ctx, st, identityID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pp, nil
}

// UpdatePatient изменяет профиль пациента.
// Администратор меняет страховку и лечащего врача, пациент — только лечащего врача.
func (s *ProfileService) UpdatePatient(ctx context.Context, p model.Principal, identityID string, upd PatientUpdate) (*model.PatientProfile, error) {
	if !p.Authenticated() {
		return nil, ErrUnauthenticated
	}
	switch {
	case p.Role == rbac.RoleAdmin:
	case p.Role == rbac.RolePatient && p.IdentityID == identityID:
		if upd.InsurancePaid != nil {
			return nil, fmt.Errorf("%w: страховку меняет только администратор", ErrForbidden)
		}
	default:
		return nil, fmt.Errorf("%w: изменение чужого профиля пациента", ErrForbidden)
	}

	var pp *model.PatientProfile
	err := s.tx.InTx(ctx, func(st *repository.Store) error {
		if err := st.Identities.Lock(ctx, identityID); err != nil {
			return err
		}
		var err error
		pp, err = getPatient(ctx, st, identityID)
		if err != nil {
			return err
		}
		if upd.InsurancePaid != nil {
			pp.InsurancePaid = *upd.InsurancePaid
		}
		if upd.PrimaryDoctorID != nil {
			if *upd.PrimaryDoctorID == "" {
				pp.PrimaryDoctorID = nil
			} else {
				if err := requireDoctor(ctx, st, *upd.PrimaryDoctorID); err != nil {
					return err
				}
				id := *upd.PrimaryDoctorID
				pp.PrimaryDoctorID = &id
			}
		}
		return wrapStore("обновление профиля пациента", st.Patients.Update(ctx, pp))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Профиль пациента обновлён",
		slog.String("identity_id", identityID),
		slog.String("actor_id", p.IdentityID),
	)
	return pp, nil
}

func getDoctor(ctx context.Context, st *repository.Store, id string) (*model.DoctorProfile, error) {
	d, err := st.Doctors.GetByExternalID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: врач %s", ErrProfileNotFound, id)
		}
		return nil, fmt.Errorf("получение профиля врача: %w", err)
	}
	return d, nil
}

func getPatient(ctx context.Context, st *repository.Store, id string) (*model.PatientProfile, error) {
	pp, err := st.Patients.GetByExternalID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: пациент %s", ErrProfileNotFound, id)
		}
		return nil, fmt.Errorf("получение профиля пациента: %w", err)
	}
	return pp, nil
}

// loadProfiles дополняет overview профилями идентичности (если есть).
func loadProfiles(ctx context.Context, st *repository.Store, overview *model.IdentityOverview) error {
	id := overview.Identity.ExternalID

	d, err := st.Doctors.GetByExternalID(ctx, id)
	switch {
	case err == nil:
		overview.Doctor = d
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("получение профиля врача: %w", err)
	}

	pp, err := st.Patients.GetByExternalID(ctx, id)
	switch {
	case err == nil:
		overview.Patient = pp
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("получение профиля пациента: %w", err)
	}
	return nil
}
