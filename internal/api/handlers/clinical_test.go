package handlers

import (
	"net/http"
	"testing"

	"github.com/simeonov123/MedicalRecords-sub000/internal/domain/rbac"
)

// clinic — API с двумя врачами, пациентом и администратором, прошедшими первый вход.
func clinic(t *testing.T) *testAPI {
	t.Helper()
	a := newTestAPI(t)
	for _, p := range []struct{ id, role string }{
		{"d1", rbac.RoleDoctor},
		{"d2", rbac.RoleDoctor},
		{"p1", rbac.RolePatient},
		{"a1", rbac.RoleAdmin},
	} {
		a.login(t, principal(p.id, p.role))
	}
	return a
}

func idOf(t *testing.T, body map[string]any) string {
	t.Helper()
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("нет id в ответе: %v", body)
	}
	return id
}

func TestMe_FirstLoginCreatesProfile(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, principal("d1", rbac.RoleDoctor), http.MethodGet, "/api/v1/me", nil)
	expectStatus(t, rec, http.StatusOK)

	body := decode(t, rec)
	if _, ok := body["doctor"].(map[string]any); !ok {
		t.Errorf("ожидался профиль врача: %v", body)
	}
	if _, ok := body["patient"]; ok {
		t.Errorf("профиль пациента не ожидался: %v", body)
	}
	if a.store.Doctor("d1") == nil {
		t.Error("профиль врача не сохранён")
	}

	// Повторный вход не создаёт второй профиль
	expectStatus(t, a.do(t, principal("d1", rbac.RoleDoctor), http.MethodGet, "/api/v1/me", nil), http.StatusOK)
	if c := a.store.Counts(); c.Doctors != 1 {
		t.Errorf("профилей врачей = %d, ожидался 1", c.Doctors)
	}
}

func TestMe_Unauthenticated(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, nil, http.MethodGet, "/api/v1/me", nil)
	expectStatus(t, rec, http.StatusUnauthorized)
	if code := errorCode(t, rec); code != "UNAUTHORIZED" {
		t.Errorf("code = %q, ожидался UNAUTHORIZED", code)
	}
}

func TestClinicalFlow(t *testing.T) {
	a := clinic(t)
	admin := principal("a1", rbac.RoleAdmin)
	d1 := principal("d1", rbac.RoleDoctor)
	d2 := principal("d2", rbac.RoleDoctor)
	p1 := principal("p1", rbac.RolePatient)

	rec := a.do(t, admin, http.MethodPost, "/api/v1/medications", map[string]any{
		"name": "Парацетамол", "dosage_form": "таблетки",
	})
	expectStatus(t, rec, http.StatusCreated)
	medID := idOf(t, decode(t, rec))

	rec = a.do(t, d1, http.MethodPost, "/api/v1/appointments", map[string]any{
		"patient_id": "p1", "scheduled_at": "2025-03-10T09:00:00Z",
	})
	expectStatus(t, rec, http.StatusCreated)
	appt := decode(t, rec)
	apptID := idOf(t, appt)
	if appt["doctor_id"] != "d1" {
		t.Errorf("doctor_id = %v, ожидался d1", appt["doctor_id"])
	}
	base := "/api/v1/appointments/" + apptID

	rec = a.do(t, d1, http.MethodPost, base+"/diagnoses", map[string]any{
		"statement": "ОРВИ", "diagnosed_at": "2025-03-10T09:30:00Z",
	})
	expectStatus(t, rec, http.StatusCreated)
	diagPath := base + "/diagnoses/" + idOf(t, decode(t, rec))

	rec = a.do(t, d1, http.MethodPost, diagPath+"/treatments", map[string]any{
		"description": "Постельный режим", "start_date": "2025-03-10",
	})
	expectStatus(t, rec, http.StatusCreated)
	treatPath := diagPath + "/treatments/" + idOf(t, decode(t, rec))

	rec = a.do(t, d1, http.MethodPost, treatPath+"/prescriptions", map[string]any{
		"medication_id": medID, "dosage": "500 мг", "duration_days": 5,
	})
	expectStatus(t, rec, http.StatusCreated)
	rxPath := treatPath + "/prescriptions/" + idOf(t, decode(t, rec))

	rec = a.do(t, d1, http.MethodPost, base+"/sick-leaves", map[string]any{
		"reason": "ОРВИ", "start_date": "2025-03-10", "duration_days": 5,
	})
	expectStatus(t, rec, http.StatusCreated)

	t.Run("чужой врач", func(t *testing.T) {
		rec := a.do(t, d2, http.MethodPut, diagPath, map[string]any{
			"statement": "Грипп", "diagnosed_at": "2025-03-10T09:30:00Z",
		})
		expectStatus(t, rec, http.StatusForbidden)
		if code := errorCode(t, rec); code != "DOCTOR_NOT_ASSIGNED" {
			t.Errorf("code = %q, ожидался DOCTOR_NOT_ASSIGNED", code)
		}
	})

	t.Run("пациент", func(t *testing.T) {
		rec := a.do(t, p1, http.MethodDelete, rxPath, nil)
		expectStatus(t, rec, http.StatusForbidden)
		if code := errorCode(t, rec); code != "FORBIDDEN" {
			t.Errorf("code = %q, ожидался FORBIDDEN", code)
		}
	})

	t.Run("чтение без назначения", func(t *testing.T) {
		expectStatus(t, a.do(t, d2, http.MethodGet, rxPath, nil), http.StatusOK)
	})

	t.Run("полная карта приёма", func(t *testing.T) {
		rec := a.do(t, p1, http.MethodGet, base+"/record", nil)
		expectStatus(t, rec, http.StatusOK)
		body := decode(t, rec)

		diags, _ := body["diagnoses"].([]any)
		if len(diags) != 1 {
			t.Fatalf("diagnoses = %v, ожидался 1 диагноз", body["diagnoses"])
		}
		treats, _ := diags[0].(map[string]any)["treatments"].([]any)
		if len(treats) != 1 {
			t.Fatalf("treatments = %v, ожидалось 1 лечение", treats)
		}
		rxs, _ := treats[0].(map[string]any)["prescriptions"].([]any)
		if len(rxs) != 1 {
			t.Errorf("prescriptions = %v, ожидалось 1 назначение", rxs)
		}
		if sl, _ := body["sick_leaves"].([]any); len(sl) != 1 {
			t.Errorf("sick_leaves = %v, ожидался 1 больничный", body["sick_leaves"])
		}
	})

	t.Run("чужая цепочка", func(t *testing.T) {
		rec := a.do(t, d2, http.MethodPost, "/api/v1/appointments", map[string]any{
			"patient_id": "p1", "scheduled_at": "2025-03-11T09:00:00Z",
		})
		expectStatus(t, rec, http.StatusCreated)
		otherBase := "/api/v1/appointments/" + idOf(t, decode(t, rec))

		rec = a.do(t, d2, http.MethodPost, otherBase+"/diagnoses", map[string]any{
			"statement": "Бронхит", "diagnosed_at": "2025-03-11T09:30:00Z",
		})
		expectStatus(t, rec, http.StatusCreated)
		otherDiag := idOf(t, decode(t, rec))

		expectStatus(t, a.do(t, d1, http.MethodGet, base+"/diagnoses/"+otherDiag, nil), http.StatusNotFound)
	})

	t.Run("удаление приёма", func(t *testing.T) {
		expectStatus(t, a.do(t, d1, http.MethodDelete, base, nil), http.StatusNoContent)
		expectStatus(t, a.do(t, d1, http.MethodGet, base, nil), http.StatusNotFound)
		expectStatus(t, a.do(t, d1, http.MethodGet, rxPath, nil), http.StatusNotFound)
	})
}

func TestCreateAppointment_Roles(t *testing.T) {
	tests := []struct {
		name   string
		actor  string
		role   string
		body   map[string]any
		status int
	}{
		{"врач на себя", "d1", rbac.RoleDoctor, map[string]any{"patient_id": "p1"}, http.StatusCreated},
		{"врач на другого", "d1", rbac.RoleDoctor, map[string]any{"patient_id": "p1", "doctor_id": "d2"}, http.StatusForbidden},
		{"пациент сам", "p1", rbac.RolePatient, map[string]any{"doctor_id": "d1"}, http.StatusCreated},
		{"пациент без врача", "p1", rbac.RolePatient, map[string]any{}, http.StatusBadRequest},
		{"админ без пациента", "a1", rbac.RoleAdmin, map[string]any{"doctor_id": "d1"}, http.StatusBadRequest},
		{"админ", "a1", rbac.RoleAdmin, map[string]any{"doctor_id": "d1", "patient_id": "p1"}, http.StatusCreated},
		{"неизвестный пациент", "d1", rbac.RoleDoctor, map[string]any{"patient_id": "nobody"}, http.StatusNotFound},
		{"роль user", "u1", rbac.RoleUser, map[string]any{"doctor_id": "d1", "patient_id": "p1"}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := clinic(t)
			tt.body["scheduled_at"] = "2025-03-10T09:00:00Z"
			rec := a.do(t, principal(tt.actor, tt.role), http.MethodPost, "/api/v1/appointments", tt.body)
			expectStatus(t, rec, tt.status)
		})
	}
}

func TestRequestValidation(t *testing.T) {
	a := clinic(t)
	d1 := principal("d1", rbac.RoleDoctor)

	rec := a.do(t, d1, http.MethodPost, "/api/v1/appointments", map[string]any{
		"patient_id": "p1", "scheduled_at": "2025-03-10T09:00:00Z",
	})
	expectStatus(t, rec, http.StatusCreated)
	base := "/api/v1/appointments/" + idOf(t, decode(t, rec))

	tests := []struct {
		name string
		path string
		body any
	}{
		{"некорректный JSON", base + "/diagnoses", `{"statement":`},
		{"неизвестное поле", base + "/diagnoses", map[string]any{
			"statement": "ОРВИ", "diagnosed_at": "2025-03-10T09:30:00Z", "severity": "high",
		}},
		{"нет statement", base + "/diagnoses", map[string]any{"diagnosed_at": "2025-03-10T09:30:00Z"}},
		{"нет даты диагноза", base + "/diagnoses", map[string]any{"statement": "ОРВИ"}},
		{"нулевая длительность", base + "/sick-leaves", map[string]any{
			"reason": "ОРВИ", "start_date": "2025-03-10", "duration_days": 0,
		}},
		{"дата не в формате даты", base + "/sick-leaves", map[string]any{
			"reason": "ОРВИ", "start_date": "10.03.2025", "duration_days": 3,
		}},
		{"нет scheduled_at", "/api/v1/appointments", map[string]any{"patient_id": "p1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, d1, http.MethodPost, tt.path, tt.body)
			expectStatus(t, rec, http.StatusBadRequest)
			if code := errorCode(t, rec); code != "VALIDATION_ERROR" {
				t.Errorf("code = %q, ожидался VALIDATION_ERROR", code)
			}
		})
	}
}

func TestMedications_AdminOnly(t *testing.T) {
	a := clinic(t)
	body := map[string]any{"name": "Ибупрофен"}

	expectStatus(t, a.do(t, principal("d1", rbac.RoleDoctor), http.MethodPost, "/api/v1/medications", body), http.StatusForbidden)

	rec := a.do(t, principal("a1", rbac.RoleAdmin), http.MethodPost, "/api/v1/medications", body)
	expectStatus(t, rec, http.StatusCreated)
	id := idOf(t, decode(t, rec))

	rec = a.do(t, principal("p1", rbac.RolePatient), http.MethodGet, "/api/v1/medications/"+id, nil)
	expectStatus(t, rec, http.StatusOK)
	if name := decode(t, rec)["name"]; name != "Ибупрофен" {
		t.Errorf("name = %v", name)
	}

	expectStatus(t, a.do(t, principal("p1", rbac.RolePatient), http.MethodGet, "/api/v1/medications/missing", nil), http.StatusNotFound)
}
