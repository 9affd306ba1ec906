package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"

	"tutorcrm/config"
	"tutorcrm/middleware"
	"tutorcrm/models"
	"tutorcrm/repository/memrepo"
	"tutorcrm/services"
)

// wednesday is 2025-03-05 12:00 in the business zone (UTC+5).
var wednesday = time.Date(2025, 3, 5, 7, 0, 0, 0, time.UTC)

const sweepToken = "sweep-secret"

type fakeUploader struct {
	calls int
}

func (f *fakeUploader) UploadReceipt(file *multipart.FileHeader, studentID uint) (string, error) {
	f.calls++
	return fmt.Sprintf("https://receipts.example/%d/%s", studentID, file.Filename), nil
}

type testServer struct {
	app      *fiber.App
	core     *services.Core
	cfg      *config.Config
	uploader *fakeUploader
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.SweepToken = sweepToken

	core := services.NewCore(memrepo.New(), cfg, services.NewLocalLocker())
	core.Clock = func() time.Time { return wednesday }

	logs := services.NewActivityLogService(nil, nil)
	middleware.SetActivityRecorder(logs)
	uploader := &fakeUploader{}

	app := fiber.New()
	SetupRoutes(app, Dependencies{
		Config:   cfg,
		Core:     core,
		Uploader: uploader,
		Logs:     logs,
		Archives: services.NewLogArchiveService(nil, logs, nil, ""),
		Health:   services.NewHealthService("test", nil, nil, services.HealthFlags{StoreDriver: "memory"}),
	})
	return &testServer{app: app, core: core, cfg: cfg, uploader: uploader}
}

func (s *testServer) token(t *testing.T, role string, userID uint) string {
	t.Helper()
	claims := middleware.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.send(t, req)
}

func (s *testServer) send(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

// createStudentWithSchedule creates a student and a Monday 16:00 schedule as admin.
func (s *testServer) createStudentWithSchedule(t *testing.T, admin string) uint {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/students", admin, map[string]interface{}{
		"full_name":    "Madina",
		"lesson_price": 100,
	})
	if status != http.StatusCreated {
		t.Fatalf("create student: status %d body %v", status, body)
	}
	id := uint(body["student"].(map[string]interface{})["id"].(float64))

	status, body = s.do(t, http.MethodPost, "/api/schedules", admin, map[string]interface{}{
		"student_id":       id,
		"day_of_week":      1,
		"time_of_day":      "16:00",
		"duration_minutes": 60,
	})
	if status != http.StatusCreated {
		t.Fatalf("create schedule: status %d body %v", status, body)
	}
	if body["generated"].(float64) != 0 {
		t.Fatalf("expected nothing generated without balance, got %v", body["generated"])
	}
	return id
}

func TestPublicEndpoints(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/health", "/metrics"} {
		resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	if status, _ := s.do(t, http.MethodGet, "/api/students", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	if status, _ := s.do(t, http.MethodGet, "/api/students", "not-a-jwt", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", status)
	}
	if status, _ := s.do(t, http.MethodGet, "/api/students", s.token(t, middleware.RoleStudent, 1), nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for student role, got %d", status)
	}
	if status, _ := s.do(t, http.MethodGet, "/api/students", s.token(t, middleware.RoleManager, 1), nil); status != http.StatusOK {
		t.Fatalf("expected 200 for manager, got %d", status)
	}
}

func TestPaymentRefillsLessons(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, middleware.RoleAdmin, 1)
	id := s.createStudentWithSchedule(t, admin)

	status, body := s.do(t, http.MethodPost, fmt.Sprintf("/api/students/%d/payments", id), admin, map[string]interface{}{
		"amount":            300,
		"lessons_purchased": 3,
	})
	if status != http.StatusCreated {
		t.Fatalf("record payment: status %d body %v", status, body)
	}
	if body["generated"].(float64) != 3 {
		t.Fatalf("expected 3 generated lessons, got %v", body["generated"])
	}

	status, body = s.do(t, http.MethodGet, fmt.Sprintf("/api/students/%d/balance", id), admin, nil)
	if status != http.StatusOK {
		t.Fatalf("balance: status %d", status)
	}
	balance := body["balance"].(map[string]interface{})
	if balance["total_paid"].(float64) != 3 || balance["remaining"].(float64) != 3 {
		t.Fatalf("unexpected balance %v", balance)
	}

	status, body = s.do(t, http.MethodGet, fmt.Sprintf("/api/lessons?student_id=%d", id), admin, nil)
	if status != http.StatusOK {
		t.Fatalf("list lessons: status %d", status)
	}
	lessons := body["lessons"].([]interface{})
	if len(lessons) != 3 {
		t.Fatalf("expected 3 lessons, got %d", len(lessons))
	}
	first := lessons[0].(map[string]interface{})
	if first["scheduled_at"] != "2025-03-10T11:00:00Z" {
		t.Fatalf("unexpected scheduled_at %v", first["scheduled_at"])
	}
	if first["actual_start_at"] != "2025-03-10T09:00:00Z" {
		t.Fatalf("unexpected actual_start_at %v", first["actual_start_at"])
	}
	if first["original_time"] != "2025-03-10 16:00" {
		t.Fatalf("unexpected original_time %v", first["original_time"])
	}
}

func TestPaymentWithReceipt(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, middleware.RoleAdmin, 1)
	id := s.createStudentWithSchedule(t, admin)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("amount", "100")
	w.WriteField("lessons_purchased", "1")
	part, _ := w.CreateFormFile("receipt", "receipt.pdf")
	part.Write([]byte("%PDF-1.4"))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/students/%d/payments", id), &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+admin)
	status, body := s.send(t, req)
	if status != http.StatusCreated {
		t.Fatalf("record payment: status %d body %v", status, body)
	}
	if s.uploader.calls != 1 {
		t.Fatalf("expected one upload, got %d", s.uploader.calls)
	}
	payment := body["payment"].(map[string]interface{})
	if payment["receipt_url"] != fmt.Sprintf("https://receipts.example/%d/receipt.pdf", id) {
		t.Fatalf("unexpected receipt_url %v", payment["receipt_url"])
	}
}

func TestLessonTransitions(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, middleware.RoleAdmin, 1)
	id := s.createStudentWithSchedule(t, admin)
	s.do(t, http.MethodPost, fmt.Sprintf("/api/students/%d/payments", id), admin, map[string]interface{}{
		"amount": 200, "lessons_purchased": 2,
	})

	_, body := s.do(t, http.MethodGet, fmt.Sprintf("/api/lessons?student_id=%d", id), admin, nil)
	lessons := body["lessons"].([]interface{})
	if len(lessons) != 2 {
		t.Fatalf("expected 2 lessons, got %d", len(lessons))
	}
	firstID := uint(lessons[0].(map[string]interface{})["id"].(float64))
	secondID := uint(lessons[1].(map[string]interface{})["id"].(float64))

	status, body := s.do(t, http.MethodPost, fmt.Sprintf("/api/lessons/%d/complete", firstID), admin, nil)
	if status != http.StatusOK {
		t.Fatalf("complete: status %d body %v", status, body)
	}
	if status, _ := s.do(t, http.MethodPost, fmt.Sprintf("/api/lessons/%d/complete", firstID), admin, nil); status != http.StatusConflict {
		t.Fatalf("expected 409 on second completion, got %d", status)
	}
	if status, _ := s.do(t, http.MethodPost, "/api/lessons/9999/cancel", admin, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown lesson, got %d", status)
	}

	status, body = s.do(t, http.MethodPost, "/api/lessons/bulk", admin, map[string]interface{}{
		"lesson_ids": []uint{secondID, 9999},
		"action":     "cancel",
	})
	if status != http.StatusOK {
		t.Fatalf("bulk: status %d body %v", status, body)
	}
	if body["processed"].(float64) != 1 || len(body["failed"].([]interface{})) != 1 {
		t.Fatalf("unexpected bulk result %v", body)
	}
	if body["message"] != "processed 1 of 2; 1 failed" {
		t.Fatalf("unexpected message %v", body["message"])
	}

	if status, _ := s.do(t, http.MethodPost, "/api/lessons/bulk", admin, map[string]interface{}{
		"lesson_ids": []uint{},
		"action":     "cancel",
	}); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty bulk, got %d", status)
	}

	tutor := s.token(t, middleware.RoleTutor, 42)
	if status, _ := s.do(t, http.MethodPost, fmt.Sprintf("/api/lessons/%d/reverse", firstID), tutor, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for tutor reverse, got %d", status)
	}
	status, body = s.do(t, http.MethodPost, fmt.Sprintf("/api/lessons/%d/reverse", firstID), admin, nil)
	if status != http.StatusOK {
		t.Fatalf("reverse: status %d body %v", status, body)
	}
	if body["lesson"].(map[string]interface{})["status"] != "cancelled" {
		t.Fatalf("expected reversed lesson to be cancelled, got %v", body["lesson"])
	}
}

func TestScheduleErrors(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, middleware.RoleAdmin, 1)
	id := s.createStudentWithSchedule(t, admin)

	tests := []struct {
		name   string
		body   map[string]interface{}
		status int
	}{
		{"duplicate", map[string]interface{}{"student_id": id, "day_of_week": 1, "time_of_day": "16:00", "duration_minutes": 60}, http.StatusConflict},
		{"bad time", map[string]interface{}{"student_id": id, "day_of_week": 2, "time_of_day": "25:99", "duration_minutes": 60}, http.StatusBadRequest},
		{"bad day", map[string]interface{}{"student_id": id, "day_of_week": 9, "time_of_day": "10:00", "duration_minutes": 60}, http.StatusBadRequest},
		{"missing student", map[string]interface{}{"student_id": 999, "day_of_week": 2, "time_of_day": "10:00", "duration_minutes": 60}, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := s.do(t, http.MethodPost, "/api/schedules", admin, tc.body)
			if status != tc.status {
				t.Fatalf("expected %d, got %d (%v)", tc.status, status, body)
			}
		})
	}
}

func TestValidationErrorFields(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, http.MethodPost, "/api/students", s.token(t, middleware.RoleAdmin, 1), map[string]interface{}{
		"email": "not-an-email",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	fields := body["fields"].(map[string]interface{})
	if fields["full_name"] != "required" || fields["email"] != "email" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestTutorScoping(t *testing.T) {
	s := newTestServer(t)
	owner := s.token(t, middleware.RoleTutor, 5)
	other := s.token(t, middleware.RoleTutor, 6)

	status, body := s.do(t, http.MethodPost, "/api/students", owner, map[string]interface{}{
		"full_name": "Jasur",
		"tutor_id":  6,
	})
	if status != http.StatusCreated {
		t.Fatalf("create: status %d", status)
	}
	student := body["student"].(map[string]interface{})
	if student["tutor_id"].(float64) != 5 {
		t.Fatalf("expected tutor_id forced to 5, got %v", student["tutor_id"])
	}
	id := uint(student["id"].(float64))

	if status, _ := s.do(t, http.MethodGet, fmt.Sprintf("/api/students/%d", id), owner, nil); status != http.StatusOK {
		t.Fatalf("expected owner access, got %d", status)
	}
	if status, _ := s.do(t, http.MethodGet, fmt.Sprintf("/api/students/%d", id), other, nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for other tutor, got %d", status)
	}
	_, body = s.do(t, http.MethodGet, "/api/students", other, nil)
	if body["total"].(float64) != 0 {
		t.Fatalf("other tutor should see no students, got %v", body["total"])
	}
}

func TestSweepAuthorization(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sweep", nil)
	req.Header.Set("X-Sweep-Token", sweepToken)
	if status, body := s.send(t, req); status != http.StatusOK {
		t.Fatalf("expected 200 with sweep token, got %d (%v)", status, body)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/sweep", nil)
	req.Header.Set("X-Sweep-Token", "wrong")
	if status, _ := s.send(t, req); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", status)
	}

	if status, _ := s.do(t, http.MethodPost, "/api/sweep", s.token(t, middleware.RoleTutor, 1), nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for tutor, got %d", status)
	}
	if status, _ := s.do(t, http.MethodPost, "/api/sweep", s.token(t, middleware.RoleAdmin, 1), nil); status != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", status)
	}
}

func TestImportBooksOnlyImportedStudents(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, middleware.RoleAdmin, 1)

	// A funded student whose schedule has not been generated yet.
	other := s.createStudentWithSchedule(t, admin)
	payment := &models.Payment{StudentID: other, LessonsPurchased: 4, Kind: models.PaymentKindPayment}
	if err := s.core.Store.Payments().Create(context.Background(), payment); err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	status, body := s.do(t, http.MethodPost, "/api/students", admin, map[string]interface{}{
		"full_name": "Aziz", "lesson_price": 100,
	})
	if status != http.StatusCreated {
		t.Fatalf("create student: status %d body %v", status, body)
	}
	imported := uint(body["student"].(map[string]interface{})["id"].(float64))
	s.do(t, http.MethodPost, fmt.Sprintf("/api/students/%d/payments", imported), admin, map[string]interface{}{
		"amount": 200, "lessons_purchased": 2,
	})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, _ := w.CreateFormFile("file", "schedules.csv")
	fmt.Fprintf(part, "student_id,day_of_week,time_of_day,duration_minutes\n%d,tue,10:00,60\n", imported)
	w.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/schedules/import", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+admin)
	status, body = s.send(t, req)
	if status != http.StatusOK {
		t.Fatalf("import: status %d body %v", status, body)
	}
	if body["created"].(float64) != 1 || body["generated"].(float64) != 2 {
		t.Fatalf("unexpected import report %v", body)
	}

	for id, want := range map[uint]int{imported: 2, other: 0} {
		_, body := s.do(t, http.MethodGet, fmt.Sprintf("/api/lessons?student_id=%d", id), admin, nil)
		if got := len(body["lessons"].([]interface{})); got != want {
			t.Fatalf("student %d: expected %d lessons, got %d", id, want, got)
		}
	}
}
