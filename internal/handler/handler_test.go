package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"qrattendance/internal/attendance"
	"qrattendance/internal/auth"
	"qrattendance/internal/store"
)

type fixture struct {
	t      *testing.T
	router *gin.Engine
	issuer auth.Issuer
	admin  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	issuer := auth.NewIssuer("attendance-test", "test-key")
	svc := attendance.NewService(store.NewMemory(), attendance.Options{Timeout: time.Second})
	h := New(svc, issuer, time.Hour, time.UTC, map[string]HealthCheck{})
	r := gin.New()
	h.Register(r, nil)
	tok, err := issuer.IssueAdmin("admin-1", time.Hour)
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}
	return &fixture{t: t, router: r, issuer: issuer, admin: tok.Value}
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			f.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestAttendanceFlow(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/students", f.admin, attendance.NewStudent{
		USN: "1RV21CS001", Name: "Asha", Department: "CSE", DOB: "2003-05-14",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add student = %d %s", w.Code, w.Body.String())
	}

	w = f.do(http.MethodPost, "/v1/sessions", f.admin, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("start session = %d %s", w.Code, w.Body.String())
	}
	sess := decode[attendance.Session](t, w)

	w = f.do(http.MethodGet, "/v1/sessions/current/qr.png", f.admin, nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("qr = %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatal("qr body is not a PNG")
	}

	w = f.do(http.MethodPost, "/v1/students/login", "", loginRequest{USN: "1RV21CS001", DOB: "2003-05-14"})
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d %s", w.Code, w.Body.String())
	}
	login := decode[struct {
		AccessToken string `json:"access_token"`
	}](t, w)

	for i, want := range []string{"Attendance marked successfully!", "Attendance already marked for this session."} {
		w = f.do(http.MethodPost, "/v1/attendance", login.AccessToken, markRequest{Code: sess.ID})
		if w.Code != http.StatusOK {
			t.Fatalf("mark %d = %d %s", i, w.Code, w.Body.String())
		}
		if res := decode[attendance.Result](t, w); res.Message != want {
			t.Fatalf("mark %d message = %q, want %q", i, res.Message, want)
		}
	}

	w = f.do(http.MethodGet, "/v1/me/attendance", login.AccessToken, nil)
	history := decode[struct {
		Attendance []attendance.SessionAttendance `json:"attendance"`
	}](t, w)
	if len(history.Attendance) != 1 || history.Attendance[0].SessionID != sess.ID {
		t.Fatalf("history = %+v", history.Attendance)
	}

	w = f.do(http.MethodGet, "/v1/reports/daily?date="+sess.StartTime.Format(time.DateOnly), f.admin, nil)
	report := decode[struct {
		Sessions []attendance.SessionReport `json:"sessions"`
	}](t, w)
	if len(report.Sessions) != 1 || len(report.Sessions[0].Attendees) != 1 {
		t.Fatalf("report = %+v", report.Sessions)
	}
	if got := report.Sessions[0].Attendees[0].StudentName; got != "Asha" {
		t.Fatalf("attendee name = %q", got)
	}

	w = f.do(http.MethodDelete, "/v1/sessions/current", f.admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("end session = %d", w.Code)
	}
	w = f.do(http.MethodPost, "/v1/attendance", login.AccessToken, markRequest{Code: sess.ID})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("mark after close = %d, want 400", w.Code)
	}
}

func TestAddStudentErrors(t *testing.T) {
	f := newFixture(t)
	st := attendance.NewStudent{USN: "U1", Name: "Ravi", Department: "ECE", DOB: "2002-01-30"}

	if w := f.do(http.MethodPost, "/v1/students", f.admin, st); w.Code != http.StatusCreated {
		t.Fatalf("first add = %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/students", f.admin, st); w.Code != http.StatusConflict {
		t.Fatalf("duplicate add = %d, want 409", w.Code)
	}
	st.USN, st.Name = "U2", ""
	if w := f.do(http.MethodPost, "/v1/students", f.admin, st); w.Code != http.StatusBadRequest {
		t.Fatalf("missing name = %d, want 400", w.Code)
	}
}

func TestStudentLookup(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/v1/students", f.admin, attendance.NewStudent{USN: "U1", Name: "Zoya", Department: "ME", DOB: "2001-02-03"})
	f.do(http.MethodPost, "/v1/students", f.admin, attendance.NewStudent{USN: "U2", Name: "arun", Department: "ME", DOB: "2001-02-04"})

	w := f.do(http.MethodGet, "/v1/students", f.admin, nil)
	list := decode[struct {
		Students []attendance.Student `json:"students"`
	}](t, w)
	if len(list.Students) != 2 || list.Students[0].Name != "arun" {
		t.Fatalf("students = %+v", list.Students)
	}

	if w := f.do(http.MethodGet, "/v1/students/lookup?usn=U1", f.admin, nil); w.Code != http.StatusOK {
		t.Fatalf("lookup by usn = %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/students/lookup?usn=NOPE", f.admin, nil); w.Code != http.StatusNotFound {
		t.Fatalf("lookup unknown = %d, want 404", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/students/lookup?usn=U1&id=x", f.admin, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("lookup ambiguous = %d, want 400", w.Code)
	}

	other, _ := f.issuer.IssueAdmin("admin-2", time.Hour)
	if w := f.do(http.MethodGet, "/v1/students/lookup?usn=U1", other.Value, nil); w.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant lookup = %d, want 404", w.Code)
	}
	w = f.do(http.MethodGet, "/v1/students/lookup/attendance?usn=NOPE", f.admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unknown student attendance = %d", w.Code)
	}
}

func TestLoginRejects(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/v1/students", f.admin, attendance.NewStudent{USN: "U1", Name: "Zoya", Department: "ME", DOB: "2001-02-03"})

	if w := f.do(http.MethodPost, "/v1/students/login", "", loginRequest{USN: "U1", DOB: "2001-02-04"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong dob = %d, want 401", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/students/login", "", loginRequest{USN: "U1", DOB: "03/02/2001"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad dob format = %d, want 400", w.Code)
	}
}

func TestAuthBoundaries(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodPost, "/v1/sessions", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", w.Code)
	}
	student, _ := f.issuer.IssueStudent("s1", "admin-1", time.Hour)
	if w := f.do(http.MethodPost, "/v1/sessions", student.Value, nil); w.Code != http.StatusForbidden {
		t.Fatalf("student on admin route = %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/attendance", f.admin, markRequest{Code: "x"}); w.Code != http.StatusForbidden {
		t.Fatalf("admin on student route = %d", w.Code)
	}
}

func TestDailyReportBadDate(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodGet, "/v1/reports/daily?date=14-05-2024", f.admin, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad date = %d", w.Code)
	}
	w := f.do(http.MethodGet, "/v1/reports/daily?date=2024-05-14", f.admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("empty day = %d", w.Code)
	}
	report := decode[struct {
		Sessions []attendance.SessionReport `json:"sessions"`
	}](t, w)
	if len(report.Sessions) != 0 {
		t.Fatalf("sessions = %+v", report.Sessions)
	}
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(nil, auth.Issuer{}, time.Hour, nil, map[string]HealthCheck{
		"redis": func(ctx context.Context) bool { return false },
	})
	r := gin.New()
	r.GET("/healthz", h.Healthz)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz = %d", w.Code)
	}
}
