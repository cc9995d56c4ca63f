// Package handler exposes the attendance service over HTTP.
package handler

import (
	"context"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"

	"qrattendance/internal/attendance"
	"qrattendance/internal/auth"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

type Handler struct {
	svc        *attendance.Service
	issuer     auth.Issuer
	studentTTL time.Duration
	loc        *time.Location
	checks     map[string]HealthCheck
}

// New creates a handler. checks are reported by /healthz; loc is the zone
// report dates are read in.
func New(svc *attendance.Service, issuer auth.Issuer, studentTTL time.Duration, loc *time.Location, checks map[string]HealthCheck) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{svc: svc, issuer: issuer, studentTTL: studentTTL, loc: loc, checks: checks}
}

// Register mounts every route on r. limit, when non-nil, runs after
// authentication on the /v1 routes.
func (h *Handler) Register(r gin.IRouter, limit gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	chain := func(role string) []gin.HandlerFunc {
		hs := []gin.HandlerFunc{auth.Require(h.issuer, role)}
		if limit != nil {
			hs = append(hs, limit)
		}
		return hs
	}

	public := r.Group("/v1")
	if limit != nil {
		public.Use(limit)
	}
	public.POST("/students/login", h.StudentLogin)

	admin := r.Group("/v1", chain(auth.RoleAdmin)...)
	{
		admin.POST("/sessions", h.StartSession)
		admin.DELETE("/sessions/current", h.EndSession)
		admin.GET("/sessions/current/qr.png", h.SessionQR)

		admin.POST("/students", h.AddStudent)
		admin.GET("/students", h.ListStudents)
		admin.GET("/students/lookup", h.GetStudent)
		admin.GET("/students/lookup/attendance", h.GetStudentAttendance)

		admin.GET("/reports/daily", h.DailyReport)
	}

	student := r.Group("/v1", chain(auth.RoleStudent)...)
	{
		student.POST("/attendance", h.MarkAttendance)
		student.GET("/me", h.Me)
		student.GET("/me/attendance", h.MyAttendance)
	}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Sessions ----------

func (h *Handler) StartSession(c *gin.Context) {
	adminID := subject(c)
	sess, err := h.svc.StartSession(c.Request.Context(), adminID)
	if err != nil {
		h.fail(c, "start session", err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) EndSession(c *gin.Context) {
	ended, err := h.svc.EndSession(c.Request.Context(), subject(c))
	if err != nil {
		h.fail(c, "end session", err)
		return
	}
	if ended == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "No active session.", "session": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Session ended.", "session": ended})
}

// SessionQR renders the active session token as a PNG for students to scan.
func (h *Handler) SessionQR(c *gin.Context) {
	sess, err := h.svc.ActiveSession(c.Request.Context(), subject(c))
	if err != nil {
		h.fail(c, "active session", err)
		return
	}
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "No active session."})
		return
	}
	png, err := qrcode.Encode(sess.ID, qrcode.Medium, 256)
	if err != nil {
		log.Printf("qr encode for session %s failed: %v", sess.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Could not render QR code."})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// ---------- Students ----------

func (h *Handler) AddStudent(c *gin.Context) {
	var req attendance.NewStudent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid JSON body"})
		return
	}
	res, err := h.svc.AddStudent(c.Request.Context(), subject(c), req)
	if err != nil {
		h.fail(c, "add student", err)
		return
	}
	if !res.Success {
		c.JSON(statusFor(res), res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListStudents(c *gin.Context) {
	students, err := h.svc.StudentList(c.Request.Context(), subject(c))
	if err != nil {
		h.fail(c, "list students", err)
		return
	}
	sort.SliceStable(students, func(i, j int) bool {
		return strings.ToLower(students[i].Name) < strings.ToLower(students[j].Name)
	})
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *Handler) GetStudent(c *gin.Context) {
	ref, ok := refFromQuery(c)
	if !ok {
		return
	}
	st, err := h.svc.Student(c.Request.Context(), subject(c), ref)
	if err != nil {
		h.fail(c, "get student", err)
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "student not found"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) GetStudentAttendance(c *gin.Context) {
	ref, ok := refFromQuery(c)
	if !ok {
		return
	}
	history, err := h.svc.StudentAttendance(c.Request.Context(), subject(c), ref)
	if err != nil {
		h.fail(c, "student attendance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": history})
}

// ---------- Reports ----------

func (h *Handler) DailyReport(c *gin.Context) {
	raw := c.Query("date")
	var date time.Time
	if raw == "" {
		date = time.Now().In(h.loc)
	} else {
		var err error
		date, err = time.ParseInLocation(time.DateOnly, raw, h.loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "date must be formatted as YYYY-MM-DD"})
			return
		}
	}
	report, err := h.svc.AttendanceByDate(c.Request.Context(), subject(c), date)
	if err != nil {
		h.fail(c, "daily report", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date.Format(time.DateOnly), "sessions": report})
}

// ---------- Student self-service ----------

type loginRequest struct {
	USN string `json:"usn"`
	DOB string `json:"dob"`
}

// StudentLogin exchanges a USN and date of birth for a student token.
func (h *Handler) StudentLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid JSON body"})
		return
	}
	st, res, err := h.svc.Login(c.Request.Context(), req.USN, req.DOB)
	if err != nil {
		h.fail(c, "student login", err)
		return
	}
	if !res.Success {
		// Unknown USN and wrong date of birth look the same to the caller.
		if res.Kind == attendance.KindNotFound {
			c.JSON(http.StatusUnauthorized, res)
			return
		}
		c.JSON(http.StatusBadRequest, res)
		return
	}
	tok, err := h.issuer.IssueStudent(st.ID, st.AdminID, h.studentTTL)
	if err != nil {
		h.fail(c, "issue student token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      res.Message,
		"student":      st,
		"access_token": tok.Value,
		"expires_at":   tok.ExpiresAt.Unix(),
	})
}

type markRequest struct {
	Code string `json:"code"`
}

// MarkAttendance records the token's student against a scanned session code.
func (h *Handler) MarkAttendance(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid JSON body"})
		return
	}
	res, err := h.svc.LogAttendance(c.Request.Context(), attendance.ByID(subject(c)), req.Code)
	if err != nil {
		h.fail(c, "log attendance", err)
		return
	}
	c.JSON(statusFor(res), res)
}

func (h *Handler) Me(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	st, err := h.svc.Student(c.Request.Context(), claims.Tenant, attendance.ByID(claims.Subject))
	if err != nil {
		h.fail(c, "get student", err)
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "student not found"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) MyAttendance(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	history, err := h.svc.StudentAttendance(c.Request.Context(), claims.Tenant, attendance.ByID(claims.Subject))
	if err != nil {
		h.fail(c, "student attendance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": history})
}

// ---------- helpers ----------

func subject(c *gin.Context) string {
	claims, _ := auth.FromContext(c)
	return claims.Subject
}

// refFromQuery reads ?id= or ?usn=. Exactly one must be present.
func refFromQuery(c *gin.Context) (attendance.StudentRef, bool) {
	id, usn := strings.TrimSpace(c.Query("id")), strings.TrimSpace(c.Query("usn"))
	switch {
	case id != "" && usn == "":
		return attendance.ByID(id), true
	case usn != "" && id == "":
		return attendance.ByUSN(usn), true
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "provide exactly one of id or usn"})
		return attendance.StudentRef{}, false
	}
}

func statusFor(res attendance.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Kind {
	case attendance.KindDuplicate:
		return http.StatusConflict
	case attendance.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

// fail answers errors that escaped the service boundary.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	switch attendance.KindOf(err) {
	case attendance.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": attendance.Message(err)})
		return
	case attendance.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": attendance.Message(err)})
		return
	case attendance.KindStorage:
		log.Printf("%s: %v", op, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "Storage is unavailable, try again."})
		return
	}
	log.Printf("%s: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal error."})
}
