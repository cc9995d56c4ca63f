package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// StudentDirectory is the tenant-scoped roster of students.
type StudentDirectory struct {
	store    StudentStore
	validate *validator.Validate
	newID    func() string
}

// NewStudentDirectory creates a directory backed by store.
func NewStudentDirectory(store StudentStore) *StudentDirectory {
	return &StudentDirectory{store: store, validate: validator.New(), newID: uuid.NewString}
}

// Add registers a student under adminID.
func (d *StudentDirectory) Add(ctx context.Context, adminID string, in NewStudent) (Student, error) {
	if strings.TrimSpace(adminID) == "" {
		return Student{}, validationErr("admin id is required")
	}
	in.USN = strings.TrimSpace(in.USN)
	in.Name = strings.TrimSpace(in.Name)
	in.Department = strings.TrimSpace(in.Department)
	in.DOB = strings.TrimSpace(in.DOB)
	if err := d.validate.Struct(in); err != nil {
		return Student{}, newStudentValidationErr(err)
	}

	st := Student{
		ID:         d.newID(),
		USN:        in.USN,
		Name:       in.Name,
		Department: in.Department,
		DOB:        in.DOB,
		AdminID:    adminID,
	}
	if err := d.store.CreateStudent(ctx, st); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Student{}, duplicateErr(fmt.Sprintf("a student with the USN %q already exists for this admin", st.USN))
		}
		return Student{}, storageErr("create student", err)
	}
	return st, nil
}

func newStudentValidationErr(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return validationErr(err.Error())
	}
	for _, f := range fields {
		if f.Tag() == "datetime" {
			return validationErr("date of birth must be formatted as YYYY-MM-DD")
		}
	}
	return validationErr("all fields (USN, name, department, date of birth) are required")
}

// List returns every student of adminID in no particular order.
func (d *StudentDirectory) List(ctx context.Context, adminID string) ([]Student, error) {
	if strings.TrimSpace(adminID) == "" {
		return nil, validationErr("admin id is required")
	}
	students, err := d.store.ListStudents(ctx, adminID)
	if err != nil {
		return nil, storageErr("list students", err)
	}
	return students, nil
}

// Resolve looks up ref inside adminID's roster. It returns (nil, nil) when
// no student of that tenant matches.
func (d *StudentDirectory) Resolve(ctx context.Context, adminID string, ref StudentRef) (*Student, error) {
	value := strings.TrimSpace(ref.Value)
	if value == "" {
		return nil, validationErr("student identifier is required")
	}
	var (
		st  *Student
		err error
	)
	switch ref.Kind {
	case RefByID:
		st, err = d.store.StudentByID(ctx, value)
		if st != nil && st.AdminID != adminID {
			st = nil
		}
	case RefByUSN:
		st, err = d.store.StudentByUSN(ctx, adminID, value)
	default:
		return nil, validationErr("unknown student reference kind")
	}
	if err != nil {
		return nil, storageErr("resolve student", err)
	}
	return st, nil
}

// Login finds the student holding usn in any tenant and checks dob.
// This is the only lookup that crosses tenants; it backs student token issue.
func (d *StudentDirectory) Login(ctx context.Context, usn, dob string) (Student, error) {
	usn = strings.TrimSpace(usn)
	dob = strings.TrimSpace(dob)
	if usn == "" || dob == "" {
		return Student{}, validationErr("USN and date of birth are required")
	}
	if _, err := time.Parse(time.DateOnly, dob); err != nil {
		return Student{}, validationErr("date of birth must be formatted as YYYY-MM-DD")
	}
	candidates, err := d.store.StudentsByUSN(ctx, usn)
	if err != nil {
		return Student{}, storageErr("find student", err)
	}
	var matched []Student
	for _, st := range candidates {
		if st.DOB == dob {
			matched = append(matched, st)
		}
	}
	switch len(matched) {
	case 0:
		return Student{}, notFoundErr("no student matches this USN and date of birth")
	case 1:
		return matched[0], nil
	default:
		return Student{}, validationErr("USN is registered with several organizers; ask your organizer for a direct link")
	}
}
