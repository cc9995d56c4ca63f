package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"qrattendance/internal/attendance"
)

// Key layout (prefix p):
//
//	p:students:{id}                 hash  student document
//	p:admins:{admin}:students       set   student ids of a tenant
//	p:admins:{admin}:usn            hash  usn -> student id (uniqueness)
//	p:usn:{usn}                     set   student ids with this usn, all tenants
//	p:sessions:{id}                 hash  session document
//	p:admins:{admin}:sessions       zset  session ids scored by start ms
//	p:admins:{admin}:open           set   open session ids (watched on transitions)
//	p:sessions:{id}:attendees       hash  student id -> check-in ms
//	p:students:{id}:attendance      zset  session ids scored by check-in ms

const createStudentScript = `
if redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return 0
end
redis.call("HSET", KEYS[2], "id", ARGV[2], "usn", ARGV[1], "name", ARGV[3], "department", ARGV[4], "dob", ARGV[5], "admin_id", ARGV[6])
redis.call("SADD", KEYS[3], ARGV[2])
redis.call("SADD", KEYS[4], ARGV[2])
return 1
`

const insertAttendeeScript = `
if redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
return 1
`

var (
	createStudentLua  = redis.NewScript(createStudentScript)
	insertAttendeeLua = redis.NewScript(insertAttendeeScript)
)

// maxTxRetries bounds optimistic retries of one session transition.
const maxTxRetries = 32

// ErrContention is returned when a session transition kept losing its
// optimistic transaction to concurrent writers.
var ErrContention = errors.New("session transition contention")

// RedisStore keeps the attendance documents in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a document store on client. Keys start with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "attendance"
	}
	return &RedisStore{client: client, prefix: prefix}
}

var _ attendance.Store = (*RedisStore)(nil)

func (r *RedisStore) studentKey(id string) string { return r.prefix + ":students:" + id }
func (r *RedisStore) rosterKey(admin string) string {
	return r.prefix + ":admins:" + admin + ":students"
}
func (r *RedisStore) usnIndexKey(admin string) string { return r.prefix + ":admins:" + admin + ":usn" }
func (r *RedisStore) usnKey(usn string) string         { return r.prefix + ":usn:" + usn }
func (r *RedisStore) sessionKey(id string) string      { return r.prefix + ":sessions:" + id }
func (r *RedisStore) adminSessionsKey(admin string) string {
	return r.prefix + ":admins:" + admin + ":sessions"
}
func (r *RedisStore) openKey(admin string) string       { return r.prefix + ":admins:" + admin + ":open" }
func (r *RedisStore) attendeesKey(session string) string { return r.prefix + ":sessions:" + session + ":attendees" }
func (r *RedisStore) historyKey(student string) string {
	return r.prefix + ":students:" + student + ":attendance"
}

// docID reports whether id can name a student or session document. Ids are
// joined into keys, so anything else could address a sibling key.
func docID(id string) bool { return uuid.Validate(id) == nil }

func toMillis(t time.Time) int64 { return t.UnixMilli() }
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// CreateStudent implements attendance.StudentStore.
func (r *RedisStore) CreateStudent(ctx context.Context, st attendance.Student) error {
	keys := []string{r.usnIndexKey(st.AdminID), r.studentKey(st.ID), r.rosterKey(st.AdminID), r.usnKey(st.USN)}
	created, err := createStudentLua.Run(ctx, r.client, keys, st.USN, st.ID, st.Name, st.Department, st.DOB, st.AdminID).Int()
	if err != nil {
		return fmt.Errorf("redis create student: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("%w: usn %s", attendance.ErrDuplicate, st.USN)
	}
	return nil
}

func decodeStudent(fields map[string]string) *attendance.Student {
	if fields["id"] == "" {
		return nil
	}
	return &attendance.Student{
		ID:         fields["id"],
		USN:        fields["usn"],
		Name:       fields["name"],
		Department: fields["department"],
		DOB:        fields["dob"],
		AdminID:    fields["admin_id"],
	}
}

func (r *RedisStore) StudentByID(ctx context.Context, id string) (*attendance.Student, error) {
	if !docID(id) {
		return nil, nil
	}
	fields, err := r.client.HGetAll(ctx, r.studentKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get student: %w", err)
	}
	return decodeStudent(fields), nil
}

func (r *RedisStore) StudentByUSN(ctx context.Context, adminID, usn string) (*attendance.Student, error) {
	id, err := r.client.HGet(ctx, r.usnIndexKey(adminID), usn).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis usn index: %w", err)
	}
	return r.StudentByID(ctx, id)
}

func (r *RedisStore) StudentsByUSN(ctx context.Context, usn string) ([]attendance.Student, error) {
	ids, err := r.client.SMembers(ctx, r.usnKey(usn)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis usn lookup: %w", err)
	}
	return r.loadStudents(ctx, ids)
}

func (r *RedisStore) ListStudents(ctx context.Context, adminID string) ([]attendance.Student, error) {
	ids, err := r.client.SMembers(ctx, r.rosterKey(adminID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis roster: %w", err)
	}
	return r.loadStudents(ctx, ids)
}

func (r *RedisStore) loadStudents(ctx context.Context, ids []string) ([]attendance.Student, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.studentKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis load students: %w", err)
	}
	out := make([]attendance.Student, 0, len(ids))
	for _, cmd := range cmds {
		if st := decodeStudent(cmd.Val()); st != nil {
			out = append(out, *st)
		}
	}
	return out, nil
}

func encodeSession(s attendance.Session) map[string]any {
	end := ""
	if s.EndTime != nil {
		end = strconv.FormatInt(toMillis(*s.EndTime), 10)
	}
	return map[string]any{
		"id":         s.ID,
		"admin_id":   s.AdminID,
		"start_time": toMillis(s.StartTime),
		"end_time":   end,
		"state":      string(s.State),
	}
}

func decodeSession(fields map[string]string) (*attendance.Session, error) {
	if fields["id"] == "" {
		return nil, nil
	}
	start, err := strconv.ParseInt(fields["start_time"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("session %s start_time: %w", fields["id"], err)
	}
	s := &attendance.Session{
		ID:        fields["id"],
		AdminID:   fields["admin_id"],
		StartTime: fromMillis(start),
		State:     attendance.SessionState(fields["state"]),
	}
	if v := fields["end_time"]; v != "" {
		end, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("session %s end_time: %w", s.ID, err)
		}
		t := fromMillis(end)
		s.EndTime = &t
	}
	return s, nil
}

func (r *RedisStore) writeSession(ctx context.Context, pipe redis.Pipeliner, s attendance.Session) {
	pipe.HSet(ctx, r.sessionKey(s.ID), encodeSession(s))
	pipe.ZAdd(ctx, r.adminSessionsKey(s.AdminID), redis.Z{Score: float64(toMillis(s.StartTime)), Member: s.ID})
	if s.Active() {
		pipe.SAdd(ctx, r.openKey(s.AdminID), s.ID)
	} else {
		pipe.SRem(ctx, r.openKey(s.AdminID), s.ID)
	}
}

func (r *RedisStore) loadSessions(ctx context.Context, c redis.Cmdable, ids []string) ([]attendance.Session, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := c.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis load sessions: %w", err)
	}
	out := make([]attendance.Session, 0, len(ids))
	for _, cmd := range cmds {
		s, err := decodeSession(cmd.Val())
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

type redisSessionTx struct {
	store   *RedisStore
	tx      *redis.Tx
	adminID string
	writes  []attendance.Session
}

func (t *redisSessionTx) OpenSessions(ctx context.Context) ([]attendance.Session, error) {
	ids, err := t.tx.SMembers(ctx, t.store.openKey(t.adminID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis open sessions: %w", err)
	}
	return t.store.loadSessions(ctx, t.tx, ids)
}

func (t *redisSessionTx) Update(ctx context.Context, s attendance.Session) error {
	if s.AdminID != t.adminID {
		return fmt.Errorf("session %s belongs to another admin", s.ID)
	}
	t.writes = append(t.writes, s)
	return nil
}

func (t *redisSessionTx) Create(ctx context.Context, s attendance.Session) error {
	return t.Update(ctx, s)
}

// UpdateAdminSessions implements attendance.SessionStore with WATCH on the
// admin's open set. A concurrent transition makes EXEC fail and fn reruns
// against fresh state.
func (r *RedisStore) UpdateAdminSessions(ctx context.Context, adminID string, fn func(tx attendance.SessionTx) error) error {
	openKey := r.openKey(adminID)
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			stx := &redisSessionTx{store: r, tx: tx, adminID: adminID}
			if err := fn(stx); err != nil {
				return err
			}
			if len(stx.writes) == 0 {
				return nil
			}
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, s := range stx.writes {
					r.writeSession(ctx, pipe, s)
				}
				return nil
			})
			return err
		}, openKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: admin %s", ErrContention, adminID)
}

func (r *RedisStore) OpenSessions(ctx context.Context, adminID string) ([]attendance.Session, error) {
	ids, err := r.client.SMembers(ctx, r.openKey(adminID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis open sessions: %w", err)
	}
	return r.loadSessions(ctx, r.client, ids)
}

func (r *RedisStore) Session(ctx context.Context, id string) (*attendance.Session, error) {
	if !docID(id) {
		return nil, nil
	}
	fields, err := r.client.HGetAll(ctx, r.sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	return decodeSession(fields)
}

func (r *RedisStore) SessionsStartedBetween(ctx context.Context, adminID string, from, to time.Time) ([]attendance.Session, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.adminSessionsKey(adminID), &redis.ZRangeBy{
		Min: strconv.FormatInt(toMillis(from), 10),
		Max: strconv.FormatInt(toMillis(to), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis sessions by day: %w", err)
	}
	sessions, err := r.loadSessions(ctx, r.client, ids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].StartTime.Before(sessions[j].StartTime) })
	return sessions, nil
}

// InsertAttendee implements attendance.AttendeeStore. The attendee field is
// keyed by student id, so HSETNX is the create-if-absent guarantee.
func (r *RedisStore) InsertAttendee(ctx context.Context, rec attendance.Record) (bool, error) {
	if !docID(rec.SessionID) || !docID(rec.StudentID) {
		return false, fmt.Errorf("redis insert attendee: malformed id %q/%q", rec.SessionID, rec.StudentID)
	}
	keys := []string{r.attendeesKey(rec.SessionID), r.historyKey(rec.StudentID)}
	created, err := insertAttendeeLua.Run(ctx, r.client, keys, rec.StudentID, toMillis(rec.Timestamp), rec.SessionID).Int()
	if err != nil {
		return false, fmt.Errorf("redis insert attendee: %w", err)
	}
	return created == 1, nil
}

func (r *RedisStore) Attendees(ctx context.Context, sessionID string) ([]attendance.Record, error) {
	if !docID(sessionID) {
		return nil, nil
	}
	fields, err := r.client.HGetAll(ctx, r.attendeesKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis attendees: %w", err)
	}
	out := make([]attendance.Record, 0, len(fields))
	for studentID, v := range fields {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("attendee %s/%s timestamp: %w", sessionID, studentID, err)
		}
		out = append(out, attendance.Record{SessionID: sessionID, StudentID: studentID, Timestamp: fromMillis(ms)})
	}
	return out, nil
}

func (r *RedisStore) AttendanceOf(ctx context.Context, studentID string) ([]attendance.Record, error) {
	if !docID(studentID) {
		return nil, nil
	}
	entries, err := r.client.ZRangeWithScores(ctx, r.historyKey(studentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis attendance index: %w", err)
	}
	out := make([]attendance.Record, 0, len(entries))
	for _, z := range entries {
		sessionID, _ := z.Member.(string)
		out = append(out, attendance.Record{SessionID: sessionID, StudentID: studentID, Timestamp: fromMillis(int64(z.Score))})
	}
	return out, nil
}
