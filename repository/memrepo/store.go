// Package memrepo is an in-memory Store used by tests and by STORE_DRIVER=memory.
// Transactions serialize on one mutex and roll back by restoring a snapshot.
package memrepo

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"tutorcrm/models"
	"tutorcrm/repository"
)

var ErrDuplicateKey = errors.New("memrepo: duplicate key")

type state struct {
	nextID    uint
	students  map[uint]models.Student
	schedules map[uint]models.RecurringSchedule
	lessons   map[uint]models.Lesson
	payments  map[uint]models.Payment
	earnings  map[uint]models.TutorEarning
}

func newState() *state {
	return &state{
		students:  map[uint]models.Student{},
		schedules: map[uint]models.RecurringSchedule{},
		lessons:   map[uint]models.Lesson{},
		payments:  map[uint]models.Payment{},
		earnings:  map[uint]models.TutorEarning{},
	}
}

func (s *state) clone() *state {
	out := newState()
	out.nextID = s.nextID
	for k, v := range s.students {
		out.students[k] = v
	}
	for k, v := range s.schedules {
		out.schedules[k] = v
	}
	for k, v := range s.lessons {
		out.lessons[k] = v
	}
	for k, v := range s.payments {
		out.payments[k] = v
	}
	for k, v := range s.earnings {
		out.earnings[k] = v
	}
	return out
}

func (s *state) id() uint {
	s.nextID++
	return s.nextID
}

type Store struct {
	mu   *sync.Mutex
	st   *state
	inTx bool
}

func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState()}
}

// lock is a no-op inside a transaction, which already holds the mutex.
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Students() repository.StudentRepository   { return &studentRepo{s} }
func (s *Store) Schedules() repository.ScheduleRepository { return &scheduleRepo{s} }
func (s *Store) Lessons() repository.LessonRepository     { return &lessonRepo{s} }
func (s *Store) Payments() repository.PaymentRepository   { return &paymentRepo{s} }
func (s *Store) Earnings() repository.EarningRepository   { return &earningRepo{s} }

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&Store{mu: s.mu, st: s.st, inTx: true}); err != nil {
		*s.st = *snapshot
		return err
	}
	return nil
}

type studentRepo struct{ s *Store }

func (r *studentRepo) Create(_ context.Context, student *models.Student) error {
	defer r.s.lock()()
	now := time.Now()
	student.ID = r.s.st.id()
	student.CreatedAt, student.UpdatedAt = now, now
	r.s.st.students[student.ID] = *student
	return nil
}

func (r *studentRepo) GetByID(_ context.Context, id uint) (*models.Student, error) {
	defer r.s.lock()()
	student, ok := r.s.st.students[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &student, nil
}

func (r *studentRepo) List(_ context.Context, filter repository.StudentFilter) ([]models.Student, error) {
	defer r.s.lock()()
	out := []models.Student{}
	for _, student := range r.s.st.students {
		if filter.TutorID != nil && (student.TutorID == nil || *student.TutorID != *filter.TutorID) {
			continue
		}
		if filter.UserID != nil && (student.UserID == nil || *student.UserID != *filter.UserID) {
			continue
		}
		if filter.ActiveOnly && !student.IsActive {
			continue
		}
		out = append(out, student)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *studentRepo) UpdateBalance(_ context.Context, id uint, totalPaid, remaining int) error {
	defer r.s.lock()()
	student, ok := r.s.st.students[id]
	if !ok {
		return repository.ErrNotFound
	}
	student.TotalPaidLessons = totalPaid
	student.RemainingLessons = remaining
	student.UpdatedAt = time.Now()
	r.s.st.students[id] = student
	return nil
}

func (r *studentRepo) SetActive(_ context.Context, id uint, active bool) error {
	defer r.s.lock()()
	student, ok := r.s.st.students[id]
	if !ok {
		return repository.ErrNotFound
	}
	student.IsActive = active
	student.UpdatedAt = time.Now()
	r.s.st.students[id] = student
	return nil
}

type scheduleRepo struct{ s *Store }

func (r *scheduleRepo) Create(_ context.Context, schedule *models.RecurringSchedule) error {
	defer r.s.lock()()
	now := time.Now()
	schedule.ID = r.s.st.id()
	schedule.CreatedAt, schedule.UpdatedAt = now, now
	stored := *schedule
	stored.Student = nil
	r.s.st.schedules[schedule.ID] = stored
	return nil
}

func (r *scheduleRepo) GetByID(_ context.Context, id uint) (*models.RecurringSchedule, error) {
	defer r.s.lock()()
	schedule, ok := r.s.st.schedules[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &schedule, nil
}

func (r *scheduleRepo) List(_ context.Context, filter repository.ScheduleFilter) ([]models.RecurringSchedule, error) {
	defer r.s.lock()()
	out := []models.RecurringSchedule{}
	for _, schedule := range r.s.st.schedules {
		if filter.StudentID != nil && schedule.StudentID != *filter.StudentID {
			continue
		}
		if filter.ActiveOnly && !schedule.IsActive {
			continue
		}
		out = append(out, schedule)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.StudentID != b.StudentID {
			return a.StudentID < b.StudentID
		}
		if a.DayOfWeek != b.DayOfWeek {
			return a.DayOfWeek < b.DayOfWeek
		}
		if a.TimeOfDay != b.TimeOfDay {
			return a.TimeOfDay < b.TimeOfDay
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (r *scheduleRepo) Update(_ context.Context, schedule *models.RecurringSchedule) error {
	defer r.s.lock()()
	stored, ok := r.s.st.schedules[schedule.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.DayOfWeek = schedule.DayOfWeek
	stored.TimeOfDay = schedule.TimeOfDay
	stored.DurationMinutes = schedule.DurationMinutes
	stored.IsActive = schedule.IsActive
	stored.UpdatedAt = time.Now()
	r.s.st.schedules[schedule.ID] = stored
	return nil
}

func (r *scheduleRepo) Delete(_ context.Context, id uint) error {
	defer r.s.lock()()
	if _, ok := r.s.st.schedules[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.st.schedules, id)
	return nil
}

func (r *scheduleRepo) ActiveSlotTaken(_ context.Context, studentID uint, dayOfWeek int, timeOfDay string, excludeID uint) (bool, error) {
	defer r.s.lock()()
	for _, schedule := range r.s.st.schedules {
		if schedule.ID == excludeID || !schedule.IsActive {
			continue
		}
		if schedule.StudentID == studentID && schedule.DayOfWeek == dayOfWeek && schedule.TimeOfDay == timeOfDay {
			return true, nil
		}
	}
	return false, nil
}

type lessonRepo struct{ s *Store }

func (r *lessonRepo) insert(lesson *models.Lesson) error {
	if lesson.RecurringScheduleID != nil {
		for _, existing := range r.s.st.lessons {
			if existing.StudentID == lesson.StudentID &&
				existing.RecurringScheduleID != nil && *existing.RecurringScheduleID == *lesson.RecurringScheduleID &&
				existing.ScheduledAt.Equal(lesson.ScheduledAt) {
				return ErrDuplicateKey
			}
		}
	}
	now := time.Now()
	lesson.ID = r.s.st.id()
	lesson.CreatedAt, lesson.UpdatedAt = now, now
	if lesson.Status == "" {
		lesson.Status = models.LessonScheduled
	}
	if lesson.LessonType == "" {
		lesson.LessonType = models.LessonRegular
	}
	stored := *lesson
	stored.Student = nil
	r.s.st.lessons[lesson.ID] = stored
	return nil
}

func (r *lessonRepo) Create(_ context.Context, lesson *models.Lesson) error {
	defer r.s.lock()()
	return r.insert(lesson)
}

func (r *lessonRepo) CreateBatch(_ context.Context, lessons []*models.Lesson) error {
	defer r.s.lock()()
	for _, lesson := range lessons {
		if err := r.insert(lesson); err != nil {
			return err
		}
	}
	return nil
}

func (r *lessonRepo) GetByID(_ context.Context, id uint) (*models.Lesson, error) {
	defer r.s.lock()()
	lesson, ok := r.s.st.lessons[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &lesson, nil
}

func (r *lessonRepo) List(_ context.Context, filter repository.LessonFilter) ([]models.Lesson, error) {
	defer r.s.lock()()
	out := []models.Lesson{}
	for _, lesson := range r.s.st.lessons {
		if filter.StudentID != nil && lesson.StudentID != *filter.StudentID {
			continue
		}
		if filter.TutorID != nil {
			student, ok := r.s.st.students[lesson.StudentID]
			if !ok || student.TutorID == nil || *student.TutorID != *filter.TutorID {
				continue
			}
		}
		if filter.ScheduleID != nil && (lesson.RecurringScheduleID == nil || *lesson.RecurringScheduleID != *filter.ScheduleID) {
			continue
		}
		if filter.Status != "" && lesson.Status != filter.Status {
			continue
		}
		if filter.From != nil && lesson.ScheduledAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !lesson.ScheduledAt.Before(*filter.To) {
			continue
		}
		out = append(out, lesson)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *lessonRepo) SlotExists(_ context.Context, studentID, scheduleID uint, scheduledAt time.Time) (bool, error) {
	defer r.s.lock()()
	for _, lesson := range r.s.st.lessons {
		if lesson.StudentID == studentID && lesson.RecurringScheduleID != nil &&
			*lesson.RecurringScheduleID == scheduleID && lesson.ScheduledAt.Equal(scheduledAt) {
			return true, nil
		}
	}
	return false, nil
}

func (r *lessonRepo) CountByStatus(_ context.Context, studentID uint, status string) (int, error) {
	defer r.s.lock()()
	count := 0
	for _, lesson := range r.s.st.lessons {
		if lesson.StudentID == studentID && lesson.Status == status {
			count++
		}
	}
	return count, nil
}

func (r *lessonRepo) TransitionStatus(_ context.Context, id uint, from, to string, at time.Time) (bool, error) {
	defer r.s.lock()()
	lesson, ok := r.s.st.lessons[id]
	if !ok || lesson.Status != from {
		return false, nil
	}
	lesson.Status = to
	switch {
	case to == models.LessonCompleted:
		completedAt := at.UTC()
		lesson.CompletedAt = &completedAt
	case from == models.LessonCompleted:
		lesson.CompletedAt = nil
	}
	lesson.UpdatedAt = time.Now()
	r.s.st.lessons[id] = lesson
	return true, nil
}

func (r *lessonRepo) UpdateDetails(_ context.Context, id uint, notes, homework *string, grade *int) error {
	defer r.s.lock()()
	lesson, ok := r.s.st.lessons[id]
	if !ok {
		return repository.ErrNotFound
	}
	if notes != nil {
		lesson.Notes = *notes
	}
	if homework != nil {
		lesson.Homework = *homework
	}
	if grade != nil {
		g := *grade
		lesson.Grade = &g
	}
	lesson.UpdatedAt = time.Now()
	r.s.st.lessons[id] = lesson
	return nil
}

func (r *lessonRepo) DeleteFutureBySchedule(_ context.Context, scheduleID uint, from time.Time) (int64, error) {
	defer r.s.lock()()
	var removed int64
	for id, lesson := range r.s.st.lessons {
		if lesson.RecurringScheduleID == nil || *lesson.RecurringScheduleID != scheduleID {
			continue
		}
		if lesson.ScheduledAt.Before(from) || lesson.Status == models.LessonCompleted {
			continue
		}
		delete(r.s.st.lessons, id)
		removed++
	}
	return removed, nil
}

type paymentRepo struct{ s *Store }

func (r *paymentRepo) Create(_ context.Context, payment *models.Payment) error {
	defer r.s.lock()()
	now := time.Now()
	payment.ID = r.s.st.id()
	payment.CreatedAt, payment.UpdatedAt = now, now
	if payment.Kind == "" {
		payment.Kind = models.PaymentKindPayment
	}
	r.s.st.payments[payment.ID] = *payment
	return nil
}

func (r *paymentRepo) ListByStudent(_ context.Context, studentID uint) ([]models.Payment, error) {
	defer r.s.lock()()
	out := []models.Payment{}
	for _, payment := range r.s.st.payments {
		if payment.StudentID == studentID {
			out = append(out, payment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *paymentRepo) SumLessons(_ context.Context, studentID uint) (int, error) {
	defer r.s.lock()()
	total := 0
	for _, payment := range r.s.st.payments {
		if payment.StudentID == studentID {
			total += payment.LessonsPurchased
		}
	}
	return total, nil
}

type earningRepo struct{ s *Store }

func (r *earningRepo) Create(_ context.Context, earning *models.TutorEarning) error {
	defer r.s.lock()()
	for _, existing := range r.s.st.earnings {
		if existing.LessonID == earning.LessonID {
			return ErrDuplicateKey
		}
	}
	now := time.Now()
	earning.ID = r.s.st.id()
	earning.CreatedAt, earning.UpdatedAt = now, now
	if earning.Status == "" {
		earning.Status = models.EarningEarned
	}
	r.s.st.earnings[earning.ID] = *earning
	return nil
}

func (r *earningRepo) CancelByLesson(_ context.Context, lessonID uint) (int64, error) {
	defer r.s.lock()()
	var n int64
	for id, earning := range r.s.st.earnings {
		if earning.LessonID == lessonID && earning.Status == models.EarningEarned {
			earning.Status = models.EarningCancelled
			earning.UpdatedAt = time.Now()
			r.s.st.earnings[id] = earning
			n++
		}
	}
	return n, nil
}

func (r *earningRepo) ListByTutor(_ context.Context, tutorID uint) ([]models.TutorEarning, error) {
	defer r.s.lock()()
	out := []models.TutorEarning{}
	for _, earning := range r.s.st.earnings {
		if earning.TutorID == tutorID {
			out = append(out, earning)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
