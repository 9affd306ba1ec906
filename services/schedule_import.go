package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ImportRowResult reports one data row; Row is the 1-based line in the file.
type ImportRowResult struct {
	Row        int    `json:"row"`
	StudentID  uint   `json:"student_id,omitempty"`
	ScheduleID uint   `json:"schedule_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ImportReport is returned for every import, including partially failed ones.
// Generated is filled in by the caller after booking lessons.
type ImportReport struct {
	TotalRows int               `json:"total_rows"`
	Created   int               `json:"created"`
	Failed    int               `json:"failed"`
	Generated int               `json:"generated"`
	Rows      []ImportRowResult `json:"rows"`
}

// StudentIDs lists the students that received at least one new schedule.
func (r *ImportReport) StudentIDs() []uint {
	seen := map[uint]bool{}
	var ids []uint
	for _, row := range r.Rows {
		if row.ScheduleID == 0 || seen[row.StudentID] {
			continue
		}
		seen[row.StudentID] = true
		ids = append(ids, row.StudentID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

var dayNames = map[string]int{
	"sunday": 0, "sun": 0,
	"monday": 1, "mon": 1,
	"tuesday": 2, "tue": 2,
	"wednesday": 3, "wed": 3,
	"thursday": 4, "thu": 4,
	"friday": 5, "fri": 5,
	"saturday": 6, "sat": 6,
}

func ReadCSVRows(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// ReadXLSXRows reads the first sheet of a workbook.
func ReadXLSXRows(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sht := f.GetSheetName(0)
	if sht == "" {
		sht = "Sheet1"
	}
	return f.GetRows(sht)
}

// ImportSchedules creates one schedule per data row. The header must name
// student_id, day_of_week, time_of_day and duration_minutes (a few aliases are
// accepted). Rows fail independently.
func (s *ScheduleStore) ImportSchedules(ctx context.Context, rows [][]string) (*ImportReport, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrValidation)
	}
	col := importColumnIndex(rows[0])
	for _, key := range []string{"student_id", "day_of_week", "time_of_day", "duration_minutes"} {
		if _, ok := col[key]; !ok {
			return nil, fmt.Errorf("%w: missing column: %s", ErrValidation, key)
		}
	}

	report := &ImportReport{Rows: []ImportRowResult{}}
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if isRowEmpty(row) {
			continue
		}
		report.TotalRows++
		result := ImportRowResult{Row: i + 1}

		in, err := parseImportRow(row, col)
		if err == nil {
			result.StudentID = in.StudentID
			schedule, createErr := s.CreateSchedule(ctx, in)
			if createErr != nil {
				err = createErr
			} else {
				result.ScheduleID = schedule.ID
			}
		}
		if err != nil {
			result.Error = err.Error()
			report.Failed++
		} else {
			report.Created++
		}
		report.Rows = append(report.Rows, result)
	}
	return report, nil
}

func importColumnIndex(header []string) map[string]int {
	col := map[string]int{}
	for idx, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.ReplaceAll(key, " ", "_")
		switch key {
		case "student", "student_id":
			col["student_id"] = idx
		case "day", "weekday", "day_of_week":
			col["day_of_week"] = idx
		case "time", "start_time", "time_of_day":
			col["time_of_day"] = idx
		case "duration", "minutes", "duration_minutes":
			col["duration_minutes"] = idx
		}
	}
	return col
}

func parseImportRow(row []string, col map[string]int) (ScheduleInput, error) {
	get := func(key string) string {
		if idx := col[key]; idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	studentID, err := strconv.ParseUint(get("student_id"), 10, 64)
	if err != nil {
		return ScheduleInput{}, fmt.Errorf("%w: invalid student_id %q", ErrValidation, get("student_id"))
	}
	day, err := parseDayOfWeek(get("day_of_week"))
	if err != nil {
		return ScheduleInput{}, err
	}
	duration, err := strconv.Atoi(get("duration_minutes"))
	if err != nil {
		return ScheduleInput{}, fmt.Errorf("%w: invalid duration_minutes %q", ErrValidation, get("duration_minutes"))
	}
	return ScheduleInput{
		StudentID:       uint(studentID),
		DayOfWeek:       day,
		TimeOfDay:       get("time_of_day"),
		DurationMinutes: duration,
	}, nil
}

func parseDayOfWeek(raw string) (int, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if n, err := strconv.Atoi(value); err == nil {
		return n, nil
	}
	if n, ok := dayNames[value]; ok {
		return n, nil
	}
	return 0, fmt.Errorf("%w: invalid day_of_week %q", ErrValidation, raw)
}

func isRowEmpty(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
