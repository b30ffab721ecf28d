package progress

import (
	"time"

	"github.com/physiohub/progress-engine/internal/domain/shared"
	"github.com/physiohub/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK ENGINE (Серия активных дней)
// ══════════════════════════════════════════════════════════════════════════════

// StreakClock задаёт способ подсчёта разницы в днях.
type StreakClock string

const (
	// StreakClockElapsed - floor((now - last) / 24h).
	StreakClockElapsed StreakClock = "elapsed"
	// StreakClockCalendar - разница календарных дат в заданном часовом поясе.
	StreakClockCalendar StreakClock = "calendar"
)

// ParseStreakClock разбирает режим; пустая строка означает elapsed.
func ParseStreakClock(s string) (StreakClock, error) {
	switch StreakClock(s) {
	case "", StreakClockElapsed:
		return StreakClockElapsed, nil
	case StreakClockCalendar:
		return StreakClockCalendar, nil
	}
	return "", shared.NewDomainError("progress", "ParseStreakClock", shared.ErrInvalid, "streak clock must be elapsed or calendar")
}

// StreakTransition - результат обновления серии.
type StreakTransition int

const (
	// StreakUnchanged - активность в тот же день.
	StreakUnchanged StreakTransition = iota
	// StreakStarted - первая активность, серия стала равна 1.
	StreakStarted
	// StreakExtended - активность на следующий день.
	StreakExtended
	// StreakReset - пропуск дней, серия начата заново.
	StreakReset
	// StreakClockSkew - время раньше последней активности, серия не меняется.
	StreakClockSkew
)

// String возвращает строковое представление перехода.
func (t StreakTransition) String() string {
	switch t {
	case StreakStarted:
		return "started"
	case StreakExtended:
		return "extended"
	case StreakReset:
		return "reset"
	case StreakClockSkew:
		return "clock_skew"
	default:
		return "unchanged"
	}
}

// StreakResult описывает, что произошло с серией.
type StreakResult struct {
	Transition StreakTransition
	DaysDiff   int
	Previous   int
	Current    int
	Longest    int
	NewRecord  bool
}

// Changed сообщает, изменилось ли значение серии.
func (r StreakResult) Changed() bool {
	return r.Current != r.Previous
}

// StreakEngine вычисляет переходы серии. Значение без состояния.
type StreakEngine struct {
	clock StreakClock
	loc   *time.Location
}

// NewStreakEngine создаёт движок серии.
func NewStreakEngine(clock StreakClock, loc *time.Location) StreakEngine {
	if clock == "" {
		clock = StreakClockElapsed
	}
	if loc == nil {
		loc = time.UTC
	}
	return StreakEngine{clock: clock, loc: loc}
}

// DefaultStreakEngine - elapsed-дни в UTC.
func DefaultStreakEngine() StreakEngine {
	return NewStreakEngine(StreakClockElapsed, time.UTC)
}

// Clock возвращает режим подсчёта дней.
func (e StreakEngine) Clock() StreakClock {
	return e.clock
}

// DaysBetween возвращает разницу в днях между предыдущей активностью и now.
func (e StreakEngine) DaysBetween(previous, now time.Time) int {
	if e.clock == StreakClockCalendar {
		return timeutil.CalendarDaysBetween(previous, now, e.loc)
	}
	return timeutil.ElapsedDays(previous, now)
}

// Update - чистая функция перехода серии.
// previous - значение lastActivityDate до текущей операции.
func (e StreakEngine) Update(stats Stats, previous, now time.Time) (Stats, StreakResult) {
	days := e.DaysBetween(previous, now)
	result := StreakResult{DaysDiff: days, Previous: stats.Streak}

	switch {
	case days < 0:
		result.Transition = StreakClockSkew
	case days == 0:
		// Тот же день. Первая активность нового документа открывает серию.
		if stats.Streak == 0 {
			stats.Streak = 1
			result.Transition = StreakStarted
		}
	case days == 1:
		stats.Streak++
		result.Transition = StreakExtended
		if stats.Streak == 1 {
			result.Transition = StreakStarted
		}
	default:
		result.Transition = StreakReset
		if stats.Streak == 0 {
			result.Transition = StreakStarted
		}
		stats.Streak = 1
	}

	if stats.Streak > stats.LongestStreak {
		stats.LongestStreak = stats.Streak
		result.NewRecord = true
	}

	result.Current = stats.Streak
	result.Longest = stats.LongestStreak
	return stats, result
}
