package progress

import "math"

// PassingScore - минимальный балл, при котором тест засчитывается.
const PassingScore = 60

// PassedCount считает засчитанные попытки.
func PassedCount(attempts []QuizAttempt) int {
	n := 0
	for _, a := range attempts {
		if a.Passed() {
			n++
		}
	}
	return n
}

// AverageScore - среднее по всем попыткам, округлённое до целого
// (половина округляется вверх). 0 для пустого списка.
func AverageScore(attempts []QuizAttempt) int {
	if len(attempts) == 0 {
		return 0
	}
	sum := 0
	for _, a := range attempts {
		sum += a.Score
	}
	return int(math.Floor(float64(sum)/float64(len(attempts)) + 0.5))
}

// RecomputeStats пересчитывает производные счётчики из сырых коллекций.
// Длина CompletedTopics - единственный источник истины для числа тем.
// Время занятий и серия не выводятся из коллекций: повторные визиты
// добавляют время без новых записей.
func RecomputeStats(r *Record) {
	r.Stats.TotalTopicsCompleted = len(r.CompletedTopics)
	r.Stats.TotalQuizzesPassed = PassedCount(r.CompletedQuizzes)
	r.Stats.AverageQuizScore = AverageScore(r.CompletedQuizzes)
}

// Snapshot - типизированный вход для правил достижений.
type Snapshot struct {
	TopicsCompleted  int
	QuizzesPassed    int
	AverageQuizScore int
	Streak           int
	ProtocolsViewed  int
}

// Snapshot выводит счётчики из коллекций, а не из сохранённых Stats.
// Серия хранится только в Stats.
func (r *Record) Snapshot() Snapshot {
	return Snapshot{
		TopicsCompleted:  len(r.CompletedTopics),
		QuizzesPassed:    PassedCount(r.CompletedQuizzes),
		AverageQuizScore: AverageScore(r.CompletedQuizzes),
		Streak:           r.Stats.Streak,
		ProtocolsViewed:  len(r.ViewedProtocols),
	}
}
