// Package progress содержит доменную модель учебного прогресса слушателя.
//
// Это ядро движка прогресса и достижений. Пакет определяет:
//
//   - Агрегат Record: все события прохождения и просмотра материалов,
//     попытки тестов, полученные достижения и производную статистику
//   - StreakEngine: переходы серии активных дней
//   - статистику, пересчитываемую из сырых коллекций (RecomputeStats)
//   - AchievementEngine: закрытый список достижений с типизированными правилами
//   - Интерфейсы хранилища: Repository, Cache, LearnerLocker
//
// # Архитектурные принципы
//
//  1. Нулевые внешние зависимости - только стандартная библиотека Go
//     и пакеты shared/timeutil
//  2. Dependency Inversion - интерфейсы хранилища реализуются в infrastructure
//  3. Документ читается и записывается целиком: статистике и достижениям
//     нужен согласованный снимок всех коллекций
//
// # Порядок шагов одной операции
//
// Каждая операция выполняется строго последовательно:
//
//	record, _ := repo.GetOrCreate(ctx, learnerID)
//	first, _ := record.RecordContent(ContentTopic, "anatomy-101", 600, now)
//	result := record.ApplyActivity(streaks, 600, now) // статистика, затем серия
//	_ = repo.Save(ctx, record)
//	unlocked := achievements.Evaluate(record, now)
//	if len(unlocked) > 0 {
//	    _ = repo.Save(ctx, record)
//	}
//
// Предыдущее значение lastActivityDate передаётся в StreakEngine явно,
// поэтому порядок присваивания полей не влияет на результат.
//
// # Конкурентный доступ
//
// Record несёт поле Version. Repository.Save отклоняет запись, если версия
// в хранилище изменилась, и возвращает shared.ErrConcurrentModification; уровень
// приложения повторяет операцию целиком на свежем документе.
package progress
