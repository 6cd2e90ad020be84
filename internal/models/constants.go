package models

import "time"

const (
	// DateKeyLayout формат ключа даты для кэша событий
	DateKeyLayout = "2006-01-02"

	// DefaultMaxRetries сколько раз повторяется доставка уведомления
	DefaultMaxRetries = 3

	// DefaultMaxPerHour лимит доставок в час на получателя
	DefaultMaxPerHour = 20

	// SyncOpMaxAttempts после скольких неудач операция синхронизации отбрасывается
	SyncOpMaxAttempts = 3

	// BackoffBaseDelay базовая задержка экспоненциального повтора
	BackoffBaseDelay = 5 * time.Minute

	// DispatchInterval период цикла доставки очереди
	DispatchInterval = 30 * time.Second

	// AutoSyncInterval период фоновой синхронизации календаря
	AutoSyncInterval = 5 * time.Minute

	// SyncRetryBudget бюджет повторов одного запроса синхронизации
	SyncRetryBudget = 3

	// NetworkTimeout таймаут внешних сетевых вызовов
	NetworkTimeout = 10 * time.Second

	// RemoteFetchTimeout таймаут чтения удалённого календаря
	RemoteFetchTimeout = 30 * time.Second

	// CleanupAfterHours возраст терминальных записей до удаления
	CleanupAfterHours = 24
)
