package logging

import (
	"fmt"
	"sort"
	"sync"
)

// LoggerManager хранит по одному логгеру на компонент и применяет к ним
// уровни из Options.Components.
type LoggerManager struct {
	mu      sync.Mutex
	loggers map[string]*Logger
	create  func(component string) (*Logger, error)
}

var (
	globalManager = NewLoggerManager()
)

// NewLoggerManager создаёт отдельный менеджер (в основном для тестов).
func NewLoggerManager() *LoggerManager {
	return &LoggerManager{loggers: make(map[string]*Logger), create: NewLogger}
}

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	return globalManager
}

// GetLogger возвращает логгер компонента, создавая его при первом обращении.
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if l, ok := lm.loggers[component]; ok {
		return l, nil
	}
	l, err := lm.create(component)
	if err != nil {
		return nil, fmt.Errorf("логгер %s: %w", component, err)
	}
	if lvl, ok := loadOptions().Components[component]; ok {
		l.SetLevels(lvl, lvl)
	}
	lm.loggers[component] = l
	return l, nil
}

// MustGetLogger не возвращает ошибок: при сбое создания (например, нет прав на
// каталог логов) компонент получает пустой логгер, а причина уходит в логгер по умолчанию.
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	l, err := lm.GetLogger(component)
	if err != nil {
		Warn("%v, вывод компонента отключён", err)
		return NewNopLogger()
	}
	return l
}

// Components возвращает отсортированные имена созданных логгеров
func (lm *LoggerManager) Components() []string {
	lm.mu.Lock()
	names := make([]string, 0, len(lm.loggers))
	for name := range lm.loggers {
		names = append(names, name)
	}
	lm.mu.Unlock()

	sort.Strings(names)
	return names
}

// SetLogLevel меняет уровни уже созданного логгера
func (lm *LoggerManager) SetLogLevel(component string, console, file LogLevel) error {
	lm.mu.Lock()
	l, ok := lm.loggers[component]
	lm.mu.Unlock()
	if !ok {
		return fmt.Errorf("логгер %s не создан", component)
	}
	l.SetLevels(console, file)
	return nil
}

// CloseAll закрывает файлы всех логгеров и забывает их.
// Следующий GetLogger создаст логгер заново с текущими Options.
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	loggers := lm.loggers
	lm.loggers = make(map[string]*Logger)
	lm.mu.Unlock()

	var firstErr error
	for name, l := range loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("закрытие логгера %s: %w", name, err)
		}
	}
	return firstErr
}

// GetComponentLogger - логгер компонента из глобального менеджера
func GetComponentLogger(component string) *Logger {
	return globalManager.MustGetLogger(component)
}

func GetWorldLogger() *Logger   { return GetComponentLogger("world") }
func GetSimLogger() *Logger     { return GetComponentLogger("sim") }
func GetStorageLogger() *Logger { return GetComponentLogger("storage") }
func GetAPILogger() *Logger     { return GetComponentLogger("api") }
