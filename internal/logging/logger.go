package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// traceLevel лежит ниже zap.DebugLevel, у zap своего TRACE нет.
const traceLevel = zapcore.DebugLevel - 1

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из конфигурации. Пустая строка даёт INFO.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("неизвестный уровень логирования %q", s)
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case TRACE:
		return traceLevel
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func levelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == traceLevel {
		enc.AppendString("TRACE")
		return
	}
	zapcore.CapitalLevelEncoder(l, enc)
}

// Options задаёт вывод для новых логгеров.
type Options struct {
	ConsoleLevel LogLevel
	FileLevel    LogLevel
	// Dir пустой - без файла.
	Dir  string
	JSON bool
	// Components переопределяет оба уровня для отдельных компонентов
	Components map[string]LogLevel
}

var (
	optionsMu      sync.RWMutex
	currentOptions = Options{ConsoleLevel: INFO, FileLevel: DEBUG}
)

// Configure меняет параметры для логгеров, созданных после вызова.
func Configure(opts Options) {
	optionsMu.Lock()
	currentOptions = opts
	optionsMu.Unlock()
}

func loadOptions() Options {
	optionsMu.RLock()
	defer optionsMu.RUnlock()
	return currentOptions
}

// Logger представляет логгер компонента поверх zap
type Logger struct {
	component    string
	zl           *zap.Logger
	sugar        *zap.SugaredLogger
	consoleLevel zap.AtomicLevel
	fileLevel    zap.AtomicLevel
	file         *os.File
}

// NewLogger создаёт логгер компонента: консоль плюс файл logs/<component>_<time>.log при заданном Dir.
func NewLogger(component string) (*Logger, error) {
	opts := loadOptions()

	consoleLevel := zap.NewAtomicLevelAt(opts.ConsoleLevel.zapLevel())
	fileLevel := zap.NewAtomicLevelAt(opts.FileLevel.zapLevel())

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encCfg.EncodeLevel = levelEncoder

	var consoleEnc zapcore.Encoder
	if opts.JSON {
		consoleEnc = zapcore.NewJSONEncoder(encCfg)
	} else {
		consoleEnc = zapcore.NewConsoleEncoder(encCfg)
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stdout), consoleLevel),
	}

	var file *os.File
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("ошибка создания директории %s: %w", opts.Dir, err)
		}
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		name := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", component, timestamp))
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
		}
		file = f
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), fileLevel))
	}

	l := newWithCore(component, zapcore.NewTee(cores...), consoleLevel, fileLevel)
	l.file = file
	return l, nil
}

// NewNopLogger возвращает логгер, который ничего не пишет.
func NewNopLogger() *Logger {
	return newWithCore("nop", zapcore.NewNopCore(), zap.NewAtomicLevelAt(zapcore.FatalLevel), zap.NewAtomicLevelAt(zapcore.FatalLevel))
}

func newWithCore(component string, core zapcore.Core, consoleLevel, fileLevel zap.AtomicLevel) *Logger {
	zl := zap.New(core).Named(component)
	return &Logger{
		component:    component,
		zl:           zl,
		sugar:        zl.Sugar(),
		consoleLevel: consoleLevel,
		fileLevel:    fileLevel,
	}
}

// Component возвращает имя компонента
func (l *Logger) Component() string { return l.component }

// Zap даёт доступ к нижележащему логгеру для структурных полей.
func (l *Logger) Zap() *zap.Logger { return l.zl }

// With возвращает дочерний логгер с постоянными полями.
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.zl.With(fields...)
	return &Logger{
		component:    l.component,
		zl:           zl,
		sugar:        zl.Sugar(),
		consoleLevel: l.consoleLevel,
		fileLevel:    l.fileLevel,
	}
}

// SetLevels меняет пороги консоли и файла на лету.
func (l *Logger) SetLevels(console, file LogLevel) {
	l.consoleLevel.SetLevel(console.zapLevel())
	l.fileLevel.SetLevel(file.zapLevel())
}

func (l *Logger) Trace(format string, args ...interface{}) {
	if ce := l.zl.Check(traceLevel, fmt.Sprintf(format, args...)); ce != nil {
		ce.Write()
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Sync сбрасывает буферы. Ошибки sync для stdout терминала игнорируются.
func (l *Logger) Sync() error {
	if l.file == nil {
		_ = l.zl.Sync()
		return nil
	}
	return l.zl.Sync()
}

// Close сбрасывает буферы и закрывает файл логов
func (l *Logger) Close() error {
	_ = l.zl.Sync()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Глобальный логгер по умолчанию
var (
	defaultMu     sync.RWMutex
	defaultLogger = NewNopLogger()
)

// InitDefaultLogger инициализирует логгер по умолчанию
func InitDefaultLogger(component string) error {
	l, err := NewLogger(component)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	return nil
}

// CloseDefaultLogger закрывает логгер по умолчанию
func CloseDefaultLogger() {
	defaultMu.Lock()
	l := defaultLogger
	defaultLogger = NewNopLogger()
	defaultMu.Unlock()
	_ = l.Close()
}

// Default возвращает текущий логгер по умолчанию
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

func Trace(format string, args ...interface{}) { Default().Trace(format, args...) }
func Debug(format string, args ...interface{}) { Default().Debug(format, args...) }
func Info(format string, args ...interface{})  { Default().Info(format, args...) }
func Warn(format string, args ...interface{})  { Default().Warn(format, args...) }
func Error(format string, args ...interface{}) { Default().Error(format, args...) }
