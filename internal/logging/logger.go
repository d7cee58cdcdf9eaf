package logging

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
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

// Logger представляет систему логирования: дублирует записи в консоль
// и файл текущего запуска.
type Logger struct {
	consoleLogger *log.Logger
	fileLogger    *log.Logger
	file          *os.File
}

// Глобальный экземпляр логгера
var globalLogger *Logger

// Init инициализирует систему логирования для компонента.
func Init(component string) error {
	if err := os.MkdirAll("logs", 0755); err != nil {
		return fmt.Errorf("ошибка создания директории logs: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join("logs", fmt.Sprintf("%s_%s.log", component, timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("ошибка создания файла логов: %w", err)
	}

	globalLogger = &Logger{
		consoleLogger: log.New(os.Stdout, "", log.LstdFlags),
		fileLogger:    log.New(file, "", log.LstdFlags),
		file:          file,
	}
	return nil
}

// Close закрывает систему логирования
func Close() {
	if globalLogger != nil && globalLogger.file != nil {
		globalLogger.file.Close()
	}
}

// Trace логирует сообщение уровня TRACE
func Trace(format string, args ...interface{}) {
	logMessage(TRACE, format, args...)
}

// Debug логирует сообщение уровня DEBUG
func Debug(format string, args ...interface{}) {
	logMessage(DEBUG, format, args...)
}

// Info логирует сообщение уровня INFO
func Info(format string, args ...interface{}) {
	logMessage(INFO, format, args...)
}

// Warn логирует сообщение уровня WARN
func Warn(format string, args ...interface{}) {
	logMessage(WARN, format, args...)
}

// Error логирует сообщение уровня ERROR
func Error(format string, args ...interface{}) {
	logMessage(ERROR, format, args...)
}

// logMessage внутренняя функция для логирования
func logMessage(level LogLevel, format string, args ...interface{}) {
	if globalLogger == nil {
		// Без инициализации пишем только в stderr через stdlib
		if level >= INFO {
			log.Printf("[%s] %s", level.String(), fmt.Sprintf(format, args...))
		}
		return
	}

	message := fmt.Sprintf("[%s] %s", level.String(), fmt.Sprintf(format, args...))

	// В файл пишутся все уровни
	globalLogger.fileLogger.Println(message)

	// В консоль — только INFO и выше
	if level >= INFO {
		globalLogger.consoleLogger.Println(message)
	}
}

// HexDump создает hex дамп данных (не более 256 байт)
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}
	size := len(data)
	if size > 256 {
		size = 256
	}
	return hex.Dump(data[:size])
}

// LogFrameError логирует ошибку разбора кадра протокола с дампом сырых байт
func LogFrameError(connID string, err error, data []byte) {
	Error("Ошибка протокола от %s: %v", connID, err)
	if len(data) > 0 {
		Error("Сырые данные (%d байт):", len(data))
		Error("%s", HexDump(data))
	}
}
