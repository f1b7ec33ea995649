package logging

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogData collects fields and timings over one request and emits them as a
// single entry at the end.
type LogData struct {
	timeItemsMutex *sync.Mutex
	timeItems      map[string]int64
	dataMutex      sync.Mutex
	dataItems      map[string]interface{}
	logger         *logrus.Logger
}

func NewLogData(logger *logrus.Logger) *LogData {
	return &LogData{
		timeItemsMutex: &sync.Mutex{},
		timeItems:      make(map[string]int64),
		dataItems:      make(map[string]interface{}),
		logger:         logger,
	}
}

func (l *LogData) AddTiming(entryName string) func() {
	startTime := time.Now()

	return func() {
		timeSince := time.Since(startTime).Milliseconds()
		l.timeItemsMutex.Lock()
		defer l.timeItemsMutex.Unlock()
		l.timeItems[entryName] = timeSince
	}
}

func (l *LogData) AddToExistingTiming(entryName string) func() {
	startTime := time.Now()

	return func() {
		timeSince := time.Since(startTime).Milliseconds()
		l.timeItemsMutex.Lock()
		defer l.timeItemsMutex.Unlock()
		l.timeItems[entryName] += timeSince
	}
}

func (l *LogData) AddData(key string, value interface{}) {
	l.dataMutex.Lock()
	defer l.dataMutex.Unlock()
	l.dataItems[key] = value
}

func (l *LogData) Log() *logrus.Entry {
	fields := logrus.Fields{}

	l.dataMutex.Lock()
	for key, value := range l.dataItems {
		fields[key] = value
	}
	l.dataMutex.Unlock()

	l.timeItemsMutex.Lock()
	for key, value := range l.timeItems {
		fields[key] = value
	}
	l.timeItemsMutex.Unlock()

	return logrus.NewEntry(l.logger).WithFields(fields)
}
