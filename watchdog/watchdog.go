package watchdog

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/syeo66/playlistscope/models"
)

// FailureThreshold is the number of consecutive failures after which an
// integration is reported as degraded.
const FailureThreshold = 3

type state struct {
	consecutiveFailures int
	lastSuccess         *time.Time
	lastFailure         *time.Time
}

// Watchdog tracks consecutive failures per external integration. A
// success resets the counter; crossing the threshold marks the
// integration degraded until the next success.
type Watchdog struct {
	mutex    sync.RWMutex
	services map[string]*state
	logger   *logrus.Logger
}

func New(logger *logrus.Logger) *Watchdog {
	return &Watchdog{
		services: make(map[string]*state),
		logger:   logger,
	}
}

func (w *Watchdog) RecordSuccess(service string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	st := w.service(service)
	if st.consecutiveFailures >= FailureThreshold {
		w.logger.WithField("service", service).Info("Integration recovered")
	}
	st.consecutiveFailures = 0
	now := time.Now()
	st.lastSuccess = &now
}

func (w *Watchdog) RecordFailure(service string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	st := w.service(service)
	st.consecutiveFailures++
	now := time.Now()
	st.lastFailure = &now

	w.logger.WithFields(logrus.Fields{
		"service":  service,
		"failures": st.consecutiveFailures,
	}).Error("Integration call failed")

	if st.consecutiveFailures >= FailureThreshold {
		w.logger.WithFields(logrus.Fields{
			"service":  service,
			"failures": st.consecutiveFailures,
		}).Warn("Integration repeatedly failing")
	}
}

// Degraded reports whether the integration has reached the failure
// threshold without a success since.
func (w *Watchdog) Degraded(service string) bool {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	st, ok := w.services[service]
	return ok && st.consecutiveFailures >= FailureThreshold
}

func (w *Watchdog) FailureCount(service string) int {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	if st, ok := w.services[service]; ok {
		return st.consecutiveFailures
	}
	return 0
}

// Status returns a snapshot for every integration seen so far, sorted
// by name.
func (w *Watchdog) Status() []models.IntegrationStatus {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	statuses := make([]models.IntegrationStatus, 0, len(w.services))
	for name, st := range w.services {
		statuses = append(statuses, models.IntegrationStatus{
			Name:                name,
			ConsecutiveFailures: st.consecutiveFailures,
			Degraded:            st.consecutiveFailures >= FailureThreshold,
			LastSuccess:         st.lastSuccess,
			LastFailure:         st.lastFailure,
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// service returns the state for name, creating it when missing. Callers
// must hold the write lock.
func (w *Watchdog) service(name string) *state {
	st, ok := w.services[name]
	if !ok {
		st = &state{}
		w.services[name] = st
	}
	return st
}
