package tracker

import "time"

type (
	// Alert is a message for the user about something that happened outside
	// the call that caused it, e.g. a failed background save.
	Alert struct {
		Name     string
		Priority AlertPriority
		Message  string
		Time     time.Time
	}

	AlertPriority int

	// Alerts is the view of the Model for managing its alerts.
	Alerts Model
)

const (
	Info AlertPriority = iota
	Warning
	Error
)

const maxAlerts = 32

func (m *Model) Alerts() *Alerts { return (*Alerts)(m) }

func (m *Alerts) Add(message string, priority AlertPriority) {
	m.AddNamed("", message, priority)
}

// AddNamed adds an alert. A named alert replaces the previous alert with the
// same name.
func (m *Alerts) AddNamed(name, message string, priority AlertPriority) {
	a := Alert{Name: name, Priority: priority, Message: message, Time: time.Now()}
	if name != "" {
		for i := range m.alerts {
			if m.alerts[i].Name == name {
				m.alerts[i] = a
				return
			}
		}
	}
	m.alerts = append(m.alerts, a)
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
	}
	switch priority {
	case Error:
		m.log.Error(message, "alert", name)
	case Warning:
		m.log.Warn(message, "alert", name)
	default:
		m.log.Info(message, "alert", name)
	}
}

func (m *Alerts) ClearNamed(name string) {
	for i := range m.alerts {
		if m.alerts[i].Name == name {
			m.alerts = append(m.alerts[:i], m.alerts[i+1:]...)
			return
		}
	}
}

// Iterate returns the alerts, oldest first.
func (m *Alerts) Iterate(yield func(Alert) bool) {
	for _, a := range m.alerts {
		if !yield(a) {
			return
		}
	}
}
