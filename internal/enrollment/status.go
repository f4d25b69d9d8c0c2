package enrollment

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Status is the registration state of a device, reported by the provisioning
// service and tracked locally by a Session.
type Status int

const (
	StatusUnregistered Status = iota
	StatusRegistering
	StatusAssigned
	StatusFailed
	StatusDisabled
)

var statusNames = map[Status]string{
	StatusUnregistered: "unregistered",
	StatusRegistering:  "registering",
	StatusAssigned:     "assigned",
	StatusFailed:       "failed",
	StatusDisabled:     "disabled",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusAssigned || s == StatusFailed || s == StatusDisabled
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a status name, case insensitively.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus parses a status name.
func ParseStatus(name string) (Status, error) {
	for status, n := range statusNames {
		if strings.EqualFold(n, name) {
			return status, nil
		}
	}
	return StatusUnregistered, fmt.Errorf("unknown status %q", name)
}

// Session tracks a single enrollment attempt.
//
//	Unregistered -> Registering -> Assigned | Failed | Disabled
type Session struct {
	mu             sync.Mutex
	registrationID string
	state          Status
	assignedHub    string
}

// NewSession returns a session in the Unregistered state.
func NewSession() *Session {
	return &Session{state: StatusUnregistered}
}

func (s *Session) State() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) RegistrationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registrationID
}

// AssignedHub is only set once the session reaches Assigned.
func (s *Session) AssignedHub() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignedHub
}

func (s *Session) begin(registrationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatusUnregistered {
		return fmt.Errorf("session for %q is already %s", s.registrationID, s.state)
	}

	s.registrationID = registrationID
	s.setState(StatusRegistering)
	return nil
}

func (s *Session) finish(status Status, assignedHub string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !status.Terminal() {
		// the service answered without reaching a final state
		status = StatusFailed
	}
	if status == StatusAssigned {
		s.assignedHub = assignedHub
	}
	s.setState(status)
}

func (s *Session) setState(to Status) {
	log.Debug().
		Str("registrationID", s.registrationID).
		Stringer("from", s.state).
		Stringer("to", to).
		Msg("enrollment session transition")
	s.state = to
}
