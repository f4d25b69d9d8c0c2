package enrollment

import (
	"fmt"
	"regexp"

	"github.com/wolfeidau/fleetprov/internal/fault"
)

var registrationIDPattern = regexp.MustCompile(`^[a-z0-9-]*$`)

// ValidateRegistrationID checks a registration id contains only lower-case
// alphanumerics and '-'. An empty id is rejected.
func ValidateRegistrationID(id string) error {
	const op = "enrollment.ValidateRegistrationID"

	if id == "" {
		return fault.Validation(op, "registration id must not be empty")
	}
	if !registrationIDPattern.MatchString(id) {
		return fault.Validation(op, "registration id %q may only contain a-z, 0-9 and '-'", id)
	}
	return nil
}

// ProvisioningError is returned when registration does not end in Assigned.
// Status is the last status reported by the service, or Failed when the
// service could not be reached.
type ProvisioningError struct {
	RegistrationID string
	Status         Status
	Err            error
}

func (e *ProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registration of %q ended with status %s: %v", e.RegistrationID, e.Status, e.Err)
	}
	return fmt.Sprintf("registration of %q ended with status %s", e.RegistrationID, e.Status)
}

func (e *ProvisioningError) Unwrap() []error {
	if e.Err == nil {
		return []error{fault.ErrProvisioning}
	}
	return []error{fault.ErrProvisioning, e.Err}
}
