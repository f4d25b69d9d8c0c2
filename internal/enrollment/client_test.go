package enrollment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/fleetprov/internal/fault"
	"github.com/wolfeidau/fleetprov/internal/pki"
)

const testIDScope = "0ne00000001"

type mockProvisioningService struct {
	mock.Mock
}

func (m *mockProvisioningService) Register(ctx context.Context, idScope string, proof SecurityProof) (*RegistrationResult, error) {
	args := m.Called(ctx, idScope, proof)
	result, _ := args.Get(0).(*RegistrationResult)
	return result, args.Error(1)
}

var (
	testAuthorityOnce sync.Once
	testAuthority     *pki.Authority
	testAuthorityErr  error
)

func issueDevice(t *testing.T, deviceID string) *pki.IssuedCertificate {
	t.Helper()

	testAuthorityOnce.Do(func() {
		testAuthority, _, testAuthorityErr = pki.CreateSelfSignedAuthority("Enrollment Test CA", pki.WithKeySize(2048))
	})
	require.NoError(t, testAuthorityErr)

	issued, err := testAuthority.IssueLeafCertificate(context.Background(), pki.DeviceCertificateRequest{
		DeviceID: deviceID,
		KeySize:  2048,
	})
	require.NoError(t, err)
	return issued
}

func registrationIDIs(id string) any {
	return mock.MatchedBy(func(proof SecurityProof) bool {
		return proof.RegistrationID() == id
	})
}

func TestEnrollAssignedCertificate(t *testing.T) {
	issued := issueDevice(t, "device-a")

	service := new(mockProvisioningService)
	service.On("Register", mock.Anything, testIDScope, registrationIDIs("device-a")).
		Return(&RegistrationResult{Status: StatusAssigned, AssignedHub: "h1.example", DeviceID: "d1"}, nil).
		Once()

	client, err := NewClient(service, testIDScope)
	require.NoError(t, err)

	session := NewSession()
	params, err := client.EnrollSession(context.Background(), session, NewX509Proof(issued))
	require.NoError(t, err)

	assert.Equal(t, "h1.example", params.AssignedHub)
	require.Equal(t, AuthCertificate, params.Auth.Kind)
	require.NotNil(t, params.Auth.Certificate)
	assert.Nil(t, params.Auth.Module)
	assert.Equal(t, "d1", params.Auth.Certificate.DeviceID)
	assert.Equal(t, "d1", params.Auth.DeviceID())
	assert.Equal(t, issued.Certificate, params.Auth.Certificate.Certificate)
	assert.Equal(t, issued.PrivateKey, params.Auth.Certificate.PrivateKey)

	assert.Equal(t, StatusAssigned, session.State())
	assert.Equal(t, "h1.example", session.AssignedHub())
	assert.Equal(t, "device-a", session.RegistrationID())

	service.AssertExpectations(t)
}

func TestEnrollCertificateLowerCasesCommonName(t *testing.T) {
	issued := issueDevice(t, "Device-B")

	service := new(mockProvisioningService)
	service.On("Register", mock.Anything, testIDScope, registrationIDIs("device-b")).
		Return(&RegistrationResult{Status: StatusAssigned, AssignedHub: "h2.example", DeviceID: "device-b"}, nil)

	client, err := NewClient(service, testIDScope)
	require.NoError(t, err)

	params, err := client.EnrollCertificate(context.Background(), issued)
	require.NoError(t, err)
	require.Equal(t, "h2.example", params.AssignedHub)

	service.AssertExpectations(t)
}

func TestEnrollNotAssigned(t *testing.T) {
	issued := issueDevice(t, "device-c")

	tests := []struct {
		name         string
		result       *RegistrationResult
		wantStatus   Status
		sessionState Status
	}{
		{"disabled", &RegistrationResult{Status: StatusDisabled}, StatusDisabled, StatusDisabled},
		{"failed", &RegistrationResult{Status: StatusFailed, ErrorMessage: "enrollment not found"}, StatusFailed, StatusFailed},
		{"still registering", &RegistrationResult{Status: StatusRegistering}, StatusRegistering, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(mockProvisioningService)
			service.On("Register", mock.Anything, testIDScope, mock.Anything).Return(tt.result, nil)

			client, err := NewClient(service, testIDScope)
			require.NoError(t, err)

			session := NewSession()
			params, err := client.EnrollSession(context.Background(), session, NewX509Proof(issued))
			require.Nil(t, params)
			require.ErrorIs(t, err, fault.ErrProvisioning)

			var perr *ProvisioningError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantStatus, perr.Status)
			assert.Equal(t, "device-c", perr.RegistrationID)

			assert.Equal(t, tt.sessionState, session.State())
			assert.Empty(t, session.AssignedHub())
		})
	}
}

func TestEnrollAssignedWithoutHub(t *testing.T) {
	issued := issueDevice(t, "device-d")

	service := new(mockProvisioningService)
	service.On("Register", mock.Anything, testIDScope, mock.Anything).
		Return(&RegistrationResult{Status: StatusAssigned, DeviceID: "d1"}, nil)

	client, err := NewClient(service, testIDScope)
	require.NoError(t, err)

	session := NewSession()
	params, err := client.EnrollSession(context.Background(), session, NewX509Proof(issued))
	require.ErrorIs(t, err, fault.ErrProvisioning)
	require.Nil(t, params)

	var provErr *ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, StatusFailed, provErr.Status)
	assert.Equal(t, StatusFailed, session.State())
	assert.Empty(t, session.AssignedHub())
}

func TestEnrollTransportFailure(t *testing.T) {
	issued := issueDevice(t, "device-e")
	errUnavailable := errors.New("connection refused")

	service := new(mockProvisioningService)
	service.On("Register", mock.Anything, testIDScope, mock.Anything).Return(nil, errUnavailable)

	client, err := NewClient(service, testIDScope)
	require.NoError(t, err)

	session := NewSession()
	_, err = client.EnrollSession(context.Background(), session, NewX509Proof(issued))
	require.ErrorIs(t, err, fault.ErrProvisioning)
	require.ErrorIs(t, err, errUnavailable)
	require.Equal(t, StatusFailed, session.State())

	t.Run("nil result", func(t *testing.T) {
		service := new(mockProvisioningService)
		service.On("Register", mock.Anything, testIDScope, mock.Anything).Return(nil, nil)

		client, err := NewClient(service, testIDScope)
		require.NoError(t, err)

		_, err = client.EnrollCertificate(context.Background(), issued)
		require.ErrorIs(t, err, fault.ErrProvisioning)
	})
}

func TestEnrollHonoursCancellation(t *testing.T) {
	issued := issueDevice(t, "device-f")

	service := new(mockProvisioningService)
	service.On("Register", mock.Anything, testIDScope, mock.Anything).
		Return(nil, context.Canceled).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		})

	client, err := NewClient(service, testIDScope)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.EnrollCertificate(ctx, issued)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, fault.ErrProvisioning)
}

func TestEnrollRejectsInvalidRegistrationID(t *testing.T) {
	issued := issueDevice(t, "abc_123")

	service := new(mockProvisioningService)
	client, err := NewClient(service, testIDScope)
	require.NoError(t, err)

	_, err = client.EnrollCertificate(context.Background(), issued)
	require.ErrorIs(t, err, fault.ErrValidation)

	service.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)
}

func TestEnrollModule(t *testing.T) {
	module := &SimulatedModule{ID: "tpm-device-1", EK: []byte("endorsement"), SRK: []byte("storage")}

	service := new(mockProvisioningService)
	service.On("Register", mock.Anything, testIDScope, registrationIDIs("tpm-device-1")).
		Return(&RegistrationResult{Status: StatusAssigned, AssignedHub: "h3.example", DeviceID: "d3"}, nil)

	client, err := NewClient(service, testIDScope)
	require.NoError(t, err)

	params, err := client.Enroll(context.Background(), NewModuleProof(module))
	require.NoError(t, err)

	require.Equal(t, AuthModule, params.Auth.Kind)
	require.NotNil(t, params.Auth.Module)
	assert.Nil(t, params.Auth.Certificate)
	assert.Equal(t, "d3", params.Auth.Module.DeviceID)
	assert.Same(t, module, params.Auth.Module.Module)

	t.Run("upper case module id is rejected", func(t *testing.T) {
		_, err := client.Enroll(context.Background(), NewModuleProof(&SimulatedModule{ID: "TPM-1"}))
		require.ErrorIs(t, err, fault.ErrValidation)
	})
}

func TestEnrollUnsupportedProof(t *testing.T) {
	service := new(mockProvisioningService)
	client, err := NewClient(service, testIDScope)
	require.NoError(t, err)

	_, err = client.Enroll(context.Background(), SecurityProof{Kind: ProofKind(42)})
	require.ErrorIs(t, err, fault.ErrUnsupportedAuth)

	_, err = client.Enroll(context.Background(), SecurityProof{Kind: ProofX509})
	require.ErrorIs(t, err, fault.ErrValidation)

	_, err = client.Enroll(context.Background(), SecurityProof{Kind: ProofModule})
	require.ErrorIs(t, err, fault.ErrValidation)

	_, err = credentialFor(SecurityProof{}, "d1")
	require.ErrorIs(t, err, fault.ErrUnsupportedAuth)

	service.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)
}

func TestEnrollSessionCannotBeReused(t *testing.T) {
	issued := issueDevice(t, "device-g")

	service := new(mockProvisioningService)
	service.On("Register", mock.Anything, testIDScope, mock.Anything).
		Return(&RegistrationResult{Status: StatusAssigned, AssignedHub: "h1.example", DeviceID: "d1"}, nil).
		Once()

	client, err := NewClient(service, testIDScope)
	require.NoError(t, err)

	session := NewSession()
	_, err = client.EnrollSession(context.Background(), session, NewX509Proof(issued))
	require.NoError(t, err)

	_, err = client.EnrollSession(context.Background(), session, NewX509Proof(issued))
	require.ErrorIs(t, err, fault.ErrValidation)

	service.AssertNumberOfCalls(t, "Register", 1)
}

func TestEnrollConcurrent(t *testing.T) {
	issued := issueDevice(t, "device-h")

	service := new(mockProvisioningService)
	service.On("Register", mock.Anything, testIDScope, mock.Anything).
		Return(&RegistrationResult{Status: StatusAssigned, AssignedHub: "h1.example", DeviceID: "d1"}, nil)

	client, err := NewClient(service, testIDScope)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.EnrollCertificate(context.Background(), issued)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	service.AssertNumberOfCalls(t, "Register", 16)
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(nil, testIDScope)
	require.Error(t, err)

	_, err = NewClient(new(mockProvisioningService), "")
	require.ErrorIs(t, err, fault.ErrValidation)
}
