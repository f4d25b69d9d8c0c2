package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/fleetprov/internal/store"
)

const registrationColumns = `
	registration_id, device_id, assigned_hub, proof_kind,
	enrollment_name, fingerprint, subject_dn,
	created_at, updated_at, attempts`

var _ store.RegistrationStore = (*RegistrationStore)(nil)

// RegistrationStore implements store.RegistrationStore using PostgreSQL.
type RegistrationStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRegistrationStore creates a PostgreSQL-backed registration store on a
// shared pool.
func NewRegistrationStore(pool *pgxpool.Pool) *RegistrationStore {
	return &RegistrationStore{
		pool: pool,
		now:  time.Now,
	}
}

func (s *RegistrationStore) Get(ctx context.Context, registrationID string) (*store.Registration, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+registrationColumns+`
		FROM registrations
		WHERE registration_id = $1`, registrationID)

	reg, err := scanRegistration(row)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return reg, nil
}

func (s *RegistrationStore) GetByFingerprint(ctx context.Context, fingerprint string) (*store.Registration, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+registrationColumns+`
		FROM registrations
		WHERE fingerprint = $1
		ORDER BY updated_at DESC
		LIMIT 1`, fingerprint)

	reg, err := scanRegistration(row)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return reg, nil
}

// Put upserts a registration. created_at is kept from the first insert and
// attempts is incremented on every repeat.
func (s *RegistrationStore) Put(ctx context.Context, reg *store.Registration) error {
	if reg == nil || reg.RegistrationID == "" {
		return store.ErrInvalidRegistration
	}

	now := s.now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO registrations (`+registrationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, 1)
		ON CONFLICT (registration_id) DO UPDATE SET
			device_id       = EXCLUDED.device_id,
			assigned_hub    = EXCLUDED.assigned_hub,
			proof_kind      = EXCLUDED.proof_kind,
			enrollment_name = EXCLUDED.enrollment_name,
			fingerprint     = EXCLUDED.fingerprint,
			subject_dn      = EXCLUDED.subject_dn,
			updated_at      = EXCLUDED.updated_at,
			attempts        = registrations.attempts + 1
	`,
		reg.RegistrationID,
		reg.DeviceID,
		reg.AssignedHub,
		reg.ProofKind,
		nullString(reg.EnrollmentName),
		nullString(reg.Fingerprint),
		nullString(reg.SubjectDN),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to put registration: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("registration_id", reg.RegistrationID).
		Str("assigned_hub", reg.AssignedHub).
		Msg("Stored registration")

	return nil
}

func (s *RegistrationStore) Delete(ctx context.Context, registrationID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM registrations WHERE registration_id = $1`, registrationID)
	if err != nil {
		return fmt.Errorf("failed to delete registration: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRegistrationNotFound
	}
	return nil
}

// List returns registrations ordered by registration id
func (s *RegistrationStore) List(ctx context.Context, opts store.ListRegistrationsOptions) ([]*store.Registration, error) {
	query := `SELECT ` + registrationColumns + `
		FROM registrations
		WHERE ($1::text = '' OR assigned_hub = $1)
		ORDER BY registration_id`
	args := []any{opts.AssignedHub}
	if opts.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var result []*store.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		result = append(result, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", mapPostgresError(err))
	}

	return result, nil
}

func scanRegistration(row pgx.Row) (*store.Registration, error) {
	var (
		reg                                    store.Registration
		enrollmentName, fingerprint, subjectDN *string
	)

	err := row.Scan(
		&reg.RegistrationID,
		&reg.DeviceID,
		&reg.AssignedHub,
		&reg.ProofKind,
		&enrollmentName,
		&fingerprint,
		&subjectDN,
		&reg.CreatedAt,
		&reg.UpdatedAt,
		&reg.Attempts,
	)
	if err != nil {
		return nil, err
	}

	reg.EnrollmentName = derefString(enrollmentName)
	reg.Fingerprint = derefString(fingerprint)
	reg.SubjectDN = derefString(subjectDN)

	return &reg, nil
}

// nullString stores empty optional fields as NULL
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
