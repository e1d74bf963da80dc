package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumina-health/portalsync/pkg/logger"
)

// ProfileRepository handles profile row access
type ProfileRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *pgxpool.Pool, log *logger.Logger) *ProfileRepository {
	return &ProfileRepository{db: db, log: log}
}

const profileColumns = `id, email, first_name, last_name, role, phone, date_of_birth,
	   avatar_url, two_factor_enabled, biometric_enabled, preferences,
	   created_at, updated_at`

func scanProfile(row interface{ Scan(dest ...any) error }) (*Profile, error) {
	p := &Profile{}
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.FirstName,
		&p.LastName,
		&p.Role,
		&p.Phone,
		&p.DateOfBirth,
		&p.AvatarURL,
		&p.TwoFactorEnabled,
		&p.BiometricEnabled,
		&p.Preferences,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetByID retrieves a profile by user ID
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*Profile, error) {
	query := `
		SELECT ` + profileColumns + `
		FROM profiles
		WHERE id = $1
	`

	profile, err := scanProfile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, translate(err, fmt.Sprintf("failed to get profile %s", id))
	}

	return profile, nil
}

// Create inserts a profile row for a freshly registered credential.
// The ID must match the auth provider's user ID.
func (r *ProfileRepository) Create(ctx context.Context, profile *Profile) error {
	query := `
		INSERT INTO profiles (
			id, email, first_name, last_name, role, phone, date_of_birth,
			avatar_url, two_factor_enabled, biometric_enabled, preferences
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		profile.ID,
		profile.Email,
		profile.FirstName,
		profile.LastName,
		profile.Role,
		profile.Phone,
		profile.DateOfBirth,
		profile.AvatarURL,
		profile.TwoFactorEnabled,
		profile.BiometricEnabled,
		profile.Preferences,
	).Scan(&profile.CreatedAt, &profile.UpdatedAt)

	if err != nil {
		return translate(err, "failed to create profile")
	}

	return nil
}

// buildProfileUpdate assembles the dynamic UPDATE statement for a
// patch. $1 is always the row id; every set column takes the next
// placeholder in declaration order.
func buildProfileUpdate(id string, patch ProfilePatch) (string, []any) {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}
	argCount := 2

	addSet := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argCount))
		args = append(args, value)
		argCount++
	}

	if patch.FirstName != nil {
		addSet("first_name", *patch.FirstName)
	}
	if patch.LastName != nil {
		addSet("last_name", *patch.LastName)
	}
	if patch.Phone != nil {
		addSet("phone", *patch.Phone)
	}
	if patch.AvatarURL != nil {
		addSet("avatar_url", *patch.AvatarURL)
	}
	if patch.TwoFactorEnabled != nil {
		addSet("two_factor_enabled", *patch.TwoFactorEnabled)
	}
	if patch.BiometricEnabled != nil {
		addSet("biometric_enabled", *patch.BiometricEnabled)
	}
	if patch.Preferences != nil {
		addSet("preferences", *patch.Preferences)
	}

	query := "UPDATE profiles SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = $1 RETURNING " + profileColumns

	return query, args
}

// Update applies a partial update and returns the server's row, which
// is authoritative over any locally cached copy
func (r *ProfileRepository) Update(ctx context.Context, id string, patch ProfilePatch) (*Profile, error) {
	query, args := buildProfileUpdate(id, patch)

	profile, err := scanProfile(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, translate(err, fmt.Sprintf("failed to update profile %s", id))
	}

	return profile, nil
}
