package matchmaking

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// inactiveDays: profiles idle longer than this are not offered as
// candidates.
const inactiveDays = 45

// ProfileStore is the external profile collaborator seen by the core.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*ProfileAttributes, error)
	GetProfiles(ctx context.Context, ids []string) ([]*ProfileAttributes, error)
	FindWithinRadius(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]*ProfileAttributes, error)
}

// RelationshipStore answers friendship and block questions for eligibility.
type RelationshipStore interface {
	FriendIDs(ctx context.Context, userID string) (map[string]bool, error)
	// BlockedIDs returns ids blocked in either direction relative to userID.
	BlockedIDs(ctx context.Context, userID string) (map[string]bool, error)
}

// PairingRepository durably records proposals and matches. Status
// transitions are conditional so that concurrent respond/expire calls
// serialize on the database row.
type PairingRepository interface {
	CreateProposal(ctx context.Context, p *Proposal) error
	GetProposal(ctx context.Context, id string) (*Proposal, error)
	// TransitionProposal moves the proposal to status `to` only if its
	// current status is one of `from`. Returns true when this call performed
	// the transition; exactly one of any set of concurrent callers sees
	// true.
	TransitionProposal(ctx context.Context, id string, from []ProposalStatus, to ProposalStatus) (bool, error)
	// ExpireProposals transitions every non-terminal proposal past its
	// deadline to expired and returns the rows this call transitioned.
	ExpireProposals(ctx context.Context, now time.Time) ([]*Proposal, error)
	// ActiveProposalFor returns the user's non-terminal proposal, or nil.
	ActiveProposalFor(ctx context.Context, userID string) (*Proposal, error)
	// UsersInOpenProposals reports which of the given ids currently appear
	// in any non-terminal proposal.
	UsersInOpenProposals(ctx context.Context, ids []string) (map[string]bool, error)
	CreateMatch(ctx context.Context, m *Match) error
}

// profileRow is the sqlx scan target; array columns need pq wrappers.
type profileRow struct {
	ID                 string         `db:"id"`
	DisplayName        string         `db:"display_name"`
	Age                int            `db:"age"`
	Gender             string         `db:"gender"`
	PreferredGender    sql.NullString `db:"preferred_gender"`
	Interests          pq.StringArray `db:"interests"`
	Needs              pq.StringArray `db:"needs"`
	LocationPreference sql.NullString `db:"location_preference"`
	AgePreference      sql.NullString `db:"age_preference"`
	Latitude           *float64       `db:"latitude"`
	Longitude          *float64       `db:"longitude"`
	Invisible          bool           `db:"invisible"`
	LastActive         time.Time      `db:"last_active"`
}

func (r *profileRow) toProfile() (*ProfileAttributes, error) {
	needs := make([]Need, 0, len(r.Needs))
	for _, n := range r.Needs {
		needs = append(needs, Need(n))
	}
	p := &ProfileAttributes{
		ID:                 r.ID,
		DisplayName:        r.DisplayName,
		Age:                r.Age,
		Gender:             Gender(r.Gender),
		PreferredGender:    Gender(r.PreferredGender.String),
		Interests:          []string(r.Interests),
		Needs:              needs,
		LocationPreference: LocationPreference(r.LocationPreference.String),
		AgePreference:      AgePreference(r.AgePreference.String),
		Latitude:           r.Latitude,
		Longitude:          r.Longitude,
		Invisible:          r.Invisible,
		LastActive:         r.LastActive,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

const profileColumns = `
	id, display_name, age, gender, preferred_gender, interests, needs,
	location_preference, age_preference, latitude, longitude, invisible, last_active
`

type postgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns the Postgres implementation of
// ProfileStore, RelationshipStore and PairingRepository.
func NewPostgresRepository(db *sqlx.DB) *postgresRepository {
	return &postgresRepository{db: db}
}

// Profile methods

func (r *postgresRepository) GetProfile(ctx context.Context, id string) (*ProfileAttributes, error) {
	var row profileRow
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1 AND deleted_at IS NULL`

	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return row.toProfile()
}

func (r *postgresRepository) GetProfiles(ctx context.Context, ids []string) ([]*ProfileAttributes, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + profileColumns + `
		FROM profiles
		WHERE id = ANY($1) AND deleted_at IS NULL`

	rows, err := r.db.QueryxContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	defer rows.Close()

	return scanProfiles(rows)
}

func (r *postgresRepository) FindWithinRadius(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]*ProfileAttributes, error) {
	// Haversine in SQL; least() guards acos from rounding just above 1.
	query := `SELECT ` + profileColumns + `
		FROM profiles
		WHERE deleted_at IS NULL
		  AND invisible = FALSE
		  AND latitude IS NOT NULL AND longitude IS NOT NULL
		  AND last_active > NOW() - ($4 * INTERVAL '1 day')
		  AND 6371 * acos(least(1.0,
		        cos(radians($1)) * cos(radians(latitude)) * cos(radians(longitude) - radians($2))
		        + sin(radians($1)) * sin(radians(latitude)))) <= $3
		ORDER BY last_active DESC
		LIMIT $5`

	rows, err := r.db.QueryxContext(ctx, query, lat, lng, radiusKm, inactiveDays, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search profiles by radius: %w", err)
	}
	defer rows.Close()

	return scanProfiles(rows)
}

func scanProfiles(rows *sqlx.Rows) ([]*ProfileAttributes, error) {
	var profiles []*ProfileAttributes
	for rows.Next() {
		var row profileRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		p, err := row.toProfile()
		if err != nil {
			// Malformed rows are skipped, not fatal for the whole pool.
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Relationship methods

func (r *postgresRepository) FriendIDs(ctx context.Context, userID string) (map[string]bool, error) {
	query := `
		SELECT CASE WHEN user_id = $1 THEN friend_id ELSE user_id END
		FROM friendships
		WHERE (user_id = $1 OR friend_id = $1) AND status = 'accepted'`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, userID); err != nil {
		return nil, fmt.Errorf("failed to load friends: %w", err)
	}
	return toSet(ids), nil
}

func (r *postgresRepository) BlockedIDs(ctx context.Context, userID string) (map[string]bool, error) {
	query := `
		SELECT CASE WHEN blocker_id = $1 THEN blocked_id ELSE blocker_id END
		FROM blocks
		WHERE blocker_id = $1 OR blocked_id = $1`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, userID); err != nil {
		return nil, fmt.Errorf("failed to load blocks: %w", err)
	}
	return toSet(ids), nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Pairing methods

func (r *postgresRepository) CreateProposal(ctx context.Context, p *Proposal) error {
	query := `
		INSERT INTO proposals (id, user_a, user_b, status, score, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING updated_at`

	err := r.db.QueryRowxContext(
		ctx, query,
		p.ID, p.UserA, p.UserB, p.Status, p.Score, p.CreatedAt, p.ExpiresAt,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create proposal: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	var p Proposal
	query := `SELECT id, user_a, user_b, status, score, created_at, expires_at, updated_at
		FROM proposals WHERE id = $1`

	err := r.db.GetContext(ctx, &p, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load proposal: %w", err)
	}
	return &p, nil
}

func (r *postgresRepository) TransitionProposal(ctx context.Context, id string, from []ProposalStatus, to ProposalStatus) (bool, error) {
	query := `
		UPDATE proposals
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`

	res, err := r.db.ExecContext(ctx, query, id, to, pq.Array(statusStrings(from)))
	if err != nil {
		return false, fmt.Errorf("failed to transition proposal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read transition result: %w", err)
	}
	return affected == 1, nil
}

func (r *postgresRepository) ExpireProposals(ctx context.Context, now time.Time) ([]*Proposal, error) {
	query := `
		UPDATE proposals
		SET status = $1, updated_at = NOW()
		WHERE status = ANY($2) AND expires_at < $3
		RETURNING id, user_a, user_b, status, score, created_at, expires_at, updated_at`

	rows, err := r.db.QueryxContext(ctx, query, StatusExpired, pq.Array(statusStrings(nonTerminalStatuses)), now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire proposals: %w", err)
	}
	defer rows.Close()

	var expired []*Proposal
	for rows.Next() {
		var p Proposal
		if err := rows.StructScan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan expired proposal: %w", err)
		}
		expired = append(expired, &p)
	}
	return expired, rows.Err()
}

func (r *postgresRepository) ActiveProposalFor(ctx context.Context, userID string) (*Proposal, error) {
	var p Proposal
	query := `
		SELECT id, user_a, user_b, status, score, created_at, expires_at, updated_at
		FROM proposals
		WHERE (user_a = $1 OR user_b = $1) AND status = ANY($2)
		LIMIT 1`

	err := r.db.GetContext(ctx, &p, query, userID, pq.Array(statusStrings(nonTerminalStatuses)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active proposal: %w", err)
	}
	return &p, nil
}

func (r *postgresRepository) UsersInOpenProposals(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	query := `
		SELECT user_a, user_b
		FROM proposals
		WHERE status = ANY($1) AND (user_a = ANY($2) OR user_b = ANY($2))`

	rows, err := r.db.QueryxContext(ctx, query, pq.Array(statusStrings(nonTerminalStatuses)), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load open proposal members: %w", err)
	}
	defer rows.Close()

	wanted := toSet(ids)
	busy := make(map[string]bool)
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, fmt.Errorf("failed to scan proposal pair: %w", err)
		}
		if wanted[a] {
			busy[a] = true
		}
		if wanted[b] {
			busy[b] = true
		}
	}
	return busy, rows.Err()
}

func (r *postgresRepository) CreateMatch(ctx context.Context, m *Match) error {
	// Store pairs in a stable order, same convention as the friendships
	// table.
	if m.UserA > m.UserB {
		m.UserA, m.UserB = m.UserB, m.UserA
	}

	query := `
		INSERT INTO matches (id, user_a, user_b, proposal_id, score)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (proposal_id) DO NOTHING
		RETURNING matched_at`

	err := r.db.QueryRowxContext(
		ctx, query,
		m.ID, m.UserA, m.UserB, m.ProposalID, m.Score,
	).Scan(&m.MatchedAt)
	if err == sql.ErrNoRows {
		// Already recorded for this proposal; idempotent under retry.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}
	return nil
}

// ContactInfo resolves a user's email and display name for notifications.
func (r *postgresRepository) ContactInfo(ctx context.Context, userID string) (email, name string, err error) {
	query := `SELECT email, display_name FROM users WHERE id = $1`
	row := r.db.QueryRowxContext(ctx, query, userID)
	if err := row.Scan(&email, &name); err != nil {
		return "", "", fmt.Errorf("failed to load contact info: %w", err)
	}
	return email, name, nil
}

func statusStrings(statuses []ProposalStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
