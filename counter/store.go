package counter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultGlobalChannels are always included in global rankings and always
// report global access, regardless of stored flags.
var DefaultGlobalChannels = []string{"meowcounterbot", "snorlaxbuffet"}

// Store persists meow counts at three aggregation levels and the per-channel
// authorization flags. All channel and user identifiers are canonicalized to
// lowercase before hitting the database.
type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

// LeaderboardEntry is one row of a channel or global leaderboard.
type LeaderboardEntry struct {
	Name  string
	Count int64
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// isUndefinedColumn reports whether err is Postgres 42703 (undefined_column).
// Old database files may still carry the legacy flag column name; reads treat
// a missing current column as recoverable and retry against the legacy name.
func isUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42703"
}

// RecordOccurrence adds amount meows for userID in channel. The per-user,
// per-channel and global rows are updated in one transaction, so a storage
// failure can only be all-or-nothing. channels_count is recomputed from
// user_meows on every call rather than tracked incrementally.
// Returns the user's new total in the channel and the channel's new total.
func (s *Store) RecordOccurrence(ctx context.Context, userID, channel string, amount int) (userTotal, channelTotal int64, err error) {
	if amount <= 0 {
		return 0, 0, fmt.Errorf("amount must be positive, got %d", amount)
	}
	userID = normalize(userID)
	channel = normalize(channel)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO user_meows (user_id, channel, meow_count, first_meow_date, last_meow_date)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (user_id, channel) DO UPDATE SET
			meow_count = user_meows.meow_count + EXCLUDED.meow_count,
			last_meow_date = NOW()
		RETURNING meow_count`, userID, channel, amount).Scan(&userTotal)
	if err != nil {
		return 0, 0, fmt.Errorf("upsert user_meows: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO streamer_totals (channel, total_meows, first_meow_date, last_meow_date)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (channel) DO UPDATE SET
			total_meows = streamer_totals.total_meows + EXCLUDED.total_meows,
			last_meow_date = NOW()
		RETURNING total_meows`, channel, amount).Scan(&channelTotal)
	if err != nil {
		return 0, 0, fmt.Errorf("upsert streamer_totals: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO user_global_stats (user_id, total_meows, channels_count, first_meow_date, last_meow_date, last_updated)
		VALUES ($1, $2, 1, NOW(), NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			total_meows = user_global_stats.total_meows + EXCLUDED.total_meows,
			last_meow_date = NOW(),
			last_updated = NOW()`, userID, amount); err != nil {
		return 0, 0, fmt.Errorf("upsert user_global_stats: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE user_global_stats
		SET channels_count = (SELECT COUNT(DISTINCT channel) FROM user_meows WHERE user_id = $1)
		WHERE user_id = $1`, userID); err != nil {
		return 0, 0, fmt.Errorf("recompute channels_count: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return userTotal, channelTotal, nil
}

// UserTotal returns userID's all-time count in channel (0 if never seen).
func (s *Store) UserTotal(ctx context.Context, userID, channel string) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT meow_count FROM user_meows WHERE user_id = $1 AND channel = $2`,
		normalize(userID), normalize(channel)).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

// ChannelTotal returns the channel's all-time total (0 if never seen).
func (s *Store) ChannelTotal(ctx context.Context, channel string) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT total_meows FROM streamer_totals WHERE channel = $1`, normalize(channel)).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

// UserGlobal returns userID's cross-channel total and distinct channel count.
func (s *Store) UserGlobal(ctx context.Context, userID string) (total int64, channels int, err error) {
	err = s.DB.QueryRowContext(ctx,
		`SELECT total_meows, channels_count FROM user_global_stats WHERE user_id = $1`,
		normalize(userID)).Scan(&total, &channels)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	return total, channels, err
}

// ChannelLeaderboard returns the top meowers of channel, descending by count.
func (s *Store) ChannelLeaderboard(ctx context.Context, channel string, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT user_id, meow_count FROM user_meows
		WHERE channel = $1
		ORDER BY meow_count DESC
		LIMIT $2`, normalize(channel), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLeaderboard(rows)
}

// GlobalLeaderboard returns the top channels by total, restricted to channels
// with global access or on the default allow-list. Databases predating the
// global_access column are served through the legacy column name.
func (s *Store) GlobalLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
		SELECT st.channel, st.total_meows
		FROM streamer_totals st
		LEFT JOIN channel_settings cs ON st.channel = cs.channel
		WHERE cs.%s OR st.channel = ANY($1)
		ORDER BY st.total_meows DESC
		LIMIT $2`
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(q, "global_access"), DefaultGlobalChannels, limit)
	if isUndefinedColumn(err) {
		rows, err = s.DB.QueryContext(ctx, fmt.Sprintf(q, "global_leaderboard_opt_in"), DefaultGlobalChannels, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLeaderboard(rows)
}

func scanLeaderboard(rows *sql.Rows) ([]LeaderboardEntry, error) {
	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Name, &e.Count); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetApproved marks channel as approved for joining.
func (s *Store) SetApproved(ctx context.Context, channel string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO channel_settings (channel, join_approved, setup_date)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (channel) DO UPDATE SET join_approved = TRUE`, normalize(channel))
	return err
}

// SetGlobalAccess opts channel into the global leaderboard.
func (s *Store) SetGlobalAccess(ctx context.Context, channel string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO channel_settings (channel, global_access, setup_date)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (channel) DO UPDATE SET global_access = TRUE`, normalize(channel))
	return err
}

// IsApproved reports whether channel has been approved for joining.
func (s *Store) IsApproved(ctx context.Context, channel string) (bool, error) {
	var approved bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT join_approved FROM channel_settings WHERE channel = $1`, normalize(channel)).Scan(&approved)
	if err == sql.ErrNoRows || isUndefinedColumn(err) {
		return false, nil
	}
	return approved, err
}

// HasGlobalAccess reports whether channel participates in global rankings.
// Allow-list channels always do.
func (s *Store) HasGlobalAccess(ctx context.Context, channel string) (bool, error) {
	channel = normalize(channel)
	for _, c := range DefaultGlobalChannels {
		if channel == c {
			return true, nil
		}
	}
	var access bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT global_access FROM channel_settings WHERE channel = $1`, channel).Scan(&access)
	if isUndefinedColumn(err) {
		err = s.DB.QueryRowContext(ctx,
			`SELECT global_leaderboard_opt_in FROM channel_settings WHERE channel = $1`, channel).Scan(&access)
	}
	if err == sql.ErrNoRows || isUndefinedColumn(err) {
		return false, nil
	}
	return access, err
}

// LoadAuthorizedChannels returns the set of channels the bot should be in:
// join-approved channels, global-access channels, and any channel with
// recorded meow activity. The activity clause is a recovery path, so
// membership can be restored from counter history alone if the flags were
// lost.
func (s *Store) LoadAuthorizedChannels(ctx context.Context) (map[string]struct{}, error) {
	set := make(map[string]struct{})

	collect := func(q string) error {
		rows, err := s.DB.QueryContext(ctx, q)
		if isUndefinedColumn(err) {
			return nil
		}
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ch string
			if err := rows.Scan(&ch); err != nil {
				return err
			}
			set[normalize(ch)] = struct{}{}
		}
		return rows.Err()
	}

	if err := collect(`SELECT channel FROM channel_settings WHERE join_approved`); err != nil {
		return nil, fmt.Errorf("load approved: %w", err)
	}
	if err := collect(`SELECT channel FROM channel_settings WHERE global_access`); err != nil {
		return nil, fmt.Errorf("load global access: %w", err)
	}
	if err := collect(`SELECT channel FROM channel_settings WHERE global_leaderboard_opt_in`); err != nil {
		return nil, fmt.Errorf("load legacy global access: %w", err)
	}
	if err := collect(`SELECT DISTINCT channel FROM streamer_totals WHERE total_meows > 0`); err != nil {
		return nil, fmt.Errorf("load active: %w", err)
	}
	return set, nil
}
