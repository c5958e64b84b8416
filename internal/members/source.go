package members

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dpcore/statement-service/internal/domain"
)

// Source looks up account records for the export handler. Safe for
// concurrent use; every method takes its own snapshot from the pool.
type Source struct {
	db     *sqlx.DB
	key    []byte
	logger *slog.Logger
}

// NewSource creates a record source. key may be nil when stored account
// numbers are not encrypted.
func NewSource(db *sqlx.DB, key []byte, logger *slog.Logger) *Source {
	return &Source{db: db, key: key, logger: logger}
}

type memberRow struct {
	AccountNumber string          `db:"account_number"`
	DisplayName   string          `db:"display_name"`
	Email         string          `db:"email"`
	PlayerData    json.RawMessage `db:"player_data"`
}

// GetAccountData returns the record for one member. The account is
// matched first verbatim, then against decrypted stored values, which
// mirrors how rows written by the legacy importer are found. Returns
// domain.ErrRecordNotFound when no row matches.
func (s *Source) GetAccountData(ctx context.Context, batchRef, account string) (*domain.AccountRecord, error) {
	normalized := NormalizeAccount(account, s.key)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty account number", domain.ErrRecordNotFound)
	}

	row, err := s.findMember(ctx, normalized)
	if err != nil {
		return nil, err
	}

	rec := &domain.AccountRecord{
		Account:    normalized,
		Name:       row.DisplayName,
		Email:      row.Email,
		BatchRef:   batchRef,
		PlayerData: row.PlayerData,
	}

	if batchRef != "" {
		if err := s.attachBatchData(ctx, rec, batchRef, normalized); err != nil {
			return nil, err
		}
	}

	return rec, nil
}

func (s *Source) findMember(ctx context.Context, account string) (*memberRow, error) {
	const byAccount = `
		SELECT account_number, display_name, email, COALESCE(player_data, 'null'::jsonb) AS player_data
		FROM members
		WHERE account_number = $1
		LIMIT 1
	`

	var row memberRow
	err := s.db.GetContext(ctx, &row, byAccount, account)
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query member: %w", err)
	}

	if len(s.key) == 0 {
		return nil, fmt.Errorf("%w: account %s", domain.ErrRecordNotFound, account)
	}

	// Fall back to scanning encrypted rows and comparing after decryption.
	const encrypted = `
		SELECT account_number, display_name, email, COALESCE(player_data, 'null'::jsonb) AS player_data
		FROM members
		WHERE account_number LIKE 'ENC:%' OR account_number LIKE 'DENC:%'
	`

	rows, err := s.db.QueryxContext(ctx, encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to scan encrypted members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var candidate memberRow
		if err := rows.StructScan(&candidate); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		if NormalizeAccount(candidate.AccountNumber, s.key) == account {
			return &candidate, nil
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}

	return nil, fmt.Errorf("%w: account %s", domain.ErrRecordNotFound, account)
}

func (s *Source) attachBatchData(ctx context.Context, rec *domain.AccountRecord, batchRef, account string) error {
	if _, err := uuid.Parse(batchRef); err != nil {
		s.logger.Debug("Ignoring malformed batch reference",
			slog.String("batch_ref", batchRef),
		)
		return nil
	}

	const query = `
		SELECT b.statement_period, COALESCE(p.no_play_status, '') AS no_play_status
		FROM no_play_batches b
		LEFT JOIN no_play_players p ON p.batch_id = b.id AND p.account_number = $2
		WHERE b.id = $1
	`

	var period, noPlayStatus string
	err := s.db.QueryRowContext(ctx, query, batchRef, account).Scan(&period, &noPlayStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Batch reference is advisory; a missing batch row only means
			// the document has no period header.
			s.logger.Debug("Batch not found for export member",
				slog.String("batch_ref", batchRef),
				slog.String("account", account),
			)
			return nil
		}
		return fmt.Errorf("failed to query batch data: %w", err)
	}

	rec.StatementPeriod = period
	rec.NoPlayStatus = noPlayStatus
	return nil
}

// MarkEmailSent flags a batch player as notified so reruns of the same
// batch skip accounts that already received their notice.
func (s *Source) MarkEmailSent(ctx context.Context, batchRef, account string) error {
	if _, err := uuid.Parse(batchRef); err != nil {
		return fmt.Errorf("invalid batch reference %q", batchRef)
	}

	const query = `
		UPDATE no_play_players
		SET is_email = TRUE, updated_at = NOW()
		WHERE batch_id = $1 AND account_number = $2
	`

	if _, err := s.db.ExecContext(ctx, query, batchRef, account); err != nil {
		return fmt.Errorf("failed to mark email sent: %w", err)
	}
	return nil
}
