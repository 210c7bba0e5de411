package pg

import (
	"context"
	"time"

	"notifgw/internal/domain"
)

func (s *Store) IsIPBlacklisted(ctx context.Context, ip string, now time.Time) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM short_url_ip_blacklist
			WHERE ip=$1 AND (expire_at IS NULL OR expire_at > $2)
		)
	`, ip, now).Scan(&exists)
	return exists, err
}

// ReplaceBlacklistEntry supersedes any existing entry for the ip.
func (s *Store) ReplaceBlacklistEntry(ctx context.Context, e domain.BlacklistEntry) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM short_url_ip_blacklist WHERE ip=$1`, e.IP); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO short_url_ip_blacklist (ip, reason, expire_at, created_at) VALUES ($1,$2,$3,$4)
	`, e.IP, e.Reason, e.ExpireAt, e.CreatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) DeleteBlacklistEntry(ctx context.Context, ip string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM short_url_ip_blacklist WHERE ip=$1`, ip)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
