package pg

import (
	"context"
	"time"

	"notifgw/internal/domain"
)

const shortLinkColumns = `id, short_code, original_url, created_by, click_count, status, expire_at, created_at, updated_at`

func scanShortLink(row interface{ Scan(...any) error }) (domain.ShortLink, error) {
	var l domain.ShortLink
	err := row.Scan(&l.ID, &l.ShortCode, &l.OriginalURL, &l.CreatedBy, &l.ClickCount, &l.Status,
		&l.ExpireAt, &l.CreatedAt, &l.UpdatedAt)
	return l, mapErr(err)
}

func (s *Store) GetShortLink(ctx context.Context, code string) (domain.ShortLink, error) {
	return scanShortLink(s.DB.QueryRow(ctx, `SELECT `+shortLinkColumns+` FROM short_url WHERE short_code=$1`, code))
}

// FindActiveShortLinkByURL returns the newest enabled link pointing at url.
func (s *Store) FindActiveShortLinkByURL(ctx context.Context, url string) (domain.ShortLink, error) {
	return scanShortLink(s.DB.QueryRow(ctx, `
		SELECT `+shortLinkColumns+` FROM short_url
		WHERE original_url=$1 AND status=1
		ORDER BY created_at DESC LIMIT 1
	`, url))
}

func (s *Store) ShortCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM short_url WHERE short_code=$1)`, code).Scan(&exists)
	return exists, err
}

// InsertShortLink returns store.ErrDuplicate when the code is already taken.
func (s *Store) InsertShortLink(ctx context.Context, l *domain.ShortLink) error {
	err := s.DB.QueryRow(ctx, `
		INSERT INTO short_url (short_code, original_url, created_by, click_count, status, expire_at, created_at, updated_at)
		VALUES ($1,$2,$3,0,$4,$5,$6,$6)
		RETURNING id
	`, l.ShortCode, l.OriginalURL, l.CreatedBy, l.Status, l.ExpireAt, l.CreatedAt).Scan(&l.ID)
	return mapErr(err)
}

func (s *Store) SetShortLinkStatus(ctx context.Context, code string, status int) (bool, error) {
	ct, err := s.DB.Exec(ctx, `UPDATE short_url SET status=$2, updated_at=now() WHERE short_code=$1`, code, status)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) DeleteShortLink(ctx context.Context, code string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM short_url WHERE short_code=$1`, code)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// RecordAccess bumps the click counter and appends an access log row atomically.
func (s *Store) RecordAccess(ctx context.Context, a domain.AccessLog) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE short_url SET click_count = click_count + 1 WHERE short_code=$1`, a.ShortCode); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO short_url_access_log (short_code, ip, user_agent, referer, access_time)
		VALUES ($1,$2,$3,$4,$5)
	`, a.ShortCode, a.IP, nullIfEmpty(a.UserAgent), nullIfEmpty(a.Referer), a.AccessTime); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CountAccessSince(ctx context.Context, code string, since time.Time) (int64, error) {
	var n int64
	err := s.DB.QueryRow(ctx, `
		SELECT count(*) FROM short_url_access_log WHERE short_code=$1 AND access_time >= $2
	`, code, since).Scan(&n)
	return n, err
}

func (s *Store) RecentAccess(ctx context.Context, code string, limit int) ([]domain.AccessLog, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, short_code, ip, COALESCE(user_agent,''), COALESCE(referer,''), access_time
		FROM short_url_access_log WHERE short_code=$1
		ORDER BY access_time DESC LIMIT $2
	`, code, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AccessLog
	for rows.Next() {
		var a domain.AccessLog
		if err := rows.Scan(&a.ID, &a.ShortCode, &a.IP, &a.UserAgent, &a.Referer, &a.AccessTime); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
