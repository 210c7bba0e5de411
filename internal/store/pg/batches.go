package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"notifgw/internal/domain"
)

const maxErrorLen = 500

// CreateBatch inserts b as PENDING and calls publish with the new id before committing.
// A publish failure rolls the insert back, so no batch survives without its job.
func (s *Store) CreateBatch(ctx context.Context, b domain.Batch, publish func(ctx context.Context, batchID int64) error) (int64, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO log_msg_batch (batch_no, app_id, template_id, template_name, channel_id, channel_name,
			msg_type, title, content, content_params, total_count, success_count, fail_count, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,0,$12,$13,$13)
		RETURNING id
	`, b.BatchNo, b.AppID, b.TemplateID, b.TemplateName, b.ChannelID, b.ChannelName,
		b.MsgType, b.Title, b.Content, b.ContentParams, b.TotalCount, int(domain.BatchPending), b.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert batch: %w", mapErr(err))
	}

	if err := publish(ctx, id); err != nil {
		return 0, fmt.Errorf("publish batch %d: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit batch %d: %w", id, err)
	}
	return id, nil
}

func (s *Store) GetBatch(ctx context.Context, id int64) (domain.Batch, error) {
	var b domain.Batch
	var status int
	err := s.DB.QueryRow(ctx, `
		SELECT id, batch_no, app_id, template_id, template_name, channel_id, channel_name, msg_type,
		       title, content, content_params, total_count, success_count, fail_count, status, created_at
		FROM log_msg_batch WHERE id=$1
	`, id).Scan(&b.ID, &b.BatchNo, &b.AppID, &b.TemplateID, &b.TemplateName, &b.ChannelID, &b.ChannelName, &b.MsgType,
		&b.Title, &b.Content, &b.ContentParams, &b.TotalCount, &b.SuccessCount, &b.FailCount, &status, &b.CreatedAt)
	b.Status = domain.BatchStatus(status)
	return b, mapErr(err)
}

// InsertDetails writes all rows in one transaction and one round trip, filling in ids.
func (s *Store) InsertDetails(ctx context.Context, details []domain.Detail) error {
	if len(details) == 0 {
		return nil
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, d := range details {
		batch.Queue(`
			INSERT INTO log_msg_detail (batch_id, recipient, recipient_name, content, status, retry_count, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
			RETURNING id
		`, d.BatchID, d.Recipient, d.RecipientName, d.Content, int(d.Status), d.RetryCount, d.CreatedAt)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range details {
		if err := br.QueryRow().Scan(&details[i].ID); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert detail %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateDetails writes the final outcome of every detail in one transaction.
func (s *Store) UpdateDetails(ctx context.Context, details []domain.Detail) error {
	if len(details) == 0 {
		return nil
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, d := range details {
		var sendTime any
		if !d.SendTime.IsZero() {
			sendTime = d.SendTime
		}
		batch.Queue(`
			UPDATE log_msg_detail
			SET status=$2, third_party_msg_id=$3, error_msg=$4, send_time=$5, content=$6, updated_at=now()
			WHERE id=$1
		`, d.ID, int(d.Status), nullIfEmpty(d.ThirdPartyMsgID), nullIfEmpty(truncate(d.ErrorMsg, maxErrorLen)), sendTime, d.Content)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) FinishBatch(ctx context.Context, id int64, success, fail int, status domain.BatchStatus) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE log_msg_batch SET success_count=$2, fail_count=$3, status=$4, updated_at=now() WHERE id=$1
	`, id, success, fail, int(status))
	return err
}

func (s *Store) GetDetail(ctx context.Context, id int64) (domain.Detail, error) {
	var d domain.Detail
	var status int
	var msgID, errMsg, delivery *string
	var sendTime *time.Time
	err := s.DB.QueryRow(ctx, `
		SELECT id, batch_id, recipient, recipient_name, content, status, third_party_msg_id, error_msg,
		       retry_count, send_time, delivery_status, created_at
		FROM log_msg_detail WHERE id=$1
	`, id).Scan(&d.ID, &d.BatchID, &d.Recipient, &d.RecipientName, &d.Content, &status, &msgID, &errMsg,
		&d.RetryCount, &sendTime, &delivery, &d.CreatedAt)
	if err != nil {
		return domain.Detail{}, mapErr(err)
	}
	d.Status = domain.DetailStatus(status)
	d.ThirdPartyMsgID = deref(msgID)
	d.ErrorMsg = deref(errMsg)
	d.DeliveryStatus = deref(delivery)
	if sendTime != nil {
		d.SendTime = *sendTime
	}
	return d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
