package pg

import (
	"context"
	"encoding/json"

	"notifgw/internal/store"
)

func (s *Store) InsertDeliveryEvent(ctx context.Context, in store.DeliveryEvent) error {
	b, _ := json.Marshal(in.Payload)
	_, err := s.DB.Exec(ctx, `
		INSERT INTO delivery_events (provider, provider_msg_id, vendor_status, error_code, payload_json, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, in.Provider, in.ProviderMsgID, in.VendorStatus, nullIfEmpty(in.ErrorCode), b, in.OccurredAt)
	return err
}

// UpdateDetailDelivery records a provider-reported delivery state on the matching detail.
func (s *Store) UpdateDetailDelivery(ctx context.Context, in store.DeliveryUpdate) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE log_msg_detail
		SET delivery_status=$2, error_msg=COALESCE($3, error_msg), updated_at=$4
		WHERE third_party_msg_id=$1
	`, in.ProviderMsgID, in.Status, nullIfEmpty(in.ErrorCode), in.Now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
