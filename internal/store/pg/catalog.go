package pg

import (
	"context"

	"notifgw/internal/domain"
)

const templateColumns = `id, name, code, app_id, channel_id, msg_type, third_party_id, title, content,
	variables, recipient_group_ids, recipient_ids, rate_limit, status`

func scanTemplate(row interface{ Scan(...any) error }) (domain.Template, error) {
	var t domain.Template
	err := row.Scan(&t.ID, &t.Name, &t.Code, &t.AppID, &t.ChannelID, &t.MsgType, &t.ThirdPartyID, &t.Title,
		&t.Content, &t.Variables, &t.RecipientGroupIDs, &t.RecipientIDs, &t.RateLimit, &t.Status)
	return t, mapErr(err)
}

func (s *Store) GetTemplateByCode(ctx context.Context, code string) (domain.Template, error) {
	return scanTemplate(s.DB.QueryRow(ctx, `SELECT `+templateColumns+` FROM sys_template WHERE code=$1`, code))
}

func (s *Store) GetTemplate(ctx context.Context, id int64) (domain.Template, error) {
	return scanTemplate(s.DB.QueryRow(ctx, `SELECT `+templateColumns+` FROM sys_template WHERE id=$1`, id))
}

func (s *Store) GetChannel(ctx context.Context, id int64) (domain.Channel, error) {
	var c domain.Channel
	var typ string
	err := s.DB.QueryRow(ctx, `
		SELECT id, name, type, provider, config_json, status FROM sys_channel WHERE id=$1
	`, id).Scan(&c.ID, &c.Name, &typ, &c.Provider, &c.ConfigJSON, &c.Status)
	c.Type = domain.ChannelType(typ)
	return c, mapErr(err)
}

// ListRecipients returns enabled recipients that are either listed directly or members
// of one of the groups, ordered by id and de-duplicated.
func (s *Store) ListRecipients(ctx context.Context, groupIDs, recipientIDs []int64) ([]domain.Recipient, error) {
	if len(groupIDs) == 0 && len(recipientIDs) == 0 {
		return nil, nil
	}
	if groupIDs == nil {
		groupIDs = []int64{}
	}
	if recipientIDs == nil {
		recipientIDs = []int64{}
	}
	rows, err := s.DB.Query(ctx, `
		SELECT DISTINCT r.id, r.name, r.mobile, r.email, r.user_id, r.status
		FROM sys_recipient r
		LEFT JOIN sys_recipient_group_member m ON m.recipient_id = r.id
		LEFT JOIN sys_recipient_group g ON g.id = m.group_id AND g.status = 1
		WHERE r.status = 1
		  AND (r.id = ANY($2) OR (g.id IS NOT NULL AND g.id = ANY($1)))
		ORDER BY r.id
	`, groupIDs, recipientIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		if err := rows.Scan(&r.ID, &r.Name, &r.Mobile, &r.Email, &r.UserID, &r.Status); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
