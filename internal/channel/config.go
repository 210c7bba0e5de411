package channel

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"

	"notifgw/internal/domain"
)

// decodeConfig parses the channel's JSON configuration into T.
func decodeConfig[T any](ch domain.Channel) (T, error) {
	var cfg T
	raw := strings.TrimSpace(ch.ConfigJSON)
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("%s channel %d: invalid config: %w", ch.Type, ch.ID, err)
	}
	return cfg, nil
}

// requireFields reports every empty field at once.
func requireFields(kind domain.ChannelType, fields map[string]string) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var result *multierror.Error
	for _, name := range names {
		if strings.TrimSpace(fields[name]) == "" {
			result = multierror.Append(result, fmt.Errorf("%s config: %s is empty", kind, name))
		}
	}
	if result == nil {
		return nil
	}
	result.ErrorFormat = func(errs []error) string {
		parts := make([]string, len(errs))
		for i, e := range errs {
			parts[i] = e.Error()
		}
		return strings.Join(parts, "; ")
	}
	return result.ErrorOrNil()
}
