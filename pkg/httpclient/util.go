package httpclient

import (
	"fmt"
	"net/url"
	"strings"
)

// TenantToken is replaced in endpoint paths with the environment's tenant id.
const TenantToken = "{tenant}"

// BuildURL joins base and path, substitutes the tenant token, and encodes
// the query parameters.
func BuildURL(base, path, tenantID string, params map[string]string) (string, error) {
	path = strings.ReplaceAll(path, TenantToken, tenantID)
	full := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")

	parsed, err := url.Parse(full)
	if err != nil {
		return "", fmt.Errorf("error parsing URL %q: %w", full, err)
	}

	q := url.Values{}
	for key, value := range params {
		q.Set(key, value)
	}
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}
