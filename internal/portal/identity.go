package portal

import (
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/ternarybob/harvester/internal/models"
)

// identityNamespace scopes name-based instrument identities.
var identityNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("harvester/instrument"))

// DeriveIdentity returns a stable cache key for inst. When identityParam is
// set and present in the detail link, its value is used. Otherwise the key
// is a name-based UUID over display name, grant date and exercise price, so
// session tokens in the link never affect it.
func DeriveIdentity(inst models.InstrumentMetadata, identityParam string) string {
	if identityParam != "" && inst.DetailURL != "" {
		if u, err := url.Parse(inst.DetailURL); err == nil {
			if v := strings.TrimSpace(u.Query().Get(identityParam)); v != "" {
				return v
			}
		}
	}

	key := strings.Join([]string{
		strings.ToLower(strings.Join(strings.Fields(inst.DisplayName), " ")),
		inst.GrantDate.String(),
		inst.ExercisePrice.String(),
	}, "|")
	return uuid.NewSHA1(identityNamespace, []byte(key)).String()
}
