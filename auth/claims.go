package auth

import "encoding/json"

// ClaimsUser is the concrete UserInfo carried by both validator flows: a
// subject plus the raw claims map from the token or introspection body.
type ClaimsUser struct {
	Subject string
	Map     map[string]any
}

func (u *ClaimsUser) UserID() string { return u.Subject }

func (u *ClaimsUser) Claims(ref any) error {
	b, err := json.Marshal(u.Map)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

var _ UserInfo = (*ClaimsUser)(nil)
