package correlation

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Recipient identifies a CVG dialog together with the project authorization
// context needed to address it on the gateway API.
type Recipient struct {
	DialogID      string
	ProjectToken  string
	ResellerToken string
}

// ErrDecode reports a malformed correlation token. A token either decodes
// fully or not at all; no partial Recipient is ever returned.
var ErrDecode = errors.New("malformed correlation token")

type tokenPayload struct {
	DialogID       string `json:"dialogId"`
	ProjectContext struct {
		ProjectToken  string `json:"projectToken"`
		ResellerToken string `json:"resellerToken"`
	} `json:"projectContext"`
}

// Encode builds the opaque token that travels as the engine's sender id.
// The token is base64 over a small JSON document so the gateway context can
// be recovered on the outbound path without any session store.
func Encode(dialogID, projectToken, resellerToken string) string {
	var p tokenPayload
	p.DialogID = dialogID
	p.ProjectContext.ProjectToken = projectToken
	p.ProjectContext.ResellerToken = resellerToken

	// Marshal of a plain struct with string fields cannot fail.
	raw, _ := json.Marshal(p)
	return base64.StdEncoding.EncodeToString(raw)
}

// Decode is the exact inverse of Encode.
func Decode(token string) (Recipient, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return Recipient{}, fmt.Errorf("%w: invalid base64: %v", ErrDecode, err)
	}

	var p tokenPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Recipient{}, fmt.Errorf("%w: invalid json: %v", ErrDecode, err)
	}

	if p.DialogID == "" {
		return Recipient{}, fmt.Errorf("%w: dialogId missing", ErrDecode)
	}
	if p.ProjectContext.ProjectToken == "" {
		return Recipient{}, fmt.Errorf("%w: projectContext.projectToken missing", ErrDecode)
	}
	if p.ProjectContext.ResellerToken == "" {
		return Recipient{}, fmt.Errorf("%w: projectContext.resellerToken missing", ErrDecode)
	}

	return Recipient{
		DialogID:      p.DialogID,
		ProjectToken:  p.ProjectContext.ProjectToken,
		ResellerToken: p.ProjectContext.ResellerToken,
	}, nil
}
