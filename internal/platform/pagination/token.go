// Package pagination provides the opaque page-token codec shared by the
// Firestore repositories. Tokens are base64 URL-safe JSON cursors carrying
// the field values the next query resumes after.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPageToken indicates the supplied page token could not be decoded.
var ErrInvalidPageToken = errors.New("pagination: invalid page token")

var codec = base64.RawURLEncoding

// Cursor captures the resume position encoded into a page token.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
}

// Empty reports whether the cursor carries no resume position.
func (c Cursor) Empty() bool { return len(c.StartAfter) == 0 }

// EncodeToken serialises the cursor into an opaque token. An empty cursor
// yields an empty token, which clients treat as "first page".
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.Empty() {
		return "", nil
	}
	payload, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return codec.EncodeToString(payload), nil
}

// DecodeToken parses a token produced by EncodeToken. Blank tokens decode to
// the zero cursor; anything else that fails to parse reports
// ErrInvalidPageToken.
func DecodeToken(token string) (Cursor, error) {
	if token = strings.TrimSpace(token); token == "" {
		return Cursor{}, nil
	}
	payload, err := codec.DecodeString(token)
	if err == nil {
		var cursor Cursor
		if err = json.Unmarshal(payload, &cursor); err == nil {
			return cursor, nil
		}
	}
	return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
}
