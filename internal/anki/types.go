// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package anki

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ID represents an Anki object ID (deck, card, note, etc) as an int64.
type ID int64

// Scan implements the sql.Scanner interface for the ID type.
func (i *ID) Scan(src interface{}) error {
	var id int64
	switch x := src.(type) {
	case float64:
		id = int64(x)
	case int64:
		id = x
	case string:
		var err error
		id, err = strconv.ParseInt(x, 10, 64)
		if err != nil {
			return err
		}
	case nil:
		return nil
	default:
		return fmt.Errorf("incompatible type for ID: %T", src)
	}
	*i = ID(id)
	return nil
}

// UnmarshalJSON implements the json.Unmarshaler interface for the ID type.
// Anki serializes some ids as JSON strings and some as numbers; accept both.
func (i *ID) UnmarshalJSON(src []byte) error {
	var id interface{}
	if err := json.Unmarshal(src, &id); err != nil {
		return err
	}
	return i.Scan(id)
}

func (i ID) String() string { return strconv.FormatInt(int64(i), 10) }

// FieldSep is the Unit Separator Anki uses to join note fields in notes.flds.
const FieldSep = "\x1f"

// JoinFields joins note field values with the Unit Separator.
func JoinFields(fields []string) string {
	return strings.Join(fields, FieldSep)
}

// SplitFields splits a notes.flds value into its field values.
func SplitFields(flds string) []string {
	return strings.Split(flds, FieldSep)
}

// FieldChecksum computes notes.csum: the integer value of the first 8 hex
// digits of the SHA-1 digest of the sort field.
func FieldChecksum(sortField string) int64 {
	sum := sha1.Sum([]byte(sortField))
	n, _ := strconv.ParseInt(hex.EncodeToString(sum[:])[:8], 16, 64)
	return n
}

// guidAlphabet matches the 91-character set Anki draws note GUIDs from.
const guidAlphabet = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"0123456789" +
	"!#$%&()*+,-./:;<=>?@[]^_`{|}~"

// NewGUID returns a fresh 10-character note GUID. The entropy comes from a
// random UUID, which makes collisions astronomically unlikely.
func NewGUID() string {
	raw := uuid.New()
	var b strings.Builder
	b.Grow(10)
	for i := 0; i < 10; i++ {
		idx := (int(raw[i]) + int(raw[i+6])*7) % len(guidAlphabet)
		b.WriteByte(guidAlphabet[idx])
	}
	return b.String()
}

func scanJSON(src interface{}, target interface{}) error {
	var blob []byte
	switch x := src.(type) {
	case []byte:
		blob = x
	case string:
		blob = []byte(x)
	default:
		return fmt.Errorf("incompatible type %T for JSON column", src)
	}
	return json.Unmarshal(blob, target)
}
