package contracts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrDuplicateMember is returned when an object repeats a member name.
// JSON readers disagree on which occurrence wins, so such documents are
// refused outright.
var ErrDuplicateMember = errors.New("contracts: duplicate object member")

// DuplicateMemberError locates the repeated member
type DuplicateMemberError struct {
	Path string
}

func (e *DuplicateMemberError) Error() string {
	return fmt.Sprintf("contracts: duplicate object member %q", e.Path)
}

func (e *DuplicateMemberError) Unwrap() error {
	return ErrDuplicateMember
}

// CheckUniqueMembers walks raw and fails on the first object, at any
// depth, that names a member twice. Names are compared after unescaping.
func CheckUniqueMembers(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return walkMembers(dec, "")
}

func walkMembers(dec *json.Decoder, path string) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	switch delim {
	case '{':
		seen := make(map[string]struct{})
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return err
			}
			key, _ := keyTok.(string)
			memberPath := key
			if path != "" {
				memberPath = path + "." + key
			}
			if _, dup := seen[key]; dup {
				return &DuplicateMemberError{Path: memberPath}
			}
			seen[key] = struct{}{}
			if err := walkMembers(dec, memberPath); err != nil {
				return err
			}
		}
	case '[':
		for i := 0; dec.More(); i++ {
			if err := walkMembers(dec, path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
	}

	// closing delimiter
	_, err = dec.Token()
	return err
}
