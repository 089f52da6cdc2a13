package jwtx

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// ClaimKind enumerates the value types allowed in custom claims.
type ClaimKind uint8

const (
	KindInvalid ClaimKind = iota
	KindString
	KindBool
	KindInt
	KindTime
	KindList
)

var kindNames = map[ClaimKind]string{
	KindString: "string",
	KindBool:   "bool",
	KindInt:    "int",
	KindTime:   "time",
	KindList:   "list",
}

func (k ClaimKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "invalid"
}

func parseKind(s string) (ClaimKind, error) {
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("jwtx: unknown claim kind %q", s)
}

var ErrClaimKind = errors.New("jwtx: claim value has wrong kind")

// ClaimValue is a tagged custom claim. Construct with StringClaim, BoolClaim,
// IntClaim, TimeClaim or ListClaim. On the wire it is {"kind":..,"value":..}
// so decoding recovers the exact kind, including timestamps.
type ClaimValue struct {
	kind ClaimKind
	s    string
	b    bool
	i    int64
	t    time.Time
	l    []string
}

func StringClaim(v string) ClaimValue { return ClaimValue{kind: KindString, s: v} }
func BoolClaim(v bool) ClaimValue     { return ClaimValue{kind: KindBool, b: v} }
func IntClaim(v int64) ClaimValue     { return ClaimValue{kind: KindInt, i: v} }

// TimeClaim stores t at second precision, matching NumericDate.
func TimeClaim(t time.Time) ClaimValue {
	return ClaimValue{kind: KindTime, t: t.UTC().Truncate(time.Second)}
}

func ListClaim(v ...string) ClaimValue {
	return ClaimValue{kind: KindList, l: slices.Clone(v)}
}

func (v ClaimValue) Kind() ClaimKind { return v.kind }

func (v ClaimValue) Str() (string, error) {
	if v.kind != KindString {
		return "", ErrClaimKind
	}
	return v.s, nil
}

func (v ClaimValue) Bool() (bool, error) {
	if v.kind != KindBool {
		return false, ErrClaimKind
	}
	return v.b, nil
}

func (v ClaimValue) Int() (int64, error) {
	if v.kind != KindInt {
		return 0, ErrClaimKind
	}
	return v.i, nil
}

func (v ClaimValue) Time() (time.Time, error) {
	if v.kind != KindTime {
		return time.Time{}, ErrClaimKind
	}
	return v.t, nil
}

func (v ClaimValue) List() ([]string, error) {
	if v.kind != KindList {
		return nil, ErrClaimKind
	}
	return slices.Clone(v.l), nil
}

// Equal compares kind and value.
func (v ClaimValue) Equal(o ClaimValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindTime:
		return v.t.Equal(o.t)
	case KindList:
		return slices.Equal(v.l, o.l)
	default:
		return true
	}
}

type claimWire struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func (v ClaimValue) MarshalJSON() ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch v.kind {
	case KindString:
		raw, err = json.Marshal(v.s)
	case KindBool:
		raw, err = json.Marshal(v.b)
	case KindInt:
		raw, err = json.Marshal(v.i)
	case KindTime:
		raw, err = json.Marshal(v.t.Unix())
	case KindList:
		l := v.l
		if l == nil {
			l = []string{}
		}
		raw, err = json.Marshal(l)
	default:
		return nil, fmt.Errorf("jwtx: cannot encode claim of kind %s", v.kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(claimWire{Kind: v.kind.String(), Value: raw})
}

func (v *ClaimValue) UnmarshalJSON(data []byte) error {
	var w claimWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("jwtx: decode claim: %w", err)
	}
	kind, err := parseKind(w.Kind)
	if err != nil {
		return err
	}

	out := ClaimValue{kind: kind}
	switch kind {
	case KindString:
		err = json.Unmarshal(w.Value, &out.s)
	case KindBool:
		err = json.Unmarshal(w.Value, &out.b)
	case KindInt:
		err = json.Unmarshal(w.Value, &out.i)
	case KindTime:
		var sec int64
		err = json.Unmarshal(w.Value, &sec)
		out.t = time.Unix(sec, 0).UTC()
	case KindList:
		err = json.Unmarshal(w.Value, &out.l)
	}
	if err != nil {
		return fmt.Errorf("jwtx: decode %s claim: %w", kind, err)
	}

	*v = out
	return nil
}
