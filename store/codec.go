package store

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// MarshalObject encodes obj for backends that persist raw bytes. The version token is not part of the
// body, backends track it themselves.
func MarshalObject(obj *Object) ([]byte, error) {
	body := obj.DeepCopy()
	body.ResourceVersion = ""
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s", obj.ObjectRef)
	}
	return data, nil
}

// UnmarshalObject decodes a body written by MarshalObject and stamps it with version.
func UnmarshalObject(data []byte, version string) (*Object, error) {
	obj := new(Object)
	if err := json.Unmarshal(data, obj); err != nil {
		return nil, errors.Wrap(err, "failed to decode stored object")
	}
	obj.ResourceVersion = version
	return obj, nil
}

// ObjectKey joins prefix and the parts of ref with sep. Kinds are lower-cased so keys read like
// resource paths, e.g. "leader-election/lease/default/my-app".
func ObjectKey(prefix, sep string, ref ObjectRef) string {
	parts := make([]string, 0, 4)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	ns := ref.Namespace
	if ns == "" {
		ns = "default"
	}
	parts = append(parts, strings.ToLower(ref.Kind), ns, ref.Name)
	return strings.Join(parts, sep)
}
