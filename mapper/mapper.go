// Package mapper applies the field mappings declared on refractions.
//
// A Mapping is a table {target_path: source_path}. Each entry copies the value
// found at source_path in the input document to target_path in the output
// document. Paths use gjson syntax ("user.name", "items.0", "@this").
//
// A source path ending in "?" is optional: when it is absent the entry is
// skipped. A required path that is absent fails with a mapping error. A
// source may also be a template such as "Bearer ${token}", in which case the
// rendered string is stored; "${token?}" makes the whole entry optional.
package mapper

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hupe1980/prismmesh/core"
	"github.com/hupe1980/prismmesh/internal/util"
)

// Mapping maps target paths to source paths or templates.
type Mapping map[string]string

// errSkip signals an absent optional value inside a template.
var errSkip = errors.New("optional value absent")

// ApplyTranspose builds the input of a dependency call from the caller's
// payload. An empty mapping passes the payload through unchanged.
func ApplyTranspose(m Mapping, payload json.RawMessage) (json.RawMessage, error) {
	if len(m) == 0 {
		return passthrough(payload), nil
	}
	return apply(m, payload, nil)
}

// ApplyReflection maps a dependency's response back into the caller-visible
// shape, merging the mapped fields into into (an empty object when nil). An
// empty mapping returns the response unchanged.
func ApplyReflection(m Mapping, response, into json.RawMessage) (json.RawMessage, error) {
	if len(m) == 0 {
		return passthrough(response), nil
	}
	return apply(m, response, into)
}

// Targets returns the target paths of m in application order.
func (m Mapping) Targets() []string {
	out := make([]string, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func passthrough(payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 {
		return json.RawMessage("null")
	}
	return payload
}

func apply(m Mapping, source, base json.RawMessage) (json.RawMessage, error) {
	if len(source) == 0 {
		source = json.RawMessage("null")
	}
	if !gjson.ValidBytes(source) {
		return nil, core.Errorf(core.KindMapping, "source payload is not valid JSON")
	}

	out := []byte("{}")
	if len(base) > 0 {
		if !gjson.ValidBytes(base) || !gjson.ParseBytes(base).IsObject() {
			return nil, core.Errorf(core.KindMapping, "reflection base must be a JSON object")
		}
		out = append([]byte(nil), base...)
	}

	for _, target := range m.Targets() {
		if strings.TrimSpace(target) == "" {
			return nil, core.Errorf(core.KindMapping, "empty target path")
		}

		raw, ok, err := resolve(source, m[target])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		out, err = sjson.SetRawBytes(out, target, raw)
		if err != nil {
			return nil, core.Wrap(core.KindMapping, err, "set target path "+target)
		}
	}
	return out, nil
}

// resolve returns the raw JSON value selected by src, or ok == false when an
// optional value is absent.
func resolve(source []byte, src string) (json.RawMessage, bool, error) {
	if util.HasPlaceholders(src) {
		rendered, err := util.RenderTemplate(src, func(expr string) (string, error) {
			path, optional := splitOptional(expr)
			res := gjson.GetBytes(source, path)
			if !res.Exists() {
				if optional {
					return "", errSkip
				}
				return "", core.Errorf(core.KindMapping, "missing source path %q in template %q", path, src)
			}
			return res.String(), nil
		})
		if errors.Is(err, errSkip) {
			return nil, false, nil
		}
		if err != nil {
			if core.KindOf(err) == core.KindMapping {
				return nil, false, err
			}
			return nil, false, core.Wrap(core.KindMapping, err, "render template")
		}
		data, err := json.Marshal(rendered)
		if err != nil {
			return nil, false, core.Wrap(core.KindMapping, err, "encode template")
		}
		return data, true, nil
	}

	path, optional := splitOptional(src)
	if path == "" {
		return nil, false, core.Errorf(core.KindMapping, "empty source path")
	}
	res := gjson.GetBytes(source, path)
	if !res.Exists() {
		if optional {
			return nil, false, nil
		}
		return nil, false, core.Errorf(core.KindMapping, "missing source path %q", path)
	}
	return json.RawMessage(res.Raw), true, nil
}

func splitOptional(path string) (string, bool) {
	path = strings.TrimSpace(path)
	if p, ok := strings.CutSuffix(path, "?"); ok {
		return p, true
	}
	return path, false
}
