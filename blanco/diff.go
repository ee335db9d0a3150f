package blanco

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/bwmarrin/discordgo"
)

// propertyKeys maps the property names used by discord's API (snake_case)
// and by client payloads (camelCase) onto one canonical form, so local and
// remote commands can be compared key by key. Names not listed are
// compared as-is.
var propertyKeys = map[string]string{
	"name":                       "name",
	"description":                "description",
	"type":                       "type",
	"options":                    "options",
	"choices":                    "choices",
	"value":                      "value",
	"required":                   "required",
	"autocomplete":               "autocomplete",
	"nsfw":                       "nsfw",
	"contexts":                   "contexts",
	"name_localizations":         "namelocalizations",
	"nameLocalizations":          "namelocalizations",
	"description_localizations":  "descriptionlocalizations",
	"descriptionLocalizations":   "descriptionlocalizations",
	"default_member_permissions": "defaultmemberpermissions",
	"defaultMemberPermissions":   "defaultmemberpermissions",
	"dm_permission":              "dmpermission",
	"dmPermission":               "dmpermission",
	"default_permission":         "defaultpermission",
	"defaultPermission":          "defaultpermission",
	"integration_types":          "integrationtypes",
	"integrationTypes":           "integrationtypes",
	"channel_types":              "channeltypes",
	"channelTypes":               "channeltypes",
	"min_value":                  "minvalue",
	"minValue":                   "minvalue",
	"max_value":                  "maxvalue",
	"maxValue":                   "maxvalue",
	"min_length":                 "minlength",
	"minLength":                  "minlength",
	"max_length":                 "maxlength",
	"maxLength":                  "maxlength",
	"application_id":             "applicationid",
	"applicationId":              "applicationid",
	"guild_id":                   "guildid",
	"guildId":                    "guildid",
}

// ignoredMissingProperty is deprecated by discord (superseded by contexts)
// and isn't always returned for existing commands. It only counts as a
// change when the remote command actually has it.
const ignoredMissingProperty = "dmpermission"

// commandChanged reports whether local declares any property that's
// different on remote. Properties only present on remote (ID, version,
// and other server-assigned fields) are ignored. When the two can't be
// compared, the command is treated as changed.
func commandChanged(remote, local *discordgo.ApplicationCommand) bool {
	remoteProps, err := commandProperties(remote)
	if err != nil {
		return true
	}
	localProps, err := commandProperties(local)
	if err != nil {
		return true
	}
	return propertiesChanged(remoteProps, localProps)
}

// commandProperties renders cmd as a map with normalized keys
func commandProperties(cmd *discordgo.ApplicationCommand) (map[string]any, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	var props map[string]any
	if err = json.Unmarshal(data, &props); err != nil {
		return nil, err
	}
	normalized, ok := normalizeKeys(props).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected command shape: %T", props)
	}
	return normalized, nil
}

func normalizeKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			key, ok := propertyKeys[k]
			if !ok {
				key = k
			}
			out[key] = normalizeKeys(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeKeys(item)
		}
		return out
	default:
		return v
	}
}

// propertiesChanged compares every property of local against remote
func propertiesChanged(remote, local map[string]any) bool {
	for key, localValue := range local {
		remoteValue, ok := remote[key]
		if !ok {
			if key == ignoredMissingProperty || isEmpty(localValue) {
				continue
			}
			return true
		}
		if valueChanged(remoteValue, localValue) {
			return true
		}
	}
	return false
}

func valueChanged(remote, local any) bool {
	switch lv := local.(type) {
	case []any:
		rv, ok := remote.([]any)
		if !ok {
			return !(len(lv) == 0 && remote == nil)
		}
		if len(rv) != len(lv) {
			return true
		}
		for i := range lv {
			if valueChanged(rv[i], lv[i]) {
				return true
			}
		}
		return false
	case map[string]any:
		rv, ok := remote.(map[string]any)
		if !ok {
			return !(len(lv) == 0 && remote == nil)
		}
		return propertiesChanged(rv, lv)
	case nil:
		return !isEmpty(remote)
	default:
		return !looseEqual(remote, local)
	}
}

// isEmpty reports whether v is null or an empty list/object
func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// looseEqual compares scalars, treating values with the same textual
// representation as equal ("8" and 8, for example).
func looseEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	switch a.(type) {
	case string, float64, bool:
	default:
		return false
	}
	switch b.(type) {
	case string, float64, bool:
	default:
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
