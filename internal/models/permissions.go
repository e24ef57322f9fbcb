package models

import "encoding/json"

type UserRole string

const (
	UserRoleAdmin      UserRole = "admin"
	UserRoleStandard   UserRole = "standard"
	UserRoleRestricted UserRole = "restricted"
)

func (r UserRole) Valid() bool {
	switch r {
	case UserRoleAdmin, UserRoleStandard, UserRoleRestricted:
		return true
	default:
		return false
	}
}

// Permissions is the persisted capability set. Columns are snake_case in the
// database, camelCase on the wire; NormalizePermissions is the only place
// that derives them from a role.
type Permissions struct {
	ManageUsers        bool `json:"manageUsers" gorm:"not null;default:false"`
	EditSettings       bool `json:"editSettings" gorm:"not null;default:false"`
	ViewGalleries      bool `json:"viewGalleries" gorm:"not null;default:true"`
	ManageIntegrations bool `json:"manageIntegrations" gorm:"not null;default:true"`
	ManageCalendar     bool `json:"manageCalendar" gorm:"not null;default:true"`
}

// PermissionInput carries optional per-capability overrides. Older clients
// and legacy stored payloads still use snake_case keys, so decoding accepts
// both spellings; camelCase wins when a key is present in both.
type PermissionInput struct {
	ManageUsers        *bool
	EditSettings       *bool
	ViewGalleries      *bool
	ManageIntegrations *bool
	ManageCalendar     *bool
}

func (p *PermissionInput) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	pick := func(keys ...string) (*bool, error) {
		for _, key := range keys {
			value, ok := raw[key]
			if !ok {
				continue
			}
			var parsed bool
			if err := json.Unmarshal(value, &parsed); err != nil {
				return nil, err
			}
			return &parsed, nil
		}
		return nil, nil
	}

	var err error
	if p.ManageUsers, err = pick("manageUsers", "manage_users"); err != nil {
		return err
	}
	if p.EditSettings, err = pick("editSettings", "edit_settings"); err != nil {
		return err
	}
	if p.ViewGalleries, err = pick("viewGalleries", "view_galleries"); err != nil {
		return err
	}
	if p.ManageIntegrations, err = pick("manageIntegrations", "manage_integrations"); err != nil {
		return err
	}
	if p.ManageCalendar, err = pick("manageCalendar", "manage_calendar"); err != nil {
		return err
	}
	return nil
}

// Input converts a stored capability set back into override form, so an
// existing user's permissions can be re-normalized after a role change.
func (p Permissions) Input() PermissionInput {
	return PermissionInput{
		ManageUsers:        &p.ManageUsers,
		EditSettings:       &p.EditSettings,
		ViewGalleries:      &p.ViewGalleries,
		ManageIntegrations: &p.ManageIntegrations,
		ManageCalendar:     &p.ManageCalendar,
	}
}

// NormalizePermissions returns the fully-populated, role-consistent
// capability set for a role and a (possibly partial) set of overrides.
// The role always wins over the input: admins get everything, restricted
// users never get the administrative capabilities. The function is
// idempotent, so stored rows can be re-normalized at any time without drift.
func NormalizePermissions(role UserRole, input PermissionInput) Permissions {
	switch role {
	case UserRoleAdmin:
		return Permissions{
			ManageUsers:        true,
			EditSettings:       true,
			ViewGalleries:      true,
			ManageIntegrations: true,
			ManageCalendar:     true,
		}
	case UserRoleRestricted:
		return Permissions{
			ManageUsers:        false,
			EditSettings:       false,
			ViewGalleries:      boolOrDefault(input.ViewGalleries, true),
			ManageIntegrations: false,
			ManageCalendar:     boolOrDefault(input.ManageCalendar, true),
		}
	default:
		return Permissions{
			ManageUsers:        boolOrDefault(input.ManageUsers, false),
			EditSettings:       boolOrDefault(input.EditSettings, false),
			ViewGalleries:      boolOrDefault(input.ViewGalleries, true),
			ManageIntegrations: boolOrDefault(input.ManageIntegrations, true),
			ManageCalendar:     boolOrDefault(input.ManageCalendar, true),
		}
	}
}

func boolOrDefault(value *bool, fallback bool) bool {
	if value != nil {
		return *value
	}
	return fallback
}
