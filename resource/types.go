// Package resource defines the typed records of the DreamFactory system API
// and a REST client speaking its envelope conventions.
package resource

import (
	"strconv"
	"strings"

	"github.com/dreamfactorysoftware/df-admin-data/apierror"
)

// Record is implemented by every admin resource type. SetRecordID is only
// called on freshly cloned records; shared records are treated as immutable.
type Record interface {
	RecordID() int
	SetRecordID(int)
	Clone() Record
	Validate() []apierror.FieldError
}

// Factory produces an empty record for JSON decoding.
type Factory func() Record

// Page is one window of a list result plus its pagination metadata. Total is
// the server-side count, not len(Records).
type Page struct {
	Records []Record
	Total   int
	Limit   int
	Offset  int
}

// Clone deep-copies the page so optimistic patches never alias cached state.
func (p Page) Clone() Page {
	out := p
	out.Records = make([]Record, len(p.Records))
	for i, r := range p.Records {
		out.Records[i] = r.Clone()
	}
	return out
}

// Service is a configured API service (database, file store, script, ...).
type Service struct {
	ID          int    `json:"id,omitempty"`
	Name        string `json:"name"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	IsActive    bool   `json:"is_active"`
}

func (s *Service) RecordID() int      { return s.ID }
func (s *Service) SetRecordID(id int) { s.ID = id }

func (s *Service) Clone() Record {
	c := *s
	return &c
}

func (s *Service) Validate() []apierror.FieldError {
	var errs []apierror.FieldError
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, apierror.FieldError{Field: "name", Message: "name is required"})
	}
	if strings.ContainsAny(s.Name, " /") {
		errs = append(errs, apierror.FieldError{Field: "name", Message: "name must not contain spaces or slashes"})
	}
	if strings.TrimSpace(s.Type) == "" {
		errs = append(errs, apierror.FieldError{Field: "type", Message: "type is required"})
	}
	return errs
}

// AdminUser is an administrator account.
type AdminUser struct {
	ID        int    `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	IsActive  bool   `json:"is_active"`
}

func (u *AdminUser) RecordID() int      { return u.ID }
func (u *AdminUser) SetRecordID(id int) { u.ID = id }

func (u *AdminUser) Clone() Record {
	c := *u
	return &c
}

func (u *AdminUser) Validate() []apierror.FieldError {
	var errs []apierror.FieldError
	if strings.TrimSpace(u.Email) == "" {
		errs = append(errs, apierror.FieldError{Field: "email", Message: "email is required"})
	} else if !strings.Contains(u.Email, "@") {
		errs = append(errs, apierror.FieldError{Field: "email", Message: "email is not valid"})
	}
	return errs
}

// RoleServiceAccess grants a role access to a component of a service.
type RoleServiceAccess struct {
	ID            int    `json:"id,omitempty"`
	RoleID        int    `json:"role_id,omitempty"`
	ServiceID     int    `json:"service_id"`
	Component     string `json:"component"`
	VerbMask      int    `json:"verb_mask"`
	RequestorMask int    `json:"requestor_mask"`
}

// Role groups service access grants for assignment to users and API keys.
type Role struct {
	ID              int                 `json:"id,omitempty"`
	Name            string              `json:"name"`
	Description     string              `json:"description,omitempty"`
	IsActive        bool                `json:"is_active"`
	ServiceAccesses []RoleServiceAccess `json:"role_service_access_by_role_id,omitempty"`
}

func (r *Role) RecordID() int      { return r.ID }
func (r *Role) SetRecordID(id int) { r.ID = id }

func (r *Role) Clone() Record {
	c := *r
	c.ServiceAccesses = append([]RoleServiceAccess(nil), r.ServiceAccesses...)
	return &c
}

func (r *Role) Validate() []apierror.FieldError {
	var errs []apierror.FieldError
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, apierror.FieldError{Field: "name", Message: "name is required"})
	}
	for i, sa := range r.ServiceAccesses {
		if sa.ServiceID <= 0 {
			errs = append(errs, apierror.FieldError{
				Field:   "role_service_access_by_role_id",
				Message: "access entry " + strconv.Itoa(i) + " is missing a service",
			})
		}
	}
	return errs
}

// limitPeriods are the rate windows the platform accepts.
var limitPeriods = map[string]bool{
	"minute": true,
	"hour":   true,
	"day":    true,
	"7-day":  true,
	"30-day": true,
}

// Limit is an API rate limit bound to an instance, user, role, or service.
type Limit struct {
	ID        int    `json:"id,omitempty"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Rate      int    `json:"rate"`
	Period    string `json:"period"`
	UserID    *int   `json:"user_id,omitempty"`
	RoleID    *int   `json:"role_id,omitempty"`
	ServiceID *int   `json:"service_id,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	Verb      string `json:"verb,omitempty"`
	IsActive  bool   `json:"is_active"`
}

func (l *Limit) RecordID() int      { return l.ID }
func (l *Limit) SetRecordID(id int) { l.ID = id }

func (l *Limit) Clone() Record {
	c := *l
	c.UserID = cloneIntPtr(l.UserID)
	c.RoleID = cloneIntPtr(l.RoleID)
	c.ServiceID = cloneIntPtr(l.ServiceID)
	return &c
}

func (l *Limit) Validate() []apierror.FieldError {
	var errs []apierror.FieldError
	if strings.TrimSpace(l.Name) == "" {
		errs = append(errs, apierror.FieldError{Field: "name", Message: "name is required"})
	}
	if l.Rate <= 0 {
		errs = append(errs, apierror.FieldError{Field: "rate", Message: "rate must be positive"})
	}
	if !limitPeriods[l.Period] {
		errs = append(errs, apierror.FieldError{Field: "period", Message: "unknown period " + strconv.Quote(l.Period)})
	}
	return errs
}

// CORSRule configures cross-origin access for a path.
type CORSRule struct {
	ID                  int      `json:"id,omitempty"`
	Path                string   `json:"path"`
	Description         string   `json:"description,omitempty"`
	Origin              string   `json:"origin"`
	Header              string   `json:"header,omitempty"`
	Method              []string `json:"method,omitempty"`
	MaxAge              int      `json:"max_age,omitempty"`
	SupportsCredentials bool     `json:"supports_credentials"`
	Enabled             bool     `json:"enabled"`
}

func (c *CORSRule) RecordID() int      { return c.ID }
func (c *CORSRule) SetRecordID(id int) { c.ID = id }

func (c *CORSRule) Clone() Record {
	cp := *c
	cp.Method = append([]string(nil), c.Method...)
	return &cp
}

func (c *CORSRule) Validate() []apierror.FieldError {
	var errs []apierror.FieldError
	if strings.TrimSpace(c.Path) == "" {
		errs = append(errs, apierror.FieldError{Field: "path", Message: "path is required"})
	}
	if strings.TrimSpace(c.Origin) == "" {
		errs = append(errs, apierror.FieldError{Field: "origin", Message: "origin is required"})
	}
	if c.MaxAge < 0 {
		errs = append(errs, apierror.FieldError{Field: "max_age", Message: "max_age must not be negative"})
	}
	return errs
}

// SchedulerJob invokes a service component on a fixed frequency.
type SchedulerJob struct {
	ID          int    `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"is_active"`
	ServiceID   int    `json:"service_id"`
	Component   string `json:"component,omitempty"`
	Verb        string `json:"verb"`
	Frequency   int    `json:"frequency"`
	Payload     string `json:"payload,omitempty"`
}

func (j *SchedulerJob) RecordID() int      { return j.ID }
func (j *SchedulerJob) SetRecordID(id int) { j.ID = id }

func (j *SchedulerJob) Clone() Record {
	c := *j
	return &c
}

func (j *SchedulerJob) Validate() []apierror.FieldError {
	var errs []apierror.FieldError
	if strings.TrimSpace(j.Name) == "" {
		errs = append(errs, apierror.FieldError{Field: "name", Message: "name is required"})
	}
	if j.ServiceID <= 0 {
		errs = append(errs, apierror.FieldError{Field: "service_id", Message: "a target service is required"})
	}
	if j.Frequency <= 0 {
		errs = append(errs, apierror.FieldError{Field: "frequency", Message: "frequency must be positive"})
	}
	return errs
}

// LookupKey is a named value substituted into service configs and scripts.
type LookupKey struct {
	ID      int    `json:"id,omitempty"`
	Name    string `json:"name"`
	Value   string `json:"value,omitempty"`
	Private bool   `json:"private"`
}

func (k *LookupKey) RecordID() int      { return k.ID }
func (k *LookupKey) SetRecordID(id int) { k.ID = id }

func (k *LookupKey) Clone() Record {
	c := *k
	return &c
}

func (k *LookupKey) Validate() []apierror.FieldError {
	var errs []apierror.FieldError
	if strings.TrimSpace(k.Name) == "" {
		errs = append(errs, apierror.FieldError{Field: "name", Message: "name is required"})
	}
	return errs
}

// scriptTypes are the scripting engines the platform accepts.
var scriptTypes = map[string]bool{
	"nodejs":  true,
	"php":     true,
	"python":  true,
	"python3": true,
	"v8js":    true,
}

// EventScript is server-side scripting attached to a platform event.
type EventScript struct {
	ID               int    `json:"id,omitempty"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	Content          string `json:"content,omitempty"`
	IsActive         bool   `json:"is_active"`
	AllowEventModify bool   `json:"allow_event_modification"`
	StorageServiceID *int   `json:"storage_service_id,omitempty"`
	StoragePath      string `json:"storage_path,omitempty"`
}

func (s *EventScript) RecordID() int      { return s.ID }
func (s *EventScript) SetRecordID(id int) { s.ID = id }

func (s *EventScript) Clone() Record {
	c := *s
	c.StorageServiceID = cloneIntPtr(s.StorageServiceID)
	return &c
}

func (s *EventScript) Validate() []apierror.FieldError {
	var errs []apierror.FieldError
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, apierror.FieldError{Field: "name", Message: "name is required"})
	}
	if !scriptTypes[s.Type] {
		errs = append(errs, apierror.FieldError{Field: "type", Message: "unknown script type " + strconv.Quote(s.Type)})
	}
	return errs
}

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
