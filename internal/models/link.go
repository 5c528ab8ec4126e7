package models

import "time"

// ShortLink is the logical link record. Both projections carry the same
// mutable fields.
type ShortLink struct {
	ID           int64     `json:"id" db:"id"`
	Alias        string    `json:"alias" db:"alias"`
	OwnerID      int64     `json:"owner_id" db:"owner_id"`
	OriginalURL  string    `json:"original_url" db:"original_url"`
	PasswordHash *string   `json:"-" db:"password_hash"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	Title        string    `json:"title" db:"title"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	// Version increases with every ByAlias update. ByOwner only accepts a
	// copy newer than the one it holds.
	Version int64 `json:"-" db:"version"`
}

// HasPassword reports whether visitors must supply a password.
func (l *ShortLink) HasPassword() bool {
	return l.PasswordHash != nil && *l.PasswordHash != ""
}

// Apply copies the set fields of p onto l.
func (l *ShortLink) Apply(p LinkPatch) {
	if p.IsActive != nil {
		l.IsActive = *p.IsActive
	}
	if p.Title != nil {
		l.Title = *p.Title
	}
	if p.ClearPassword {
		l.PasswordHash = nil
	} else if p.PasswordHash != nil {
		h := *p.PasswordHash
		l.PasswordHash = &h
	}
}

// LinkPatch is a partial update. Nil fields are left unchanged.
type LinkPatch struct {
	IsActive      *bool   `json:"is_active,omitempty"`
	Title         *string `json:"title,omitempty"`
	PasswordHash  *string `json:"-"`
	ClearPassword bool    `json:"-"`
}

// Empty reports whether the patch changes nothing.
func (p LinkPatch) Empty() bool {
	return p.IsActive == nil && p.Title == nil && p.PasswordHash == nil && !p.ClearPassword
}

type CreateLinkRequest struct {
	URL      string `json:"url" validate:"required,url,max=2048"`
	Title    string `json:"title,omitempty" validate:"max=255"`
	Password string `json:"password,omitempty" validate:"omitempty,min=4,max=128"`
}

// UpdateLinkRequest patches a link. An empty Password with ClearPassword
// removes protection.
type UpdateLinkRequest struct {
	IsActive      *bool   `json:"is_active,omitempty"`
	Title         *string `json:"title,omitempty" validate:"omitempty,max=255"`
	Password      *string `json:"password,omitempty" validate:"omitempty,min=4,max=128"`
	ClearPassword bool    `json:"clear_password,omitempty"`
}

type LinkResponse struct {
	Alias       string    `json:"alias"`
	ShortURL    string    `json:"short_url"`
	OriginalURL string    `json:"original_url"`
	Title       string    `json:"title"`
	IsActive    bool      `json:"is_active"`
	Protected   bool      `json:"password_protected"`
	CreatedAt   time.Time `json:"created_at"`
	TotalClicks *int64    `json:"total_clicks,omitempty"`
}

type LinkStats struct {
	Alias       string `json:"alias"`
	TotalClicks int64  `json:"total_clicks"`
}
